package rs232

import (
	"fmt"
	"strconv"
	"strings"
)

func validatePortName(portName string) error {
	// Security: Prevent path traversal attacks
	if strings.Contains(portName, "..") {
		return fmt.Errorf("%w: contains path traversal", ErrInvalidPortName)
	}
	if !isValidPortPattern(portName) {
		return fmt.Errorf("%w: %q doesn't match expected pattern", ErrInvalidPortName, portName)
	}
	return nil
}

func isValidPortPattern(portName string) bool {
	// Windows: COM1-COM999 (must have at least one digit after COM)
	if strings.HasPrefix(portName, "COM") && len(portName) >= 4 && len(portName) <= 6 {
		return true
	}
	// Unix/Linux: /dev/tty* or /dev/cu* (macOS), /dev/pts/* for simulated
	// fixtures behind a pty
	for _, prefix := range []string{"/dev/tty", "/dev/cu", "/dev/pts/", "/dev/serial/"} {
		if strings.HasPrefix(portName, prefix) {
			return true
		}
	}
	return false
}

// splitIndex separates an optional "@N" port index from a lookup selector.
func splitIndex(sel string) (string, int, error) {
	i := strings.LastIndexByte(sel, '@')
	if i < 0 {
		return sel, 0, nil
	}
	idx, err := strconv.Atoi(sel[i+1:])
	if err != nil || idx < 0 {
		return "", 0, fmt.Errorf("%w: bad port index in %q", ErrInvalidPortName, sel)
	}
	return sel[:i], idx, nil
}
