package rs232

import (
	"fmt"
	"strconv"
	"strings"
)

// formatHex renders p as comma separated "0xNN" pairs.
func formatHex(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(p) * 5)
	for i, c := range p {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "0x%02X", c)
	}
	return sb.String()
}

// parseHex accepts the format produced by formatHex. The 0x prefix is
// optional and fields may be separated by commas or whitespace.
func parseHex(s string) ([]byte, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no bytes in %q", ErrInvalidHex, s)
	}
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHex, f)
		}
		out = append(out, byte(v))
	}
	return out, nil
}
