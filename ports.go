package rs232

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// allow tests to override external dependencies
var getDetailedPortsList = enumerator.GetDetailedPortsList

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ListPorts returns the serial ports of the host sorted by name.
func ListPorts() ([]PortInfo, error) {
	details, err := getDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}

// ResolveDevice maps a configured device name to a port path.
//
// Plain names must look like a serial device. "usb:VID:PID[:SERIAL]" and
// "product:<name>" are looked up among USB ports; a trailing "@N" picks
// the N-th match by port name, for multi-port carrier boards such as a
// "Quad RS232-HS".
func ResolveDevice(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case strings.HasPrefix(name, "usb:"):
		sel, idx, err := splitIndex(strings.TrimPrefix(name, "usb:"))
		if err != nil {
			return "", err
		}
		parts := strings.Split(sel, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return "", fmt.Errorf("%w: want usb:VID:PID[:SERIAL], got %q", ErrInvalidPortName, name)
		}
		return lookupPort(name, idx, func(p PortInfo) bool {
			if !strings.EqualFold(p.VID, parts[0]) || !strings.EqualFold(p.PID, parts[1]) {
				return false
			}
			return len(parts) < 3 || p.SerialNumber == parts[2]
		})

	case strings.HasPrefix(name, "product:"):
		product, idx, err := splitIndex(strings.TrimPrefix(name, "product:"))
		if err != nil {
			return "", err
		}
		if product == "" {
			return "", fmt.Errorf("%w: empty product in %q", ErrInvalidPortName, name)
		}
		return lookupPort(name, idx, func(p PortInfo) bool {
			return strings.EqualFold(p.Product, product)
		})
	}

	if err := validatePortName(name); err != nil {
		return "", err
	}
	return name, nil
}

func lookupPort(name string, idx int, match func(PortInfo) bool) (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	var found []string
	for _, p := range ports {
		if p.IsUSB && match(p) {
			found = append(found, p.Name)
		}
	}
	if idx >= len(found) {
		return "", fmt.Errorf("%w: %s (%d match(es))", ErrDeviceNotFound, name, len(found))
	}
	return found[idx], nil
}
