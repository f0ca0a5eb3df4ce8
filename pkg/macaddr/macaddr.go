package macaddr

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrInvalid is returned when a string cannot be parsed as a MAC address.
var ErrInvalid = errors.New("invalid mac address")

// Normalize canonicalizes a MAC address to uppercase colon-separated form,
// e.g. "aa-bb-cc-dd-ee-ff" -> "AA:BB:CC:DD:EE:FF". The normalized form is the
// machine's stable identity on the server.
func Normalize(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	parts := make([]string, len(hw))
	for i, b := range hw {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

// Primary returns the normalized MAC address of the first non-loopback
// interface that has one. Virtual interfaces without a hardware address are
// skipped.
func Primary() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return Normalize(iface.HardwareAddr.String())
	}

	return "", errors.New("no usable network interface found")
}
