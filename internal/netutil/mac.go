package netutil

import (
	"net"
	"strings"

	"raspsentinel/sentinel-go/internal/apperr"
)

// CanonicalMAC returns the uppercase colon-separated form of a 48-bit MAC.
// Dash and dot notations are accepted on input.
func CanonicalMAC(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", apperr.New(apperr.KindValidation, "mac address is required")
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return "", apperr.Wrapf(err, apperr.KindValidation, "invalid mac address %q", raw)
	}
	if len(hw) != 6 {
		return "", apperr.Errorf(apperr.KindValidation, "mac address %q is not 48 bits", raw)
	}
	return FormatMAC(hw), nil
}

// FormatMAC renders a 6 byte hardware address in canonical form.
func FormatMAC(hw net.HardwareAddr) string {
	if len(hw) != 6 {
		return ""
	}
	return strings.ToUpper(hw.String())
}

// ParseIPv4 returns the 4 byte form of s, or nil.
func ParseIPv4(s string) net.IP {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil
	}
	return ip.To4()
}
