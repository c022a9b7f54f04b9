package netinfo

import (
	"net"
	"strings"

	"raspsentinel/sentinel-go/internal/apperr"
	"raspsentinel/sentinel-go/internal/netutil"
)

// Interface describes the bound interface as seen by the kernel.
type Interface struct {
	Name         string
	Index        int
	HardwareAddr net.HardwareAddr
	IPv4         []net.IP
}

// Resolve looks up name and returns its hardware address and IPv4 addresses.
// A missing or zero hardware address is a configuration error.
func Resolve(name string) (Interface, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Interface{}, apperr.New(apperr.KindConfiguration, "interface name is required")
	}
	ifi, err := resolveInterface(name)
	if err != nil {
		return Interface{}, err
	}
	if len(ifi.HardwareAddr) != 6 || netutil.FormatMAC(ifi.HardwareAddr) == "00:00:00:00:00:00" {
		return Interface{}, apperr.Errorf(apperr.KindConfiguration, "interface %s has no usable hardware address", name)
	}
	return ifi, nil
}

// DefaultGateway returns the IPv4 next hop of the default route via name.
func DefaultGateway(name string) (net.IP, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.KindConfiguration, "interface name is required")
	}
	gw, err := defaultGateway(name)
	if err != nil {
		return nil, err
	}
	if gw4 := gw.To4(); gw4 != nil {
		return gw4, nil
	}
	return nil, apperr.Errorf(apperr.KindConfiguration, "no IPv4 default gateway on %s", name)
}

// GatewayFor returns the configured gateway when set, else the detected one.
func GatewayFor(name, configured string) (net.IP, error) {
	if strings.TrimSpace(configured) != "" {
		ip := netutil.ParseIPv4(configured)
		if ip == nil {
			return nil, apperr.Errorf(apperr.KindConfiguration, "gateway %q is not an IPv4 address", configured)
		}
		return ip, nil
	}
	return DefaultGateway(name)
}
