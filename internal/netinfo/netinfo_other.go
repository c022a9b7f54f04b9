//go:build !linux

package netinfo

import (
	"net"

	"raspsentinel/sentinel-go/internal/apperr"
)

func resolveInterface(name string) (Interface, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return Interface{}, apperr.Wrapf(err, apperr.KindConfiguration, "interface %s not found", name)
	}
	out := Interface{Name: ifi.Name, Index: ifi.Index, HardwareAddr: ifi.HardwareAddr}
	addrs, _ := ifi.Addrs()
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok && n.IP.To4() != nil {
			out.IPv4 = append(out.IPv4, n.IP.To4())
		}
	}
	return out, nil
}

func defaultGateway(name string) (net.IP, error) {
	return nil, apperr.Errorf(apperr.KindConfiguration, "default gateway detection is not supported on this platform; set block.gateway_ip")
}
