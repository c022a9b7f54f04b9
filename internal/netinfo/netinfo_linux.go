//go:build linux

package netinfo

import (
	"net"

	"github.com/vishvananda/netlink"

	"raspsentinel/sentinel-go/internal/apperr"
)

func resolveInterface(name string) (Interface, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return Interface{}, apperr.Wrapf(err, apperr.KindConfiguration, "interface %s not found", name)
	}
	attrs := link.Attrs()

	out := Interface{
		Name:         attrs.Name,
		Index:        attrs.Index,
		HardwareAddr: attrs.HardwareAddr,
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return Interface{}, apperr.Wrapf(err, apperr.KindConfiguration, "failed to list addresses on %s", name)
	}
	for _, a := range addrs {
		if a.IPNet != nil && a.IP.To4() != nil {
			out.IPv4 = append(out.IPv4, a.IP.To4())
		}
	}
	return out, nil
}

func defaultGateway(name string) (net.IP, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.KindConfiguration, "interface %s not found", name)
	}
	routes, err := netlink.RouteList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.KindConfiguration, "failed to list routes on %s", name)
	}
	for _, r := range routes {
		if r.Gw == nil || !isDefaultDst(r.Dst) {
			continue
		}
		return r.Gw, nil
	}
	return nil, apperr.Errorf(apperr.KindConfiguration, "no default route via %s", name)
}

// isDefaultDst accepts both representations netlink uses for 0.0.0.0/0.
func isDefaultDst(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0 && dst.IP.IsUnspecified()
}
