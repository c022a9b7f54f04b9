package blocker

import (
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"raspsentinel/sentinel-go/internal/apperr"
)

// buildSpoofedReply serializes an Ethernet/ARP reply telling target that
// gatewayIP lives at ourHW.
func buildSpoofedReply(ourHW net.HardwareAddr, gatewayIP net.IP, targetHW net.HardwareAddr, targetIP net.IP) ([]byte, error) {
	gw4 := gatewayIP.To4()
	tip4 := targetIP.To4()
	if len(ourHW) != 6 || len(targetHW) != 6 || gw4 == nil || tip4 == nil {
		return nil, apperr.New(apperr.KindConfiguration, "arp reply requires 48-bit hardware addresses and IPv4 addresses")
	}

	eth := layers.Ethernet{
		SrcMAC:       ourHW,
		DstMAC:       targetHW,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   []byte(ourHW),
		SourceProtAddress: []byte(gw4),
		DstHwAddress:      []byte(targetHW),
		DstProtAddress:    []byte(tip4),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return nil, apperr.Wrap(err, apperr.KindPacketSend, "serialize arp reply")
	}
	return buf.Bytes(), nil
}
