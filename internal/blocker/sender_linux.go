//go:build linux

package blocker

import (
	"net"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	"raspsentinel/sentinel-go/internal/apperr"
)

// rawSender is an AF_PACKET socket in raw mode; frames carry their own
// Ethernet header.
type rawSender struct {
	conn *packet.Conn
}

// OpenRawSender opens a raw packet socket on the named interface. It needs
// CAP_NET_RAW.
func OpenRawSender(iface string) (Sender, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.KindConfiguration, "interface %s not found", iface)
	}
	conn, err := packet.Listen(ifi, packet.Raw, unix.ETH_P_ARP, nil)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.KindConfiguration, "open packet socket on %s", iface)
	}
	return &rawSender{conn: conn}, nil
}

func (s *rawSender) Send(frame []byte, dst net.HardwareAddr) error {
	if _, err := s.conn.WriteTo(frame, &packet.Addr{HardwareAddr: dst}); err != nil {
		return apperr.Wrap(err, apperr.KindPacketSend, "write arp frame")
	}
	return nil
}

func (s *rawSender) Close() error {
	return s.conn.Close()
}
