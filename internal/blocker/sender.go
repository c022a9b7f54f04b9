package blocker

import "net"

// Sender writes complete link-layer frames to the bound interface. Send is
// called concurrently by every active session.
type Sender interface {
	Send(frame []byte, dst net.HardwareAddr) error
	Close() error
}
