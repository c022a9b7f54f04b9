package blocker

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"raspsentinel/sentinel-go/internal/apperr"
	"raspsentinel/sentinel-go/internal/metrics"
	"raspsentinel/sentinel-go/internal/netinfo"
	"raspsentinel/sentinel-go/internal/netutil"
)

const defaultInterval = 2 * time.Second

// BlockedFunc reports whether the operator's decision for mac is still "block".
type BlockedFunc func(mac string) (bool, error)

// Options configures the block manager. HardwareAddr, Gateway and Sender are
// resolved from Interface when left empty.
type Options struct {
	Interface    string
	Gateway      string
	Interval     time.Duration
	HardwareAddr net.HardwareAddr
	Sender       Sender
	// Blocked is consulted under the manager lock before a session starts,
	// so a concurrent unblock cannot be overtaken. Nil trusts every caller.
	Blocked BlockedFunc
}

// SessionInfo is a read-only view of one active block session.
type SessionInfo struct {
	ID        string    `json:"id"`
	MAC       string    `json:"mac"`
	IP        string    `json:"ip"`
	StartedAt time.Time `json:"started_at"`
}

type session struct {
	info   SessionInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs at most one repeating ARP poisoning task per MAC.
type Manager struct {
	log      zerolog.Logger
	m        *metrics.Metrics
	sender   Sender
	ourHW    net.HardwareAddr
	gateway  net.IP
	interval time.Duration
	blocked  BlockedFunc
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewManager fails fast when the interface hardware address or the gateway
// cannot be determined.
func NewManager(log zerolog.Logger, opts Options, m *metrics.Metrics) (*Manager, error) {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}

	ourHW := opts.HardwareAddr
	if len(ourHW) == 0 {
		ifi, err := netinfo.Resolve(opts.Interface)
		if err != nil {
			return nil, err
		}
		ourHW = ifi.HardwareAddr
	}
	if len(ourHW) != 6 {
		return nil, apperr.New(apperr.KindConfiguration, "blocker requires a 48-bit interface hardware address")
	}

	gateway, err := netinfo.GatewayFor(opts.Interface, opts.Gateway)
	if err != nil {
		return nil, err
	}

	sender := opts.Sender
	if sender == nil {
		sender, err = OpenRawSender(opts.Interface)
		if err != nil {
			return nil, err
		}
	}

	return &Manager{
		log:      log.With().Str("component", "blocker").Logger(),
		m:        m,
		sender:   sender,
		ourHW:    ourHW,
		gateway:  gateway,
		interval: opts.Interval,
		blocked:  opts.Blocked,
		now:      time.Now,
		sessions: map[string]*session{},
	}, nil
}

// Gateway returns the IPv4 address being impersonated.
func (b *Manager) Gateway() net.IP {
	return b.gateway
}

// Start begins poisoning the target's view of the gateway. Starting a MAC
// that already has an active session, or one no longer marked blocked, is a
// no-op. Start fails once ShutdownAll has run.
func (b *Manager) Start(mac, ip string) error {
	canonical, err := netutil.CanonicalMAC(mac)
	if err != nil {
		return err
	}
	if strings.TrimSpace(ip) == "" {
		return apperr.Errorf(apperr.KindConfiguration, "cannot block %s without an IP address", canonical)
	}
	targetIP := netutil.ParseIPv4(ip)
	if targetIP == nil {
		return apperr.Errorf(apperr.KindValidation, "cannot block %s: %q is not an IPv4 address", canonical, ip)
	}
	targetHW, _ := net.ParseMAC(canonical)

	frame, err := buildSpoofedReply(b.ourHW, b.gateway, targetHW, targetIP)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return apperr.Errorf(apperr.KindConfiguration, "cannot block %s: block manager is shut down", canonical)
	}
	if _, ok := b.sessions[canonical]; ok {
		return nil
	}
	if b.blocked != nil {
		still, err := b.blocked(canonical)
		if err != nil {
			return err
		}
		if !still {
			b.log.Info().Str("mac", canonical).Msg("device no longer blocked, session not started")
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		info: SessionInfo{
			ID:        uuid.NewString(),
			MAC:       canonical,
			IP:        targetIP.String(),
			StartedAt: b.now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.sessions[canonical] = s
	b.m.SetBlockSessions(len(b.sessions))

	b.log.Info().
		Str("session_id", s.info.ID).
		Str("mac", canonical).
		Str("ip", s.info.IP).
		Str("gateway", b.gateway.String()).
		Dur("interval", b.interval).
		Msg("block session started")

	go b.run(ctx, s, frame, targetHW)
	return nil
}

func (b *Manager) run(ctx context.Context, s *session, frame []byte, dst net.HardwareAddr) {
	defer close(s.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// Send failures are logged and retried on the next tick.
		err := b.sender.Send(frame, dst)
		b.m.ObserveARPSend(err)
		if err != nil {
			b.log.Warn().Err(err).Str("session_id", s.info.ID).Str("mac", s.info.MAC).Msg("arp reply send failed")
		}

		timer.Reset(b.interval)
	}
}

// Stop ends the session for mac and waits for its task to exit. Stopping a
// MAC without a session is a no-op.
func (b *Manager) Stop(mac string) error {
	canonical, err := netutil.CanonicalMAC(mac)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopLocked(canonical)
	return nil
}

// StopIfUnblocked ends the session for mac when the Blocked predicate says
// the device is no longer blocked. It reports whether a session was stopped.
func (b *Manager) StopIfUnblocked(mac string) (bool, error) {
	canonical, err := netutil.CanonicalMAC(mac)
	if err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[canonical]; !ok || b.blocked == nil {
		return false, nil
	}
	still, err := b.blocked(canonical)
	if err != nil || still {
		return false, err
	}
	return b.stopLocked(canonical), nil
}

func (b *Manager) stopLocked(canonical string) bool {
	s, ok := b.sessions[canonical]
	if !ok {
		return false
	}
	s.cancel()
	<-s.done
	delete(b.sessions, canonical)
	b.m.SetBlockSessions(len(b.sessions))

	b.log.Info().Str("session_id", s.info.ID).Str("mac", canonical).Msg("block session stopped")
	return true
}

// Restart replaces the session for mac with one targeting ip.
func (b *Manager) Restart(mac, ip string) error {
	if err := b.Stop(mac); err != nil {
		return err
	}
	return b.Start(mac, ip)
}

// ShutdownAll stops every active session and closes the sender. Later calls
// are no-ops.
func (b *Manager) ShutdownAll() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	sessions := b.sessions
	b.sessions = map[string]*session{}
	for _, s := range sessions {
		s.cancel()
	}
	for _, s := range sessions {
		<-s.done
	}
	b.m.SetBlockSessions(0)
	b.mu.Unlock()

	if len(sessions) > 0 {
		b.log.Info().Int("sessions", len(sessions)).Msg("all block sessions stopped")
	}
	if err := b.sender.Close(); err != nil {
		b.log.Warn().Err(err).Msg("close arp sender")
	}
}

// Session reports the active session for mac, if any.
func (b *Manager) Session(mac string) (SessionInfo, bool) {
	canonical, err := netutil.CanonicalMAC(mac)
	if err != nil {
		return SessionInfo{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[canonical]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info, true
}

// Active lists active sessions ordered by MAC.
func (b *Manager) Active() []SessionInfo {
	b.mu.Lock()
	out := make([]SessionInfo, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s.info)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}
