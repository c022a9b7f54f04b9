package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"raspsentinel/sentinel-go/internal/apperr"
	"raspsentinel/sentinel-go/internal/registry"
)

// Registry is the subset of the device registry the command surface mutates.
type Registry interface {
	Get(ctx context.Context, mac string) (registry.Device, bool, error)
	ListAll(ctx context.Context) ([]registry.Device, error)
	MarkAllowed(ctx context.Context, mac, name string) error
	MarkBlocked(ctx context.Context, mac, notes string) error
	Unallow(ctx context.Context, mac string) error
	Unblock(ctx context.Context, mac string) error
	SetName(ctx context.Context, mac, name string) error
}

// Blocker starts and stops block sessions. A nil Blocker means blocking is disabled.
type Blocker interface {
	Start(mac, ip string) error
	Stop(mac string) error
}

type Action string

const (
	ActionAllow   Action = "allow"
	ActionBlock   Action = "block"
	ActionUnallow Action = "unallow"
	ActionUnblock Action = "unblock"
	ActionRename  Action = "rename"
)

type OutcomeStatus string

const (
	// StatusApplied means the decision is persisted and every side effect ran.
	StatusApplied OutcomeStatus = "applied"
	// StatusDeferred means a block is persisted but no IP is on file to target.
	StatusDeferred OutcomeStatus = "deferred"
	// StatusRecorded means a block is persisted while blocking is disabled.
	StatusRecorded OutcomeStatus = "recorded"
	// StatusFailedBlock means a block is persisted but the session could not start.
	StatusFailedBlock OutcomeStatus = "failed_block"
)

// Outcome is reported back to whoever issued the command.
type Outcome struct {
	MAC     string        `json:"mac"`
	Action  Action        `json:"action"`
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message,omitempty"`
}

const deferredMessage = "no IP on file, cannot block yet"

// Service applies operator access decisions to the registry and block manager.
// Registry errors are returned; block session failures are reported in the Outcome.
type Service struct {
	log     zerolog.Logger
	reg     Registry
	blocker Blocker
	now     func() time.Time
}

func New(log zerolog.Logger, reg Registry, blocker Blocker) *Service {
	return &Service{
		log:     log.With().Str("component", "commands").Logger(),
		reg:     reg,
		blocker: blocker,
		now:     time.Now,
	}
}

func (s *Service) Allow(ctx context.Context, mac, name string) (Outcome, error) {
	key, err := registry.CanonicalMAC(mac)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.reg.MarkAllowed(ctx, key, strings.TrimSpace(name)); err != nil {
		return Outcome{}, err
	}
	out := Outcome{MAC: key, Action: ActionAllow, Status: StatusApplied}
	// Allowing clears the block flag, so any running session goes with it.
	if s.blocker != nil {
		if err := s.blocker.Stop(key); err != nil {
			s.log.Warn().Err(err).Str("mac", key).Msg("stop block session on allow")
		}
	}
	s.log.Info().Str("mac", key).Str("action", string(out.Action)).Msg("device allowed")
	return out, nil
}

func (s *Service) Block(ctx context.Context, mac, notes string) (Outcome, error) {
	key, err := registry.CanonicalMAC(mac)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.reg.MarkBlocked(ctx, key, strings.TrimSpace(notes)); err != nil {
		return Outcome{}, err
	}
	out := Outcome{MAC: key, Action: ActionBlock}

	if s.blocker == nil {
		out.Status = StatusRecorded
		out.Message = "blocking is disabled, decision recorded"
		s.log.Info().Str("mac", key).Msg("block recorded while blocking disabled")
		return out, nil
	}

	d, _, err := s.reg.Get(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if d.IP == "" {
		out.Status = StatusDeferred
		out.Message = deferredMessage
		s.log.Warn().Str("mac", key).Msg(deferredMessage)
		return out, nil
	}

	if err := s.blocker.Start(key, d.IP); err != nil {
		out.Status = StatusFailedBlock
		out.Message = err.Error()
		s.log.Error().Err(err).Str("mac", key).Str("ip", d.IP).Msg("start block session")
		return out, nil
	}
	out.Status = StatusApplied
	out.Message = fmt.Sprintf("blocking %s", d.IP)
	s.log.Info().Str("mac", key).Str("ip", d.IP).Msg("device blocked")
	return out, nil
}

func (s *Service) Unallow(ctx context.Context, mac string) (Outcome, error) {
	key, err := registry.CanonicalMAC(mac)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.reg.Unallow(ctx, key); err != nil {
		return Outcome{}, err
	}
	s.log.Info().Str("mac", key).Msg("device unallowed")
	return Outcome{MAC: key, Action: ActionUnallow, Status: StatusApplied}, nil
}

func (s *Service) Unblock(ctx context.Context, mac string) (Outcome, error) {
	key, err := registry.CanonicalMAC(mac)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.reg.Unblock(ctx, key); err != nil {
		return Outcome{}, err
	}
	if s.blocker != nil {
		if err := s.blocker.Stop(key); err != nil {
			return Outcome{}, err
		}
	}
	s.log.Info().Str("mac", key).Msg("device unblocked")
	return Outcome{MAC: key, Action: ActionUnblock, Status: StatusApplied}, nil
}

func (s *Service) Rename(ctx context.Context, mac, name string) (Outcome, error) {
	key, err := registry.CanonicalMAC(mac)
	if err != nil {
		return Outcome{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Outcome{}, apperr.New(apperr.KindValidation, "name is required")
	}
	if _, ok, err := s.reg.Get(ctx, key); err != nil {
		return Outcome{}, err
	} else if !ok {
		return Outcome{MAC: key, Action: ActionRename, Status: StatusRecorded, Message: "unknown device, nothing renamed"}, nil
	}
	if err := s.reg.SetName(ctx, key, name); err != nil {
		return Outcome{}, err
	}
	return Outcome{MAC: key, Action: ActionRename, Status: StatusApplied}, nil
}
