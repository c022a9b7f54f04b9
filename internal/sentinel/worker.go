package sentinel

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"raspsentinel/sentinel-go/internal/blocker"
	"raspsentinel/sentinel-go/internal/metrics"
	"raspsentinel/sentinel-go/internal/notify"
	"raspsentinel/sentinel-go/internal/registry"
	"raspsentinel/sentinel-go/internal/scanner"
)

// Scanner produces one snapshot per call. *scanner.Scanner satisfies this.
type Scanner interface {
	Scan(ctx context.Context) (scanner.Snapshot, error)
}

// Registry is the subset of the device registry the loop reads and writes.
// *registry.Store satisfies this.
type Registry interface {
	ListAll(ctx context.Context) ([]registry.Device, error)
	Upsert(ctx context.Context, mac, ip, vendor string) (registry.Device, error)
	SetHostname(ctx context.Context, mac, hostname string) error
}

// Blocker owns block sessions. *blocker.Manager satisfies this.
type Blocker interface {
	Start(mac, ip string) error
	Restart(mac, ip string) error
	StopIfUnblocked(mac string) (bool, error)
	Session(mac string) (blocker.SessionInfo, bool)
}

// HostnameResolver resolves a display hostname for an IP. *rdns.Resolver satisfies this.
type HostnameResolver interface {
	Hostname(ctx context.Context, ip string) (string, error)
}

// Deps are the loop's collaborators. Blocker and Resolver are optional.
type Deps struct {
	Registry Registry
	Scanner  Scanner
	Notifier notify.Notifier
	Blocker  Blocker
	Resolver HostnameResolver
}

type Options struct {
	// Interval between reconciliation cycles. Defaults to 60s.
	Interval time.Duration
	// AutoApply starts or retargets sessions for blocked devices seen with an IP.
	AutoApply bool
	// EnrichWorkers bounds concurrent hostname lookups. Defaults to 4.
	EnrichWorkers int
	// EnrichTimeout bounds each hostname lookup. Defaults to 250ms.
	EnrichTimeout time.Duration
	// EnrichMaxTargets caps lookups per cycle. Defaults to 64.
	EnrichMaxTargets int
}

// Worker is the reconciliation loop.
type Worker struct {
	log              zerolog.Logger
	reg              Registry
	scanner          Scanner
	notifier         notify.Notifier
	blocker          Blocker
	resolver         HostnameResolver
	interval         time.Duration
	autoApply        bool
	enrichWorkers    int
	enrichTimeout    time.Duration
	enrichMaxTargets int
	metrics          *metrics.Metrics
	now              func() time.Time
	cycle            uint64
}

func New(log zerolog.Logger, deps Deps, opts Options, m *metrics.Metrics) *Worker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	enrichWorkers := opts.EnrichWorkers
	if enrichWorkers <= 0 {
		enrichWorkers = 4
	}
	enrichTimeout := opts.EnrichTimeout
	if enrichTimeout <= 0 {
		enrichTimeout = 250 * time.Millisecond
	}
	enrichMaxTargets := opts.EnrichMaxTargets
	if enrichMaxTargets <= 0 {
		enrichMaxTargets = 64
	}

	log = log.With().Str("component", "reconcile").Logger()
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}

	return &Worker{
		log:              log,
		reg:              deps.Registry,
		scanner:          deps.Scanner,
		notifier:         notifier,
		blocker:          deps.Blocker,
		resolver:         deps.Resolver,
		interval:         interval,
		autoApply:        opts.AutoApply,
		enrichWorkers:    enrichWorkers,
		enrichTimeout:    enrichTimeout,
		enrichMaxTargets: enrichMaxTargets,
		metrics:          m,
		now:              time.Now,
	}
}

// Run resumes persisted blocks, then reconciles immediately and every
// interval until ctx is done. Cycle failures are logged and never end the loop.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.reg == nil || w.scanner == nil {
		return
	}

	if err := w.Resume(ctx); err != nil {
		w.log.Error().Err(err).Msg("resume block sessions failed")
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("reconciliation cycle skipped")
		}

		timer.Reset(w.interval)
	}
}

// Resume starts a session for every persisted block with a known IP.
func (w *Worker) Resume(ctx context.Context) error {
	if w.blocker == nil {
		return nil
	}
	devices, err := w.reg.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		if !d.Blocked {
			continue
		}
		if d.IP == "" {
			w.log.Warn().Str("mac", d.MAC).Msg("blocked device has no IP on file, block deferred")
			continue
		}
		if err := w.blocker.Start(d.MAC, d.IP); err != nil {
			w.log.Error().Err(err).Str("mac", d.MAC).Str("ip", d.IP).Msg("resume block session")
		}
	}
	return nil
}
