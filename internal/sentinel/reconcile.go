package sentinel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"raspsentinel/sentinel-go/internal/notify"
	"raspsentinel/sentinel-go/internal/registry"
)

// CycleResult summarizes one reconciliation cycle.
type CycleResult struct {
	Cycle     uint64
	Strategy  string
	Seen      int
	Notified  []string
	Started   []string
	Restarted []string
	Released  []string
	Hostnames int
	Duration  time.Duration
}

// RunOnce performs a single reconciliation cycle. A scan failure skips the
// cycle without touching the registry.
func (w *Worker) RunOnce(ctx context.Context) (CycleResult, error) {
	start := w.now()
	res := CycleResult{Cycle: atomic.AddUint64(&w.cycle, 1)}
	log := w.log.With().Uint64("cycle", res.Cycle).Logger()

	snap, err := w.scanner.Scan(ctx)
	if err != nil {
		w.metrics.IncScanFailure()
		return res, err
	}
	res.Strategy = snap.Strategy.String()
	res.Seen = len(snap.Entries)

	// Classification is captured before this cycle's upserts.
	known, err := w.reg.ListAll(ctx)
	if err != nil {
		return res, err
	}
	classified := make(map[string]struct{}, len(known))
	for _, d := range known {
		if d.Classified() {
			classified[d.MAC] = struct{}{}
		}
	}

	var fresh []registry.Device
	var lookups []registry.Device
	notified := make(map[string]struct{})

	for _, e := range snap.Entries {
		d, err := w.reg.Upsert(ctx, e.MAC, e.IP, e.Vendor)
		if err != nil {
			// Devices already recorded as new this cycle are still announced.
			w.notifyFresh(ctx, log, fresh, nil, &res)
			return res, err
		}

		if _, ok := classified[d.MAC]; !ok {
			if _, done := notified[d.MAC]; !done {
				notified[d.MAC] = struct{}{}
				fresh = append(fresh, d)
			}
		}

		if d.Blocked {
			w.applyBlock(d, &res)
		} else {
			w.releaseBlock(d, &res)
		}

		if w.resolver != nil && d.Hostname == "" && d.IP != "" {
			lookups = append(lookups, d)
		}
	}

	hostnames := w.enrich(ctx, lookups)
	res.Hostnames = len(hostnames)

	w.notifyFresh(ctx, log, fresh, hostnames, &res)

	res.Duration = w.now().Sub(start)
	w.metrics.ObserveScanCycle(res.Strategy, res.Seen, res.Duration)

	log.Info().
		Str("strategy", res.Strategy).
		Int("seen", res.Seen).
		Int("notified", len(res.Notified)).
		Int("blocks_started", len(res.Started)+len(res.Restarted)).
		Dur("duration", res.Duration).
		Msg("reconciliation cycle complete")
	return res, nil
}

func (w *Worker) notifyFresh(ctx context.Context, log zerolog.Logger, fresh []registry.Device, hostnames map[string]string, res *CycleResult) {
	for _, d := range fresh {
		n := notify.NewDevice{
			MAC:      d.MAC,
			IP:       d.IP,
			Vendor:   d.Vendor,
			Hostname: hostnames[d.MAC],
			SeenAt:   d.LastSeen,
		}
		if err := w.notifier.NotifyNewDevice(ctx, n); err != nil {
			log.Warn().Err(err).Str("mac", d.MAC).Msg("new device notification failed")
			continue
		}
		w.metrics.IncNewDeviceNotification()
		res.Notified = append(res.Notified, d.MAC)
	}
}

// releaseBlock ends a session left running for a sighted device that is no
// longer blocked. The manager re-checks the registry before stopping.
func (w *Worker) releaseBlock(d registry.Device, res *CycleResult) {
	if w.blocker == nil {
		return
	}
	if _, active := w.blocker.Session(d.MAC); !active {
		return
	}
	stopped, err := w.blocker.StopIfUnblocked(d.MAC)
	if err != nil {
		w.log.Error().Err(err).Str("mac", d.MAC).Msg("release stale block session")
		return
	}
	if stopped {
		w.log.Warn().Str("mac", d.MAC).Msg("stale block session released")
		res.Released = append(res.Released, d.MAC)
	}
}

// applyBlock starts a session for a blocked device sighted with an IP, or
// retargets an existing one whose IP changed.
func (w *Worker) applyBlock(d registry.Device, res *CycleResult) {
	if w.blocker == nil || !w.autoApply || d.IP == "" {
		return
	}
	info, active := w.blocker.Session(d.MAC)
	switch {
	case !active:
		if err := w.blocker.Start(d.MAC, d.IP); err != nil {
			w.log.Error().Err(err).Str("mac", d.MAC).Str("ip", d.IP).Msg("auto-apply block")
			return
		}
		// Start declines devices unblocked since the upsert.
		if _, ok := w.blocker.Session(d.MAC); ok {
			res.Started = append(res.Started, d.MAC)
		}
	case info.IP != d.IP:
		if err := w.blocker.Restart(d.MAC, d.IP); err != nil {
			w.log.Error().Err(err).Str("mac", d.MAC).Str("ip", d.IP).Msg("retarget block session")
			return
		}
		w.log.Info().Str("mac", d.MAC).Str("old_ip", info.IP).Str("ip", d.IP).Msg("block session retargeted")
		res.Restarted = append(res.Restarted, d.MAC)
	}
}

// enrich resolves hostnames with a bounded worker pool and stores the ones found.
func (w *Worker) enrich(ctx context.Context, targets []registry.Device) map[string]string {
	out := make(map[string]string)
	if w.resolver == nil || len(targets) == 0 {
		return out
	}
	if len(targets) > w.enrichMaxTargets {
		targets = targets[:w.enrichMaxTargets]
	}

	var mu sync.Mutex
	jobs := make(chan registry.Device)
	wg := sync.WaitGroup{}

	worker := func() {
		defer wg.Done()
		for d := range jobs {
			if ctx.Err() != nil {
				continue
			}
			nameCtx, cancel := context.WithTimeout(ctx, w.enrichTimeout)
			name, err := w.resolver.Hostname(nameCtx, d.IP)
			cancel()
			if err != nil {
				w.log.Debug().Err(err).Str("ip", d.IP).Msg("hostname lookup failed")
				continue
			}
			if name == "" {
				continue
			}
			if err := w.reg.SetHostname(ctx, d.MAC, name); err != nil {
				w.log.Warn().Err(err).Str("mac", d.MAC).Msg("store hostname")
				continue
			}
			mu.Lock()
			out[d.MAC] = name
			mu.Unlock()
		}
	}

	workers := min(w.enrichWorkers, len(targets))
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}
	for _, d := range targets {
		jobs <- d
	}
	close(jobs)
	wg.Wait()

	return out
}
