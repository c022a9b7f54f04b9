package scanner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"raspsentinel/sentinel-go/internal/apperr"
	"raspsentinel/sentinel-go/internal/vendor"
)

// Entry is one device visible in a snapshot.
type Entry struct {
	MAC    string
	IP     string
	Vendor string
}

// Strategy names the discovery backend that produced a snapshot.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyActive
	StrategyPassive
)

func (s Strategy) String() string {
	switch s {
	case StrategyActive:
		return "active"
	case StrategyPassive:
		return "passive"
	default:
		return "none"
	}
}

// Snapshot is the result of one Scan call. It reflects only that instant.
type Snapshot struct {
	Strategy Strategy
	Entries  []Entry
}

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

type Options struct {
	Interface string
	// Timeout bounds each external command. Defaults to 15s.
	Timeout time.Duration
	// CacheProbe probes for the active tool once instead of on every scan.
	CacheProbe bool
	// ActiveTool and PassiveTool default to arp-scan and ip.
	ActiveTool  string
	PassiveTool string

	// LookPath and Run override tool discovery and execution.
	LookPath func(file string) (string, error)
	Run      Runner
}

type Scanner struct {
	log         zerolog.Logger
	iface       string
	timeout     time.Duration
	vendors     vendor.Lookup
	activeTool  string
	passiveTool string
	cacheProbe  bool
	lookPath    func(file string) (string, error)
	run         Runner

	probeMu  sync.Mutex
	probed   bool
	strategy Strategy
	toolPath string
}

// New builds a scanner bound to one interface. vendors may be nil, in which
// case unresolved vendors stay empty.
func New(log zerolog.Logger, vendors vendor.Lookup, opts Options) (*Scanner, error) {
	iface := strings.TrimSpace(opts.Interface)
	if iface == "" {
		return nil, apperr.New(apperr.KindConfiguration, "scanner requires a network interface")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	active := strings.TrimSpace(opts.ActiveTool)
	if active == "" {
		active = "arp-scan"
	}
	passive := strings.TrimSpace(opts.PassiveTool)
	if passive == "" {
		passive = "ip"
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	run := opts.Run
	if run == nil {
		run = execRunner
	}

	return &Scanner{
		log:         log.With().Str("component", "scanner").Str("iface", iface).Logger(),
		iface:       iface,
		timeout:     timeout,
		vendors:     vendors,
		activeTool:  active,
		passiveTool: passive,
		cacheProbe:  opts.CacheProbe,
		lookPath:    lookPath,
		run:         run,
	}, nil
}

// Scan takes one snapshot of the segment. Any backend failure, including a
// timeout, is returned as a scan error.
func (s *Scanner) Scan(ctx context.Context) (Snapshot, error) {
	strategy, path, err := s.probe()
	if err != nil {
		return Snapshot{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		args  []string
		parse func(string) []Entry
	)
	switch strategy {
	case StrategyActive:
		args = []string{"--interface", s.iface, "--localnet", "--plain", "--ignoredups"}
		parse = parseActive
	case StrategyPassive:
		args = []string{"neigh", "show", "dev", s.iface}
		parse = func(out string) []Entry { return parsePassive(out, s.iface) }
	default:
		return Snapshot{}, apperr.New(apperr.KindScan, "no discovery strategy available")
	}

	start := time.Now()
	out, err := s.run(runCtx, path, args...)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Snapshot{}, apperr.Wrapf(err, apperr.KindScan, "%s timed out after %s", path, s.timeout)
		}
		return Snapshot{}, apperr.Wrapf(err, apperr.KindScan, "%s failed", path)
	}

	entries := dedupe(parse(string(out)))
	for i := range entries {
		entries[i].Vendor = s.resolveVendor(strategy, entries[i])
	}

	s.log.Debug().
		Str("strategy", strategy.String()).
		Int("entries", len(entries)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("scan completed")

	return Snapshot{Strategy: strategy, Entries: entries}, nil
}

// probe picks the active tool when installed, else the neighbor table.
func (s *Scanner) probe() (Strategy, string, error) {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()

	if s.cacheProbe && s.probed {
		return s.strategy, s.toolPath, nil
	}

	strategy, path := StrategyNone, ""
	if p, err := s.lookPath(s.activeTool); err == nil {
		strategy, path = StrategyActive, p
	} else if p, err := s.lookPath(s.passiveTool); err == nil {
		strategy, path = StrategyPassive, p
	}
	if strategy == StrategyNone {
		return StrategyNone, "", apperr.Errorf(apperr.KindScan, "neither %s nor %s is installed", s.activeTool, s.passiveTool)
	}

	if s.strategy != strategy {
		s.log.Info().Str("strategy", strategy.String()).Str("tool", path).Msg("discovery backend selected")
	}
	s.probed = true
	s.strategy = strategy
	s.toolPath = path
	return strategy, path, nil
}

func (s *Scanner) resolveVendor(strategy Strategy, e Entry) string {
	if strategy == StrategyActive && !unresolvedVendor(e.Vendor) {
		return strings.TrimSpace(e.Vendor)
	}
	if s.vendors == nil {
		return ""
	}
	if v, ok := s.vendors.Lookup(e.MAC); ok {
		return v
	}
	return ""
}

func unresolvedVendor(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "(unknown)", "unknown", "(unknown: locally administered)":
		return true
	default:
		return false
	}
}

func dedupe(entries []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if _, ok := seen[e.MAC]; ok {
			continue
		}
		seen[e.MAC] = struct{}{}
		out = append(out, e)
	}
	return out
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Join(err, errors.New(msg))
		}
		return nil, err
	}
	return out, nil
}
