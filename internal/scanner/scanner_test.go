package scanner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"raspsentinel/sentinel-go/internal/apperr"
)

const arpScanOutput = `192.168.1.1	00:11:22:33:44:55	CIMSYS Inc
192.168.1.5	aa:bb:cc:dd:ee:ff	(Unknown)
192.168.1.7	b8:27:eb:00:00:07	(Unknown: locally administered)
192.168.1.9	b8:27:eb:00:00:09
192.168.1.5	aa:bb:cc:dd:ee:ff	(Unknown)
not a host line
`

const ipNeighOutput = `192.168.1.1 lladdr 00:11:22:33:44:55 REACHABLE
192.168.1.20 lladdr 3c:22:fb:01:02:03 STALE
192.168.1.30  FAILED
fe80::1 lladdr 00:11:22:33:44:55 router STALE
192.168.1.40 dev wlan0 lladdr 3c:22:fb:09:09:09 STALE
192.168.1.50 dev eth0 lladdr 3c:22:fb:05:05:05 DELAY
`

type fakeVendors map[string]string

func (f fakeVendors) Lookup(mac string) (string, bool) {
	v, ok := f[mac]
	return v, ok
}

func lookPathFor(installed ...string) func(string) (string, error) {
	return func(file string) (string, error) {
		for _, name := range installed {
			if name == file {
				return "/usr/sbin/" + file, nil
			}
		}
		return "", exec.ErrNotFound
	}
}

func TestScan_ActiveParsesAndNormalizesVendors(t *testing.T) {
	var gotName string
	var gotArgs []string
	s, err := New(zerolog.Nop(), fakeVendors{"AA:BB:CC:DD:EE:FF": "Acme Corp"}, Options{
		Interface: "eth0",
		LookPath:  lookPathFor("arp-scan", "ip"),
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			gotName, gotArgs = name, args
			return []byte(arpScanOutput), nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if snap.Strategy != StrategyActive {
		t.Fatalf("expected active strategy, got %s", snap.Strategy)
	}
	if gotName != "/usr/sbin/arp-scan" || strings.Join(gotArgs, " ") != "--interface eth0 --localnet --plain --ignoredups" {
		t.Fatalf("unexpected invocation %s %v", gotName, gotArgs)
	}

	want := []Entry{
		{MAC: "00:11:22:33:44:55", IP: "192.168.1.1", Vendor: "CIMSYS Inc"},
		{MAC: "AA:BB:CC:DD:EE:FF", IP: "192.168.1.5", Vendor: "Acme Corp"},
		{MAC: "B8:27:EB:00:00:07", IP: "192.168.1.7", Vendor: ""},
		{MAC: "B8:27:EB:00:00:09", IP: "192.168.1.9", Vendor: ""},
	}
	if len(snap.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d: %+v", len(want), len(snap.Entries), snap.Entries)
	}
	for i := range want {
		if snap.Entries[i] != want[i] {
			t.Fatalf("entry %d: expected %+v, got %+v", i, want[i], snap.Entries[i])
		}
	}
}

func TestScan_PassiveFallbackAlwaysUsesLookup(t *testing.T) {
	var gotArgs []string
	s, err := New(zerolog.Nop(), fakeVendors{"00:11:22:33:44:55": "CIMSYS Inc"}, Options{
		Interface: "eth0",
		LookPath:  lookPathFor("ip"),
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = args
			return []byte(ipNeighOutput), nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if snap.Strategy != StrategyPassive {
		t.Fatalf("expected passive strategy, got %s", snap.Strategy)
	}
	if strings.Join(gotArgs, " ") != "neigh show dev eth0" {
		t.Fatalf("unexpected args %v", gotArgs)
	}

	macs := make([]string, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		macs = append(macs, e.MAC)
	}
	if got := strings.Join(macs, ","); got != "00:11:22:33:44:55,3C:22:FB:01:02:03,3C:22:FB:05:05:05" {
		t.Fatalf("unexpected macs %s", got)
	}
	if snap.Entries[0].Vendor != "CIMSYS Inc" {
		t.Fatalf("expected vendor from lookup, got %q", snap.Entries[0].Vendor)
	}
	if snap.Entries[1].Vendor != "" {
		t.Fatalf("expected unresolved vendor to stay empty, got %q", snap.Entries[1].Vendor)
	}
}

func TestScan_NoToolIsScanError(t *testing.T) {
	s, err := New(zerolog.Nop(), nil, Options{Interface: "eth0", LookPath: lookPathFor()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.Scan(context.Background())
	if !apperr.Is(err, apperr.KindScan) {
		t.Fatalf("expected scan error, got %v", err)
	}
}

func TestScan_CommandFailureIsScanError(t *testing.T) {
	s, _ := New(zerolog.Nop(), nil, Options{
		Interface: "eth0",
		LookPath:  lookPathFor("arp-scan"),
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, errors.New("exit status 1")
		},
	})
	_, err := s.Scan(context.Background())
	if !apperr.Is(err, apperr.KindScan) {
		t.Fatalf("expected scan error, got %v", err)
	}
}

func TestScan_TimeoutIsScanError(t *testing.T) {
	s, _ := New(zerolog.Nop(), nil, Options{
		Interface: "eth0",
		Timeout:   20 * time.Millisecond,
		LookPath:  lookPathFor("arp-scan"),
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	start := time.Now()
	_, err := s.Scan(context.Background())
	if !apperr.Is(err, apperr.KindScan) {
		t.Fatalf("expected scan error, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout message, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestScan_ProbeCaching(t *testing.T) {
	probes := 0
	lp := lookPathFor("arp-scan")
	opts := Options{
		Interface: "eth0",
		LookPath: func(file string) (string, error) {
			probes++
			return lp(file)
		},
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) { return nil, nil },
	}

	s, _ := New(zerolog.Nop(), nil, opts)
	for i := 0; i < 3; i++ {
		if _, err := s.Scan(context.Background()); err != nil {
			t.Fatalf("Scan: %v", err)
		}
	}
	if probes != 3 {
		t.Fatalf("expected a probe per scan, got %d", probes)
	}

	probes = 0
	opts.CacheProbe = true
	s, _ = New(zerolog.Nop(), nil, opts)
	for i := 0; i < 3; i++ {
		if _, err := s.Scan(context.Background()); err != nil {
			t.Fatalf("Scan: %v", err)
		}
	}
	if probes != 1 {
		t.Fatalf("expected a single cached probe, got %d", probes)
	}
}

func TestNew_RequiresInterface(t *testing.T) {
	_, err := New(zerolog.Nop(), nil, Options{})
	if !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
