package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raspsentinel/sentinel-go/internal/apperr"
	"raspsentinel/sentinel-go/internal/registry"
)

type fakeBlocker struct {
	mu      sync.Mutex
	started map[string]string
	stopped []string
	startFn func(mac, ip string) error
}

func (f *fakeBlocker) Start(mac, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startFn != nil {
		if err := f.startFn(mac, ip); err != nil {
			return err
		}
	}
	if f.started == nil {
		f.started = map[string]string{}
	}
	f.started[mac] = ip
	return nil
}

func (f *fakeBlocker) Stop(mac string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.started, mac)
	f.stopped = append(f.stopped, mac)
	return nil
}

func newTestService(t *testing.T, b Blocker) (*Service, *registry.Store) {
	t.Helper()
	store, err := registry.Open(zerolog.Nop(), t.TempDir(), registry.Options{})
	require.NoError(t, err)
	return New(zerolog.Nop(), store, b), store
}

func TestBlock_deferredWithoutIPThenAppliedAfterSighting(t *testing.T) {
	ctx := context.Background()
	b := &fakeBlocker{}
	svc, store := newTestService(t, b)

	out, err := svc.Block(ctx, "aa:bb:cc:dd:ee:ff", "unexpected")
	require.NoError(t, err)
	assert.Equal(t, StatusDeferred, out.Status)
	assert.Equal(t, "no IP on file, cannot block yet", out.Message)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", out.MAC)
	assert.Empty(t, b.started)

	d, ok, err := store.Get(ctx, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, d.Blocked)
	assert.Equal(t, "unexpected", d.Notes)

	_, err = store.Upsert(ctx, "AA:BB:CC:DD:EE:FF", "192.168.1.5", "")
	require.NoError(t, err)

	out, err = svc.Block(ctx, "AA:BB:CC:DD:EE:FF", "")
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, out.Status)
	assert.Equal(t, "192.168.1.5", b.started["AA:BB:CC:DD:EE:FF"])
}

func TestBlock_disabledIsRecorded(t *testing.T) {
	svc, store := newTestService(t, nil)

	out, err := svc.Block(context.Background(), "AA:BB:CC:DD:EE:FF", "")
	require.NoError(t, err)
	assert.Equal(t, StatusRecorded, out.Status)

	d, _, err := store.Get(context.Background(), "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.True(t, d.Blocked)
}

func TestBlock_sessionFailureIsReported(t *testing.T) {
	ctx := context.Background()
	b := &fakeBlocker{startFn: func(string, string) error {
		return apperr.New(apperr.KindConfiguration, "interface down")
	}}
	svc, store := newTestService(t, b)
	_, err := store.Upsert(ctx, "AA:BB:CC:DD:EE:FF", "192.168.1.5", "")
	require.NoError(t, err)

	out, err := svc.Block(ctx, "AA:BB:CC:DD:EE:FF", "")
	require.NoError(t, err)
	assert.Equal(t, StatusFailedBlock, out.Status)
	assert.Contains(t, out.Message, "interface down")
}

func TestUnblockAndAllow_stopSessions(t *testing.T) {
	ctx := context.Background()
	b := &fakeBlocker{}
	svc, store := newTestService(t, b)
	_, err := store.Upsert(ctx, "AA:BB:CC:DD:EE:01", "192.168.1.11", "")
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "AA:BB:CC:DD:EE:02", "192.168.1.12", "")
	require.NoError(t, err)

	_, err = svc.Block(ctx, "AA:BB:CC:DD:EE:01", "")
	require.NoError(t, err)
	_, err = svc.Block(ctx, "AA:BB:CC:DD:EE:02", "")
	require.NoError(t, err)
	require.Len(t, b.started, 2)

	out, err := svc.Unblock(ctx, "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, out.Status)

	out, err = svc.Allow(ctx, "AA:BB:CC:DD:EE:02", "laptop")
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, out.Status)

	assert.Empty(t, b.started)
	assert.ElementsMatch(t, []string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02"}, b.stopped)

	d, _, err := store.Get(ctx, "AA:BB:CC:DD:EE:02")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusAllow, d.Status())
	assert.Equal(t, "laptop", d.FriendlyName)
}

func TestUnallow_keepsRecord(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, nil)

	_, err := svc.Allow(ctx, "AA:BB:CC:DD:EE:FF", "")
	require.NoError(t, err)
	_, err = svc.Unallow(ctx, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	d, ok, err := store.Get(ctx, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, registry.StatusNew, d.Status())
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, nil)

	out, err := svc.Rename(ctx, "AA:BB:CC:DD:EE:FF", "tv")
	require.NoError(t, err)
	assert.Equal(t, StatusRecorded, out.Status, "unknown device is not created")

	_, err = store.Upsert(ctx, "AA:BB:CC:DD:EE:FF", "192.168.1.5", "")
	require.NoError(t, err)
	out, err = svc.Rename(ctx, "AA:BB:CC:DD:EE:FF", "  tv  ")
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, out.Status)

	d, _, err := store.Get(ctx, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, "tv", d.FriendlyName)

	_, err = svc.Rename(ctx, "AA:BB:CC:DD:EE:FF", " ")
	assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
}

func TestCommands_invalidMAC(t *testing.T) {
	svc, _ := newTestService(t, &fakeBlocker{})
	ctx := context.Background()

	for name, call := range map[string]func() error{
		"allow":   func() error { _, err := svc.Allow(ctx, "zz", ""); return err },
		"block":   func() error { _, err := svc.Block(ctx, "zz", ""); return err },
		"unallow": func() error { _, err := svc.Unallow(ctx, "zz"); return err },
		"unblock": func() error { _, err := svc.Unblock(ctx, "zz"); return err },
		"rename":  func() error { _, err := svc.Rename(ctx, "zz", "x"); return err },
	} {
		if err := call(); !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

type failingRegistry struct {
	Registry
	err error
}

func (f failingRegistry) MarkBlocked(context.Context, string, string) error { return f.err }

func TestBlock_storageErrorSurfaces(t *testing.T) {
	storageErr := apperr.Wrap(errors.New("read-only file system"), apperr.KindStorage, "write registry")
	svc := New(zerolog.Nop(), failingRegistry{err: storageErr}, &fakeBlocker{})

	_, err := svc.Block(context.Background(), "AA:BB:CC:DD:EE:FF", "")
	assert.True(t, apperr.Is(err, apperr.KindStorage), "got %v", err)
}

func TestConnected_paginatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store, err := registry.Open(zerolog.Nop(), t.TempDir(), registry.Options{Now: func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}})
	require.NoError(t, err)
	svc := New(zerolog.Nop(), store, nil)
	svc.now = func() time.Time { return clock.Add(90 * time.Second) }

	macs := []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02", "AA:00:00:00:00:03", "AA:00:00:00:00:04", "AA:00:00:00:00:05", "AA:00:00:00:00:06", "AA:00:00:00:00:07"}
	for _, mac := range macs {
		_, err := store.Upsert(ctx, mac, "192.168.1.10", "")
		require.NoError(t, err)
	}
	require.NoError(t, store.MarkBlocked(ctx, "AA:00:00:00:00:06", ""))

	page, err := svc.Connected(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Entries, 5)
	assert.Equal(t, "AA:00:00:00:00:07", page.Entries[0].MAC)
	assert.Equal(t, "1m", page.Entries[0].Ago)
	assert.Equal(t, registry.StatusBlock, page.Entries[1].Status)

	last, err := svc.Connected(ctx, 9, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, last.Page, "page is clamped")
	require.Len(t, last.Entries, 2)
	assert.Equal(t, "AA:00:00:00:00:01", last.Entries[1].MAC)

	first, err := svc.Connected(ctx, -3, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Page)
}

func TestConnected_labels(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, nil)

	_, err := store.Upsert(ctx, "AA:00:00:00:00:01", "192.168.1.10", "Acme Corp")
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "AA:00:00:00:00:02", "192.168.1.11", "Acme Corp")
	require.NoError(t, err)
	require.NoError(t, store.SetHostname(ctx, "AA:00:00:00:00:02", "nas.lan"))
	_, err = store.Upsert(ctx, "AA:00:00:00:00:03", "192.168.1.12", "Acme Corp")
	require.NoError(t, err)
	require.NoError(t, store.MarkAllowed(ctx, "AA:00:00:00:00:03", "Kitchen TV"))

	page, err := svc.Connected(ctx, 0, 10)
	require.NoError(t, err)
	labels := map[string]string{}
	for _, e := range page.Entries {
		labels[e.MAC] = e.Label
	}
	assert.Equal(t, "Acme Corp", labels["AA:00:00:00:00:01"])
	assert.Equal(t, "nas", labels["AA:00:00:00:00:02"])
	assert.Equal(t, "Kitchen TV", labels["AA:00:00:00:00:03"])
}

func TestConnected_empty(t *testing.T) {
	svc, _ := newTestService(t, nil)
	page, err := svc.Connected(context.Background(), 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Page)
	assert.Equal(t, 1, page.TotalPages)
	assert.Empty(t, page.Entries)
}

func TestAllowAndBlockLists(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, nil)
	require.NoError(t, store.MarkAllowed(ctx, "AA:00:00:00:00:02", "phone"))
	require.NoError(t, store.MarkAllowed(ctx, "AA:00:00:00:00:01", ""))
	require.NoError(t, store.MarkBlocked(ctx, "AA:00:00:00:00:03", ""))
	_, err := store.Upsert(ctx, "AA:00:00:00:00:04", "192.168.1.4", "")
	require.NoError(t, err)

	allowed, err := svc.AllowList(ctx)
	require.NoError(t, err)
	require.Len(t, allowed, 2)
	assert.Equal(t, "AA:00:00:00:00:01", allowed[0].MAC)

	blocked, err := svc.BlockList(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "AA:00:00:00:00:03", blocked[0].MAC)

	fresh, err := svc.Devices(ctx, registry.StatusNew)
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	all, err := svc.Devices(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestHumanizeSince(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "<1m"},
		{5 * time.Minute, "5m"},
		{3*time.Hour + 59*time.Minute, "3h"},
		{49 * time.Hour, "2d"},
	}
	for _, tc := range cases {
		if got := HumanizeSince(now.Add(-tc.ago), now); got != tc.want {
			t.Fatalf("HumanizeSince(%v) = %q, want %q", tc.ago, got, tc.want)
		}
	}
	if got := HumanizeSince(time.Time{}, now); got != "never" {
		t.Fatalf("zero time: got %q", got)
	}
}
