package registry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"raspsentinel/sentinel-go/internal/apperr"
)

const DefaultFileName = "devices.json"

// syncFile flushes the temp document before it is promoted. Tests swap it to
// simulate a crash between write and rename.
var syncFile = func(f *os.File) error { return f.Sync() }

type Options struct {
	// FileName inside the data dir. Defaults to devices.json.
	FileName string
	// Now is the clock used for first/last seen. Defaults to time.Now (UTC).
	Now func() time.Time
}

// Store is the device registry backed by a single JSON document.
//
// All access goes through one mutex: every mutation is read whole document,
// apply one change, write a temp file, rename over the real path. Readers
// therefore only ever see a complete old or complete new document.
type Store struct {
	log  zerolog.Logger
	path string
	now  func() time.Time

	mu sync.Mutex
}

// Open prepares the data dir and initializes an empty registry if the
// document does not exist yet.
func Open(log zerolog.Logger, dataDir string, opts Options) (*Store, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, apperr.New(apperr.KindConfiguration, "registry data dir is required")
	}
	name := strings.TrimSpace(opts.FileName)
	if name == "" {
		name = DefaultFileName
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, apperr.Wrapf(err, apperr.KindStorage, "create data dir %s", dataDir)
	}

	s := &Store{
		log:  log.With().Str("component", "registry").Logger(),
		path: filepath.Join(dataDir, name),
		now:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(emptyDocument()); err != nil {
			return nil, err
		}
		s.log.Info().Str("path", s.path).Msg("initialized empty registry")
	} else if err != nil {
		return nil, apperr.Wrapf(err, apperr.KindStorage, "stat registry %s", s.path)
	}
	return s, nil
}

// Path returns the location of the registry document.
func (s *Store) Path() string {
	return s.path
}

// Upsert records a sighting. The record is created on first sight; ip always
// takes the latest value, vendor only when non-empty.
func (s *Store) Upsert(ctx context.Context, mac, ip, vendor string) (Device, error) {
	var out Device
	err := s.mutate(ctx, mac, func(doc *Document, key string) bool {
		now := s.now()
		d, ok := doc.Devices[key]
		if !ok {
			d = Device{}
		}
		if d.FirstSeen.IsZero() {
			d.FirstSeen = now
		}
		d.LastSeen = now
		d.IP = strings.TrimSpace(ip)
		if v := strings.TrimSpace(vendor); v != "" {
			d.Vendor = v
		}
		doc.Devices[key] = d
		out = d
		out.MAC = key
		return true
	})
	return out, err
}

// MarkAllowed creates the record if needed and sets allowed, clearing blocked.
func (s *Store) MarkAllowed(ctx context.Context, mac, name string) error {
	return s.mutate(ctx, mac, func(doc *Document, key string) bool {
		d := doc.Devices[key]
		d.Allowed = true
		d.Blocked = false
		if n := strings.TrimSpace(name); n != "" {
			d.FriendlyName = n
		}
		doc.Devices[key] = d
		return true
	})
}

// MarkBlocked creates the record if needed and sets blocked, clearing allowed.
func (s *Store) MarkBlocked(ctx context.Context, mac, notes string) error {
	return s.mutate(ctx, mac, func(doc *Document, key string) bool {
		d := doc.Devices[key]
		d.Blocked = true
		d.Allowed = false
		if n := strings.TrimSpace(notes); n != "" {
			d.Notes = n
		}
		doc.Devices[key] = d
		return true
	})
}

func (s *Store) Unallow(ctx context.Context, mac string) error {
	return s.mutate(ctx, mac, func(doc *Document, key string) bool {
		d, ok := doc.Devices[key]
		if !ok {
			return false
		}
		d.Allowed = false
		doc.Devices[key] = d
		return true
	})
}

func (s *Store) Unblock(ctx context.Context, mac string) error {
	return s.mutate(ctx, mac, func(doc *Document, key string) bool {
		d, ok := doc.Devices[key]
		if !ok {
			return false
		}
		d.Blocked = false
		doc.Devices[key] = d
		return true
	})
}

func (s *Store) SetName(ctx context.Context, mac, name string) error {
	return s.mutate(ctx, mac, func(doc *Document, key string) bool {
		d, ok := doc.Devices[key]
		if !ok {
			return false
		}
		d.FriendlyName = strings.TrimSpace(name)
		doc.Devices[key] = d
		return true
	})
}

func (s *Store) SetHostname(ctx context.Context, mac, hostname string) error {
	return s.mutate(ctx, mac, func(doc *Document, key string) bool {
		d, ok := doc.Devices[key]
		if !ok {
			return false
		}
		h := strings.TrimSpace(hostname)
		if d.Hostname == h {
			return false
		}
		d.Hostname = h
		doc.Devices[key] = d
		return true
	})
}

// Get returns a copy of one record.
func (s *Store) Get(ctx context.Context, mac string) (Device, bool, error) {
	key, err := CanonicalMAC(mac)
	if err != nil {
		return Device{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Device{}, false, err
	}

	s.mu.Lock()
	doc, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return Device{}, false, err
	}

	d, ok := doc.Devices[key]
	if !ok {
		return Device{}, false, nil
	}
	d.MAC = key
	return d, true, nil
}

// IsBlocked reports whether mac is on file and currently marked blocked.
func (s *Store) IsBlocked(ctx context.Context, mac string) (bool, error) {
	d, ok, err := s.Get(ctx, mac)
	if err != nil || !ok {
		return false, err
	}
	return d.Blocked, nil
}

// ListAll returns a point-in-time copy of every record, sorted by MAC.
func (s *Store) ListAll(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	doc, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]Device, 0, len(doc.Devices))
	for mac, d := range doc.Devices {
		d.MAC = mac
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out, nil
}

// Ping verifies the document is readable and parses.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.read()
	return err
}

// mutate runs one read-modify-write cycle under the document lock. apply
// returns false when nothing changed, in which case no write happens.
func (s *Store) mutate(ctx context.Context, mac string, apply func(doc *Document, key string) bool) error {
	key, err := CanonicalMAC(mac)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if !apply(doc, key) {
		return nil
	}
	return s.write(doc)
}

func (s *Store) read() (*Document, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptyDocument(), nil
		}
		return nil, apperr.Wrapf(err, apperr.KindStorage, "read registry %s", s.path)
	}

	doc := emptyDocument()
	if len(strings.TrimSpace(string(b))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, apperr.Wrapf(err, apperr.KindStorage, "parse registry %s", s.path)
	}
	if doc.Devices == nil {
		doc.Devices = map[string]Device{}
	}
	return doc, nil
}

// write replaces the document atomically. On any failure the temp file is
// removed and the previous document stays in place.
func (s *Store) write(doc *Document) error {
	doc.Version = documentVersion
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.Wrap(err, apperr.KindStorage, "encode registry")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return apperr.Wrapf(err, apperr.KindStorage, "create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	promoted := false
	defer func() {
		if !promoted {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return apperr.Wrap(err, apperr.KindStorage, "write temp registry")
	}
	if err := syncFile(tmp); err != nil {
		_ = tmp.Close()
		return apperr.Wrap(err, apperr.KindStorage, "sync temp registry")
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(err, apperr.KindStorage, "close temp registry")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return apperr.Wrapf(err, apperr.KindStorage, "replace registry %s", s.path)
	}
	promoted = true

	// Persist the rename itself. Not all filesystems support syncing a dir.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
