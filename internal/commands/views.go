package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"raspsentinel/sentinel-go/internal/naming"
	"raspsentinel/sentinel-go/internal/registry"
)

const DefaultPageSize = 5

// ConnectedEntry is one row of the recently seen devices view.
type ConnectedEntry struct {
	MAC      string          `json:"mac"`
	IP       string          `json:"ip,omitempty"`
	Name     string          `json:"name,omitempty"`
	Label    string          `json:"label,omitempty"`
	Vendor   string          `json:"vendor,omitempty"`
	Hostname string          `json:"hostname,omitempty"`
	Status   registry.Status `json:"status"`
	LastSeen time.Time       `json:"last_seen,omitzero"`
	Ago      string          `json:"last_seen_ago"`
}

// ConnectedPage is a zero-based page of devices ordered by last sighting, newest first.
type ConnectedPage struct {
	Page       int              `json:"page"`
	TotalPages int              `json:"total_pages"`
	Total      int              `json:"total"`
	Entries    []ConnectedEntry `json:"entries"`
}

// Connected returns page (clamped into range) of every known device.
func (s *Service) Connected(ctx context.Context, page, pageSize int) (ConnectedPage, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	devices, err := s.reg.ListAll(ctx)
	if err != nil {
		return ConnectedPage{}, err
	}

	sort.SliceStable(devices, func(i, j int) bool {
		return lastActivity(devices[i]).After(lastActivity(devices[j]))
	})

	total := len(devices)
	totalPages := max(1, (total+pageSize-1)/pageSize)
	page = max(0, min(page, totalPages-1))
	start := min(page*pageSize, total)
	end := min(start+pageSize, total)

	now := s.now()
	entries := make([]ConnectedEntry, 0, end-start)
	for _, d := range devices[start:end] {
		seen := lastActivity(d)
		entries = append(entries, ConnectedEntry{
			MAC:      d.MAC,
			IP:       d.IP,
			Name:     d.FriendlyName,
			Label:    naming.DisplayName(d.FriendlyName, d.Hostname, d.Vendor),
			Vendor:   d.Vendor,
			Hostname: d.Hostname,
			Status:   d.Status(),
			LastSeen: seen,
			Ago:      HumanizeSince(seen, now),
		})
	}

	return ConnectedPage{Page: page, TotalPages: totalPages, Total: total, Entries: entries}, nil
}

// AllowList returns allowed devices ordered by MAC.
func (s *Service) AllowList(ctx context.Context) ([]registry.Device, error) {
	return s.byStatus(ctx, registry.StatusAllow)
}

// BlockList returns blocked devices ordered by MAC.
func (s *Service) BlockList(ctx context.Context) ([]registry.Device, error) {
	return s.byStatus(ctx, registry.StatusBlock)
}

// Devices returns every device, or only those with the given status when it is non-empty.
func (s *Service) Devices(ctx context.Context, status registry.Status) ([]registry.Device, error) {
	if status == "" {
		return s.reg.ListAll(ctx)
	}
	return s.byStatus(ctx, status)
}

// Device looks up a single record.
func (s *Service) Device(ctx context.Context, mac string) (registry.Device, bool, error) {
	key, err := registry.CanonicalMAC(mac)
	if err != nil {
		return registry.Device{}, false, err
	}
	return s.reg.Get(ctx, key)
}

func (s *Service) byStatus(ctx context.Context, status registry.Status) ([]registry.Device, error) {
	devices, err := s.reg.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := devices[:0]
	for _, d := range devices {
		if d.Status() == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out, nil
}

func lastActivity(d registry.Device) time.Time {
	if !d.LastSeen.IsZero() {
		return d.LastSeen
	}
	return d.FirstSeen
}

// HumanizeSince renders the age of t as <1m, Nm, Nh or Nd. A zero t is "never".
func HumanizeSince(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	secs := int(now.Sub(t).Seconds())
	switch {
	case secs < 60:
		return "<1m"
	case secs < 3600:
		return fmt.Sprintf("%dm", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh", secs/3600)
	default:
		return fmt.Sprintf("%dd", secs/86400)
	}
}
