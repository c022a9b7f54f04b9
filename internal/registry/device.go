package registry

import (
	"strings"
	"time"

	"raspsentinel/sentinel-go/internal/netutil"
)

// Status is derived from the allowed/blocked flags and never stored.
type Status string

const (
	StatusNew   Status = "NEW"
	StatusAllow Status = "ALLOW"
	StatusBlock Status = "BLOCK"
)

// ParseStatus accepts "new", "allow", "block" in any case.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(StatusNew):
		return StatusNew, true
	case string(StatusAllow), "ALLOWED":
		return StatusAllow, true
	case string(StatusBlock), "BLOCKED":
		return StatusBlock, true
	default:
		return "", false
	}
}

// Device is one registry record, keyed by canonical MAC.
type Device struct {
	MAC          string    `json:"-"`
	IP           string    `json:"ip,omitempty"`
	Vendor       string    `json:"vendor,omitempty"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	Hostname     string    `json:"hostname,omitempty"`
	FirstSeen    time.Time `json:"first_seen,omitzero"`
	LastSeen     time.Time `json:"last_seen,omitzero"`
	Allowed      bool      `json:"allowed"`
	Blocked      bool      `json:"blocked"`
	Notes        string    `json:"notes,omitempty"`
}

func (d Device) Status() Status {
	switch {
	case d.Blocked:
		return StatusBlock
	case d.Allowed:
		return StatusAllow
	default:
		return StatusNew
	}
}

// Classified reports whether an operator has made an access decision.
func (d Device) Classified() bool {
	return d.Allowed || d.Blocked
}

// Document is the whole persisted state. Every mutation rewrites all of it.
type Document struct {
	Version int               `json:"version"`
	Devices map[string]Device `json:"devices"`
}

const documentVersion = 1

func emptyDocument() *Document {
	return &Document{Version: documentVersion, Devices: map[string]Device{}}
}

// CanonicalMAC returns the registry key form of a MAC address.
func CanonicalMAC(raw string) (string, error) {
	return netutil.CanonicalMAC(raw)
}
