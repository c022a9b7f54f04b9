package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewDevice describes a device sighted without an access decision.
type NewDevice struct {
	MAC      string
	IP       string
	Vendor   string
	Hostname string
	SeenAt   time.Time
}

// Notifier delivers new-device events to the operator.
type Notifier interface {
	NotifyNewDevice(ctx context.Context, d NewDevice) error
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) NotifyNewDevice(_ context.Context, d NewDevice) error {
	n.log.Info().
		Str("mac", d.MAC).
		Str("ip", d.IP).
		Str("vendor", d.Vendor).
		Str("hostname", d.Hostname).
		Time("seen_at", d.SeenAt).
		Msg("new device on network")
	return nil
}

const defaultWebhookTimeout = 10 * time.Second

type webhookPayload struct {
	Event    string    `json:"event"`
	MAC      string    `json:"mac"`
	IP       string    `json:"ip,omitempty"`
	Vendor   string    `json:"vendor,omitempty"`
	Hostname string    `json:"hostname,omitempty"`
	SeenAt   time.Time `json:"seen_at"`
}

// WebhookNotifier posts each event as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier returns an error if url is empty. A non-positive timeout
// uses the default of 10s.
func NewWebhookNotifier(url string, timeout time.Duration) (*WebhookNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("missing webhook url")
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}, nil
}

func (n *WebhookNotifier) NotifyNewDevice(ctx context.Context, d NewDevice) error {
	body, err := json.Marshal(webhookPayload{
		Event:    "new_device",
		MAC:      d.MAC,
		IP:       d.IP,
		Vendor:   d.Vendor,
		Hostname: d.Hostname,
		SeenAt:   d.SeenAt.UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status: %d", resp.StatusCode)
	}
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifyNewDevice(ctx context.Context, d NewDevice) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.NotifyNewDevice(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
