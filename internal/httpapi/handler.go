package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"raspsentinel/sentinel-go/internal/apperr"
	"raspsentinel/sentinel-go/internal/blocker"
	"raspsentinel/sentinel-go/internal/commands"
	"raspsentinel/sentinel-go/internal/metrics"
	"raspsentinel/sentinel-go/internal/registry"
)

// Commands is the operator command surface. *commands.Service satisfies this.
type Commands interface {
	Allow(ctx context.Context, mac, name string) (commands.Outcome, error)
	Block(ctx context.Context, mac, notes string) (commands.Outcome, error)
	Unallow(ctx context.Context, mac string) (commands.Outcome, error)
	Unblock(ctx context.Context, mac string) (commands.Outcome, error)
	Rename(ctx context.Context, mac, name string) (commands.Outcome, error)
	Connected(ctx context.Context, page, pageSize int) (commands.ConnectedPage, error)
	Devices(ctx context.Context, status registry.Status) ([]registry.Device, error)
	Device(ctx context.Context, mac string) (registry.Device, bool, error)
}

// Pinger reports whether the registry document is readable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sessions lists active block sessions. *blocker.Manager satisfies this.
type Sessions interface {
	Active() []blocker.SessionInfo
}

type Options struct {
	// Token, when set, is required as a bearer token on /api routes.
	Token string
	// Sessions is nil when blocking is disabled.
	Sessions Sessions
}

type Handler struct {
	log      zerolog.Logger
	cmds     Commands
	ready    Pinger
	sessions Sessions
	token    string
	metrics  *metrics.Metrics
}

func NewHandler(log zerolog.Logger, cmds Commands, ready Pinger, opts Options, m *metrics.Metrics) *Handler {
	return &Handler{
		log:      log,
		cmds:     cmds,
		ready:    ready,
		sessions: opts.Sessions,
		token:    strings.TrimSpace(opts.Token),
		metrics:  m,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireToken)
		r.Route("/v1", func(r chi.Router) {
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", h.handleListDevices)
				r.Get("/connected", h.handleConnected)
				r.Route("/{mac}", func(r chi.Router) {
					r.Get("/", h.handleGetDevice)
					r.Post("/allow", h.handleAllow)
					r.Post("/block", h.handleBlock)
					r.Post("/unallow", h.handleUnallow)
					r.Post("/unblock", h.handleUnblock)
					r.Put("/name", h.handleRename)
				})
			})
			r.Get("/blocks", h.handleListBlocks)
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, status, time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(h.token)) != 1 {
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// writeAppError maps an error kind to a status code.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		h.writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case apperr.KindConfiguration:
		h.writeError(w, http.StatusConflict, "configuration_error", err.Error(), nil)
	case apperr.KindStorage:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("registry operation failed")
		h.writeError(w, http.StatusServiceUnavailable, "storage_error", "registry unavailable", nil)
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "request failed", nil)
	}
}

// decodeJSONOptional decodes a JSON body when one is present. An empty body
// leaves dst untouched.
func decodeJSONOptional(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.ready == nil {
		h.writeError(w, http.StatusServiceUnavailable, "registry_unavailable", "registry not configured", nil)
		return
	}

	if err := h.ready.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "registry_unavailable", "registry not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

type device struct {
	MAC          string          `json:"mac"`
	Status       registry.Status `json:"status"`
	IP           string          `json:"ip,omitempty"`
	Vendor       string          `json:"vendor,omitempty"`
	FriendlyName string          `json:"friendly_name,omitempty"`
	Hostname     string          `json:"hostname,omitempty"`
	FirstSeen    *time.Time      `json:"first_seen,omitempty"`
	LastSeen     *time.Time      `json:"last_seen,omitempty"`
	Notes        string          `json:"notes,omitempty"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func toDevice(d registry.Device) device {
	out := device{
		MAC:          d.MAC,
		Status:       d.Status(),
		IP:           d.IP,
		Vendor:       d.Vendor,
		FriendlyName: d.FriendlyName,
		Hostname:     d.Hostname,
		Notes:        d.Notes,
	}
	if !d.FirstSeen.IsZero() {
		t := d.FirstSeen
		out.FirstSeen = &t
	}
	if !d.LastSeen.IsZero() {
		t := d.LastSeen
		out.LastSeen = &t
	}
	return out
}

func (h *Handler) ensureCommands(w http.ResponseWriter) bool {
	if h.cmds == nil {
		h.writeError(w, http.StatusServiceUnavailable, "registry_unavailable", "registry not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if !h.ensureCommands(w) {
		return
	}

	var status registry.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, ok := registry.ParseStatus(raw)
		if !ok {
			h.writeError(w, http.StatusBadRequest, "validation_error", "status must be one of new, allow, block", nil)
			return
		}
		status = s
	}

	rows, err := h.cmds.Devices(r.Context(), status)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	resp := make([]device, 0, len(rows))
	for _, d := range rows {
		resp = append(resp, toDevice(d))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConnected(w http.ResponseWriter, r *http.Request) {
	if !h.ensureCommands(w) {
		return
	}

	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_error", "page must be an integer", nil)
			return
		}
		page = n
	}

	resp, err := h.cmds.Connected(r.Context(), page, commands.DefaultPageSize)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	if !h.ensureCommands(w) {
		return
	}

	d, ok, err := h.cmds.Device(r.Context(), chi.URLParam(r, "mac"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "device not found", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, toDevice(d))
}

func (h *Handler) handleAllow(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	h.runCommand(w, r, &req, func(ctx context.Context, mac string) (commands.Outcome, error) {
		return h.cmds.Allow(ctx, mac, req.Name)
	})
}

func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	h.runCommand(w, r, &req, func(ctx context.Context, mac string) (commands.Outcome, error) {
		return h.cmds.Block(ctx, mac, req.Notes)
	})
}

func (h *Handler) handleUnallow(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, nil, func(ctx context.Context, mac string) (commands.Outcome, error) {
		return h.cmds.Unallow(ctx, mac)
	})
}

func (h *Handler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, nil, func(ctx context.Context, mac string) (commands.Outcome, error) {
		return h.cmds.Unblock(ctx, mac)
	})
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	h.runCommand(w, r, &req, func(ctx context.Context, mac string) (commands.Outcome, error) {
		return h.cmds.Rename(ctx, mac, req.Name)
	})
}

// runCommand decodes the optional body into req and reports the outcome.
// A deferred or failed block is still a 200: the decision itself was stored.
func (h *Handler) runCommand(w http.ResponseWriter, r *http.Request, req any, fn func(ctx context.Context, mac string) (commands.Outcome, error)) {
	if !h.ensureCommands(w) {
		return
	}
	if req != nil {
		if err := decodeJSONOptional(r, req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body", map[string]any{"error": err.Error()})
			return
		}
	}

	out, err := fn(r.Context(), chi.URLParam(r, "mac"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		h.writeJSON(w, http.StatusOK, []blocker.SessionInfo{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.sessions.Active())
}
