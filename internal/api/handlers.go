package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradingcore/internal/config"
)

// Handlers holds all HTTP handler dependencies. The core only ever serves
// read-only, machine-consumable surfaces here (JSON snapshot, health,
// Prometheus metrics) — a browser-facing dashboard is explicitly out of
// scope, so there is no WebSocket push or static asset serving.
type Handlers struct {
	provider Provider
	cfg      config.Config
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(provider Provider, cfg config.Config, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With("component", "api-handlers"),
	}
}

// corsOrigin sets Access-Control-Allow-Origin when the requesting Origin
// passes the dashboard's allowlist, so an ops tool running on a different
// host can fetch the JSON read surface directly.
func (h *Handlers) corsOrigin(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if isOriginAllowed(origin, h.cfg.Dashboard, r.Host) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
}

// HandleHealth returns a simple liveness response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.corsOrigin(w, r)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleSnapshot returns the current read-only state snapshot.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	h.corsOrigin(w, r)
	snapshot := BuildSnapshot(r.Context(), h.provider, h.cfg, time.Now().UTC())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
