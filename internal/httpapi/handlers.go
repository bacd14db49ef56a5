package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/auth"
	"accessgate.dev/internal/obs"
)

// ReadyProbe reports whether backing stores answer.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Options wires the API to its collaborators.
type Options struct {
	Links    *access.Service
	Authz    *auth.Authorizer
	Identity *auth.IdentityVerifier
	Audit    *audit.Recorder
	Ready    ReadyProbe
	Version  string

	// Per-client limit shared by all portal endpoints; PortalRPS <= 0 disables it.
	PortalRPS   float64
	PortalBurst int

	// Proxies allowed to set X-Forwarded-For. Empty trusts nobody.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	links    *access.Service
	authz    *auth.Authorizer
	identity *auth.IdentityVerifier
	audit    *audit.Recorder
	ready    ReadyProbe
	version  string

	portalLimit *rateLimiter
	trusted     []netip.Prefix
}

// New builds the router.
func New(opts Options) (*API, error) {
	if opts.Links == nil || opts.Authz == nil || opts.Identity == nil {
		return nil, errors.New("httpapi: links, authorizer and identity verifier are required")
	}
	a := &API{
		mux:      http.NewServeMux(),
		links:    opts.Links,
		authz:    opts.Authz,
		identity: opts.Identity,
		audit:    opts.Audit,
		ready:    opts.Ready,
		version:  opts.Version,
		trusted:  opts.TrustedProxies,
	}
	if opts.PortalRPS > 0 {
		a.portalLimit = newRateLimiter(opts.PortalRPS, opts.PortalBurst)
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// staff
	a.mux.Handle("POST /v1/links", a.staff(a.createLink))
	a.mux.Handle("GET /v1/links/{id}", a.staff(a.getLink))
	a.mux.Handle("POST /v1/links/{id}/revoke", a.staff(a.revokeLink))
	a.mux.Handle("POST /v1/links/{id}/session/revoke", a.staff(a.revokeSession))
	a.mux.Handle("GET /v1/resources/{resource}/links", a.staff(a.listLinks))
	a.mux.Handle("POST /v1/resources/{resource}/close", a.staff(a.closeResource))
	a.mux.Handle("GET /v1/principals/{id}", a.staff(a.getPrincipal))
	a.mux.Handle("POST /v1/principals/{id}/role", a.staff(a.changeRole))
	a.mux.Handle("POST /v1/principals/{id}/active", a.staff(a.setActive))
	a.mux.Handle("GET /v1/principals/{id}/can-manage/{target}", a.staff(a.canManage))
	a.mux.Handle("GET /v1/audit", a.staff(a.queryAudit))

	// portal
	portal := func(h http.HandlerFunc) http.Handler {
		if a.portalLimit == nil {
			return h
		}
		return a.portalLimit.wrap(h)
	}
	a.mux.Handle("POST /v1/portal/otp", portal(a.requestOTP))
	a.mux.Handle("POST /v1/portal/verify", portal(a.verifyOTP))
	a.mux.Handle("GET /v1/portal/session", portal(a.currentSession))
	a.mux.Handle("POST /v1/portal/session/refresh", portal(a.refreshSession))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
}

// Handler returns the fully wrapped router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = AuditSource(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = ClientIP(h, a.trusted)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "accessgate",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready.Ping(ctx); err != nil {
			obs.SetReady(false)
			obs.Warn("readiness check failed", map[string]any{"error": err.Error()})
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
			})
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "accessgate",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
