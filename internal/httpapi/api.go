package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"maktab.org/internal/auth"
	"maktab.org/internal/obs"
)

// ReadyProbe checks downstream dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth services.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	auth *auth.Service
	mfa  *auth.MFAService
	rbac *auth.RBACService

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, authSvc *auth.Service, mfaSvc *auth.MFAService, rbacSvc *auth.RBACService) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       authSvc,
		mfa:        mfaSvc,
		rbac:       rbacSvc,
		rateBurst:  50,
		ratePerSec: 25,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session lifecycle
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/mfa/verify", a.handleMfaVerify)
	a.mux.HandleFunc("/v1/auth/mfa/recovery", a.handleMfaRecovery)

	// self-service mfa management
	a.mux.HandleFunc("/v1/mfa/status", a.handleMfaStatus)
	a.mux.HandleFunc("/v1/mfa/enable", a.handleMfaEnable)
	a.mux.HandleFunc("/v1/mfa/confirm", a.handleMfaConfirm)
	a.mux.HandleFunc("/v1/mfa/recovery-codes", a.handleMfaRecoveryCodes)
	a.mux.HandleFunc("/v1/mfa/disable", a.handleMfaDisable)

	// rbac administration
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/permissions/", a.handlePermissionResource)
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "maktab-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "maktab-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
