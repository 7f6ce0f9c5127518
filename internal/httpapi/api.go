package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"homestats.org/internal/account"
	"homestats.org/internal/audit"
	"homestats.org/internal/cleanup"
	"homestats.org/internal/obs"
	"homestats.org/internal/service"
)

// ReadyProbe checks the backing database before reporting ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	handler    http.Handler
	svc        *service.Service
	sched      *cleanup.Scheduler
	rec        *audit.Recorder
	readyProbe ReadyProbe
	version    string
	log        zerolog.Logger

	rateBurst  int
	ratePerSec int
}

// Option configures the API.
type Option func(*API)

// WithLogger attaches the request logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *API) { a.log = log }
}

// WithRateLimit tunes the per-IP token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
	}
}

// WithAudit attaches the audit recorder.
func WithAudit(rec *audit.Recorder) Option {
	return func(a *API) { a.rec = rec }
}

func New(svc *service.Service, sched *cleanup.Scheduler, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		sched:      sched,
		readyProbe: rp,
		version:    version,
		log:        zerolog.Nop(),
		rateBurst:  20,
		ratePerSec: 10,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/metrics
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/api/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/api/v1/auth/me", a.handleMe)

	// accounts, permissions
	a.mux.HandleFunc("/api/v1/users/", a.handleUserScoped)

	// lifecycle administration
	a.mux.HandleFunc("/api/v1/admin/cleanup/manual", a.handleCleanupManual)
	a.mux.HandleFunc("/api/v1/admin/cleanup/info", a.handleCleanupInfo)
	a.mux.HandleFunc("/api/v1/admin/cleanup/stats", a.handleCleanupStats)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	// Assemble the chain once: RateLimit owns a background eviction
	// goroutine and per-IP state, so it must not be rebuilt per call.
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = Logging(a.log)(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	a.handler = obs.Instrument(h)

	return a
}

// Handler returns the middleware-wrapped mux built by New.
func (a *API) Handler() http.Handler {
	return a.handler
}

func (a *API) audit(action audit.Action, actorID, targetID string, fields map[string]string) {
	if a.rec == nil {
		return
	}
	a.rec.Event(action, actorID, targetID, fields)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "homestats-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- response shapes ---

type userResponse struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletionReason *string    `json:"deletion_reason,omitempty"`
}

func toUserResponse(u *account.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Email:          u.Email,
		Role:           string(u.Role),
		IsActive:       u.IsActive,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
		LastLoginAt:    u.LastLoginAt,
		DeletedAt:      u.DeletedAt,
		DeletionReason: u.DeletionReason,
	}
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func toTokenPairResponse(p *service.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.ExpiresIn,
	}
}
