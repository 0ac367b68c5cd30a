package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dukerupert/fairway/internal/attempt"
	"github.com/dukerupert/fairway/internal/auth"
	"github.com/dukerupert/fairway/internal/claim"
	"github.com/dukerupert/fairway/internal/handler"
	"github.com/dukerupert/fairway/internal/magiclink"
	"github.com/dukerupert/fairway/internal/middleware"
	"github.com/dukerupert/fairway/internal/throttle"
	ws "github.com/dukerupert/fairway/internal/websocket"
	"github.com/dukerupert/fairway/internal/witness"
)

const (
	ipLimit  = 10
	ipWindow = time.Minute
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	DB          *sql.DB
	Hub         *ws.Hub
	Issuer      *magiclink.Issuer
	Redeemer    *magiclink.Redeemer
	Sessions    *auth.Sessions
	Attempts    *attempt.Controller
	Claims      *claim.Service
	Witnesses   *witness.Service
	Guard       *throttle.Guard
	RateLimiter *middleware.RateLimiter
	Limits      handler.IssueLimits
	Origins     []string
	Clock       clockwork.Clock
}

type Server struct {
	db            *sql.DB
	sessions      *auth.Sessions
	authH         *handler.AuthHandler
	entryH        *handler.EntryHandler
	verificationH *handler.VerificationHandler
	witnessH      *handler.WitnessHandler
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

func New(d Deps, logger *slog.Logger) *Server {
	return &Server{
		db:            d.DB,
		sessions:      d.Sessions,
		authH:         handler.NewAuthHandler(d.Issuer, d.Redeemer, d.Sessions, d.Guard, d.Limits, d.Clock, logger.With("component", "auth")),
		entryH:        handler.NewEntryHandler(d.Attempts, d.Claims, d.Hub, d.Origins, logger.With("component", "entry")),
		verificationH: handler.NewVerificationHandler(d.Claims, d.Witnesses, d.Hub, d.Origins, logger.With("component", "verification")),
		witnessH:      handler.NewWitnessHandler(d.Witnesses, logger.With("component", "witness_page")),
		rateLimiter:   d.RateLimiter,
		logger:        logger,
	}
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()
	requireAuth := middleware.RequireAuth(s.sessions, s.logger.With("component", "authn"))

	// Public routes
	outerMux.HandleFunc("POST /auth/magic-link", s.rateLimited(s.authH.RequestMagicLink))
	outerMux.HandleFunc("GET /auth/callback", s.rateLimited(s.authH.Callback))
	outerMux.HandleFunc("POST /auth/redeem", s.rateLimited(s.authH.Redeem))
	outerMux.HandleFunc("POST /auth/refresh", s.rateLimited(s.authH.Refresh))
	outerMux.Handle("POST /auth/logout", requireAuth(http.HandlerFunc(s.authH.Logout)))
	outerMux.HandleFunc("GET /confirm-witness", s.rateLimited(s.witnessH.Confirm))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Player routes
	protectedMux := http.NewServeMux()
	s.registerPlayerRoutes(protectedMux)

	// Admin routes
	adminMux := http.NewServeMux()
	s.registerAdminRoutes(adminMux)
	protectedMux.Handle("/api/admin/", middleware.RequireAdmin(adminMux))

	outerMux.Handle("/api/", requireAuth(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerPlayerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/entries", s.entryH.Create)
	mux.HandleFunc("GET /api/entries", s.entryH.List)
	mux.HandleFunc("GET /api/entries/{id}", s.entryH.Get)
	mux.HandleFunc("POST /api/entries/{id}/outcome", s.entryH.ReportOutcome)
	mux.HandleFunc("GET /api/entries/{id}/countdown", s.entryH.Countdown)

	mux.HandleFunc("GET /api/verifications/{id}", s.verificationH.Get)
	mux.HandleFunc("POST /api/verifications/{id}/evidence", s.verificationH.SubmitEvidence)
	mux.HandleFunc("POST /api/verifications/{id}/witness", s.verificationH.RequestWitness)
	mux.HandleFunc("GET /api/verifications/{id}/events", s.verificationH.Events)
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/admin/verifications", s.verificationH.AdminList)
	mux.HandleFunc("GET /api/admin/verifications/{id}", s.verificationH.AdminGet)
	mux.HandleFunc("POST /api/admin/verifications/{id}/review", s.verificationH.AdminMoveToReview)
	mux.HandleFunc("POST /api/admin/verifications/{id}/approve", s.verificationH.AdminApprove)
	mux.HandleFunc("POST /api/admin/verifications/{id}/reject", s.verificationH.AdminReject)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return r.URL.Path + "|" + middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, ipLimit, ipWindow)
	wrapped := rl(h)
	return wrapped.ServeHTTP
}
