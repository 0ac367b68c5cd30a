package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/fairway/internal/attempt"
	"github.com/dukerupert/fairway/internal/backup"
	"github.com/dukerupert/fairway/internal/auth"
	"github.com/dukerupert/fairway/internal/claim"
	"github.com/dukerupert/fairway/internal/config"
	"github.com/dukerupert/fairway/internal/database"
	"github.com/dukerupert/fairway/internal/email"
	"github.com/dukerupert/fairway/internal/handler"
	"github.com/dukerupert/fairway/internal/jobs"
	"github.com/dukerupert/fairway/internal/logging"
	"github.com/dukerupert/fairway/internal/magiclink"
	"github.com/dukerupert/fairway/internal/middleware"
	"github.com/dukerupert/fairway/internal/server"
	"github.com/dukerupert/fairway/internal/store"
	"github.com/dukerupert/fairway/internal/throttle"
	"github.com/dukerupert/fairway/internal/websocket"
	"github.com/dukerupert/fairway/internal/witness"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fairway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	clock := clockwork.NewRealClock()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	flows, err := magiclink.LoadFlows(cfg.FlowsFile)
	if err != nil {
		return err
	}
	policy, err := magiclink.NewDestinationPolicy(cfg.BaseURL, cfg.AllowedRedirectHosts)
	if err != nil {
		return err
	}
	sender := newSender(cfg, logger)

	hub := websocket.NewHub(logger.With("component", "websocket"))
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.AccessTTL, clock)
	sessions := auth.NewSessions(db, tokens, clock, cfg.RefreshTTL, logger)
	issuer := magiclink.NewIssuer(db, sender, flows, policy, cfg.BaseURL, clock, logger)
	redeemer := magiclink.NewRedeemer(db, sessions, cfg.AdminEmails, clock, logger)
	attempts := attempt.NewController(db, cfg.AttemptWindow, clock, hub, logger)
	claims := claim.NewService(db, clock, hub, logger)
	witnesses := witness.NewService(db, sender, cfg.BaseURL, cfg.WitnessTTL, clock, hub, logger)
	throttleStore := store.NewThrottleStore(db, clock)
	rateLimiter := middleware.NewRateLimiter(clock)

	srv := server.New(server.Deps{
		DB:          db,
		Hub:         hub,
		Issuer:      issuer,
		Redeemer:    redeemer,
		Sessions:    sessions,
		Attempts:    attempts,
		Claims:      claims,
		Witnesses:   witnesses,
		Guard:       throttle.NewGuard(throttleStore, clock),
		RateLimiter: rateLimiter,
		Limits: handler.IssueLimits{
			MaxAttempts: cfg.IssueMaxAttempts,
			Window:      cfg.IssueWindow,
			Cooldown:    cfg.ResendCooldown,
		},
		Origins: cfg.WebSocketOrigins(),
		Clock:   clock,
	}, logger)

	tasks := jobs.Tasks{
		Attempts: attempts,
		Tokens:   issuer,
		Sessions: sessions,
		Throttle: throttleStore,
		Limiter:  rateLimiter,
	}
	if bc := cfg.Backup(); bc.Enabled() {
		tasks.Backup = backup.NewManager(db, backup.NewS3Client(bc), bc, clock, logger)
		logger.Info("database backups enabled", "bucket", bc.Bucket, "interval", cfg.BackupInterval)
	}

	sched, err := jobs.New(jobs.Config{
		SweepInterval:  cfg.SweepInterval,
		BackupInterval: cfg.BackupInterval,
	}, tasks, clock, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("fairway listening", "addr", cfg.Addr(), "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newSender picks Postmark when a server token is set, then SMTP, and falls
// back to logging the message for local development.
func newSender(cfg *config.Config, logger *slog.Logger) email.Sender {
	if pm := email.NewClient(cfg.PostmarkToken, cfg.FromEmail); pm.Configured() {
		logger.Info("email via postmark", "from", cfg.FromEmail)
		return pm
	}
	if cfg.SMTPHost != "" {
		logger.Info("email via smtp", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
		return email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.FromEmail)
	}
	logger.Warn("no email provider configured, links will only be logged")
	return email.NewLogSender(logger.With("component", "email"))
}
