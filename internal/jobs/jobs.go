// Package jobs runs the periodic server-side work: enforcing expired attempt
// windows, pruning stale credentials and throttle state, and shipping
// database snapshots off the host.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

const (
	SweepJob   = "attempt-sweep"
	CleanupJob = "cleanup"
	BackupJob  = "backup"

	// tokenRetention keeps spent and expired magic link rows around for a
	// day before they are purged.
	tokenRetention = 24 * time.Hour
	// throttleRetention drops throttle rows untouched for longer than any
	// configured window or cooldown.
	throttleRetention = 24 * time.Hour
	jobTimeout        = 30 * time.Second
	backupTimeout     = 10 * time.Minute
)

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type TokenPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

type ThrottlePruner interface {
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type LimiterCleaner interface {
	Cleanup() int
}

type Backuper interface {
	Run(ctx context.Context) (string, error)
	Prune(ctx context.Context) (int, error)
}

// Tasks are the collaborators the jobs act on. Nil members are skipped.
type Tasks struct {
	Attempts Sweeper
	Tokens   TokenPurger
	Sessions SessionCleaner
	Throttle ThrottlePruner
	Limiter  LimiterCleaner
	// Backup is only scheduled when set.
	Backup Backuper
}

type Config struct {
	SweepInterval   time.Duration
	CleanupInterval time.Duration
	BackupInterval  time.Duration
}

type Scheduler struct {
	sched  gocron.Scheduler
	tasks  Tasks
	clock  clockwork.Clock
	logger *slog.Logger
}

// New registers the jobs on a gocron scheduler driven by clock. Jobs run in
// singleton mode: a run that is still going when the next one is due causes
// that next run to be skipped.
func New(cfg Config, tasks Tasks, clock clockwork.Clock, logger *slog.Logger) (*Scheduler, error) {
	logger = logger.With("component", "jobs")
	sched, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLogger(logger),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &Scheduler{sched: sched, tasks: tasks, clock: clock, logger: logger}

	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.BackupInterval <= 0 {
		cfg.BackupInterval = 24 * time.Hour
	}
	type job struct {
		name     string
		interval time.Duration
		timeout  time.Duration
		run      func(context.Context) error
	}
	jobs := []job{
		{SweepJob, cfg.SweepInterval, jobTimeout, s.RunSweep},
		{CleanupJob, cfg.CleanupInterval, jobTimeout, s.RunCleanup},
	}
	if tasks.Backup != nil {
		jobs = append(jobs, job{BackupJob, cfg.BackupInterval, backupTimeout, s.RunBackup})
	}
	for _, j := range jobs {
		run, timeout := j.run, j.timeout
		_, err := sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				if err := run(ctx); err != nil {
					logger.Error("job failed", "job", j.name, "error", err)
				}
			}),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			sched.Shutdown()
			return nil, fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	s.logger.Info("scheduler started", "jobs", len(s.sched.Jobs()))
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	return s.Shutdown()
}

func (s *Scheduler) Shutdown() error {
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

// JobNames lists the registered jobs.
func (s *Scheduler) JobNames() []string {
	jobs := s.sched.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// RunSweep auto-misses every entry whose window has closed. Entries that
// fail are picked up again on the next run.
func (s *Scheduler) RunSweep(ctx context.Context) error {
	if s.tasks.Attempts == nil {
		return nil
	}
	n, err := s.tasks.Attempts.Sweep(ctx)
	if n > 0 {
		s.logger.Info("expired attempts resolved", "count", n)
	}
	if err != nil {
		return fmt.Errorf("sweep attempts: %w", err)
	}
	return nil
}

// RunCleanup prunes expired tokens, sessions and throttle state. Every step
// runs even if an earlier one fails.
func (s *Scheduler) RunCleanup(ctx context.Context) error {
	now := s.clock.Now()
	var errs []error

	if s.tasks.Tokens != nil {
		n, err := s.tasks.Tokens.PurgeExpired(ctx, now.Add(-tokenRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("purge tokens: %w", err))
		} else if n > 0 {
			s.logger.Info("expired tokens purged", "count", n)
		}
	}
	if s.tasks.Sessions != nil {
		n, err := s.tasks.Sessions.CleanupExpired(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("cleanup sessions: %w", err))
		} else if n > 0 {
			s.logger.Info("expired sessions removed", "count", n)
		}
	}
	if s.tasks.Throttle != nil {
		n, err := s.tasks.Throttle.DeleteStale(ctx, now.Add(-throttleRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune throttle state: %w", err))
		} else if n > 0 {
			s.logger.Debug("stale throttle rows removed", "count", n)
		}
	}
	if s.tasks.Limiter != nil {
		if n := s.tasks.Limiter.Cleanup(); n > 0 {
			s.logger.Debug("rate limit windows removed", "count", n)
		}
	}
	return errors.Join(errs...)
}

// RunBackup uploads a fresh snapshot and then prunes old ones. Pruning is
// skipped when the upload fails so a broken upload never eats history.
func (s *Scheduler) RunBackup(ctx context.Context) error {
	if s.tasks.Backup == nil {
		return nil
	}
	if _, err := s.tasks.Backup.Run(ctx); err != nil {
		return fmt.Errorf("backup database: %w", err)
	}
	if _, err := s.tasks.Backup.Prune(ctx); err != nil {
		return fmt.Errorf("prune backups: %w", err)
	}
	return nil
}
