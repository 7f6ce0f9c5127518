package cleanup

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"homestats.org/internal/account"
)

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "homestats_cleanup_runs_total",
		Help: "Completed cleanup passes by outcome.",
	}, []string{"status"})
	deletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "homestats_cleanup_deleted_users_total",
		Help: "Accounts hard-deleted by the cleanup scheduler.",
	})
	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "homestats_cleanup_run_duration_seconds",
		Help:    "Duration of cleanup passes.",
		Buckets: prometheus.DefBuckets,
	})

	registerOnce sync.Once
)

func registerMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(runsTotal, deletedTotal, runDuration)
	})
}

// RunResult summarizes one cleanup pass.
type RunResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Deleted   int           `json:"deleted"`
	Failed    int           `json:"failed"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// Info is a point-in-time snapshot of the scheduler state.
type Info struct {
	Running     bool          `json:"running"`
	Interval    time.Duration `json:"interval"`
	GracePeriod time.Duration `json:"grace_period"`
	NextRun     time.Time     `json:"next_run"`
	LastRun     *RunResult    `json:"last_run,omitempty"`
}

// Stats reports how much lifecycle work is pending and whether the
// scheduler is keeping up with its cadence.
type Stats struct {
	PendingDeletion int     `json:"users_pending_deletion"`
	Overdue         bool    `json:"cleanup_overdue"`
	OverdueHours    float64 `json:"overdue_hours"`
	Healthy         bool    `json:"service_healthy"`
}

// Scheduler drives periodic hard deletion of accounts whose soft-delete
// grace period has elapsed. One pass lists expired accounts and deletes
// them one by one; a failure on one account never blocks the rest, and a
// failed pass never stops the loop.
type Scheduler struct {
	store       account.Store
	gracePeriod time.Duration
	interval    time.Duration
	now         func() time.Time
	log         zerolog.Logger

	mu      sync.Mutex
	running bool
	nextRun time.Time
	lastRun *RunResult
	stop    chan struct{}
	done    chan struct{}
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithInterval overrides the pass interval. The default is 24 hours.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger attaches a component logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// New constructs a scheduler. gracePeriod is how long a soft-deleted
// account survives before a pass may destroy it.
func New(store account.Store, gracePeriod time.Duration, opts ...Option) *Scheduler {
	registerMetrics()
	s := &Scheduler{
		store:       store,
		gracePeriod: gracePeriod,
		interval:    24 * time.Hour,
		now:         time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. Calling Start on a running scheduler
// is a logged no-op so an accidental double start cannot spawn a second
// loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn().Msg("cleanup scheduler already running, ignoring start")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.nextRun = s.now().Add(s.interval)
	stop, done := s.stop, s.done
	s.mu.Unlock()

	s.log.Info().
		Dur("interval", s.interval).
		Dur("grace_period", s.gracePeriod).
		Msg("cleanup scheduler started")

	go s.loop(ctx, stop, done)
}

func (s *Scheduler) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.markStopped()
			s.log.Info().Msg("cleanup scheduler stopped: context canceled")
			return
		case <-stop:
			s.markStopped()
			s.log.Info().Msg("cleanup scheduler stopped")
			return
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(s.interval)
			s.mu.Lock()
			s.nextRun = s.now().Add(s.interval)
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Stop signals the loop and blocks until it acknowledges. Safe to call on
// a scheduler that never started, and safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running || s.stop == nil {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	done := s.done
	s.mu.Unlock()

	<-done
}

// RunOnce performs a single cleanup pass. Accounts that fail to delete are
// counted and skipped; the pass itself only fails when the expired listing
// cannot be loaded.
func (s *Scheduler) RunOnce(ctx context.Context) RunResult {
	start := s.now()
	cutoff := start.Add(-s.gracePeriod)
	res := RunResult{StartedAt: start, Status: "ok"}

	expired, err := s.store.ListExpiredSoftDeleted(ctx, cutoff)
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		res.Duration = s.now().Sub(start)
		s.record(res)
		s.log.Error().Err(err).Msg("cleanup pass failed to list expired accounts")
		return res
	}

	for _, u := range expired {
		if err := s.store.HardDelete(ctx, u.ID); err != nil {
			res.Failed++
			s.log.Error().Err(err).Str("user_id", u.ID).Msg("cleanup failed to delete account")
			continue
		}
		res.Deleted++
		s.log.Info().Str("user_id", u.ID).Time("deleted_at", *u.DeletedAt).Msg("cleanup deleted expired account")
	}
	if res.Failed > 0 {
		res.Status = "partial"
	}

	res.Duration = s.now().Sub(start)
	s.record(res)
	return res
}

func (s *Scheduler) record(res RunResult) {
	runsTotal.WithLabelValues(res.Status).Inc()
	deletedTotal.Add(float64(res.Deleted))
	runDuration.Observe(res.Duration.Seconds())

	s.mu.Lock()
	r := res
	s.lastRun = &r
	s.mu.Unlock()
}

// ManualCleanup runs a pass immediately, outside the timer cadence. The
// loop's schedule is unaffected.
func (s *Scheduler) ManualCleanup(ctx context.Context) RunResult {
	s.log.Info().Msg("manual cleanup triggered")
	return s.RunOnce(ctx)
}

// Info reports the scheduler configuration and last outcome.
func (s *Scheduler) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		Running:     s.running,
		Interval:    s.interval,
		GracePeriod: s.gracePeriod,
		NextRun:     s.nextRun,
	}
	if s.lastRun != nil {
		r := *s.lastRun
		info.LastRun = &r
	}
	return info
}

// Stats counts accounts currently eligible for deletion and flags a
// scheduler that has fallen behind its next scheduled pass. Healthy means
// the loop is running and not overdue.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	now := s.now()
	expired, err := s.store.ListExpiredSoftDeleted(ctx, now.Add(-s.gracePeriod))
	if err != nil {
		return Stats{}, err
	}

	s.mu.Lock()
	running := s.running
	nextRun := s.nextRun
	s.mu.Unlock()

	stats := Stats{PendingDeletion: len(expired)}
	if !nextRun.IsZero() && now.After(nextRun) {
		stats.Overdue = true
		stats.OverdueHours = math.Round(now.Sub(nextRun).Hours()*100) / 100
	}
	stats.Healthy = running && !stats.Overdue
	return stats, nil
}
