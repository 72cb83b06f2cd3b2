// Package scheduler owns the refresh loop: it runs the startup refresh,
// refreshes on a fixed interval, accepts throttled manual refreshes and
// publishes the latest good snapshot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"saroolsync/internal/civil"
	appLog "saroolsync/internal/log"
	"saroolsync/internal/sarool"
	"saroolsync/internal/snapshot"
	"saroolsync/internal/telemetry"
)

const (
	DefaultInterval          = 300 * time.Second
	DefaultStartupAttempts   = 3
	DefaultCycleTimeout      = 60 * time.Second
	DefaultMinManualInterval = 30 * time.Second

	defaultInitialBackoff = 2 * time.Second
)

// Refresh triggers, also used as metric attributes.
const (
	TriggerStartup  = "startup"
	TriggerInterval = "interval"
	TriggerManual   = "manual"
)

// ErrThrottled is returned by RefreshNow when called again too soon.
var ErrThrottled = errors.New("refresh throttled")

// Collector produces a snapshot. *snapshot.Aggregator implements it.
type Collector interface {
	Collect(ctx context.Context) (*snapshot.Snapshot, error)
}

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	Interval          time.Duration
	StartupAttempts   int
	CycleTimeout      time.Duration
	MinManualInterval time.Duration
	// InitialBackoff is the first delay between startup attempts.
	InitialBackoff time.Duration
	Clock          func() time.Time
	Metrics        *telemetry.Instruments
}

// UpdateError wraps a failed refresh cycle.
type UpdateError struct {
	Trigger string
	Err     error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update failed: %v", e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// StartupError is returned by Start when no startup attempt succeeded.
type StartupError struct {
	Attempts int
	Err      error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup refresh failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// Status summarizes the refresh history.
type Status struct {
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastAttempt         time.Time `json:"last_attempt,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Ready               bool      `json:"ready"`
	Interval            string    `json:"interval"`
}

// Scheduler runs refresh cycles one at a time.
type Scheduler struct {
	collector Collector
	opts      Options

	// cycleMu serializes refresh cycles.
	cycleMu sync.Mutex
	latest  atomic.Pointer[snapshot.Snapshot]

	stateMu sync.RWMutex
	status  Status
	lastErr error

	limiter *rate.Limiter

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New builds a Scheduler around collector.
func New(collector Collector, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StartupAttempts <= 0 {
		opts.StartupAttempts = DefaultStartupAttempts
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultCycleTimeout
	}
	if opts.MinManualInterval <= 0 {
		opts.MinManualInterval = DefaultMinManualInterval
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scheduler{
		collector: collector,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Every(opts.MinManualInterval), 1),
	}
}

// Start runs the startup refresh, retrying transient failures with
// exponential backoff, then schedules periodic refreshes. It returns a
// *StartupError if no attempt succeeded; the periodic loop is not started in
// that case.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.startup(ctx); err != nil {
		return err
	}

	c := cron.New(
		cron.WithLocation(civil.Zone()),
		cron.WithLogger(appLog.CronLogger()),
		cron.WithChain(
			cron.Recover(appLog.CronLogger()),
			cron.SkipIfStillRunning(appLog.CronLogger()),
		),
	)
	spec := fmt.Sprintf("@every %s", s.opts.Interval)
	if _, err := c.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule refresh %q: %w", spec, err)
	}

	s.cronMu.Lock()
	s.cron = c
	s.cronMu.Unlock()

	c.Start()
	appLog.Info("refresh scheduled", "interval", s.opts.Interval.String())
	return nil
}

func (s *Scheduler) startup(ctx context.Context) error {
	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.InitialBackoff

	op := func() (struct{}, error) {
		attempts++
		err := s.refresh(ctx, TriggerStartup)
		if err == nil {
			return struct{}{}, nil
		}
		if !sarool.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, next time.Duration) {
		appLog.Warn("startup refresh failed, retrying", "attempt", attempts, "retry_in", next.String(), "err", err)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(s.opts.StartupAttempts)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return &StartupError{Attempts: attempts, Err: err}
	}
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.refresh(ctx, TriggerInterval); err != nil {
		appLog.Warn("scheduled refresh failed, keeping previous data", "err", err)
	}
}

// RefreshNow runs a manual refresh unless one ran within MinManualInterval,
// in which case ErrThrottled is returned without contacting the API.
func (s *Scheduler) RefreshNow(ctx context.Context) error {
	if !s.limiter.Allow() {
		return ErrThrottled
	}
	return s.refresh(ctx, TriggerManual)
}

// refresh runs one cycle. On failure the previous snapshot stays published.
func (s *Scheduler) refresh(ctx context.Context, trigger string) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.opts.CycleTimeout)
	defer cancel()

	started := s.opts.Clock()
	snap, err := s.collector.Collect(cctx)
	elapsed := s.opts.Clock().Sub(started)

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.status.LastAttempt = started

	if err != nil {
		s.opts.Metrics.RecordRefresh(ctx, trigger, "failure", elapsed)
		uerr := &UpdateError{Trigger: trigger, Err: err}
		s.lastErr = uerr
		s.status.LastError = uerr.Error()
		s.status.ConsecutiveFailures++
		appLog.Debug("refresh failed", "trigger", trigger, "failures", s.status.ConsecutiveFailures, "err", err)
		return uerr
	}

	s.latest.Store(snap)
	s.opts.Metrics.RecordRefresh(ctx, trigger, "success", elapsed)
	s.lastErr = nil
	s.status.LastError = ""
	s.status.LastSuccess = started
	s.status.ConsecutiveFailures = 0
	appLog.Info("refresh complete",
		"trigger", trigger,
		"records", len(snap.Schedule.Records),
		"elapsed", elapsed.String(),
	)
	return nil
}

// Latest returns the last good snapshot (nil before the first success) and
// the error of the most recent cycle, if it failed.
func (s *Scheduler) Latest() (*snapshot.Snapshot, error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.latest.Load(), s.lastErr
}

// Snapshot returns the last good snapshot or nil.
func (s *Scheduler) Snapshot() *snapshot.Snapshot {
	return s.latest.Load()
}

// Status returns a copy of the refresh history.
func (s *Scheduler) Status() Status {
	s.stateMu.RLock()
	st := s.status
	s.stateMu.RUnlock()
	st.Ready = s.latest.Load() != nil
	st.Interval = s.opts.Interval.String()
	return st
}

// Stop halts periodic refreshes. The returned context is done once any
// running cycle has finished.
func (s *Scheduler) Stop() context.Context {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()

	if c == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.Stop()
}
