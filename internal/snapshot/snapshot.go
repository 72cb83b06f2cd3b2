// Package snapshot builds one immutable view of the remote account per
// refresh cycle.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"saroolsync/internal/civil"
	appLog "saroolsync/internal/log"
	"saroolsync/internal/sarool"
)

// DefaultHorizon is how far ahead the schedule is fetched.
const DefaultHorizon = 7 * 24 * time.Hour

// Fetcher is the subset of the remote client the aggregator needs.
type Fetcher interface {
	StudentInfo(ctx context.Context) (sarool.StudentInfo, error)
	FinancialRecap(ctx context.Context) (sarool.FinancialRecap, error)
	Schedule(ctx context.Context, from, to time.Time) (sarool.Schedule, error)
	UserData(ctx context.Context, flags sarool.UserDataFlags) (sarool.UserData, error)
}

// Snapshot is the fully populated result of one refresh cycle. Treat it as
// read-only once published.
type Snapshot struct {
	StudentInfo    sarool.StudentInfo
	FinancialRecap sarool.FinancialRecap
	Schedule       sarool.Schedule
	UserData       sarool.UserData

	// FetchedAt is when the cycle started, in the civil timezone.
	FetchedAt time.Time
	// From and To bound the schedule request.
	From time.Time
	To   time.Time
}

// Options configures an Aggregator.
type Options struct {
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Horizon defaults to DefaultHorizon.
	Horizon time.Duration
	// Flags defaults to sarool.DefaultUserDataFlags().
	Flags *sarool.UserDataFlags
}

// Aggregator fans out the four fetches of a refresh cycle.
type Aggregator struct {
	fetcher Fetcher
	clock   func() time.Time
	horizon time.Duration
	flags   sarool.UserDataFlags
}

// New constructs an Aggregator over fetcher.
func New(fetcher Fetcher, opts Options) *Aggregator {
	a := &Aggregator{
		fetcher: fetcher,
		clock:   opts.Clock,
		horizon: opts.Horizon,
		flags:   sarool.DefaultUserDataFlags(),
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	if a.horizon <= 0 {
		a.horizon = DefaultHorizon
	}
	if opts.Flags != nil {
		a.flags = *opts.Flags
	}
	return a
}

// Collect runs the four fetches concurrently and waits for all of them. If
// any failed, the first failure observed is returned and no snapshot is
// produced.
func (a *Aggregator) Collect(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("refresh failed: %w", err)
	}

	now := civil.Now(a.clock)
	snap := &Snapshot{
		FetchedAt: now,
		From:      now,
		To:        now.Add(a.horizon),
	}

	var (
		mu       sync.Mutex
		firstErr error
		failures int
	)
	record := func(name string, err error) {
		if err == nil {
			return
		}
		appLog.Debug("snapshot fetch failed", "part", name, "err", err)
		mu.Lock()
		defer mu.Unlock()
		failures++
		if firstErr == nil {
			firstErr = err
		}
	}

	// Each goroutine writes only its own field; Wait orders the writes
	// before the reads below.
	var wg conc.WaitGroup
	wg.Go(func() {
		v, err := a.fetcher.StudentInfo(ctx)
		snap.StudentInfo = v
		record("student_info", err)
	})
	wg.Go(func() {
		v, err := a.fetcher.FinancialRecap(ctx)
		snap.FinancialRecap = v
		record("financial_recap", err)
	})
	wg.Go(func() {
		v, err := a.fetcher.Schedule(ctx, snap.From, snap.To)
		snap.Schedule = v
		record("schedule", err)
	})
	wg.Go(func() {
		v, err := a.fetcher.UserData(ctx, a.flags)
		snap.UserData = v
		record("user_data", err)
	})
	wg.Wait()

	if firstErr != nil {
		return nil, &RefreshError{Failures: failures, Err: firstErr}
	}
	return snap, nil
}

// RefreshError reports a failed cycle. Err is the first failure observed.
type RefreshError struct {
	Failures int
	Err      error
}

func (e *RefreshError) Error() string {
	if e.Failures > 1 {
		return fmt.Sprintf("refresh failed (%d of 4 fetches): %v", e.Failures, e.Err)
	}
	return fmt.Sprintf("refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// IsRefreshError reports whether err came from a failed fan-out.
func IsRefreshError(err error) bool {
	var re *RefreshError
	return errors.As(err, &re)
}
