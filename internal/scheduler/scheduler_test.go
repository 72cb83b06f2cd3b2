package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"saroolsync/internal/sarool"
	"saroolsync/internal/snapshot"
)

// scriptedCollector returns the queued results in order, then repeats the
// last one.
type scriptedCollector struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	snap *snapshot.Snapshot
	err  error
}

func (c *scriptedCollector) Collect(ctx context.Context) (*snapshot.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	c.calls++
	return c.results[i].snap, c.results[i].err
}

func (c *scriptedCollector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func connErr() error {
	return &snapshot.RefreshError{
		Failures: 1,
		Err:      &sarool.Error{Kind: sarool.KindConnection, Op: "F3", Message: "request failed"},
	}
}

func authErr() error {
	return &snapshot.RefreshError{
		Failures: 1,
		Err:      &sarool.Error{Kind: sarool.KindAuthentication, Op: "F1", Status: 401, Message: "token expired"},
	}
}

func testOptions() Options {
	return Options{
		Interval:          time.Hour,
		StartupAttempts:   3,
		InitialBackoff:    time.Millisecond,
		MinManualInterval: time.Hour,
	}
}

func TestStartSucceedsAndPublishes(t *testing.T) {
	want := &snapshot.Snapshot{FetchedAt: time.Now()}
	c := &scriptedCollector{results: []result{{snap: want}}}
	s := New(c, testOptions())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	got, err := s.Latest()
	require.NoError(t, err)
	require.Same(t, want, got)

	st := s.Status()
	require.True(t, st.Ready)
	require.Zero(t, st.ConsecutiveFailures)
	require.False(t, st.LastSuccess.IsZero())
}

func TestStartRetriesTransientFailures(t *testing.T) {
	want := &snapshot.Snapshot{}
	c := &scriptedCollector{results: []result{{err: connErr()}, {snap: want}}}
	s := New(c, testOptions())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Equal(t, 2, c.Calls())
	require.Same(t, want, s.Snapshot())
}

func TestStartGivesUpAfterAttempts(t *testing.T) {
	c := &scriptedCollector{results: []result{{err: connErr()}}}
	s := New(c, testOptions())

	err := s.Start(context.Background())
	require.Error(t, err)

	var se *StartupError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 3, se.Attempts)
	require.ErrorIs(t, err, sarool.ErrConnection)
	require.Equal(t, 3, c.Calls())
	require.Nil(t, s.Snapshot())
	require.Equal(t, 3, s.Status().ConsecutiveFailures)
}

func TestStartDoesNotRetryAuthentication(t *testing.T) {
	c := &scriptedCollector{results: []result{{err: authErr()}}}
	s := New(c, testOptions())

	err := s.Start(context.Background())
	require.ErrorIs(t, err, sarool.ErrAuthentication)
	require.Equal(t, 1, c.Calls())
}

func TestFailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	first := &snapshot.Snapshot{FetchedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := &scriptedCollector{results: []result{{snap: first}, {err: connErr()}}}
	opts := testOptions()
	opts.MinManualInterval = time.Nanosecond
	s := New(c, opts)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	err := s.refresh(context.Background(), TriggerInterval)
	require.Error(t, err)

	var ue *UpdateError
	require.ErrorAs(t, err, &ue)
	require.Contains(t, err.Error(), "update failed")
	require.ErrorIs(t, err, sarool.ErrConnection)

	got, lastErr := s.Latest()
	require.Same(t, first, got)
	require.ErrorIs(t, lastErr, sarool.ErrConnection)

	st := s.Status()
	require.Equal(t, 1, st.ConsecutiveFailures)
	require.NotEmpty(t, st.LastError)
	require.True(t, st.Ready)
}

func TestRecoveryClearsLastError(t *testing.T) {
	second := &snapshot.Snapshot{}
	c := &scriptedCollector{results: []result{{err: connErr()}, {snap: second}}}
	s := New(c, testOptions())

	require.Error(t, s.refresh(context.Background(), TriggerInterval))
	require.NoError(t, s.refresh(context.Background(), TriggerInterval))

	got, err := s.Latest()
	require.NoError(t, err)
	require.Same(t, second, got)
	require.Zero(t, s.Status().ConsecutiveFailures)
	require.Empty(t, s.Status().LastError)
}

func TestRefreshNowThrottled(t *testing.T) {
	c := &scriptedCollector{results: []result{{snap: &snapshot.Snapshot{}}}}
	s := New(c, testOptions())

	require.NoError(t, s.RefreshNow(context.Background()))
	err := s.RefreshNow(context.Background())
	require.True(t, errors.Is(err, ErrThrottled))
	require.Equal(t, 1, c.Calls(), "throttled call must not reach the collector")
}

func TestRefreshNowReportsFailure(t *testing.T) {
	c := &scriptedCollector{results: []result{{err: connErr()}}}
	s := New(c, testOptions())

	err := s.RefreshNow(context.Background())
	var ue *UpdateError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, TriggerManual, ue.Trigger)
	require.Nil(t, s.Snapshot())
}

func TestCyclesDoNotOverlap(t *testing.T) {
	var (
		mu      sync.Mutex
		running int
		maxSeen int
	)
	c := collectorFunc(func(ctx context.Context) (*snapshot.Snapshot, error) {
		mu.Lock()
		running++
		if running > maxSeen {
			maxSeen = running
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return &snapshot.Snapshot{}, nil
	})
	s := New(c, testOptions())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.refresh(context.Background(), TriggerInterval)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestStopWithoutStart(t *testing.T) {
	s := New(&scriptedCollector{results: []result{{}}}, Options{})
	ctx := s.Stop()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("stop context should be done")
	}
}

type collectorFunc func(ctx context.Context) (*snapshot.Snapshot, error)

func (f collectorFunc) Collect(ctx context.Context) (*snapshot.Snapshot, error) { return f(ctx) }
