package snapshot

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"saroolsync/internal/civil"
	"saroolsync/internal/sarool"
)

type fakeFetcher struct {
	calls atomic.Int32

	infoErr, recapErr, schedErr, userErr error
	// delays let tests control which failure is observed first.
	infoDelay, schedDelay time.Duration

	gotFrom, gotTo time.Time
	gotFlags       sarool.UserDataFlags
}

func (f *fakeFetcher) StudentInfo(ctx context.Context) (sarool.StudentInfo, error) {
	f.calls.Add(1)
	time.Sleep(f.infoDelay)
	return sarool.StudentInfo{NEPH: "0001"}, f.infoErr
}

func (f *fakeFetcher) FinancialRecap(ctx context.Context) (sarool.FinancialRecap, error) {
	f.calls.Add(1)
	return sarool.FinancialRecap{SoldeGlobal: decimal.NewNullDecimal(decimal.NewFromInt(42))}, f.recapErr
}

func (f *fakeFetcher) Schedule(ctx context.Context, from, to time.Time) (sarool.Schedule, error) {
	f.calls.Add(1)
	f.gotFrom, f.gotTo = from, to
	time.Sleep(f.schedDelay)
	return sarool.Schedule{}, f.schedErr
}

func (f *fakeFetcher) UserData(ctx context.Context, flags sarool.UserDataFlags) (sarool.UserData, error) {
	f.calls.Add(1)
	f.gotFlags = flags
	return sarool.UserData{Memo: "hello"}, f.userErr
}

func fixedClock() time.Time {
	return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
}

func TestCollectAllSucceed(t *testing.T) {
	f := &fakeFetcher{}
	agg := New(f, Options{Clock: fixedClock})

	snap, err := agg.Collect(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 4, f.calls.Load())

	require.Equal(t, "0001", snap.StudentInfo.NEPH.String())
	require.True(t, snap.FinancialRecap.SoldeGlobal.Valid)
	require.Equal(t, "hello", snap.UserData.Memo.String())

	require.Equal(t, civil.ZoneName, snap.FetchedAt.Location().String())
	require.True(t, snap.From.Equal(fixedClock()))
	require.Equal(t, 7*24*time.Hour, snap.To.Sub(snap.From))
	require.True(t, f.gotFrom.Equal(snap.From))
	require.True(t, f.gotTo.Equal(snap.To))
	require.Equal(t, sarool.DefaultUserDataFlags(), f.gotFlags)
}

func TestCollectScheduleConnectionErrorFailsCycle(t *testing.T) {
	connErr := &sarool.Error{Kind: sarool.KindConnection, Op: "F3", Message: "request failed"}
	f := &fakeFetcher{schedErr: connErr}
	agg := New(f, Options{Clock: fixedClock})

	snap, err := agg.Collect(context.Background())
	require.Nil(t, snap)
	require.Error(t, err)
	require.ErrorIs(t, err, sarool.ErrConnection)
	require.True(t, IsRefreshError(err))
	require.Contains(t, err.Error(), "refresh failed")

	// All four still ran to completion.
	require.EqualValues(t, 4, f.calls.Load())
}

func TestCollectKeepsFirstObservedError(t *testing.T) {
	late := errors.New("late failure")
	early := errors.New("early failure")
	f := &fakeFetcher{
		infoErr:   late,
		infoDelay: 100 * time.Millisecond,
		recapErr:  early,
	}
	agg := New(f, Options{Clock: fixedClock})

	_, err := agg.Collect(context.Background())
	require.ErrorIs(t, err, early)
	require.NotErrorIs(t, err, late)

	var re *RefreshError
	require.ErrorAs(t, err, &re)
	require.Equal(t, 2, re.Failures)
}

func TestCollectWaitsForSlowFetches(t *testing.T) {
	f := &fakeFetcher{
		recapErr:   errors.New("boom"),
		schedDelay: 80 * time.Millisecond,
	}
	agg := New(f, Options{Clock: fixedClock})

	start := time.Now()
	_, err := agg.Collect(context.Background())
	require.Error(t, err)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.EqualValues(t, 4, f.calls.Load())
}

func TestCollectCancelledBeforeStart(t *testing.T) {
	f := &fakeFetcher{}
	agg := New(f, Options{Clock: fixedClock})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := agg.Collect(ctx)
	require.Nil(t, snap)
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 0, f.calls.Load())
}

func TestCollectHonoursOptions(t *testing.T) {
	flags := sarool.UserDataFlags{WithFiles: true}
	f := &fakeFetcher{}
	agg := New(f, Options{Clock: fixedClock, Horizon: 48 * time.Hour, Flags: &flags})

	snap, err := agg.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, 48*time.Hour, snap.To.Sub(snap.From))
	require.Equal(t, flags, f.gotFlags)
}
