package civil

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseIsWallClockInParis(t *testing.T) {
	got, err := Parse("2024-06-01T10:00:00")
	require.NoError(t, err)
	require.Equal(t, ZoneName, got.Location().String())
	require.Equal(t, 10, got.Hour())

	// Summer time: Paris is UTC+2.
	require.True(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC).Equal(got))
}

func TestParseStripsTrailingZ(t *testing.T) {
	withZ, err := Parse("2024-01-15T14:30:00Z")
	require.NoError(t, err)
	plain, err := Parse("2024-01-15T14:30:00")
	require.NoError(t, err)
	require.True(t, withZ.Equal(plain))

	// Winter time: Paris is UTC+1, so 14:30 local is 13:30 UTC, not 14:30.
	require.Equal(t, 13, withZ.UTC().Hour())
}

func TestParseAcceptsFractionAndShortForms(t *testing.T) {
	cases := map[string]time.Time{
		"2024-03-10T09:15:00.123": time.Date(2024, 3, 10, 9, 15, 0, 123000000, Zone()),
		"2024-03-10T09:15":        time.Date(2024, 3, 10, 9, 15, 0, 0, Zone()),
		"2024-03-10":              time.Date(2024, 3, 10, 0, 0, 0, 0, Zone()),
		"  2024-03-10T09:15:00  ": time.Date(2024, 3, 10, 9, 15, 0, 0, Zone()),
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		require.True(t, want.Equal(got), "%s: want %s got %s", in, want, got)
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "Z", "not-a-date", "2024-13-01T00:00:00"} {
		_, err := Parse(in)
		require.Error(t, err, in)
		var pe *ParseError
		require.True(t, errors.As(err, &pe), in)
	}
}

func TestEndExplicitAndDurationAgree(t *testing.T) {
	start, err := ParseStart("2024-06-01T10:00:00")
	require.NoError(t, err)

	explicit, err := End(start, "2024-06-01T11:00:00", nil)
	require.NoError(t, err)

	sixty := 60
	fromDuration, err := End(start, "", &sixty)
	require.NoError(t, err)

	require.True(t, explicit.Equal(fromDuration))
	require.True(t, time.Date(2024, 6, 1, 11, 0, 0, 0, Zone()).Equal(fromDuration))
}

func TestEndExplicitWinsOverDuration(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, Zone())
	ninety := 90
	got, err := End(start, "2024-06-01T11:00:00", &ninety)
	require.NoError(t, err)
	require.Equal(t, 11, got.Hour())
	require.Equal(t, 0, got.Minute())
}

func TestEndFailures(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, Zone())
	neg := -5

	_, err := End(start, "", nil)
	require.Error(t, err)

	_, err = End(start, "", &neg)
	require.Error(t, err)

	_, err = End(start, "2024-06-01T09:00:00", nil)
	require.Error(t, err)

	_, err = End(start, "garbage", nil)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "DateFin", pe.Field)
}

func TestEndAcrossDSTChange(t *testing.T) {
	// 2024-03-31 02:00 Paris jumps to 03:00.
	start := time.Date(2024, 3, 31, 1, 30, 0, 0, Zone())
	sixty := 60
	end, err := End(start, "", &sixty)
	require.NoError(t, err)
	require.Equal(t, time.Hour, end.Sub(start))
	require.Equal(t, 3, end.Hour())
}

func TestFormatIsNaiveParisTime(t *testing.T) {
	utc := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	require.Equal(t, "2024-06-01T10:00:00", Format(utc))
}

func TestNowUsesClockInZone(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	got := Now(func() time.Time { return fixed })
	require.Equal(t, ZoneName, got.Location().String())
	require.True(t, got.Equal(fixed))
}
