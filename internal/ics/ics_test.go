package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/require"

	"saroolsync/internal/civil"
	"saroolsync/internal/model"
	"saroolsync/internal/views"
)

// readEvents parses a rendered feed back into events. Only the properties
// Render writes are restored.
func readEvents(t *testing.T, body string) []model.Event {
	t.Helper()
	cal, err := ical.ParseCalendar(bytes.NewReader([]byte(body)))
	require.NoError(t, err)

	var events []model.Event
	for _, ve := range cal.Events() {
		ev := model.Event{UID: ve.Id()}
		if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
			ev.Summary = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
			ev.Location = p.Value
		}
		ev.Start, err = ve.GetStartAt()
		require.NoError(t, err)
		ev.End, err = ve.GetEndAt()
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func sampleEvents() []model.Event {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, civil.Zone())
	lessons := []model.Lesson{
		{Kind: model.KindLesson, Label: "Conduite", Instructor: "Paul", Sequence: 3, Location: "Agence", Start: start, End: start.Add(time.Hour)},
		{Kind: model.KindAppointment, Label: "Code", Start: start.Add(24 * time.Hour), End: start.Add(26 * time.Hour)},
	}
	return views.EventsInWindow(lessons, start.Add(-time.Hour), start.Add(48*time.Hour))
}

func TestRenderHeader(t *testing.T) {
	out, err := Render(sampleEvents(), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR"))
	require.Contains(t, out, "PRODID:"+ProductID)
	require.Contains(t, out, "METHOD:PUBLISH")
	require.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))
	require.Contains(t, out, "DTSTAMP:20240501T000000Z")
}

func TestRenderRoundTrip(t *testing.T) {
	events := sampleEvents()
	out, err := Render(events, time.Now())
	require.NoError(t, err)

	got := readEvents(t, out)
	require.Len(t, got, 2)

	require.Equal(t, events[0].UID, got[0].UID)
	require.Equal(t, "Conduite - Paul (#3)", got[0].Summary)
	require.Equal(t, "Agence", got[0].Location)
	require.True(t, got[0].Start.Equal(events[0].Start))
	require.True(t, got[0].End.Equal(events[0].End))

	require.Equal(t, "Code", got[1].Summary)
	require.True(t, got[1].End.Equal(events[1].End))
}

func TestRenderEmpty(t *testing.T) {
	out, err := Render(nil, time.Now())
	require.NoError(t, err)
	require.NotContains(t, out, "BEGIN:VEVENT")

	require.Empty(t, readEvents(t, out))
}

func TestRenderRejectsInvalidEvents(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, civil.Zone())

	_, err := Render([]model.Event{{Start: start, End: start}}, time.Now())
	require.ErrorIs(t, err, errMissingUID)

	_, err = Render([]model.Event{{UID: "x", Start: start, End: start.Add(-time.Minute)}}, time.Now())
	require.Error(t, err)
}
