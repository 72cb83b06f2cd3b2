// Package ics publishes lessons as an iCalendar feed.
package ics

import (
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"saroolsync/internal/civil"
	appLog "saroolsync/internal/log"
	"saroolsync/internal/model"
)

const (
	ProductID    = "-//saroolsync//planning//FR"
	CalendarName = "Planning Sarool"
)

var errMissingUID = errors.New("event has no UID")

// Render serializes events as a PUBLISH calendar. now is used as DTSTAMP.
func Render(events []model.Event, now time.Time) (string, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	cal.SetXWRCalName(CalendarName)
	cal.SetXWRTimezone(civil.ZoneName)

	stamp := now.UTC()
	for i, e := range events {
		if e.UID == "" {
			return "", fmt.Errorf("event %d: %w", i, errMissingUID)
		}
		if e.End.Before(e.Start) {
			return "", fmt.Errorf("event %s: end %s before start %s", e.UID, civil.Format(e.End), civil.Format(e.Start))
		}

		ve := cal.AddEvent(e.UID)
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(e.Start)
		ve.SetEndAt(e.End)
		ve.SetSummary(e.Summary)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		if e.Location != "" {
			ve.SetLocation(e.Location)
		}
	}

	appLog.Debug("ics render completed", "event_count", len(events))
	return cal.Serialize(), nil
}
