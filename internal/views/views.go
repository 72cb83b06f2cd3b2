package views

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"saroolsync/internal/civil"
	"saroolsync/internal/model"
	"saroolsync/internal/sarool"
)

// DefaultLabel is used when a record carries no Libelle.
const DefaultLabel = "Leçon de conduite"

// eventNamespace scopes event UIDs to this application.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://api.sarool.fr/F3"))

// NextEvent returns the earliest non-cancelled lesson starting strictly
// after now. Ties keep payload order.
func NextEvent(lessons []model.Lesson, now time.Time) (model.Lesson, bool) {
	now = now.In(civil.Zone())
	upcoming := make([]model.Lesson, 0, len(lessons))
	for _, l := range lessons {
		if l.Cancelled || !l.Start.After(now) {
			continue
		}
		upcoming = append(upcoming, l)
	}
	if len(upcoming) == 0 {
		return model.Lesson{}, false
	}
	slices.SortStableFunc(upcoming, func(a, b model.Lesson) int {
		return a.Start.Compare(b.Start)
	})
	return upcoming[0], true
}

// EventsInWindow returns the non-cancelled lessons overlapping [from, to],
// both bounds inclusive, in payload order.
func EventsInWindow(lessons []model.Lesson, from, to time.Time) []model.Event {
	out := make([]model.Event, 0)
	for _, l := range lessons {
		if l.Cancelled {
			continue
		}
		if l.Start.After(to) || l.End.Before(from) {
			continue
		}
		out = append(out, ToEvent(l))
	}
	return out
}

// NotificationCount sums the two pending-item counters; null counts as zero.
func NotificationCount(u sarool.UserData) int {
	return deref(u.NbContratsASigner) + deref(u.NbDossierIndispensable)
}

func deref(p *sarool.Count) int {
	if p == nil {
		return 0
	}
	return int(*p)
}

// ToEvent builds the calendar presentation of l.
func ToEvent(l model.Lesson) model.Event {
	return model.Event{
		UID:         EventUID(l),
		Summary:     Title(l),
		Description: Description(l),
		Location:    l.Location,
		Start:       l.Start,
		End:         l.End,
		Lesson:      l,
	}
}

// EventUID is stable for the same kind, start and label across refreshes.
func EventUID(l model.Lesson) string {
	key := string(l.Kind) + "|" + l.Start.In(civil.Zone()).Format(time.RFC3339) + "|" + l.Label
	return uuid.NewSHA1(eventNamespace, []byte(key)).String() + "@saroolsync"
}

// Title is "<label>[ - <instructor>][ (#<seq>)]". The sequence only exists
// on lesson-shaped records.
func Title(l model.Lesson) string {
	title := strings.TrimSpace(l.Label)
	if title == "" {
		title = DefaultLabel
	}
	if instructor := strings.TrimSpace(l.Instructor); instructor != "" {
		title += " - " + instructor
	}
	if l.Kind == model.KindLesson && l.Sequence > 0 {
		title += fmt.Sprintf(" (#%d)", l.Sequence)
	}
	return title
}

// Description joins the non-empty location, comment and pedagogical note
// lines.
func Description(l model.Lesson) string {
	parts := make([]string, 0, 3)
	if v := strings.TrimSpace(l.Location); v != "" {
		parts = append(parts, "Lieu: "+v)
	}
	if v := strings.TrimSpace(l.Comment); v != "" {
		parts = append(parts, "Commentaire: "+v)
	}
	if v := strings.TrimSpace(l.PedagogicalNote); v != "" {
		parts = append(parts, "Note pédagogique: "+v)
	}
	return strings.Join(parts, "\n")
}
