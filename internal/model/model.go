package model

import "time"

// Kind tells which schedule shape a Lesson was normalized from.
type Kind string

const (
	KindAppointment Kind = "appointment"
	KindLesson      Kind = "lesson"
)

// Lesson is the canonical schedule record, whatever shape the API used.
// Start and End are always in the civil timezone.
type Lesson struct {
	Kind Kind
	// Index is the record's position in the schedule payload, used to keep
	// ordering stable.
	Index int

	Start time.Time
	End   time.Time

	Label           string
	Instructor      string
	Location        string
	Comment         string
	PedagogicalNote string

	Cancelled bool
	Sequence  int
}

// Duration returns End - Start.
func (l Lesson) Duration() time.Duration {
	return l.End.Sub(l.Start)
}

// Event is a calendar-style presentation of a Lesson.
type Event struct {
	// UID is stable across refreshes for the same lesson.
	UID string

	Summary     string
	Description string
	Location    string

	Start time.Time
	End   time.Time

	Lesson Lesson
}
