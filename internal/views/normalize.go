// Package views derives presentation values from a snapshot: the next
// lesson, lessons overlapping a window, balance and notification summaries.
// Everything here is a pure function of its inputs.
package views

import (
	"errors"

	"saroolsync/internal/civil"
	appLog "saroolsync/internal/log"
	"saroolsync/internal/model"
	"saroolsync/internal/sarool"
	"saroolsync/internal/snapshot"
)

var errEmptyRecord = errors.New("record has no payload")

// Normalize converts every schedule record of snap into model.Lesson.
// Records whose dates cannot be parsed are logged and skipped.
func Normalize(snap *snapshot.Snapshot) []model.Lesson {
	if snap == nil {
		return nil
	}
	return NormalizeRecords(snap.Schedule.Records)
}

// NormalizeRecords converts records of either shape, preserving payload
// order.
func NormalizeRecords(records []sarool.Record) []model.Lesson {
	out := make([]model.Lesson, 0, len(records))
	for i, rec := range records {
		l, err := normalizeRecord(i, rec)
		if err != nil {
			appLog.Debug("skipping schedule record", "index", i, "variant", string(rec.Variant), "err", err)
			continue
		}
		out = append(out, l)
	}
	return out
}

func normalizeRecord(index int, rec sarool.Record) (model.Lesson, error) {
	if rec.DecodeErr != nil {
		return model.Lesson{}, &civil.ParseError{Field: string(rec.Variant), Err: rec.DecodeErr}
	}

	switch {
	case rec.Appointment != nil:
		a := rec.Appointment
		start, err := civil.ParseStart(a.DateDebut)
		if err != nil {
			return model.Lesson{}, err
		}
		end, err := civil.End(start, a.DateFin, nil)
		if err != nil {
			return model.Lesson{}, err
		}
		return model.Lesson{
			Kind:       model.KindAppointment,
			Index:      index,
			Start:      start,
			End:        end,
			Label:      a.Libelle,
			Instructor: a.Moniteur,
			Location:   a.LieuRdv,
			Comment:    a.Commentaire,
		}, nil

	case rec.Lesson != nil:
		l := rec.Lesson
		start, err := civil.ParseStart(l.DateDebut)
		if err != nil {
			return model.Lesson{}, err
		}
		end, err := civil.End(start, l.DateFin, l.Duree)
		if err != nil {
			return model.Lesson{}, err
		}
		return model.Lesson{
			Kind:            model.KindLesson,
			Index:           index,
			Start:           start,
			End:             end,
			Label:           l.Libelle,
			Instructor:      l.Moniteur,
			Location:        l.LieuRdv,
			Comment:         l.Commentaire,
			PedagogicalNote: l.NotePedagogique,
			Cancelled:       bool(l.IsAnnule),
			Sequence:        l.NumeroSequence,
		}, nil
	}
	return model.Lesson{}, &civil.ParseError{Field: string(rec.Variant), Err: errEmptyRecord}
}
