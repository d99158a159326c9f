package schedule

import (
	"fmt"

	"github.com/prenatal/prenatal/pkg/apperror"
	"github.com/prenatal/prenatal/pkg/calendar"
)

type Exam string

const (
	ExamNone                Exam = "none"
	ExamObstetricUltrasound Exam = "obstetric_ultrasound"
	ExamCardiotocography    Exam = "cardiotocography"
)

// Visit is one generated routine appointment. Status lives with whoever
// persists it.
type Visit struct {
	Sequence       int                     `json:"sequence"`
	Date           calendar.Date           `json:"date"`
	TargetWeek     int                     `json:"target_week"`
	GestationalAge calendar.GestationalAge `json:"gestational_age"`
	Exam           Exam                    `json:"exam"`
	Note           string                  `json:"note,omitempty"`
}

// Visits generates one visit per target week after the first visit.
//
// The first visit itself is booked by the clinician and is not returned;
// numbering of the generated visits starts at 1. Each date is the
// conception-equivalent date plus the target week, moved onto a clinic day
// when the protocol has a clinic calendar.
func (p *Protocol) Visits(due, firstVisit calendar.Date) ([]Visit, error) {
	if due.IsZero() {
		return nil, apperror.NewValidationError("due date is required")
	}
	if firstVisit.IsZero() {
		return nil, apperror.NewValidationError("first visit date is required")
	}
	if firstVisit.After(due) {
		return nil, apperror.NewValidationError(
			fmt.Sprintf("first visit date %s is after the due date %s", firstVisit, due))
	}

	c := ConceptionDate(due)
	visits := make([]Visit, 0, len(p.TargetWeeks))
	last := firstVisit
	for _, week := range p.TargetWeeks {
		date := calendar.AddDays(c, week*7)
		if !date.After(firstVisit) {
			continue
		}

		var note string
		if p.Clinic != nil {
			date, note = p.Clinic.Adjust(date)
		}
		if !date.After(last) {
			continue
		}

		age, err := calendar.ToWeeksAndDays(calendar.DayDifference(c, date))
		if err != nil {
			return nil, fmt.Errorf("visit for week %d: %w", week, err)
		}
		visits = append(visits, Visit{
			Sequence:       len(visits) + 1,
			Date:           date,
			TargetWeek:     week,
			GestationalAge: age,
			Exam:           p.ExamFor(week),
			Note:           note,
		})
		last = date
	}
	return visits, nil
}

// GenerateVisits uses the default protocol.
func GenerateVisits(due, firstVisit calendar.Date) ([]Visit, error) {
	return DefaultProtocol().Visits(due, firstVisit)
}
