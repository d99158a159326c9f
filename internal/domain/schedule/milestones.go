package schedule

import (
	"fmt"

	"github.com/prenatal/prenatal/internal/domain/dating"
	"github.com/prenatal/prenatal/pkg/apperror"
	"github.com/prenatal/prenatal/pkg/calendar"
)

type Category string

const (
	CategoryConception     Category = "conception"
	CategoryMorphologyScan Category = "morphology_scan"
	CategoryVaccine        Category = "vaccine"
	CategoryTrimesterMark  Category = "trimester_mark"
	CategoryTermWindow     Category = "term_window"
)

// Milestone is a clinical date or date range. For single-date milestones
// Start, End and Date are equal; for ranges Date is zero.
type Milestone struct {
	Key       string        `json:"key"`
	Title     string        `json:"title"`
	Category  Category      `json:"category"`
	Date      calendar.Date `json:"date"`
	Start     calendar.Date `json:"start_date"`
	End       calendar.Date `json:"end_date"`
	StartWeek int           `json:"start_week"`
	EndWeek   int           `json:"end_week"`
}

func (m Milestone) IsRange() bool {
	return !m.Start.Equal(m.End)
}

// ConceptionDate returns the conception-equivalent date for a due date.
func ConceptionDate(due calendar.Date) calendar.Date {
	return calendar.AddDays(due, -dating.TermDays)
}

// Milestones lays the protocol's milestone table over the due date. Every
// entry is a fixed offset from the conception-equivalent date.
func (p *Protocol) Milestones(due calendar.Date) ([]Milestone, error) {
	if due.IsZero() {
		return nil, apperror.NewValidationError("due date is required")
	}
	c := ConceptionDate(due)
	out := make([]Milestone, 0, len(p.MilestoneDefs))
	for _, def := range p.MilestoneDefs {
		var start, end int
		switch {
		case def.OffsetDays != nil:
			start, end = *def.OffsetDays, *def.OffsetDays
		case def.StartDays != nil && def.EndDays != nil:
			start, end = *def.StartDays, *def.EndDays
		default:
			return nil, apperror.NewValidationError(fmt.Sprintf("milestone %q needs offset_days or start_days and end_days", def.Key))
		}
		m := Milestone{
			Key:       def.Key,
			Title:     def.Title,
			Category:  def.Category,
			Start:     calendar.AddDays(c, start),
			End:       calendar.AddDays(c, end),
			StartWeek: start / 7,
			EndWeek:   end / 7,
		}
		if start == end {
			m.Date = m.Start
		}
		out = append(out, m)
	}
	return out, nil
}

// Milestones uses the default protocol.
func Milestones(due calendar.Date) ([]Milestone, error) {
	return DefaultProtocol().Milestones(due)
}
