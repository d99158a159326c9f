package dating

import "github.com/prenatal/prenatal/pkg/calendar"

// Summary is everything a record view needs about dating at one reference
// date.
type Summary struct {
	Result
	Preferred   *Estimate         `json:"preferred,omitempty"`
	Trimester   Trimester         `json:"trimester,omitempty"`
	Discrepancy *DiscrepancyAlert `json:"discrepancy,omitempty"`
}

// Summarize calculates both methods, picks the preferred estimate and runs
// the discrepancy check.
func Summarize(in Input, ref calendar.Date) Summary {
	s := Summary{Result: Calculate(in, ref)}
	s.fill(in)
	return s
}

// SummarizeRaw is Summarize over unparsed record fields.
func SummarizeRaw(raw RawInput, ref calendar.Date) Summary {
	in, _ := ParseInput(raw)
	s := Summary{Result: CalculateRaw(raw, ref)}
	s.fill(in)
	return s
}

func (s *Summary) fill(in Input) {
	if est, ok := s.Result.Preferred(); ok {
		s.Preferred = est
		if est.Dated {
			s.Trimester = TrimesterFor(est.Age)
		}
	}
	if alert, ok := CheckDiscrepancy(in); ok {
		s.Discrepancy = &alert
	}
}
