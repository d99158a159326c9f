package dating

import (
	"encoding/json"

	"github.com/prenatal/prenatal/pkg/calendar"
)

// TermDays is the conventional span from the conception-equivalent date to
// the due date.
const TermDays = 280

// LMPStatus tags what the last-menstrual-period field holds.
type LMPStatus string

const (
	LMPKnown        LMPStatus = "known"
	LMPUnknown      LMPStatus = "unknown"
	LMPIncompatible LMPStatus = "incompatible_with_ultrasound"
)

// LMP is the last menstrual period. Date is set only when Status is LMPKnown.
type LMP struct {
	Status LMPStatus     `json:"status"`
	Date   calendar.Date `json:"date,omitempty"`
}

func KnownLMP(d calendar.Date) LMP { return LMP{Status: LMPKnown, Date: d} }
func UnknownLMP() LMP { return LMP{Status: LMPUnknown} }
func IncompatibleLMP() LMP { return LMP{Status: LMPIncompatible} }

// Ultrasound is a dating scan: the exam date and the gestational age
// measured at that exam.
type Ultrasound struct {
	ExamDate calendar.Date           `json:"exam_date"`
	Age      calendar.GestationalAge `json:"age"`
}

// Input holds the dating fields of a patient record.
type Input struct {
	LMP        LMP         `json:"lmp"`
	Ultrasound *Ultrasound `json:"ultrasound,omitempty"`
}

// RawInput is the string-typed form supplied by record providers and API
// clients. UltrasoundAge is the legacy free-text notation ("8s 2d") and is
// consulted only when UltrasoundWeeks is absent.
type RawInput struct {
	LMPDate            string `json:"lmp_date"`
	UltrasoundExamDate string `json:"ultrasound_exam_date"`
	UltrasoundWeeks    *int   `json:"ultrasound_weeks"`
	UltrasoundDays     *int   `json:"ultrasound_days"`
	UltrasoundAge      string `json:"ultrasound_age"`
}

// Method identifies a dating method.
type Method string

const (
	MethodLMP        Method = "lmp"
	MethodUltrasound Method = "ultrasound"
)

// Status reports whether a method produced an estimate.
type Status string

const (
	// StatusAvailable means Estimate is set.
	StatusAvailable Status = "available"
	// StatusUnavailable means the inputs were incomplete. Not an error.
	StatusUnavailable Status = "unavailable"
	// StatusInvalid means the inputs were present but malformed. Err is set.
	StatusInvalid Status = "invalid"
)

// Estimate is one method's dating at a reference date.
//
// TotalDays is negative when the reference date precedes the onset; in that
// case Dated is false and Age is zero.
type Estimate struct {
	Method        Method                  `json:"method"`
	ReferenceDate calendar.Date           `json:"reference_date"`
	TotalDays     int                     `json:"total_days"`
	Dated         bool                    `json:"dated"`
	Age           calendar.GestationalAge `json:"gestational_age"`
	DueDate       calendar.Date           `json:"due_date"`
	Conception    calendar.Date           `json:"conception_date"`
}

type MethodResult struct {
	Method   Method    `json:"method"`
	Status   Status    `json:"status"`
	Estimate *Estimate `json:"estimate,omitempty"`
	Err      error     `json:"-"`
}

func (m MethodResult) Available() bool {
	return m.Status == StatusAvailable && m.Estimate != nil
}

func (m MethodResult) MarshalJSON() ([]byte, error) {
	type alias MethodResult
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(m)}
	if m.Err != nil {
		out.Error = m.Err.Error()
	}
	return json.Marshal(out)
}

// Result holds both methods, computed independently.
type Result struct {
	ReferenceDate calendar.Date `json:"reference_date"`
	LMP           MethodResult  `json:"lmp"`
	Ultrasound    MethodResult  `json:"ultrasound"`
}

// Preferred returns the ultrasound estimate when available, otherwise the
// LMP estimate.
func (r Result) Preferred() (*Estimate, bool) {
	if r.Ultrasound.Available() {
		return r.Ultrasound.Estimate, true
	}
	if r.LMP.Available() {
		return r.LMP.Estimate, true
	}
	return nil, false
}

// Anchor returns the due date used for scheduling.
func (r Result) Anchor() (calendar.Date, Method, bool) {
	est, ok := r.Preferred()
	if !ok {
		return calendar.Date{}, "", false
	}
	return est.DueDate, est.Method, true
}

// Trimester is 1, 2 or 3.
type Trimester int

// TrimesterForWeeks maps completed weeks to a trimester: up to 13 weeks is
// the first, up to 27 the second.
func TrimesterForWeeks(weeks int) Trimester {
	switch {
	case weeks <= 13:
		return 1
	case weeks <= 27:
		return 2
	default:
		return 3
	}
}

func TrimesterFor(age calendar.GestationalAge) Trimester {
	return TrimesterForWeeks(age.Weeks)
}

func (t Trimester) Valid() bool { return t >= 1 && t <= 3 }
