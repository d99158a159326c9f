// Package dating computes gestational age and due date from the last
// menstrual period and from a dating ultrasound, and checks whether the two
// agree.
package dating

import (
	"github.com/prenatal/prenatal/pkg/apperror"
	"github.com/prenatal/prenatal/pkg/calendar"
)

// Calculate runs both methods against ref. Neither method depends on the
// other and their results are never combined.
func Calculate(in Input, ref calendar.Date) Result {
	return Result{
		ReferenceDate: ref,
		LMP:           ByLMP(in.LMP, ref),
		Ultrasound:    ByUltrasound(in.Ultrasound, ref),
	}
}

// CalculateRaw parses raw and calculates. A field that fails to parse makes
// only its own method invalid.
func CalculateRaw(raw RawInput, ref calendar.Date) Result {
	in, perr := ParseInput(raw)
	res := Calculate(in, ref)
	if perr.LMP != nil {
		res.LMP = invalid(MethodLMP, perr.LMP)
	}
	if perr.Ultrasound != nil {
		res.Ultrasound = invalid(MethodUltrasound, perr.Ultrasound)
	}
	return res
}

// ByLMP dates from the last menstrual period.
func ByLMP(lmp LMP, ref calendar.Date) MethodResult {
	if lmp.Status != LMPKnown {
		return unavailable(MethodLMP)
	}
	if lmp.Date.IsZero() {
		return invalid(MethodLMP, apperror.NewValidationError("lmp_date is required when the LMP is known"))
	}
	if ref.IsZero() {
		return invalid(MethodLMP, apperror.NewValidationError("reference date is required"))
	}
	total := calendar.DayDifference(lmp.Date, ref)
	return available(MethodLMP, ref, total, lmp.Date)
}

// ByUltrasound dates from a scan by carrying the measured age forward to ref.
func ByUltrasound(us *Ultrasound, ref calendar.Date) MethodResult {
	if us == nil || us.ExamDate.IsZero() {
		return unavailable(MethodUltrasound)
	}
	if err := validateUltrasoundAge(us.Age); err != nil {
		return invalid(MethodUltrasound, err)
	}
	if ref.IsZero() {
		return invalid(MethodUltrasound, apperror.NewValidationError("reference date is required"))
	}
	atExam := us.Age.TotalDays()
	total := atExam + calendar.DayDifference(us.ExamDate, ref)
	onset := calendar.AddDays(us.ExamDate, -atExam)
	return available(MethodUltrasound, ref, total, onset)
}

// AgeAt returns the preferred estimate at d, for recomputing the age at a
// past or future consultation.
func AgeAt(in Input, d calendar.Date) (*Estimate, bool) {
	return Calculate(in, d).Preferred()
}

func available(m Method, ref calendar.Date, total int, onset calendar.Date) MethodResult {
	est := &Estimate{
		Method:        m,
		ReferenceDate: ref,
		TotalDays:     total,
		DueDate:       calendar.AddDays(onset, TermDays),
		Conception:    onset,
	}
	if age, err := calendar.ToWeeksAndDays(total); err == nil {
		est.Age = age
		est.Dated = true
	}
	return MethodResult{Method: m, Status: StatusAvailable, Estimate: est}
}

func unavailable(m Method) MethodResult {
	return MethodResult{Method: m, Status: StatusUnavailable}
}

func invalid(m Method, err error) MethodResult {
	return MethodResult{Method: m, Status: StatusInvalid, Err: err}
}
