package dating

import "github.com/prenatal/prenatal/pkg/calendar"

// DiscrepancyToleranceDays is the largest LMP/ultrasound disagreement that
// is not flagged.
const DiscrepancyToleranceDays = 5

type DiscrepancyAlert struct {
	Show           bool `json:"show"`
	DifferenceDays int  `json:"difference_days"`
}

// CompareDays compares two gestational ages in days taken at the same date.
// The result does not depend on argument order.
func CompareDays(a, b int) DiscrepancyAlert {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return DiscrepancyAlert{Show: diff > DiscrepancyToleranceDays, DifferenceDays: diff}
}

// Discrepancy compares the LMP-implied age with the measured age, both taken
// at the ultrasound exam date.
func Discrepancy(lmp calendar.Date, us Ultrasound) DiscrepancyAlert {
	lmpDays := calendar.DayDifference(lmp, us.ExamDate)
	return CompareDays(lmpDays, us.Age.TotalDays())
}

// CheckDiscrepancy returns ok == false when either method lacks its inputs.
func CheckDiscrepancy(in Input) (DiscrepancyAlert, bool) {
	if in.LMP.Status != LMPKnown || in.LMP.Date.IsZero() {
		return DiscrepancyAlert{}, false
	}
	if in.Ultrasound == nil || in.Ultrasound.ExamDate.IsZero() {
		return DiscrepancyAlert{}, false
	}
	if validateUltrasoundAge(in.Ultrasound.Age) != nil {
		return DiscrepancyAlert{}, false
	}
	return Discrepancy(in.LMP.Date, *in.Ultrasound), true
}
