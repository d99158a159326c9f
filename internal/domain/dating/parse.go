package dating

import (
	"fmt"
	"strings"

	"github.com/prenatal/prenatal/pkg/apperror"
	"github.com/prenatal/prenatal/pkg/calendar"
)

// Ultrasound dating is meaningless past this many weeks.
const maxUltrasoundWeeks = 45

// ParseErrors holds the per-method parse failures of ParseInput.
type ParseErrors struct {
	LMP        error
	Ultrasound error
}

func (p ParseErrors) Empty() bool {
	return p.LMP == nil && p.Ultrasound == nil
}

var lmpSentinels = map[string]LMPStatus{
	"unknown":                      LMPUnknown,
	"incerta":                      LMPUnknown,
	"uncertain":                    LMPUnknown,
	"incompatible":                 LMPIncompatible,
	"incompatible_with_ultrasound": LMPIncompatible,
	"incompatible with ultrasound": LMPIncompatible,
	"incompatível com us":          LMPIncompatible,
	"incompativel com us":          LMPIncompatible,
}

// ParseLMP reads the LMP field. Empty means unknown; the sentinel strings
// stored by older records map to their tagged status.
func ParseLMP(s string) (LMP, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UnknownLMP(), nil
	}
	if st, ok := lmpSentinels[strings.ToLower(s)]; ok {
		return LMP{Status: st}, nil
	}
	d, err := calendar.Parse(s)
	if err != nil {
		return LMP{Status: LMPUnknown}, apperror.WrapValidation(err, "lmp_date")
	}
	return KnownLMP(d), nil
}

// ParseUltrasound reads the ultrasound fields. It returns nil without error
// when the exam date or the measured age is missing.
func ParseUltrasound(raw RawInput) (*Ultrasound, error) {
	examStr := strings.TrimSpace(raw.UltrasoundExamDate)
	ageStr := strings.TrimSpace(raw.UltrasoundAge)
	if examStr == "" || (raw.UltrasoundWeeks == nil && ageStr == "") {
		return nil, nil
	}

	exam, err := calendar.Parse(examStr)
	if err != nil {
		return nil, apperror.WrapValidation(err, "ultrasound_exam_date")
	}

	var age calendar.GestationalAge
	if raw.UltrasoundWeeks != nil {
		age.Weeks = *raw.UltrasoundWeeks
		if raw.UltrasoundDays != nil {
			age.Days = *raw.UltrasoundDays
		}
	} else {
		age, err = calendar.ParseGestationalAge(ageStr)
		if err != nil {
			return nil, apperror.WrapValidation(err, "ultrasound_age")
		}
	}
	if err := validateUltrasoundAge(age); err != nil {
		return nil, err
	}
	return &Ultrasound{ExamDate: exam, Age: age}, nil
}

// ParseInput converts raw record fields. Each method's failure is reported
// separately so the other method can still be computed.
func ParseInput(raw RawInput) (Input, ParseErrors) {
	var in Input
	var perr ParseErrors
	in.LMP, perr.LMP = ParseLMP(raw.LMPDate)
	in.Ultrasound, perr.Ultrasound = ParseUltrasound(raw)
	return in, perr
}

func validateUltrasoundAge(age calendar.GestationalAge) error {
	if age.Weeks < 0 || age.Weeks > maxUltrasoundWeeks {
		return apperror.NewValidationError(fmt.Sprintf("ultrasound_weeks must be between 0 and %d", maxUltrasoundWeeks))
	}
	if age.Days < 0 || age.Days > 6 {
		return apperror.NewValidationError("ultrasound_days must be between 0 and 6")
	}
	return nil
}
