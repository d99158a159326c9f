package dating

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/prenatal/prenatal/pkg/apperror"
	"github.com/prenatal/prenatal/pkg/calendar"
)

func d(s string) calendar.Date { return calendar.MustParse(s) }

func intPtr(v int) *int { return &v }

func TestByLMP_Example(t *testing.T) {
	res := ByLMP(KnownLMP(d("2024-01-01")), d("2024-03-11"))
	if !res.Available() {
		t.Fatalf("expected available, got %s (%v)", res.Status, res.Err)
	}
	est := res.Estimate
	if est.TotalDays != 70 {
		t.Errorf("expected 70 days, got %d", est.TotalDays)
	}
	if est.Age != (calendar.GestationalAge{Weeks: 10, Days: 0}) {
		t.Errorf("expected 10w0d, got %v", est.Age)
	}
	if est.DueDate.String() != "2024-10-07" {
		t.Errorf("expected due date 2024-10-07, got %s", est.DueDate)
	}
	if !est.Conception.Equal(d("2024-01-01")) {
		t.Errorf("expected conception-equivalent date to be the LMP, got %s", est.Conception)
	}
}

func TestByUltrasound_Example(t *testing.T) {
	us := &Ultrasound{ExamDate: d("2024-02-01"), Age: calendar.GestationalAge{Weeks: 8, Days: 2}}
	res := ByUltrasound(us, d("2024-02-15"))
	if !res.Available() {
		t.Fatalf("expected available, got %s (%v)", res.Status, res.Err)
	}
	if res.Estimate.Age != (calendar.GestationalAge{Weeks: 10, Days: 2}) {
		t.Errorf("expected 10w2d, got %v", res.Estimate.Age)
	}
	if res.Estimate.DueDate.String() != "2024-09-10" {
		t.Errorf("expected due date 2024-09-10, got %s", res.Estimate.DueDate)
	}
}

func TestByLMP_UnknownAndIncompatible(t *testing.T) {
	for _, lmp := range []LMP{UnknownLMP(), IncompatibleLMP()} {
		res := ByLMP(lmp, d("2024-03-11"))
		if res.Status != StatusUnavailable {
			t.Errorf("expected unavailable for %s, got %s", lmp.Status, res.Status)
		}
		if res.Err != nil {
			t.Errorf("unavailable must not carry an error, got %v", res.Err)
		}
	}
}

func TestByUltrasound_Incomplete(t *testing.T) {
	if res := ByUltrasound(nil, d("2024-03-11")); res.Status != StatusUnavailable {
		t.Errorf("expected unavailable for nil ultrasound, got %s", res.Status)
	}
	res := ByUltrasound(&Ultrasound{Age: calendar.GestationalAge{Weeks: 8}}, d("2024-03-11"))
	if res.Status != StatusUnavailable {
		t.Errorf("expected unavailable without exam date, got %s", res.Status)
	}
}

func TestByUltrasound_InvalidDays(t *testing.T) {
	us := &Ultrasound{ExamDate: d("2024-02-01"), Age: calendar.GestationalAge{Weeks: 8, Days: 9}}
	res := ByUltrasound(us, d("2024-02-15"))
	if res.Status != StatusInvalid {
		t.Fatalf("expected invalid, got %s", res.Status)
	}
	if !apperror.IsValidation(res.Err) {
		t.Errorf("expected validation error, got %v", res.Err)
	}
}

func TestByLMP_ReferenceBeforeOnset(t *testing.T) {
	res := ByLMP(KnownLMP(d("2024-03-01")), d("2024-02-20"))
	if !res.Available() {
		t.Fatalf("expected available, got %s", res.Status)
	}
	if res.Estimate.Dated {
		t.Error("expected not yet dated")
	}
	if res.Estimate.TotalDays != -10 {
		t.Errorf("expected -10 days, got %d", res.Estimate.TotalDays)
	}
	if res.Estimate.Age != (calendar.GestationalAge{}) {
		t.Errorf("expected zero age, got %v", res.Estimate.Age)
	}
	if res.Estimate.DueDate.String() != "2024-12-06" {
		t.Errorf("due date must not depend on reference date, got %s", res.Estimate.DueDate)
	}
}

func TestByLMP_WeeksDaysRoundTrip(t *testing.T) {
	lmp := d("2023-11-20")
	for offset := 0; offset < 300; offset += 3 {
		ref := calendar.AddDays(lmp, offset)
		est := ByLMP(KnownLMP(lmp), ref).Estimate
		if est.Age.Weeks*7+est.Age.Days != calendar.DayDifference(lmp, ref) {
			t.Fatalf("round trip failed at offset %d: %v", offset, est.Age)
		}
	}
}

func TestCalculate_Independent(t *testing.T) {
	in := Input{
		LMP:        KnownLMP(d("2024-01-01")),
		Ultrasound: &Ultrasound{ExamDate: d("2024-02-01"), Age: calendar.GestationalAge{Weeks: 8, Days: 2}},
	}
	res := Calculate(in, d("2024-02-15"))
	if !res.LMP.Available() || !res.Ultrasound.Available() {
		t.Fatal("expected both methods available")
	}
	if res.LMP.Estimate.DueDate.Equal(res.Ultrasound.Estimate.DueDate) {
		t.Error("expected the two methods to disagree for these inputs")
	}

	pref, ok := res.Preferred()
	if !ok || pref.Method != MethodUltrasound {
		t.Errorf("expected ultrasound to be preferred, got %+v", pref)
	}
	due, method, ok := res.Anchor()
	if !ok || method != MethodUltrasound || due.String() != "2024-09-10" {
		t.Errorf("unexpected anchor %s/%s/%v", due, method, ok)
	}
}

func TestCalculate_FallsBackToLMP(t *testing.T) {
	res := Calculate(Input{LMP: KnownLMP(d("2024-01-01"))}, d("2024-03-11"))
	pref, ok := res.Preferred()
	if !ok || pref.Method != MethodLMP {
		t.Fatalf("expected LMP fallback, got %+v", pref)
	}
	if _, _, ok := Calculate(Input{LMP: UnknownLMP()}, d("2024-03-11")).Anchor(); ok {
		t.Error("expected no anchor without any dating")
	}
}

func TestCalculateRaw_BadDateOnlyInvalidatesItsMethod(t *testing.T) {
	raw := RawInput{
		LMPDate:            "2024-02-31x",
		UltrasoundExamDate: "2024-02-01",
		UltrasoundWeeks:    intPtr(8),
		UltrasoundDays:     intPtr(2),
	}
	res := CalculateRaw(raw, d("2024-02-15"))
	if res.LMP.Status != StatusInvalid {
		t.Errorf("expected LMP invalid, got %s", res.LMP.Status)
	}
	if !apperror.IsValidation(res.LMP.Err) {
		t.Errorf("expected validation error, got %v", res.LMP.Err)
	}
	if !res.Ultrasound.Available() {
		t.Errorf("expected ultrasound still available, got %s", res.Ultrasound.Status)
	}
}

func TestCalculateRaw_DaysDefaultToZero(t *testing.T) {
	raw := RawInput{UltrasoundExamDate: "2024-02-01", UltrasoundWeeks: intPtr(8)}
	res := CalculateRaw(raw, d("2024-02-01"))
	if !res.Ultrasound.Available() {
		t.Fatalf("expected available, got %s", res.Ultrasound.Status)
	}
	if res.Ultrasound.Estimate.Age != (calendar.GestationalAge{Weeks: 8}) {
		t.Errorf("expected 8w0d, got %v", res.Ultrasound.Estimate.Age)
	}
}

func TestAgeAt(t *testing.T) {
	in := Input{LMP: KnownLMP(d("2024-01-01"))}
	est, ok := AgeAt(in, d("2024-04-01"))
	if !ok {
		t.Fatal("expected an estimate")
	}
	if est.Age != (calendar.GestationalAge{Weeks: 13, Days: 0}) {
		t.Errorf("expected 13w0d, got %v", est.Age)
	}
}

func TestTrimesterForWeeks(t *testing.T) {
	tests := []struct {
		weeks int
		want  Trimester
	}{
		{0, 1}, {13, 1}, {14, 2}, {27, 2}, {28, 3}, {41, 3},
	}
	for _, tt := range tests {
		if got := TrimesterForWeeks(tt.weeks); got != tt.want {
			t.Errorf("TrimesterForWeeks(%d) = %d, want %d", tt.weeks, got, tt.want)
		}
	}
}

func TestMethodResult_JSONIncludesError(t *testing.T) {
	res := CalculateRaw(RawInput{LMPDate: "not-a-date"}, d("2024-02-15"))
	out, err := json.Marshal(res.LMP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), `"status":"invalid"`) || !strings.Contains(string(out), `"error":"lmp_date`) {
		t.Errorf("unexpected encoding: %s", out)
	}
}
