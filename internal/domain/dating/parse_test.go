package dating

import (
	"testing"

	"github.com/prenatal/prenatal/pkg/apperror"
	"github.com/prenatal/prenatal/pkg/calendar"
)

func TestParseLMP(t *testing.T) {
	tests := []struct {
		in      string
		status  LMPStatus
		wantErr bool
	}{
		{"2024-01-01", LMPKnown, false},
		{"", LMPUnknown, false},
		{"Incerta", LMPUnknown, false},
		{"unknown", LMPUnknown, false},
		{"Incompatível com US", LMPIncompatible, false},
		{"incompatible_with_ultrasound", LMPIncompatible, false},
		{"01/02/2024", LMPUnknown, true},
	}
	for _, tt := range tests {
		lmp, err := ParseLMP(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLMP(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if lmp.Status != tt.status {
			t.Errorf("ParseLMP(%q) status = %s, want %s", tt.in, lmp.Status, tt.status)
		}
	}
}

func TestParseUltrasound_LegacyAgeString(t *testing.T) {
	us, err := ParseUltrasound(RawInput{UltrasoundExamDate: "2024-02-01", UltrasoundAge: "8s 2d"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if us.Age != (calendar.GestationalAge{Weeks: 8, Days: 2}) {
		t.Errorf("expected 8w2d, got %v", us.Age)
	}
}

func TestParseUltrasound_Missing(t *testing.T) {
	us, err := ParseUltrasound(RawInput{UltrasoundWeeks: intPtr(8)})
	if us != nil || err != nil {
		t.Errorf("expected nil/nil without exam date, got %v/%v", us, err)
	}
	us, err = ParseUltrasound(RawInput{UltrasoundExamDate: "2024-02-01"})
	if us != nil || err != nil {
		t.Errorf("expected nil/nil without age, got %v/%v", us, err)
	}
}

func TestParseUltrasound_OutOfRange(t *testing.T) {
	cases := []RawInput{
		{UltrasoundExamDate: "2024-02-01", UltrasoundWeeks: intPtr(8), UltrasoundDays: intPtr(7)},
		{UltrasoundExamDate: "2024-02-01", UltrasoundWeeks: intPtr(-1)},
		{UltrasoundExamDate: "2024-02-01", UltrasoundWeeks: intPtr(60)},
		{UltrasoundExamDate: "yesterday", UltrasoundWeeks: intPtr(8)},
	}
	for i, raw := range cases {
		_, err := ParseUltrasound(raw)
		if !apperror.IsValidation(err) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}
