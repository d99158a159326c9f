package obstetrics

import (
	"time"

	"github.com/google/uuid"

	"github.com/prenatal/prenatal/internal/domain/anthropometry"
	"github.com/prenatal/prenatal/internal/domain/dating"
	"github.com/prenatal/prenatal/internal/domain/schedule"
	"github.com/prenatal/prenatal/pkg/calendar"
)

// Pregnancy maps to the pregnancy table. It holds the dating anchors and the
// anthropometrics; everything derived from them is recomputed on read.
type Pregnancy struct {
	ID                   uuid.UUID        `db:"id" json:"id"`
	PatientID            uuid.UUID        `db:"patient_id" json:"patient_id"`
	Status               string           `db:"status" json:"status"`
	LMPStatus            dating.LMPStatus `db:"lmp_status" json:"lmp_status"`
	LMPDate              calendar.Date    `db:"lmp_date" json:"lmp_date"`
	UltrasoundExamDate   calendar.Date    `db:"ultrasound_exam_date" json:"ultrasound_exam_date"`
	UltrasoundWeeks      *int             `db:"ultrasound_weeks" json:"ultrasound_weeks,omitempty"`
	UltrasoundDays       *int             `db:"ultrasound_days" json:"ultrasound_days,omitempty"`
	HeightCm             *float64         `db:"height_cm" json:"height_cm,omitempty"`
	PrePregnancyWeightKg *float64         `db:"pre_pregnancy_weight_kg" json:"pre_pregnancy_weight_kg,omitempty"`
	FirstVisitDate       calendar.Date    `db:"first_visit_date" json:"first_visit_date"`
	Note                 *string          `db:"note" json:"note,omitempty"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

// DatingInput converts the stored anchors for the dating calculator. An
// ultrasound without weeks is left out; missing days count as zero.
func (p *Pregnancy) DatingInput() dating.Input {
	in := dating.Input{LMP: dating.LMP{Status: p.LMPStatus}}
	if p.LMPStatus == dating.LMPKnown {
		in.LMP.Date = p.LMPDate
	}
	if !p.UltrasoundExamDate.IsZero() && p.UltrasoundWeeks != nil {
		age := calendar.GestationalAge{Weeks: *p.UltrasoundWeeks}
		if p.UltrasoundDays != nil {
			age.Days = *p.UltrasoundDays
		}
		in.Ultrasound = &dating.Ultrasound{ExamDate: p.UltrasoundExamDate, Age: age}
	}
	return in
}

func (p *Pregnancy) Measurements() anthropometry.Measurements {
	return anthropometry.Measurements{HeightCm: p.HeightCm, WeightKg: p.PrePregnancyWeightKg}
}

// PregnancyRequest is the create/update body. Dating fields use the same
// string forms as the record import, so "unknown" or "8s 2d" are accepted.
type PregnancyRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Status    string    `json:"status"`
	dating.RawInput
	HeightCm             *float64 `json:"height_cm"`
	PrePregnancyWeightKg *float64 `json:"pre_pregnancy_weight_kg"`
	FirstVisitDate       string   `json:"first_visit_date"`
	Note                 *string  `json:"note"`
}

// PregnancyView is a stored pregnancy with its advisory anthropometric checks.
type PregnancyView struct {
	*Pregnancy
	Anthropometry anthropometry.Report `json:"anthropometry"`
}

// DatingView is the dating of a stored pregnancy at a reference date.
type DatingView struct {
	PregnancyID uuid.UUID `json:"pregnancy_id"`
	dating.Summary
}

type VisitStatus string

const (
	VisitScheduled   VisitStatus = "scheduled"
	VisitDone        VisitStatus = "done"
	VisitCancelled   VisitStatus = "cancelled"
	VisitRescheduled VisitStatus = "rescheduled"
)

var validVisitStatuses = map[VisitStatus]bool{
	VisitScheduled: true, VisitDone: true, VisitCancelled: true, VisitRescheduled: true,
}

func (s VisitStatus) Valid() bool { return validVisitStatuses[s] }

// ScheduledVisit maps to the scheduled_visit table: one generated visit plus
// the status the clinic tracks for it.
type ScheduledVisit struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	PregnancyID     uuid.UUID     `db:"pregnancy_id" json:"pregnancy_id"`
	Sequence        int           `db:"sequence" json:"sequence"`
	TargetWeek      int           `db:"target_week" json:"target_week"`
	ScheduledDate   calendar.Date `db:"scheduled_date" json:"scheduled_date"`
	GAWeeks         int           `db:"ga_weeks" json:"gestational_age_weeks"`
	GADays          int           `db:"ga_days" json:"gestational_age_days"`
	Exam            schedule.Exam `db:"exam" json:"exam"`
	Status          VisitStatus   `db:"status" json:"status"`
	Note            *string       `db:"note" json:"note,omitempty"`
	ProtocolVersion string        `db:"protocol_version" json:"protocol_version"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

func newScheduledVisit(pregnancyID uuid.UUID, v schedule.Visit, protocolVersion string) *ScheduledVisit {
	sv := &ScheduledVisit{
		PregnancyID:     pregnancyID,
		Sequence:        v.Sequence,
		TargetWeek:      v.TargetWeek,
		ScheduledDate:   v.Date,
		GAWeeks:         v.GestationalAge.Weeks,
		GADays:          v.GestationalAge.Days,
		Exam:            v.Exam,
		Status:          VisitScheduled,
		ProtocolVersion: protocolVersion,
	}
	if v.Note != "" {
		note := v.Note
		sv.Note = &note
	}
	return sv
}
