package obstetrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prenatal/prenatal/internal/domain/anthropometry"
	"github.com/prenatal/prenatal/internal/domain/dating"
	"github.com/prenatal/prenatal/internal/domain/labs"
	"github.com/prenatal/prenatal/internal/domain/schedule"
	"github.com/prenatal/prenatal/pkg/apperror"
	"github.com/prenatal/prenatal/pkg/calendar"
)

type Service struct {
	pregnancies PregnancyRepository
	visits      VisitRepository
	inTx        TxRunner
	protocol    *schedule.Protocol
	classifier  *labs.Classifier
	loc         *time.Location
}

type Option func(*Service)

// WithTx makes schedule replacement atomic.
func WithTx(run TxRunner) Option { return func(s *Service) { s.inTx = run } }

func WithProtocol(p *schedule.Protocol) Option { return func(s *Service) { s.protocol = p } }

func WithClassifier(c *labs.Classifier) Option { return func(s *Service) { s.classifier = c } }

// WithLocation sets the clinic time zone used for "today".
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func NewService(pregnancies PregnancyRepository, visits VisitRepository, opts ...Option) *Service {
	s := &Service{
		pregnancies: pregnancies,
		visits:      visits,
		inTx:        noTx,
		protocol:    schedule.DefaultProtocol(),
		loc:         time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.classifier == nil {
		s.classifier = labs.NewClassifier(nil)
	}
	return s
}

func (s *Service) Protocol() *schedule.Protocol { return s.protocol }

func (s *Service) Classifier() *labs.Classifier { return s.classifier }

// Today is the current day in the clinic time zone.
func (s *Service) Today() calendar.Date { return calendar.Today(s.loc) }

// -- Pregnancy --

var validPregnancyStatuses = map[string]bool{
	"active": true, "completed": true, "terminated": true, "unknown": true,
}

// BuildPregnancy validates a request and converts it into a record. Dating
// fields that cannot be parsed are rejected here, unlike the stateless
// calculation which only invalidates the affected method.
func BuildPregnancy(req PregnancyRequest) (*Pregnancy, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperror.NewValidationError("patient_id is required")
	}
	p := &Pregnancy{PatientID: req.PatientID, Status: req.Status, Note: req.Note}
	if p.Status == "" {
		p.Status = "active"
	}
	if !validPregnancyStatuses[p.Status] {
		return nil, apperror.NewValidationError(fmt.Sprintf("invalid pregnancy status: %s", p.Status))
	}

	in, perr := dating.ParseInput(req.RawInput)
	if perr.LMP != nil {
		return nil, perr.LMP
	}
	if perr.Ultrasound != nil {
		return nil, perr.Ultrasound
	}
	p.LMPStatus, p.LMPDate = in.LMP.Status, in.LMP.Date
	if us := in.Ultrasound; us != nil {
		weeks, days := us.Age.Weeks, us.Age.Days
		p.UltrasoundExamDate = us.ExamDate
		p.UltrasoundWeeks, p.UltrasoundDays = &weeks, &days
	}

	if err := positive("height_cm", req.HeightCm); err != nil {
		return nil, err
	}
	if err := positive("pre_pregnancy_weight_kg", req.PrePregnancyWeightKg); err != nil {
		return nil, err
	}
	p.HeightCm, p.PrePregnancyWeightKg = req.HeightCm, req.PrePregnancyWeightKg

	if strings.TrimSpace(req.FirstVisitDate) != "" {
		d, err := calendar.Parse(req.FirstVisitDate)
		if err != nil {
			return nil, apperror.WrapValidation(err, "first_visit_date")
		}
		p.FirstVisitDate = d
	}
	return p, nil
}

func positive(field string, v *float64) error {
	if v != nil && *v <= 0 {
		return apperror.NewValidationError(field + " must be positive")
	}
	return nil
}

func view(p *Pregnancy) *PregnancyView {
	return &PregnancyView{Pregnancy: p, Anthropometry: anthropometry.Validate(p.Measurements())}
}

func (s *Service) CreatePregnancy(ctx context.Context, req PregnancyRequest) (*PregnancyView, error) {
	p, err := BuildPregnancy(req)
	if err != nil {
		return nil, err
	}
	if err := s.pregnancies.Create(ctx, p); err != nil {
		return nil, err
	}
	return view(p), nil
}

func (s *Service) GetPregnancy(ctx context.Context, id uuid.UUID) (*PregnancyView, error) {
	p, err := s.pregnancies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return view(p), nil
}

// UpdatePregnancy replaces the stored fields. The generated schedule is not
// touched; regenerate it when the dating changed.
func (s *Service) UpdatePregnancy(ctx context.Context, id uuid.UUID, req PregnancyRequest) (*PregnancyView, error) {
	existing, err := s.pregnancies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.PatientID == uuid.Nil {
		req.PatientID = existing.PatientID
	}
	p, err := BuildPregnancy(req)
	if err != nil {
		return nil, err
	}
	if p.PatientID != existing.PatientID {
		return nil, apperror.NewValidationError("patient_id cannot change")
	}
	p.ID = id
	if err := s.pregnancies.Update(ctx, p); err != nil {
		return nil, err
	}
	return view(p), nil
}

func (s *Service) DeletePregnancy(ctx context.Context, id uuid.UUID) error {
	return s.pregnancies.Delete(ctx, id)
}

func (s *Service) ListPregnancies(ctx context.Context, limit, offset int) ([]*Pregnancy, int, error) {
	return s.pregnancies.List(ctx, limit, offset)
}

func (s *Service) ListPregnanciesByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Pregnancy, int, error) {
	return s.pregnancies.ListByPatient(ctx, patientID, limit, offset)
}

// -- Dating --

// Dating recomputes the dating of a stored pregnancy at ref. A zero ref
// means today in the clinic time zone.
func (s *Service) Dating(ctx context.Context, id uuid.UUID, ref calendar.Date) (*DatingView, error) {
	p, err := s.pregnancies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref.IsZero() {
		ref = s.Today()
	}
	return &DatingView{PregnancyID: p.ID, Summary: dating.Summarize(p.DatingInput(), ref)}, nil
}

// anchor returns the due date used for scheduling: ultrasound first, then LMP.
func (s *Service) anchor(p *Pregnancy) (calendar.Date, error) {
	due, _, ok := dating.Calculate(p.DatingInput(), s.Today()).Anchor()
	if !ok {
		return calendar.Date{}, apperror.NewValidationError("pregnancy has no usable LMP or ultrasound dating")
	}
	return due, nil
}

func (s *Service) Milestones(ctx context.Context, id uuid.UUID) ([]schedule.Milestone, error) {
	p, err := s.pregnancies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	due, err := s.anchor(p)
	if err != nil {
		return nil, err
	}
	return s.protocol.Milestones(due)
}

// -- Visit schedule --

type ScheduleRequest struct {
	// FirstVisitDate defaults to the stored first visit.
	FirstVisitDate calendar.Date `json:"first_visit_date"`
	TargetWeeks    []int         `json:"target_weeks"`
}

// GenerateSchedule computes the visit calendar and replaces any stored rows
// for the pregnancy. Status set on the old rows is discarded.
func (s *Service) GenerateSchedule(ctx context.Context, id uuid.UUID, req ScheduleRequest) ([]*ScheduledVisit, error) {
	p, err := s.pregnancies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	due, err := s.anchor(p)
	if err != nil {
		return nil, err
	}
	first := req.FirstVisitDate
	if first.IsZero() {
		first = p.FirstVisitDate
	}

	protocol := s.protocol
	if len(req.TargetWeeks) > 0 {
		if protocol, err = protocol.WithTargetWeeks(req.TargetWeeks); err != nil {
			return nil, err
		}
	}
	generated, err := protocol.Visits(due, first)
	if err != nil {
		return nil, err
	}

	rows := make([]*ScheduledVisit, 0, len(generated))
	err = s.inTx(ctx, func(ctx context.Context) error {
		if _, err := s.visits.DeleteByPregnancy(ctx, p.ID); err != nil {
			return fmt.Errorf("delete previous schedule: %w", err)
		}
		for _, v := range generated {
			row := newScheduledVisit(p.ID, v, protocol.Version)
			if err := s.visits.Create(ctx, row); err != nil {
				return fmt.Errorf("store visit %d: %w", v.Sequence, err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) ListVisits(ctx context.Context, pregnancyID uuid.UUID, limit, offset int) ([]*ScheduledVisit, int, error) {
	return s.visits.ListByPregnancy(ctx, pregnancyID, limit, offset)
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*ScheduledVisit, error) {
	return s.visits.GetByID(ctx, id)
}

// UpdateVisitStatus sets any of the four statuses; the clinic may correct a
// visit marked done by mistake.
func (s *Service) UpdateVisitStatus(ctx context.Context, id uuid.UUID, status VisitStatus) (*ScheduledVisit, error) {
	if !status.Valid() {
		return nil, apperror.NewValidationError(fmt.Sprintf("invalid visit status: %s", status))
	}
	v, err := s.visits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v.Status = status
	if err := s.visits.Update(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// RescheduleVisit moves a visit to date, onto the next clinic day when the
// protocol has a clinic calendar, and puts it back to scheduled. The
// gestational age is recomputed from the current dating.
func (s *Service) RescheduleVisit(ctx context.Context, id uuid.UUID, date calendar.Date) (*ScheduledVisit, error) {
	if date.IsZero() {
		return nil, apperror.NewValidationError("date is required")
	}
	v, err := s.visits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.pregnancies.GetByID(ctx, v.PregnancyID)
	if err != nil {
		return nil, err
	}
	due, err := s.anchor(p)
	if err != nil {
		return nil, err
	}

	var note string
	if s.protocol.Clinic != nil {
		date, note = s.protocol.Clinic.Adjust(date)
	}
	age, err := calendar.ToWeeksAndDays(calendar.DayDifference(schedule.ConceptionDate(due), date))
	if err != nil {
		return nil, apperror.WrapValidation(err, "date is before conception")
	}

	v.ScheduledDate = date
	v.GAWeeks, v.GADays = age.Weeks, age.Days
	v.Status = VisitScheduled
	v.Note = nil
	if note != "" {
		v.Note = &note
	}
	if err := s.visits.Update(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// -- Labs --

// ClassifyLabs classifies a panel collected on collectedOn, using the
// trimester of the pregnancy at that date. A zero date means today.
func (s *Service) ClassifyLabs(ctx context.Context, id uuid.UUID, collectedOn calendar.Date, batch []labs.Measurement) (dating.Trimester, []labs.Classified, error) {
	p, err := s.pregnancies.GetByID(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	if collectedOn.IsZero() {
		collectedOn = s.Today()
	}
	est, ok := dating.Calculate(p.DatingInput(), collectedOn).Preferred()
	if !ok || !est.Dated {
		return 0, nil, apperror.NewValidationError("pregnancy is not dated at the collection date")
	}
	tri := dating.TrimesterFor(est.Age)
	return tri, s.classifier.ClassifyAll(batch, tri), nil
}
