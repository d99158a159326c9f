package obstetrics

import (
	"context"

	"github.com/google/uuid"
)

// PregnancyRepository is the patient record provider: it stores the dating
// anchors and anthropometrics of each pregnancy.
type PregnancyRepository interface {
	Create(ctx context.Context, p *Pregnancy) error
	GetByID(ctx context.Context, id uuid.UUID) (*Pregnancy, error)
	Update(ctx context.Context, p *Pregnancy) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Pregnancy, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Pregnancy, int, error)
}

// VisitRepository is the visit-status store.
type VisitRepository interface {
	Create(ctx context.Context, v *ScheduledVisit) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduledVisit, error)
	Update(ctx context.Context, v *ScheduledVisit) error
	DeleteByPregnancy(ctx context.Context, pregnancyID uuid.UUID) (int, error)
	ListByPregnancy(ctx context.Context, pregnancyID uuid.UUID, limit, offset int) ([]*ScheduledVisit, int, error)
}

// TxRunner runs fn in one transaction. Repositories called with the ctx
// passed to fn join it.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func noTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
