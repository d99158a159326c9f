package obstetrics

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prenatal/prenatal/internal/platform/db"
	"github.com/prenatal/prenatal/pkg/apperror"
)

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NewNotFoundError(what + " not found")
	}
	return err
}

// =========== Pregnancy Repository ===========

type pregnancyRepoPG struct{ pool *pgxpool.Pool }

func NewPregnancyRepoPG(pool *pgxpool.Pool) PregnancyRepository {
	return &pregnancyRepoPG{pool: pool}
}

func (r *pregnancyRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const pregCols = `id, patient_id, status, lmp_status, lmp_date,
	ultrasound_exam_date, ultrasound_weeks, ultrasound_days,
	height_cm, pre_pregnancy_weight_kg, first_visit_date, note,
	created_at, updated_at`

func (r *pregnancyRepoPG) scanPregnancy(row pgx.Row) (*Pregnancy, error) {
	var p Pregnancy
	err := row.Scan(&p.ID, &p.PatientID, &p.Status, &p.LMPStatus, &p.LMPDate,
		&p.UltrasoundExamDate, &p.UltrasoundWeeks, &p.UltrasoundDays,
		&p.HeightCm, &p.PrePregnancyWeightKg, &p.FirstVisitDate, &p.Note,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "pregnancy")
	}
	return &p, nil
}

func (r *pregnancyRepoPG) Create(ctx context.Context, p *Pregnancy) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pregnancy (id, patient_id, status, lmp_status, lmp_date,
			ultrasound_exam_date, ultrasound_weeks, ultrasound_days,
			height_cm, pre_pregnancy_weight_kg, first_visit_date, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.Status, p.LMPStatus, p.LMPDate,
		p.UltrasoundExamDate, p.UltrasoundWeeks, p.UltrasoundDays,
		p.HeightCm, p.PrePregnancyWeightKg, p.FirstVisitDate, p.Note,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *pregnancyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Pregnancy, error) {
	return r.scanPregnancy(r.conn(ctx).QueryRow(ctx, `SELECT `+pregCols+` FROM pregnancy WHERE id = $1`, id))
}

func (r *pregnancyRepoPG) Update(ctx context.Context, p *Pregnancy) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE pregnancy SET status=$2, lmp_status=$3, lmp_date=$4,
			ultrasound_exam_date=$5, ultrasound_weeks=$6, ultrasound_days=$7,
			height_cm=$8, pre_pregnancy_weight_kg=$9, first_visit_date=$10, note=$11,
			updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.Status, p.LMPStatus, p.LMPDate,
		p.UltrasoundExamDate, p.UltrasoundWeeks, p.UltrasoundDays,
		p.HeightCm, p.PrePregnancyWeightKg, p.FirstVisitDate, p.Note,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return notFound(err, "pregnancy")
}

func (r *pregnancyRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM pregnancy WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFoundError("pregnancy not found")
	}
	return nil
}

func (r *pregnancyRepoPG) List(ctx context.Context, limit, offset int) ([]*Pregnancy, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pregnancy`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+pregCols+` FROM pregnancy ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *pregnancyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Pregnancy, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pregnancy WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+pregCols+` FROM pregnancy WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *pregnancyRepoPG) collect(rows pgx.Rows) ([]*Pregnancy, error) {
	defer rows.Close()
	var items []*Pregnancy
	for rows.Next() {
		p, err := r.scanPregnancy(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// =========== Scheduled Visit Repository ===========

type visitRepoPG struct{ pool *pgxpool.Pool }

func NewVisitRepoPG(pool *pgxpool.Pool) VisitRepository {
	return &visitRepoPG{pool: pool}
}

func (r *visitRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const visitCols = `id, pregnancy_id, sequence, target_week, scheduled_date,
	ga_weeks, ga_days, exam, status, note, protocol_version, created_at, updated_at`

func (r *visitRepoPG) scanVisit(row pgx.Row) (*ScheduledVisit, error) {
	var v ScheduledVisit
	err := row.Scan(&v.ID, &v.PregnancyID, &v.Sequence, &v.TargetWeek, &v.ScheduledDate,
		&v.GAWeeks, &v.GADays, &v.Exam, &v.Status, &v.Note, &v.ProtocolVersion,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "visit")
	}
	return &v, nil
}

func (r *visitRepoPG) Create(ctx context.Context, v *ScheduledVisit) error {
	v.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO scheduled_visit (id, pregnancy_id, sequence, target_week, scheduled_date,
			ga_weeks, ga_days, exam, status, note, protocol_version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		v.ID, v.PregnancyID, v.Sequence, v.TargetWeek, v.ScheduledDate,
		v.GAWeeks, v.GADays, v.Exam, v.Status, v.Note, v.ProtocolVersion,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (r *visitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ScheduledVisit, error) {
	return r.scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM scheduled_visit WHERE id = $1`, id))
}

func (r *visitRepoPG) Update(ctx context.Context, v *ScheduledVisit) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE scheduled_visit SET scheduled_date=$2, ga_weeks=$3, ga_days=$4,
			status=$5, note=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		v.ID, v.ScheduledDate, v.GAWeeks, v.GADays, v.Status, v.Note,
	).Scan(&v.UpdatedAt)
	return notFound(err, "visit")
}

func (r *visitRepoPG) DeleteByPregnancy(ctx context.Context, pregnancyID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM scheduled_visit WHERE pregnancy_id = $1`, pregnancyID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *visitRepoPG) ListByPregnancy(ctx context.Context, pregnancyID uuid.UUID, limit, offset int) ([]*ScheduledVisit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM scheduled_visit WHERE pregnancy_id = $1`, pregnancyID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+visitCols+` FROM scheduled_visit
		WHERE pregnancy_id = $1 ORDER BY scheduled_date, sequence LIMIT $2 OFFSET $3`, pregnancyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ScheduledVisit
	for rows.Next() {
		v, err := r.scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}
