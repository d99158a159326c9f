package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/prenatal/prenatal/internal/domain/dating"
	"github.com/prenatal/prenatal/internal/domain/obstetrics"
	"github.com/prenatal/prenatal/internal/platform/db"
	"github.com/prenatal/prenatal/migrations"
)

func TestSchemaIsolation(t *testing.T) {
	ctx := context.Background()
	poolA := migratedSchema(t, "clinic_a")
	poolB := migratedSchema(t, "clinic_b")

	repoA := obstetrics.NewPregnancyRepoPG(poolA)
	repoB := obstetrics.NewPregnancyRepoPG(poolB)

	for i := 0; i < 2; i++ {
		p, err := obstetrics.BuildPregnancy(obstetrics.PregnancyRequest{
			PatientID: uuid.New(),
			RawInput:  dating.RawInput{LMPDate: "2024-01-01"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := repoA.Create(ctx, p); err != nil {
			t.Fatalf("create in A: %v", err)
		}
	}

	itemsA, totalA, err := repoA.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list A: %v", err)
	}
	if totalA != 2 {
		t.Errorf("expected 2 pregnancies in A, got %d", totalA)
	}
	if _, totalB, err := repoB.List(ctx, 10, 0); err != nil || totalB != 0 {
		t.Errorf("expected B empty, got %d (%v)", totalB, err)
	}
	if _, err := repoB.GetByID(ctx, itemsA[0].ID); err == nil {
		t.Error("schema B must not see a pregnancy stored in A")
	}
}

func TestMigrator_Idempotent(t *testing.T) {
	ctx := context.Background()
	schema := uniqueSchema("mig")
	t.Cleanup(func() {
		adminPool.Exec(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
	})

	m, err := db.NewMigrator(adminPool, migrations.FS, schema)
	if err != nil {
		t.Fatal(err)
	}
	n, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("first Up: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 migrations applied, got %d", n)
	}
	if n, err = m.Up(ctx); err != nil || n != 0 {
		t.Errorf("second Up applied %d (%v), want 0", n, err)
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("migration %d not recorded as applied", s.Version)
		}
	}
}
