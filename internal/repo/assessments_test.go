package repo

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"regline/internal/db"
	"regline/internal/domain"
	"regline/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func insertAssessmentRow(t *testing.T, r Repo, a domain.RiskAssessment) {
	t.Helper()
	err := inTestTx(t, r.DB, func(tx *sql.Tx) error {
		if err := r.InsertSystem(context.Background(), tx, domain.System{
			ID:             a.SystemID,
			TenantID:       "acme",
			Name:           "fraud-scoring",
			Regulation:     domain.RegulationEU,
			LifecycleStage: domain.StageDraft,
			CreatedAt:      a.CreatedAt,
			UpdatedAt:      a.UpdatedAt,
		}); err != nil {
			return err
		}
		return r.InsertAssessment(context.Background(), tx, a)
	})
	if err != nil {
		t.Fatalf("insert assessment: %v", err)
	}
}

func inTestTx(t *testing.T, conn *sql.DB, fn func(*sql.Tx) error) error {
	t.Helper()
	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func baseAssessment(id string) domain.RiskAssessment {
	return domain.RiskAssessment{
		ID:               id,
		SystemID:         "sys-1",
		Category:         domain.CategoryBias,
		RiskLevel:        domain.RiskHigh,
		Status:           domain.AssessmentDraft,
		MitigationStatus: domain.MitigationNotStarted,
		CreatorID:        "author",
		Version:          1,
		CreatedAt:        "2024-01-01T00:00:00Z",
		UpdatedAt:        "2024-01-01T00:00:00Z",
	}
}

func TestGetAssessmentRoundTripsEvidence(t *testing.T) {
	r := newTestRepo(t)
	a := baseAssessment("a-1")
	a.EvidenceLinks = []string{"s3://evidence/bias", "s3://evidence/bias-2"}
	insertAssessmentRow(t, r, a)

	got, err := r.GetAssessment(context.Background(), "a-1")
	if err != nil {
		t.Fatalf("get assessment: %v", err)
	}
	if len(got.EvidenceLinks) != 2 || got.EvidenceLinks[0] != "s3://evidence/bias" {
		t.Fatalf("unexpected evidence links %+v", got.EvidenceLinks)
	}
}

func TestGetAssessmentCorruptEvidenceSurfaces(t *testing.T) {
	r := newTestRepo(t)
	insertAssessmentRow(t, r, baseAssessment("a-2"))

	// Simulate an out-of-band write that corrupts the stored JSON.
	if _, err := r.DB.Exec(`UPDATE risk_assessments SET evidence_links_json='{not json' WHERE id='a-2'`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	_, err := r.GetAssessment(context.Background(), "a-2")
	if err == nil {
		t.Fatalf("expected an error for corrupt evidence links")
	}
	if !strings.Contains(err.Error(), "decode evidence links") {
		t.Fatalf("expected decode error, got %v", err)
	}
}
