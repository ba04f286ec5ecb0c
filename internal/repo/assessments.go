package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"regline/internal/domain"
)

const assessmentColumns = `id,system_id,category,risk_level,status,mitigation_status,COALESCE(summary,'') AS summary,evidence_links_json,creator_id,reviewer_id,review_comment,version,created_at,updated_at`

func scanAssessment(scan func(dest ...any) error) (domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	var evidence, reviewer, comment sql.NullString
	err := scan(&a.ID, &a.SystemID, &a.Category, &a.RiskLevel, &a.Status, &a.MitigationStatus, &a.Summary,
		&evidence, &a.CreatorID, &reviewer, &comment, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if evidence.Valid && evidence.String != "" {
		if err := json.Unmarshal([]byte(evidence.String), &a.EvidenceLinks); err != nil {
			return a, fmt.Errorf("assessment %s: decode evidence links: %w", a.ID, err)
		}
	}
	if reviewer.Valid {
		a.ReviewerID = &reviewer.String
	}
	if comment.Valid {
		a.ReviewComment = &comment.String
	}
	return a, nil
}

func encodeEvidence(links []string) any {
	if len(links) == 0 {
		return nil
	}
	b, err := json.Marshal(links)
	if err != nil {
		return nil
	}
	return string(b)
}

func (r Repo) InsertAssessment(ctx context.Context, tx *sql.Tx, a domain.RiskAssessment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO risk_assessments(id,system_id,category,risk_level,status,mitigation_status,summary,evidence_links_json,creator_id,reviewer_id,review_comment,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.SystemID, a.Category, a.RiskLevel, a.Status, a.MitigationStatus, nullable(a.Summary),
		encodeEvidence(a.EvidenceLinks), a.CreatorID, a.ReviewerID, a.ReviewComment, a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAssessment(ctx context.Context, id string) (domain.RiskAssessment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM risk_assessments WHERE id=?`, id)
	return scanAssessment(row.Scan)
}

// UpdateAssessment writes the full mutable row guarded by the version
// counter; a stale version returns ErrNotFound-like conflict upstream.
func (r Repo) UpdateAssessment(ctx context.Context, tx *sql.Tx, a domain.RiskAssessment) error {
	res, err := tx.ExecContext(ctx, `UPDATE risk_assessments SET category=?,risk_level=?,status=?,mitigation_status=?,summary=?,evidence_links_json=?,reviewer_id=?,review_comment=?,version=version+1,updated_at=? WHERE id=? AND version=?`,
		a.Category, a.RiskLevel, a.Status, a.MitigationStatus, nullable(a.Summary), encodeEvidence(a.EvidenceLinks),
		a.ReviewerID, a.ReviewComment, a.UpdatedAt, a.ID, a.Version)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type AssessmentFilters struct {
	SystemID string
	Status   string
	Category string
}

func (r Repo) ListAssessments(ctx context.Context, f AssessmentFilters) ([]domain.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM risk_assessments WHERE system_id=?`
	args := []any{f.SystemID}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	if f.Category != "" {
		query += ` AND category=?`
		args = append(args, f.Category)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
