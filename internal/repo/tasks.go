package repo

import (
	"context"
	"database/sql"

	"regline/internal/domain"
)

const taskColumns = `id,system_id,key,title,status,blocking,evidence_link,created_at,updated_at,completed_at`

func scanTask(scan func(dest ...any) error) (domain.GovernanceTask, error) {
	var t domain.GovernanceTask
	var blocking int
	var evidence, completed sql.NullString
	err := scan(&t.ID, &t.SystemID, &t.Key, &t.Title, &t.Status, &blocking, &evidence, &t.CreatedAt, &t.UpdatedAt, &completed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Blocking = blocking != 0
	if evidence.Valid {
		t.EvidenceLink = &evidence.String
	}
	if completed.Valid {
		t.CompletedAt = &completed.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.GovernanceTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO governance_tasks(id,system_id,key,title,status,blocking,evidence_link,created_at,updated_at,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.SystemID, t.Key, t.Title, t.Status, boolInt(t.Blocking), t.EvidenceLink, t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.GovernanceTask) error {
	res, err := tx.ExecContext(ctx, `UPDATE governance_tasks SET title=?,status=?,blocking=?,evidence_link=?,updated_at=?,completed_at=? WHERE id=?`,
		t.Title, t.Status, boolInt(t.Blocking), t.EvidenceLink, t.UpdatedAt, t.CompletedAt, t.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.GovernanceTask, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM governance_tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	SystemID     string
	Status       string
	BlockingOnly bool
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.GovernanceTask, error) {
	query := `SELECT ` + taskColumns + ` FROM governance_tasks WHERE system_id=?`
	args := []any{f.SystemID}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	if f.BlockingOnly {
		query += ` AND blocking=1`
	}
	query += ` ORDER BY key ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GovernanceTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListTasksTx reads tasks inside a transaction so the evaluator observes
// its own writes and those of the preceding operation.
func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, systemID string) ([]domain.GovernanceTask, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM governance_tasks WHERE system_id=? ORDER BY key ASC`, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GovernanceTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
