package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"regline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const systemColumns = `id,tenant_id,name,regulation,lifecycle_stage,COALESCE(risk_tier,'') AS risk_tier,accountable_person,created_at,updated_at`

func scanSystem(row *sql.Row) (domain.System, error) {
	var s domain.System
	var accountable sql.NullString
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.Regulation, &s.LifecycleStage, &s.RiskTier, &accountable, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if accountable.Valid {
		s.AccountablePerson = &accountable.String
	}
	return s, err
}

func (r Repo) InsertSystem(ctx context.Context, tx *sql.Tx, s domain.System) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO systems(id,tenant_id,name,regulation,lifecycle_stage,risk_tier,accountable_person,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TenantID, s.Name, s.Regulation, s.LifecycleStage, nullable(s.RiskTier), s.AccountablePerson, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSystem(ctx context.Context, id string) (domain.System, error) {
	return scanSystem(r.DB.QueryRowContext(ctx, `SELECT `+systemColumns+` FROM systems WHERE id=?`, id))
}

type SystemFilters struct {
	TenantID   string
	Stage      string
	Regulation string
}

func (r Repo) ListSystems(ctx context.Context, f SystemFilters) ([]domain.System, error) {
	query := `SELECT ` + systemColumns + ` FROM systems`
	var (
		conds []string
		args  []any
	)
	if f.TenantID != "" {
		conds = append(conds, "tenant_id=?")
		args = append(args, f.TenantID)
	}
	if f.Stage != "" {
		conds = append(conds, "lifecycle_stage=?")
		args = append(args, f.Stage)
	}
	if f.Regulation != "" {
		conds = append(conds, "regulation=?")
		args = append(args, f.Regulation)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.System
	for rows.Next() {
		var s domain.System
		var accountable sql.NullString
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Name, &s.Regulation, &s.LifecycleStage, &s.RiskTier, &accountable, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if accountable.Valid {
			s.AccountablePerson = &accountable.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SystemUpdate carries the mutable upstream fields of a system. The
// lifecycle stage is deliberately absent: only UpdateSystemStage moves it.
type SystemUpdate struct {
	Name                *string
	RiskTier            *string
	AccountablePerson   *string
	AccountableProvided bool
}

func (r Repo) UpdateSystem(ctx context.Context, id, updatedAt string, u SystemUpdate) error {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *u.Name)
	}
	if u.RiskTier != nil {
		fields = append(fields, "risk_tier=?")
		args = append(args, nullable(*u.RiskTier))
	}
	if u.AccountableProvided {
		fields = append(fields, "accountable_person=?")
		if u.AccountablePerson == nil {
			args = append(args, nil)
		} else {
			args = append(args, *u.AccountablePerson)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE systems SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSystemStage writes the new stage only if the stored stage still
// matches the expected one (compare-and-swap under the per-system lock).
func (r Repo) UpdateSystemStage(ctx context.Context, tx *sql.Tx, id, fromStage, toStage, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE systems SET lifecycle_stage=?, updated_at=? WHERE id=? AND lifecycle_stage=?`,
		toStage, updatedAt, id, fromStage)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("stage changed concurrently for system %s", id)
	}
	return nil
}

func (r Repo) InsertHistory(ctx context.Context, tx *sql.Tx, h domain.LifecycleHistory) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO lifecycle_history(system_id,from_stage,to_stage,actor_id,reason,ts) VALUES (?,?,?,?,?,?)`,
		h.SystemID, h.FromStage, h.ToStage, h.ActorID, nullable(h.Reason), h.TS)
	return err
}

func (r Repo) ListHistory(ctx context.Context, systemID string) ([]domain.LifecycleHistory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,system_id,from_stage,to_stage,actor_id,COALESCE(reason,'') AS reason,ts FROM lifecycle_history WHERE system_id=? ORDER BY id ASC`, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LifecycleHistory
	for rows.Next() {
		var h domain.LifecycleHistory
		if err := rows.Scan(&h.ID, &h.SystemID, &h.FromStage, &h.ToStage, &h.ActorID, &h.Reason, &h.TS); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) GetHold(ctx context.Context, systemID string) (domain.GovernanceHold, error) {
	var h domain.GovernanceHold
	err := r.DB.QueryRowContext(ctx, `SELECT system_id,reason,placed_by,created_at FROM governance_holds WHERE system_id=?`, systemID).
		Scan(&h.SystemID, &h.Reason, &h.PlacedBy, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	return h, err
}

func (r Repo) PlaceHold(ctx context.Context, tx *sql.Tx, h domain.GovernanceHold) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO governance_holds(system_id,reason,placed_by,created_at) VALUES (?,?,?,?)
ON CONFLICT(system_id) DO UPDATE SET reason=excluded.reason, placed_by=excluded.placed_by, created_at=excluded.created_at`,
		h.SystemID, h.Reason, h.PlacedBy, h.CreatedAt)
	return err
}

func (r Repo) ReleaseHold(ctx context.Context, tx *sql.Tx, systemID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM governance_holds WHERE system_id=?`, systemID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListEvents(ctx context.Context, systemID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,COALESCE(system_id,'') AS system_id,entity_kind,COALESCE(entity_id,'') AS entity_id,actor_id,payload_json FROM events`
	var args []any
	if systemID != "" {
		query += ` WHERE system_id=?`
		args = append(args, systemID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,COALESCE(system_id,'') AS system_id,entity_kind,COALESCE(entity_id,'') AS entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, limit)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SystemID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
