package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"regline/internal/config"
	"regline/internal/domain"
	"regline/internal/events"
	"regline/internal/repo"
)

// Engine owns all compliance lifecycle operations. Mutations for the same
// system are serialized through a per-system lock; each operation commits
// the entity change, its history row and its audit event in one
// transaction.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Catalog    []TaskDef
	Policy     TransitionPolicy
	Governance GovernanceCheck
	Now        func() time.Time
	Log        *slog.Logger

	locks *systemLocks
}

// New wires an engine over an open database. The task catalog is validated
// here so a malformed definition fails startup instead of serving.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	catalog := Catalog()
	if err := ValidateCatalog(catalog); err != nil {
		return Engine{}, fmt.Errorf("task catalog: %w", err)
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:         db,
		Repo:       r,
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Catalog:    catalog,
		Policy:     DefaultPolicy(cfg),
		Governance: holdCheck{Repo: r},
		Now:        time.Now,
		Log:        slog.Default(),
		locks:      newSystemLocks(),
	}, nil
}

func (e Engine) now() string {
	return e.Now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	return uuid.NewString()
}

// RegisterSystemInput carries the caller-supplied fields of a new system.
type RegisterSystemInput struct {
	TenantID          string
	Name              string
	Regulation        string
	RiskTier          string
	AccountablePerson *string
}

// RegisterSystem creates a system in the draft stage and seeds its
// governance tasks for that stage.
func (e Engine) RegisterSystem(ctx context.Context, actorID string, in RegisterSystemInput) (domain.System, error) {
	if in.Name == "" {
		return domain.System{}, ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if in.TenantID == "" {
		return domain.System{}, ValidationError{Field: "tenant_id", Reason: "must not be empty"}
	}
	valid := false
	for _, r := range domain.Regulations {
		if r == in.Regulation {
			valid = true
		}
	}
	if !valid {
		return domain.System{}, ValidationError{Field: "regulation", Reason: fmt.Sprintf("unknown regulation family %q", in.Regulation)}
	}

	now := e.now()
	sys := domain.System{
		ID:                e.newID(),
		TenantID:          in.TenantID,
		Name:              in.Name,
		Regulation:        in.Regulation,
		LifecycleStage:    domain.StageDraft,
		RiskTier:          in.RiskTier,
		AccountablePerson: in.AccountablePerson,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	unlock := e.locks.lock(sys.ID)
	defer unlock()

	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertSystem(ctx, tx, sys); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "system.registered", sys.ID, "system", sys.ID, actorID,
			events.EventPayload{"name": sys.Name, "regulation": sys.Regulation})
	})
	if err != nil {
		return domain.System{}, err
	}
	e.refreshTasks(ctx, sys.ID, actorID)
	return sys, nil
}

// UpdateSystemInput carries an optional-field patch for a system. A
// present AccountablePerson pointer to nil clears the assignment.
type UpdateSystemInput struct {
	Name                *string
	RiskTier            *string
	AccountablePerson   *string
	AccountableProvided bool
}

// UpdateSystem patches mutable metadata. The lifecycle stage is not
// reachable from here; only RequestTransition moves it.
func (e Engine) UpdateSystem(ctx context.Context, actorID, systemID string, in UpdateSystemInput) (domain.System, error) {
	if in.Name != nil && *in.Name == "" {
		return domain.System{}, ValidationError{Field: "name", Reason: "must not be empty"}
	}

	unlock := e.locks.lock(systemID)
	defer unlock()

	sys, err := e.Repo.GetSystem(ctx, systemID)
	if err != nil {
		return domain.System{}, err
	}
	if sys.LifecycleStage == domain.StageRetired {
		return domain.System{}, InvalidStateError{Entity: "system", Current: sys.LifecycleStage, Action: "be updated"}
	}
	if err := e.Repo.UpdateSystem(ctx, systemID, e.now(), repo.SystemUpdate{
		Name:                in.Name,
		RiskTier:            in.RiskTier,
		AccountablePerson:   in.AccountablePerson,
		AccountableProvided: in.AccountableProvided,
	}); err != nil {
		return domain.System{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		return e.Events.Append(ctx, tx, "system.updated", systemID, "system", systemID, actorID, nil)
	})
	if err != nil {
		return domain.System{}, err
	}
	e.refreshTasks(ctx, systemID, actorID)
	return e.Repo.GetSystem(ctx, systemID)
}

// GetSystem returns one system by id.
func (e Engine) GetSystem(ctx context.Context, systemID string) (domain.System, error) {
	return e.Repo.GetSystem(ctx, systemID)
}

// ListSystems returns systems matching the filters, newest first.
func (e Engine) ListSystems(ctx context.Context, f repo.SystemFilters) ([]domain.System, error) {
	return e.Repo.ListSystems(ctx, f)
}

// History returns the append-only stage change log, oldest first.
func (e Engine) History(ctx context.Context, systemID string) ([]domain.LifecycleHistory, error) {
	if _, err := e.Repo.GetSystem(ctx, systemID); err != nil {
		return nil, err
	}
	return e.Repo.ListHistory(ctx, systemID)
}

// RiskSummaryFor computes the current risk posture of one system.
func (e Engine) RiskSummaryFor(ctx context.Context, systemID string) (RiskSummary, error) {
	if _, err := e.Repo.GetSystem(ctx, systemID); err != nil {
		return RiskSummary{}, err
	}
	assessments, err := e.Repo.ListAssessments(ctx, repo.AssessmentFilters{SystemID: systemID})
	if err != nil {
		return RiskSummary{}, err
	}
	return BuildRiskSummary(assessments), nil
}

// ListTasks returns a system's governance tasks.
func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.GovernanceTask, error) {
	if _, err := e.Repo.GetSystem(ctx, f.SystemID); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, f)
}

func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
