package engine

import (
	"context"
	"database/sql"
	"errors"

	"regline/internal/domain"
	"regline/internal/events"
	"regline/internal/repo"
)

// GovernanceCheck answers whether assessment approvals for a system are
// currently blocked by an organizational governance process. The default
// implementation reads the holds table; deployments can substitute an
// external registry.
type GovernanceCheck interface {
	CheckApproval(ctx context.Context, systemID string) error
}

// holdCheck blocks approvals while a governance hold row exists for the
// system.
type holdCheck struct {
	Repo repo.Repo
}

func (c holdCheck) CheckApproval(ctx context.Context, systemID string) error {
	hold, err := c.Repo.GetHold(ctx, systemID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return GovernanceBlockedError{Reason: hold.Reason}
}

// PlaceHold records a governance hold on a system. Placing a hold on a
// held system replaces the reason.
func (e Engine) PlaceHold(ctx context.Context, actorID, systemID, reason string) (domain.GovernanceHold, error) {
	if reason == "" {
		return domain.GovernanceHold{}, ValidationError{Field: "reason", Reason: "must not be empty"}
	}

	unlock := e.locks.lock(systemID)
	defer unlock()

	if _, err := e.Repo.GetSystem(ctx, systemID); err != nil {
		return domain.GovernanceHold{}, err
	}
	hold := domain.GovernanceHold{
		SystemID:  systemID,
		Reason:    reason,
		PlacedBy:  actorID,
		CreatedAt: e.now(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.PlaceHold(ctx, tx, hold); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "governance.hold_placed", systemID, "system", systemID, actorID,
			events.EventPayload{"reason": reason})
	})
	if err != nil {
		return domain.GovernanceHold{}, err
	}
	return hold, nil
}

// ReleaseHold removes a governance hold.
func (e Engine) ReleaseHold(ctx context.Context, actorID, systemID string) error {
	unlock := e.locks.lock(systemID)
	defer unlock()

	if _, err := e.Repo.GetSystem(ctx, systemID); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.ReleaseHold(ctx, tx, systemID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "governance.hold_released", systemID, "system", systemID, actorID, nil)
	})
}

// Hold returns the active hold for a system, or repo.ErrNotFound.
func (e Engine) Hold(ctx context.Context, systemID string) (domain.GovernanceHold, error) {
	return e.Repo.GetHold(ctx, systemID)
}
