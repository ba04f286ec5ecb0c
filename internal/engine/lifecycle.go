package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"

	"regline/internal/domain"
	"regline/internal/events"
	"regline/internal/metrics"
	"regline/internal/repo"
)

// TransitionResult is the outcome of a successful transition request.
// NoOp marks a request for the current stage, which succeeds without
// writing anything.
type TransitionResult struct {
	System   domain.System
	Warnings []string
	NoOp     bool
}

// RequestTransition moves a system between lifecycle stages. The check
// order is fixed: same-stage no-op, then the blocking-task gate, then the
// transition policy. On success the stage write, the history row and the
// audit event commit in one transaction; task re-evaluation for the new
// stage runs afterwards against the committed state.
func (e Engine) RequestTransition(ctx context.Context, actorID, systemID, target, reason string) (TransitionResult, error) {
	if domain.StageIndex(target) < 0 {
		return TransitionResult{}, ValidationError{Field: "to_stage", Reason: "unknown lifecycle stage " + target}
	}

	unlock := e.locks.lock(systemID)
	defer unlock()

	sys, err := e.Repo.GetSystem(ctx, systemID)
	if err != nil {
		return TransitionResult{}, err
	}
	if target == sys.LifecycleStage {
		return TransitionResult{System: sys, NoOp: true}, nil
	}

	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{SystemID: systemID})
	if err != nil {
		return TransitionResult{}, err
	}
	if blocked := BlockingTasks(e.Catalog, tasks, sys.Regulation, target); len(blocked) > 0 {
		metrics.TransitionsTotal.WithLabelValues("blocked").Inc()
		return TransitionResult{}, TransitionBlockedError{Tasks: blocked}
	}

	assessments, err := e.Repo.ListAssessments(ctx, repo.AssessmentFilters{SystemID: systemID})
	if err != nil {
		return TransitionResult{}, err
	}
	summary := BuildRiskSummary(assessments)

	decision := e.Policy(sys, summary, sys.LifecycleStage, target)
	if !decision.Allowed {
		metrics.TransitionsTotal.WithLabelValues("denied").Inc()
		return TransitionResult{}, TransitionNotAllowedError{Reason: decision.Reason, Warnings: decision.Warnings}
	}

	now := e.now()
	from := sys.LifecycleStage
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateSystemStage(ctx, tx, systemID, from, target, now); err != nil {
			return err
		}
		if err := e.Repo.InsertHistory(ctx, tx, domain.LifecycleHistory{
			SystemID:  systemID,
			FromStage: from,
			ToStage:   target,
			ActorID:   actorID,
			Reason:    reason,
			TS:        now,
		}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "system.stage_changed", systemID, "system", systemID, actorID,
			events.EventPayload{"from": from, "to": target, "reason": reason})
	})
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues("error").Inc()
		return TransitionResult{}, err
	}
	metrics.TransitionsTotal.WithLabelValues("ok").Inc()

	e.refreshTasks(ctx, systemID, actorID)

	sys, err = e.Repo.GetSystem(ctx, systemID)
	if err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{System: sys, Warnings: decision.Warnings}, nil
}

// CompleteTask marks a pending governance task done. Completion is
// terminal and may unblock a previously gated transition.
func (e Engine) CompleteTask(ctx context.Context, actorID, taskID string, evidenceLink *string) (domain.GovernanceTask, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.GovernanceTask{}, err
	}

	unlock := e.locks.lock(t.SystemID)
	defer unlock()

	t, err = e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.GovernanceTask{}, err
	}
	if t.Status != domain.TaskPending {
		return domain.GovernanceTask{}, InvalidStateError{Entity: "task", Current: t.Status, Action: "be completed"}
	}

	now := e.now()
	t.Status = domain.TaskCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	if evidenceLink != nil {
		t.EvidenceLink = evidenceLink
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.completed", t.SystemID, "task", t.ID, actorID,
			events.EventPayload{"key": t.Key})
	})
	if err != nil {
		return domain.GovernanceTask{}, err
	}
	return t, nil
}

// ReevaluateTasks reconciles a system's governance tasks with the catalog.
// The compensating sweep and manual re-evaluation calls enter here; the
// per-system lock is taken before touching anything.
func (e Engine) ReevaluateTasks(ctx context.Context, actorID, systemID string) error {
	unlock := e.locks.lock(systemID)
	defer unlock()

	if _, err := e.Repo.GetSystem(ctx, systemID); err != nil {
		return err
	}
	return e.evaluateOnce(ctx, systemID, actorID)
}

// refreshTasks re-evaluates tasks after a committed mutation. The caller
// must hold the system lock. Failures are retried with backoff; a final
// failure is logged and left for the compensating sweep, so the committed
// mutation is never rolled back.
func (e Engine) refreshTasks(ctx context.Context, systemID, actorID string) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
	), 4), ctx)
	err := backoff.Retry(func() error {
		return e.evaluateOnce(ctx, systemID, actorID)
	}, policy)
	if err != nil {
		e.Log.Error("task re-evaluation failed; the sweep will retry", "system_id", systemID, "err", err)
	}
}

func (e Engine) evaluateOnce(ctx context.Context, systemID, actorID string) error {
	metrics.TaskEvaluationsTotal.Inc()
	return e.inTx(ctx, func(tx *sql.Tx) error {
		sys, err := e.Repo.GetSystem(ctx, systemID)
		if err != nil {
			return err
		}
		assessments, err := e.Repo.ListAssessments(ctx, repo.AssessmentFilters{SystemID: systemID})
		if err != nil {
			return err
		}
		tasks, err := e.Repo.ListTasksTx(ctx, tx, systemID)
		if err != nil {
			return err
		}
		plan := EvaluateTasks(e.Catalog, EvalInput{
			System:  sys,
			Summary: BuildRiskSummary(assessments),
			Tasks:   tasks,
		}, e.Log)
		if plan.Empty() {
			return nil
		}
		now := e.now()
		for _, def := range plan.Create {
			t := domain.GovernanceTask{
				ID:        e.newID(),
				SystemID:  systemID,
				Key:       def.Key,
				Title:     def.Title,
				Status:    domain.TaskPending,
				Blocking:  true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
				return err
			}
			if err := e.Events.Append(ctx, tx, "task.created", systemID, "task", t.ID, actorID,
				events.EventPayload{"key": t.Key}); err != nil {
				return err
			}
		}
		for _, def := range plan.CreateCompleted {
			t := domain.GovernanceTask{
				ID:          e.newID(),
				SystemID:    systemID,
				Key:         def.Key,
				Title:       def.Title,
				Status:      domain.TaskCompleted,
				Blocking:    true,
				CreatedAt:   now,
				UpdatedAt:   now,
				CompletedAt: &now,
			}
			if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
				return err
			}
			if err := e.Events.Append(ctx, tx, "task.created", systemID, "task", t.ID, actorID,
				events.EventPayload{"key": t.Key}); err != nil {
				return err
			}
			metrics.TasksAutoCompletedTotal.Inc()
			if err := e.Events.Append(ctx, tx, "task.auto_completed", systemID, "task", t.ID, actorID,
				events.EventPayload{"key": t.Key}); err != nil {
				return err
			}
		}
		byID := map[string]domain.GovernanceTask{}
		for _, t := range tasks {
			byID[t.ID] = t
		}
		for _, id := range plan.Complete {
			t := byID[id]
			t.Status = domain.TaskCompleted
			t.CompletedAt = &now
			t.UpdatedAt = now
			if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
				return err
			}
			metrics.TasksAutoCompletedTotal.Inc()
			if err := e.Events.Append(ctx, tx, "task.auto_completed", systemID, "task", t.ID, actorID,
				events.EventPayload{"key": t.Key}); err != nil {
				return err
			}
		}
		for id, blocking := range plan.Reflag {
			t := byID[id]
			t.Blocking = blocking
			t.UpdatedAt = now
			if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}
