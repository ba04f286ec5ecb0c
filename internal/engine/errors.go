package engine

import (
	"fmt"
	"strings"

	"regline/internal/domain"
)

// ValidationError reports malformed caller input, e.g. a value outside a
// closed enum. Always caller-fixable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ForbiddenError reports an actor lacking permission for the requested
// action on this entity. No internal detail beyond the reason.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason == "" {
		return "forbidden"
	}
	return e.Reason
}

// InvalidStateError reports an action that is not legal from the current
// workflow or lifecycle state.
type InvalidStateError struct {
	Entity  string
	Current string
	Action  string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s cannot %s while %s", e.Entity, e.Action, e.Current)
}

// MissingEvidenceError reports a high-risk assessment submitted without
// evidence links.
type MissingEvidenceError struct {
	AssessmentID string
}

func (e MissingEvidenceError) Error() string {
	return fmt.Sprintf("assessment %s is high risk and requires evidence links before submission", e.AssessmentID)
}

// TransitionBlockedError reports open blocking governance tasks gating a
// lifecycle transition.
type TransitionBlockedError struct {
	Tasks []domain.GovernanceTask
}

func (e TransitionBlockedError) Error() string {
	keys := make([]string, 0, len(e.Tasks))
	for _, t := range e.Tasks {
		keys = append(keys, t.Key)
	}
	return fmt.Sprintf("transition blocked by open governance tasks: %s", strings.Join(keys, ", "))
}

// TransitionNotAllowedError reports a transition rejected by the policy.
type TransitionNotAllowedError struct {
	Reason   string
	Warnings []string
}

func (e TransitionNotAllowedError) Error() string {
	return fmt.Sprintf("transition not allowed: %s", e.Reason)
}

// GovernanceBlockedError reports an approval blocked by the shadow-AI
// governance check.
type GovernanceBlockedError struct {
	Reason string
}

func (e GovernanceBlockedError) Error() string {
	if e.Reason == "" {
		return "approval blocked by governance hold"
	}
	return fmt.Sprintf("approval blocked by governance hold: %s", e.Reason)
}
