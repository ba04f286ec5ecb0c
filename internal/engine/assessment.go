package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"regline/internal/domain"
	"regline/internal/events"
	"regline/internal/metrics"
	"regline/internal/repo"
)

// CanEditRiskAssessment is the pure edit-permission lookup: retired
// systems never allow edits, every other stage allows edits while the
// assessment is still a draft.
func CanEditRiskAssessment(stage, status string) bool {
	if stage == domain.StageRetired {
		return false
	}
	return status == domain.AssessmentDraft
}

func validCategory(category string) bool {
	for _, c := range domain.Categories {
		if c == category {
			return true
		}
	}
	return false
}

func validRiskLevel(level string) bool {
	switch level {
	case domain.RiskLow, domain.RiskMedium, domain.RiskHigh:
		return true
	}
	return false
}

// CreateAssessmentInput carries the caller-supplied fields of a new risk
// assessment. It starts in draft with mitigation not started.
type CreateAssessmentInput struct {
	SystemID      string
	Category      string
	RiskLevel     string
	Summary       string
	EvidenceLinks []string
}

func (e Engine) CreateAssessment(ctx context.Context, actorID string, in CreateAssessmentInput) (domain.RiskAssessment, error) {
	if !validCategory(in.Category) {
		return domain.RiskAssessment{}, ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", in.Category)}
	}
	if !validRiskLevel(in.RiskLevel) {
		return domain.RiskAssessment{}, ValidationError{Field: "risk_level", Reason: fmt.Sprintf("unknown risk level %q", in.RiskLevel)}
	}

	unlock := e.locks.lock(in.SystemID)
	defer unlock()

	sys, err := e.Repo.GetSystem(ctx, in.SystemID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	if sys.LifecycleStage == domain.StageRetired {
		return domain.RiskAssessment{}, InvalidStateError{Entity: "system", Current: sys.LifecycleStage, Action: "receive assessments"}
	}

	now := e.now()
	a := domain.RiskAssessment{
		ID:               e.newID(),
		SystemID:         in.SystemID,
		Category:         in.Category,
		RiskLevel:        in.RiskLevel,
		Status:           domain.AssessmentDraft,
		MitigationStatus: domain.MitigationNotStarted,
		Summary:          in.Summary,
		EvidenceLinks:    in.EvidenceLinks,
		CreatorID:        actorID,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAssessment(ctx, tx, a); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "assessment.created", a.SystemID, "assessment", a.ID, actorID,
			events.EventPayload{"category": a.Category, "risk_level": a.RiskLevel})
	})
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	return a, nil
}

// EditAssessmentInput patches a draft assessment. Nil fields are left
// unchanged; a non-nil EvidenceLinks replaces the whole list.
type EditAssessmentInput struct {
	RiskLevel     *string
	Summary       *string
	EvidenceLinks *[]string
}

// EditAssessment mutates a draft owned by the actor. Submitted, approved
// and rejected assessments are immutable.
func (e Engine) EditAssessment(ctx context.Context, actorID, assessmentID string, in EditAssessmentInput) (domain.RiskAssessment, error) {
	if in.RiskLevel != nil && !validRiskLevel(*in.RiskLevel) {
		return domain.RiskAssessment{}, ValidationError{Field: "risk_level", Reason: fmt.Sprintf("unknown risk level %q", *in.RiskLevel)}
	}

	a, err := e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	unlock := e.locks.lock(a.SystemID)
	defer unlock()

	// Reload under the lock so concurrent submits are observed.
	a, err = e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	if a.Status != domain.AssessmentDraft {
		return domain.RiskAssessment{}, InvalidStateError{Entity: "assessment", Current: a.Status, Action: "be edited"}
	}
	if a.CreatorID != actorID {
		return domain.RiskAssessment{}, ForbiddenError{Reason: "only the creator may edit a draft assessment"}
	}
	sys, err := e.Repo.GetSystem(ctx, a.SystemID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	if !CanEditRiskAssessment(sys.LifecycleStage, a.Status) {
		return domain.RiskAssessment{}, ForbiddenError{Reason: fmt.Sprintf("assessments are not editable while the system is %s", sys.LifecycleStage)}
	}

	if in.RiskLevel != nil {
		a.RiskLevel = *in.RiskLevel
	}
	if in.Summary != nil {
		a.Summary = *in.Summary
	}
	if in.EvidenceLinks != nil {
		a.EvidenceLinks = *in.EvidenceLinks
	}
	a.UpdatedAt = e.now()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateAssessment(ctx, tx, a); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "assessment.edited", a.SystemID, "assessment", a.ID, actorID, nil)
	})
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	return e.Repo.GetAssessment(ctx, assessmentID)
}

// SubmitAssessment moves a draft into review. High-risk drafts must carry
// at least one evidence link.
func (e Engine) SubmitAssessment(ctx context.Context, actorID, assessmentID string) (domain.RiskAssessment, error) {
	a, err := e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	unlock := e.locks.lock(a.SystemID)
	defer unlock()

	a, err = e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	if a.Status != domain.AssessmentDraft {
		return domain.RiskAssessment{}, InvalidStateError{Entity: "assessment", Current: a.Status, Action: "be submitted"}
	}
	if a.CreatorID != actorID {
		return domain.RiskAssessment{}, ForbiddenError{Reason: "only the creator may submit a draft assessment"}
	}
	if a.RiskLevel == domain.RiskHigh && len(a.EvidenceLinks) == 0 {
		return domain.RiskAssessment{}, MissingEvidenceError{AssessmentID: a.ID}
	}

	a.Status = domain.AssessmentSubmitted
	a.UpdatedAt = e.now()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateAssessment(ctx, tx, a); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "assessment.submitted", a.SystemID, "assessment", a.ID, actorID,
			events.EventPayload{"risk_level": a.RiskLevel})
	})
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	return e.Repo.GetAssessment(ctx, assessmentID)
}

// ApproveAssessment closes review positively. Approval consults the
// governance check first and re-evaluates the system's tasks afterwards,
// since a fresh approval can close tasks or unlock transitions.
func (e Engine) ApproveAssessment(ctx context.Context, reviewerID, assessmentID, comment string) (domain.RiskAssessment, error) {
	return e.review(ctx, reviewerID, assessmentID, comment, domain.AssessmentApproved)
}

// RejectAssessment closes review negatively. A non-blank comment is
// required so the creator knows what to fix.
func (e Engine) RejectAssessment(ctx context.Context, reviewerID, assessmentID, comment string) (domain.RiskAssessment, error) {
	if strings.TrimSpace(comment) == "" {
		return domain.RiskAssessment{}, ValidationError{Field: "comment", Reason: "a rejection comment is required"}
	}
	return e.review(ctx, reviewerID, assessmentID, comment, domain.AssessmentRejected)
}

func (e Engine) review(ctx context.Context, reviewerID, assessmentID, comment, outcome string) (domain.RiskAssessment, error) {
	a, err := e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	unlock := e.locks.lock(a.SystemID)
	defer unlock()

	a, err = e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	if a.Status != domain.AssessmentSubmitted {
		action := "be approved"
		if outcome == domain.AssessmentRejected {
			action = "be rejected"
		}
		return domain.RiskAssessment{}, InvalidStateError{Entity: "assessment", Current: a.Status, Action: action}
	}
	if !e.Config.Review.AllowSelfReview && a.CreatorID == reviewerID {
		return domain.RiskAssessment{}, ForbiddenError{Reason: "reviewer must differ from the creator"}
	}
	if outcome == domain.AssessmentApproved {
		if err := e.Governance.CheckApproval(ctx, a.SystemID); err != nil {
			return domain.RiskAssessment{}, err
		}
	}

	a.Status = outcome
	a.ReviewerID = &reviewerID
	if comment != "" {
		a.ReviewComment = &comment
	}
	a.UpdatedAt = e.now()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateAssessment(ctx, tx, a); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "assessment."+outcome, a.SystemID, "assessment", a.ID, reviewerID,
			events.EventPayload{"risk_level": a.RiskLevel, "category": a.Category})
	})
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	metrics.ReviewsTotal.WithLabelValues(outcome).Inc()
	if outcome == domain.AssessmentApproved {
		e.refreshTasks(ctx, a.SystemID, reviewerID)
	}
	return e.Repo.GetAssessment(ctx, assessmentID)
}

// SetMitigation updates the mitigation status of an assessment. Unlike
// the other fields, mitigation stays mutable after review so that
// remediation work can be tracked against approved findings.
func (e Engine) SetMitigation(ctx context.Context, actorID, assessmentID, status string) (domain.RiskAssessment, error) {
	switch status {
	case domain.MitigationNotStarted, domain.MitigationInProgress, domain.MitigationMitigated:
	default:
		return domain.RiskAssessment{}, ValidationError{Field: "mitigation_status", Reason: fmt.Sprintf("unknown mitigation status %q", status)}
	}

	a, err := e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	unlock := e.locks.lock(a.SystemID)
	defer unlock()

	a, err = e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	a.MitigationStatus = status
	a.UpdatedAt = e.now()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateAssessment(ctx, tx, a); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "assessment.mitigation_updated", a.SystemID, "assessment", a.ID, actorID,
			events.EventPayload{"mitigation_status": status})
	})
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	e.refreshTasks(ctx, a.SystemID, actorID)
	return e.Repo.GetAssessment(ctx, assessmentID)
}

// GetAssessment returns one assessment by id.
func (e Engine) GetAssessment(ctx context.Context, id string) (domain.RiskAssessment, error) {
	return e.Repo.GetAssessment(ctx, id)
}

// ListAssessments returns a system's assessments, oldest first.
func (e Engine) ListAssessments(ctx context.Context, f repo.AssessmentFilters) ([]domain.RiskAssessment, error) {
	if _, err := e.Repo.GetSystem(ctx, f.SystemID); err != nil {
		return nil, err
	}
	return e.Repo.ListAssessments(ctx, f)
}
