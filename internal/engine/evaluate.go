package engine

import (
	"log/slog"

	"regline/internal/domain"
)

// RiskSummary aggregates the risk posture of one system. Only approved
// assessments contribute to Overall; everything else is counted but
// ignored for aggregation.
type RiskSummary struct {
	Total              int               `json:"total"`
	Draft              int               `json:"draft"`
	Submitted          int               `json:"submitted"`
	Approved           int               `json:"approved"`
	Rejected           int               `json:"rejected"`
	Overall            string            `json:"overall" enum:"low,medium,high,unknown"`
	ApprovedCategories map[string]string `json:"approved_categories,omitempty"`
	UnmitigatedHigh    int               `json:"unmitigated_high"`
}

func riskRank(level string) int {
	switch level {
	case domain.RiskLow:
		return 1
	case domain.RiskMedium:
		return 2
	case domain.RiskHigh:
		return 3
	default:
		return 0
	}
}

// BuildRiskSummary folds a system's assessments into a RiskSummary.
// Overall is the worst approved level, or unknown when nothing is approved.
func BuildRiskSummary(assessments []domain.RiskAssessment) RiskSummary {
	s := RiskSummary{Overall: domain.RiskUnknown, ApprovedCategories: map[string]string{}}
	worst := 0
	for _, a := range assessments {
		s.Total++
		switch a.Status {
		case domain.AssessmentDraft:
			s.Draft++
		case domain.AssessmentSubmitted:
			s.Submitted++
		case domain.AssessmentRejected:
			s.Rejected++
		case domain.AssessmentApproved:
			s.Approved++
			if r := riskRank(a.RiskLevel); r > worst {
				worst = r
				s.Overall = a.RiskLevel
			}
			if prev, ok := s.ApprovedCategories[a.Category]; !ok || riskRank(a.RiskLevel) > riskRank(prev) {
				s.ApprovedCategories[a.Category] = a.RiskLevel
			}
			if a.RiskLevel == domain.RiskHigh && a.MitigationStatus == domain.MitigationNotStarted {
				s.UnmitigatedHigh++
			}
		}
	}
	return s
}

// EvalInput is the full state the task evaluator reads. The evaluator
// itself performs no I/O, so the same input always yields the same plan.
type EvalInput struct {
	System  domain.System
	Summary RiskSummary
	Tasks   []domain.GovernanceTask
}

// EvalPlan is the set of writes that reconcile stored tasks with the
// catalog for the system's current state.
type EvalPlan struct {
	// Create lists definitions with no stored instance that are required
	// at the current stage.
	Create []TaskDef
	// CreateCompleted lists definitions whose condition is already met at
	// creation time. They are recorded as completed right away so the next
	// evaluation of the resulting state writes nothing.
	CreateCompleted []TaskDef
	// Complete lists pending task ids whose condition is now satisfied.
	Complete []string
	// Reflag maps task ids to a changed blocking flag.
	Reflag map[string]bool
}

// Empty reports whether applying the plan would write nothing.
func (p EvalPlan) Empty() bool {
	return len(p.Create) == 0 && len(p.CreateCompleted) == 0 && len(p.Complete) == 0 && len(p.Reflag) == 0
}

// EvaluateTasks computes the reconciliation plan for one system. It is
// pure and idempotent: running it against the state it produced yields an
// empty plan. Completed tasks are never reopened or removed; tasks whose
// definition no longer applies at the current stage are kept but unflagged.
func EvaluateTasks(defs []TaskDef, in EvalInput, log *slog.Logger) EvalPlan {
	plan := EvalPlan{Reflag: map[string]bool{}}
	byKey := map[string]domain.GovernanceTask{}
	for _, t := range in.Tasks {
		byKey[t.Key] = t
	}
	for _, def := range defs {
		if !def.AppliesTo(in.System.Regulation) {
			continue
		}
		if err := checkDef(def); err != nil {
			// Startup validation should make this unreachable. Skip the
			// definition rather than fail the whole evaluation.
			if log != nil {
				log.Error("skipping malformed task definition", "key", def.Key, "err", err)
			}
			continue
		}
		requiredNow := def.RequiredAt(in.System.LifecycleStage)
		existing, ok := byKey[def.Key]
		if !ok {
			if requiredNow {
				if conditionMet(def, in) {
					plan.CreateCompleted = append(plan.CreateCompleted, def)
				} else {
					plan.Create = append(plan.Create, def)
				}
			}
			continue
		}
		if existing.Status == domain.TaskCompleted {
			continue
		}
		if conditionMet(def, in) {
			plan.Complete = append(plan.Complete, existing.ID)
			continue
		}
		if existing.Blocking != requiredNow {
			plan.Reflag[existing.ID] = requiredNow
		}
	}
	return plan
}

func conditionMet(def TaskDef, in EvalInput) bool {
	switch def.Condition {
	case CondAccountableAssigned:
		return in.System.AccountablePerson != nil && *in.System.AccountablePerson != ""
	case CondCategoryApproved:
		_, ok := in.Summary.ApprovedCategories[def.Category]
		return ok
	case CondOverallRiskKnown:
		return in.Summary.Overall != domain.RiskUnknown
	case CondHighRiskMitigated:
		// Only meaningful once something is approved; an empty posture
		// trivially has no unmitigated findings but the task should wait.
		return in.Summary.Approved > 0 && in.Summary.UnmitigatedHigh == 0
	default:
		return false
	}
}

func checkDef(def TaskDef) error {
	return ValidateCatalog([]TaskDef{def})
}

// BlockingTasks returns the pending tasks that gate a transition into
// target, in stable key order. A task gates the move when its definition
// names target explicitly or requires the task at the target stage.
func BlockingTasks(defs []TaskDef, tasks []domain.GovernanceTask, regulation, target string) []domain.GovernanceTask {
	byKey := map[string]TaskDef{}
	for _, d := range defs {
		byKey[d.Key] = d
	}
	var blocked []domain.GovernanceTask
	for _, t := range tasks {
		if t.Status != domain.TaskPending {
			continue
		}
		def, ok := byKey[t.Key]
		if !ok {
			continue
		}
		if def.AppliesTo(regulation) && def.Gates(target) {
			blocked = append(blocked, t)
		}
	}
	return blocked
}
