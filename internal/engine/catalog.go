package engine

import (
	"fmt"

	"regline/internal/domain"
)

// Condition is the closed set of auto-completion conditions a task
// definition can carry. Malformed catalogs are rejected at startup rather
// than silently skipped while serving.
type Condition int

const (
	// CondManual tasks complete only through an explicit completion call.
	CondManual Condition = iota
	// CondAccountableAssigned completes when the system has an
	// accountable person.
	CondAccountableAssigned
	// CondCategoryApproved completes when an approved assessment exists
	// for the definition's category.
	CondCategoryApproved
	// CondOverallRiskKnown completes when at least one assessment is
	// approved, i.e. the aggregate risk is no longer unknown.
	CondOverallRiskKnown
	// CondHighRiskMitigated completes when no approved high-risk
	// assessment is left with mitigation not started.
	CondHighRiskMitigated
)

func (c Condition) String() string {
	switch c {
	case CondManual:
		return "manual"
	case CondAccountableAssigned:
		return "accountable_assigned"
	case CondCategoryApproved:
		return "category_approved"
	case CondOverallRiskKnown:
		return "overall_risk_known"
	case CondHighRiskMitigated:
		return "high_risk_mitigated"
	default:
		return "unknown"
	}
}

// TaskDef is one canonical governance task definition, keyed by regulation
// family, lifecycle stage and condition.
type TaskDef struct {
	Key   string
	Title string
	// Regulations restricts the definition to the listed families.
	// Empty means all families.
	Regulations []string
	// Stages are the lifecycle stages at which the task is required.
	Stages []string
	// GateFor are the target stages whose entry a pending instance of
	// this task blocks during a transition check.
	GateFor []string
	Condition Condition
	// Category qualifies CondCategoryApproved.
	Category string
}

// AppliesTo reports whether the definition applies to a regulation family.
func (d TaskDef) AppliesTo(regulation string) bool {
	if len(d.Regulations) == 0 {
		return true
	}
	for _, r := range d.Regulations {
		if r == regulation {
			return true
		}
	}
	return false
}

// RequiredAt reports whether the task is required at the given stage.
func (d TaskDef) RequiredAt(stage string) bool {
	for _, s := range d.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// Gates reports whether a pending instance blocks entry into target.
func (d TaskDef) Gates(target string) bool {
	for _, s := range d.GateFor {
		if s == target {
			return true
		}
	}
	return d.RequiredAt(target)
}

// Catalog returns the built-in canonical task definitions. The table is
// read-only and process-wide; ValidateCatalog runs against it at startup.
func Catalog() []TaskDef {
	return builtinCatalog
}

var builtinCatalog = []TaskDef{
	{
		Key:       "register.documentation",
		Title:     "Attach system registration documentation",
		Stages:    []string{domain.StageDraft},
		GateFor:   []string{domain.StageDevelopment},
		Condition: CondManual,
	},
	{
		Key:       "governance.accountable-person",
		Title:     "Assign an accountable person",
		Stages:    []string{domain.StageDraft, domain.StageDevelopment},
		GateFor:   []string{domain.StageTesting, domain.StageDeployed},
		Condition: CondAccountableAssigned,
	},
	{
		Key:         "assessment.bias",
		Title:       "Complete and approve the bias risk assessment",
		Regulations: []string{domain.RegulationEU, domain.RegulationUK},
		Stages:      []string{domain.StageTesting},
		GateFor:     []string{domain.StageDeployed},
		Condition:   CondCategoryApproved,
		Category:    domain.CategoryBias,
	},
	{
		Key:         "assessment.robustness",
		Title:       "Complete and approve the robustness risk assessment",
		Regulations: []string{domain.RegulationEU, domain.RegulationMAS},
		Stages:      []string{domain.StageTesting},
		GateFor:     []string{domain.StageDeployed},
		Condition:   CondCategoryApproved,
		Category:    domain.CategoryRobustness,
	},
	{
		Key:       "assessment.privacy",
		Title:     "Complete and approve the privacy risk assessment",
		Stages:    []string{domain.StageTesting},
		GateFor:   []string{domain.StageDeployed},
		Condition: CondCategoryApproved,
		Category:  domain.CategoryPrivacy,
	},
	{
		Key:         "assessment.explainability",
		Title:       "Complete and approve the explainability risk assessment",
		Regulations: []string{domain.RegulationEU},
		Stages:      []string{domain.StageTesting},
		GateFor:     []string{domain.StageDeployed},
		Condition:   CondCategoryApproved,
		Category:    domain.CategoryExplainability,
	},
	{
		Key:       "risk.overall-determined",
		Title:     "Determine the overall risk level",
		Stages:    []string{domain.StageTesting},
		GateFor:   []string{domain.StageDeployed},
		Condition: CondOverallRiskKnown,
	},
	{
		Key:       "risk.high-mitigation",
		Title:     "Start mitigation for approved high-risk findings",
		Stages:    []string{domain.StageDeployed},
		GateFor:   []string{domain.StageMonitoring},
		Condition: CondHighRiskMitigated,
	},
	{
		Key:         "monitoring.plan",
		Title:       "File the post-deployment monitoring plan",
		Regulations: []string{domain.RegulationEU, domain.RegulationMAS},
		Stages:      []string{domain.StageDeployed},
		GateFor:     []string{domain.StageMonitoring},
		Condition:   CondManual,
	},
	{
		Key:       "retirement.plan",
		Title:     "File the decommissioning plan",
		Stages:    []string{domain.StageMonitoring},
		GateFor:   []string{domain.StageRetired},
		Condition: CondManual,
	},
}

// ValidateCatalog checks the definition table before the engine serves
// traffic: unique keys, known stages, regulations and conditions, and a
// category exactly where the condition needs one.
func ValidateCatalog(defs []TaskDef) error {
	knownRegulation := map[string]bool{}
	for _, r := range domain.Regulations {
		knownRegulation[r] = true
	}
	knownCategory := map[string]bool{}
	for _, c := range domain.Categories {
		knownCategory[c] = true
	}
	seen := map[string]bool{}
	for _, d := range defs {
		if d.Key == "" {
			return fmt.Errorf("task definition with empty key")
		}
		if seen[d.Key] {
			return fmt.Errorf("duplicate task definition key %s", d.Key)
		}
		seen[d.Key] = true
		if d.Title == "" {
			return fmt.Errorf("task definition %s: empty title", d.Key)
		}
		if len(d.Stages) == 0 {
			return fmt.Errorf("task definition %s: no stages", d.Key)
		}
		for _, s := range d.Stages {
			if domain.StageIndex(s) < 0 {
				return fmt.Errorf("task definition %s: unknown stage %s", d.Key, s)
			}
		}
		for _, s := range d.GateFor {
			if domain.StageIndex(s) < 0 {
				return fmt.Errorf("task definition %s: unknown gate stage %s", d.Key, s)
			}
		}
		for _, r := range d.Regulations {
			if !knownRegulation[r] {
				return fmt.Errorf("task definition %s: unknown regulation %s", d.Key, r)
			}
		}
		switch d.Condition {
		case CondManual, CondAccountableAssigned, CondOverallRiskKnown, CondHighRiskMitigated:
			if d.Category != "" {
				return fmt.Errorf("task definition %s: category set without category condition", d.Key)
			}
		case CondCategoryApproved:
			if !knownCategory[d.Category] {
				return fmt.Errorf("task definition %s: unknown category %q", d.Key, d.Category)
			}
		default:
			return fmt.Errorf("task definition %s: unknown condition %d", d.Key, d.Condition)
		}
	}
	return nil
}
