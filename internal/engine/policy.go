package engine

import (
	"fmt"

	"regline/internal/config"
	"regline/internal/domain"
)

// PolicyDecision is the outcome of a transition policy check. A denied
// decision carries the reason; an allowed one may still carry warnings.
type PolicyDecision struct {
	Allowed  bool
	Reason   string
	Warnings []string
}

func allow(warnings ...string) PolicyDecision {
	return PolicyDecision{Allowed: true, Warnings: warnings}
}

func deny(format string, args ...any) PolicyDecision {
	return PolicyDecision{Reason: fmt.Sprintf(format, args...)}
}

// TransitionPolicy decides whether a system may move between two stages.
// It runs after the blocking-task gate, so open tasks never reach it.
type TransitionPolicy func(sys domain.System, summary RiskSummary, from, to string) PolicyDecision

// DefaultPolicy builds the stock transition policy from per-family config
// rules. Unconfigured families fall back to the strictest rules.
func DefaultPolicy(cfg *config.Config) TransitionPolicy {
	return func(sys domain.System, summary RiskSummary, from, to string) PolicyDecision {
		fromIdx := domain.StageIndex(from)
		toIdx := domain.StageIndex(to)
		if toIdx < 0 {
			return deny("unknown stage %s", to)
		}
		if from == domain.StageRetired {
			return deny("retired systems cannot change stage")
		}
		rules := cfg.Rules(sys.Regulation)

		var warnings []string
		switch {
		case toIdx == fromIdx:
			// No-op handled by the caller; allowing keeps the policy total.
		case toIdx < fromIdx:
			warnings = append(warnings, fmt.Sprintf("moving backward from %s to %s", from, to))
		case toIdx-fromIdx > 1 && !rules.AllowSkip:
			return deny("cannot skip from %s to %s for %s systems", from, to, sys.Regulation)
		}

		if rules.RequireAccountableAt != "" && toIdx >= domain.StageIndex(rules.RequireAccountableAt) {
			if sys.AccountablePerson == nil || *sys.AccountablePerson == "" {
				return deny("an accountable person is required before entering %s", to)
			}
		}

		if to == domain.StageDeployed {
			if summary.Overall == domain.RiskUnknown {
				warnings = append(warnings, "overall risk is unknown; no approved assessments")
			} else if rules.MaxDeployRisk != "" && riskRank(summary.Overall) > riskRank(rules.MaxDeployRisk) {
				return deny("overall risk %s exceeds the %s deployment ceiling %s", summary.Overall, sys.Regulation, rules.MaxDeployRisk)
			}
		}

		return allow(warnings...)
	}
}
