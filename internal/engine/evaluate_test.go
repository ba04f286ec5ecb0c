package engine_test

import (
	"fmt"
	"strings"
	"testing"

	"regline/internal/config"
	"regline/internal/domain"
	"regline/internal/engine"
)

func approvedAssessment(category, level, mitigation string) domain.RiskAssessment {
	return domain.RiskAssessment{
		Category:         category,
		RiskLevel:        level,
		Status:           domain.AssessmentApproved,
		MitigationStatus: mitigation,
	}
}

func TestBuildRiskSummary(t *testing.T) {
	cases := []struct {
		name        string
		assessments []domain.RiskAssessment
		overall     string
		unmitigated int
	}{
		{
			name:    "no assessments",
			overall: domain.RiskUnknown,
		},
		{
			name: "nothing approved",
			assessments: []domain.RiskAssessment{
				{Category: domain.CategoryBias, RiskLevel: domain.RiskHigh, Status: domain.AssessmentSubmitted},
				{Category: domain.CategoryPrivacy, RiskLevel: domain.RiskHigh, Status: domain.AssessmentRejected},
			},
			overall: domain.RiskUnknown,
		},
		{
			name: "worst approved wins",
			assessments: []domain.RiskAssessment{
				approvedAssessment(domain.CategoryBias, domain.RiskLow, domain.MitigationNotStarted),
				approvedAssessment(domain.CategoryPrivacy, domain.RiskMedium, domain.MitigationNotStarted),
			},
			overall: domain.RiskMedium,
		},
		{
			name: "rejected high ignored",
			assessments: []domain.RiskAssessment{
				approvedAssessment(domain.CategoryBias, domain.RiskLow, domain.MitigationNotStarted),
				{Category: domain.CategoryPrivacy, RiskLevel: domain.RiskHigh, Status: domain.AssessmentRejected},
			},
			overall: domain.RiskLow,
		},
		{
			name: "unmitigated high counted",
			assessments: []domain.RiskAssessment{
				approvedAssessment(domain.CategoryBias, domain.RiskHigh, domain.MitigationNotStarted),
				approvedAssessment(domain.CategoryPrivacy, domain.RiskHigh, domain.MitigationInProgress),
			},
			overall:     domain.RiskHigh,
			unmitigated: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := engine.BuildRiskSummary(tc.assessments)
			if s.Overall != tc.overall {
				t.Fatalf("overall: expected %s, got %s", tc.overall, s.Overall)
			}
			if s.UnmitigatedHigh != tc.unmitigated {
				t.Fatalf("unmitigated high: expected %d, got %d", tc.unmitigated, s.UnmitigatedHigh)
			}
			if s.Total != len(tc.assessments) {
				t.Fatalf("total: expected %d, got %d", len(tc.assessments), s.Total)
			}
		})
	}
}

// applyPlan mirrors what the engine writes so the evaluator can be checked
// for idempotence without a database.
func applyPlan(plan engine.EvalPlan, tasks []domain.GovernanceTask) []domain.GovernanceTask {
	next := make([]domain.GovernanceTask, len(tasks))
	copy(next, tasks)
	done := "2024-01-01T00:00:00Z"
	for i, def := range plan.Create {
		next = append(next, domain.GovernanceTask{
			ID:       fmt.Sprintf("created-%d", i),
			Key:      def.Key,
			Title:    def.Title,
			Status:   domain.TaskPending,
			Blocking: true,
		})
	}
	for i, def := range plan.CreateCompleted {
		next = append(next, domain.GovernanceTask{
			ID:          fmt.Sprintf("created-done-%d", i),
			Key:         def.Key,
			Title:       def.Title,
			Status:      domain.TaskCompleted,
			Blocking:    true,
			CompletedAt: &done,
		})
	}
	completed := map[string]bool{}
	for _, id := range plan.Complete {
		completed[id] = true
	}
	for i := range next {
		if completed[next[i].ID] {
			next[i].Status = domain.TaskCompleted
			next[i].CompletedAt = &done
		}
		if blocking, ok := plan.Reflag[next[i].ID]; ok {
			next[i].Blocking = blocking
		}
	}
	return next
}

func TestEvaluateTasksIdempotent(t *testing.T) {
	owner := "owner@acme.example"
	in := engine.EvalInput{
		System: domain.System{
			ID:                "sys-1",
			Regulation:        domain.RegulationEU,
			LifecycleStage:    domain.StageTesting,
			AccountablePerson: &owner,
		},
		Summary: engine.BuildRiskSummary([]domain.RiskAssessment{
			approvedAssessment(domain.CategoryBias, domain.RiskLow, domain.MitigationNotStarted),
		}),
	}
	plan := engine.EvaluateTasks(engine.Catalog(), in, nil)
	if plan.Empty() {
		t.Fatalf("expected a non-empty plan for a fresh testing-stage system")
	}

	in.Tasks = applyPlan(plan, in.Tasks)
	second := engine.EvaluateTasks(engine.Catalog(), in, nil)
	if !second.Empty() {
		t.Fatalf("expected empty plan on re-evaluation, got %+v", second)
	}
}

func TestEvaluateTasksCompletedNeverReopens(t *testing.T) {
	in := engine.EvalInput{
		System: domain.System{
			ID:             "sys-1",
			Regulation:     domain.RegulationEU,
			LifecycleStage: domain.StageTesting,
		},
		Tasks: []domain.GovernanceTask{
			{ID: "t1", Key: "assessment.bias", Status: domain.TaskCompleted},
		},
	}
	plan := engine.EvaluateTasks(engine.Catalog(), in, nil)
	for _, id := range plan.Complete {
		if id == "t1" {
			t.Fatalf("completed task must not appear in the plan")
		}
	}
	if _, ok := plan.Reflag["t1"]; ok {
		t.Fatalf("completed task must not be reflagged")
	}
	for _, def := range plan.Create {
		if def.Key == "assessment.bias" {
			t.Fatalf("existing task must not be recreated")
		}
	}
}

func TestEvaluateTasksUnflagsOutOfStageTask(t *testing.T) {
	in := engine.EvalInput{
		System: domain.System{
			ID:             "sys-1",
			Regulation:     domain.RegulationEU,
			LifecycleStage: domain.StageDevelopment,
		},
		Tasks: []domain.GovernanceTask{
			// Required at draft only; the system has moved on without it.
			{ID: "t1", Key: "register.documentation", Status: domain.TaskPending, Blocking: true},
		},
	}
	plan := engine.EvaluateTasks(engine.Catalog(), in, nil)
	blocking, ok := plan.Reflag["t1"]
	if !ok || blocking {
		t.Fatalf("expected task unflagged at development, got %+v", plan.Reflag)
	}
}

func TestBlockingTasksGateTargetStage(t *testing.T) {
	tasks := []domain.GovernanceTask{
		{ID: "t1", Key: "governance.accountable-person", Status: domain.TaskPending},
		{ID: "t2", Key: "register.documentation", Status: domain.TaskCompleted},
	}
	blocked := engine.BlockingTasks(engine.Catalog(), tasks, domain.RegulationEU, domain.StageTesting)
	if len(blocked) != 1 || blocked[0].Key != "governance.accountable-person" {
		t.Fatalf("expected the accountable task to gate testing, got %+v", blocked)
	}
	blocked = engine.BlockingTasks(engine.Catalog(), tasks, domain.RegulationEU, domain.StageDevelopment)
	if len(blocked) != 0 {
		t.Fatalf("completed tasks must not gate, got %+v", blocked)
	}
}

func TestCanEditRiskAssessment(t *testing.T) {
	for _, stage := range domain.Stages {
		for _, status := range []string{domain.AssessmentDraft, domain.AssessmentSubmitted, domain.AssessmentApproved, domain.AssessmentRejected} {
			got := engine.CanEditRiskAssessment(stage, status)
			want := stage != domain.StageRetired && status == domain.AssessmentDraft
			if got != want {
				t.Fatalf("CanEditRiskAssessment(%s, %s) = %v, want %v", stage, status, got, want)
			}
		}
	}
}

func TestValidateCatalog(t *testing.T) {
	if err := engine.ValidateCatalog(engine.Catalog()); err != nil {
		t.Fatalf("builtin catalog must validate: %v", err)
	}

	cases := []struct {
		name string
		defs []engine.TaskDef
		want string
	}{
		{
			name: "empty key",
			defs: []engine.TaskDef{{Title: "x", Stages: []string{domain.StageDraft}}},
			want: "empty key",
		},
		{
			name: "duplicate key",
			defs: []engine.TaskDef{
				{Key: "a", Title: "x", Stages: []string{domain.StageDraft}},
				{Key: "a", Title: "y", Stages: []string{domain.StageDraft}},
			},
			want: "duplicate",
		},
		{
			name: "unknown stage",
			defs: []engine.TaskDef{{Key: "a", Title: "x", Stages: []string{"launched"}}},
			want: "unknown stage",
		},
		{
			name: "unknown regulation",
			defs: []engine.TaskDef{{Key: "a", Title: "x", Stages: []string{domain.StageDraft}, Regulations: []string{"US"}}},
			want: "unknown regulation",
		},
		{
			name: "category without category condition",
			defs: []engine.TaskDef{{Key: "a", Title: "x", Stages: []string{domain.StageDraft}, Category: domain.CategoryBias}},
			want: "category",
		},
		{
			name: "category condition without category",
			defs: []engine.TaskDef{{Key: "a", Title: "x", Stages: []string{domain.StageDraft}, Condition: engine.CondCategoryApproved}},
			want: "unknown category",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.ValidateCatalog(tc.defs)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	policy := engine.DefaultPolicy(config.Default())
	owner := "owner@acme.example"

	cases := []struct {
		name    string
		sys     domain.System
		summary engine.RiskSummary
		from    string
		to      string
		allowed bool
		warns   bool
	}{
		{
			name:    "forward step",
			sys:     domain.System{Regulation: domain.RegulationEU},
			from:    domain.StageDraft,
			to:      domain.StageDevelopment,
			allowed: true,
		},
		{
			name:    "skip denied",
			sys:     domain.System{Regulation: domain.RegulationEU, AccountablePerson: &owner},
			from:    domain.StageDraft,
			to:      domain.StageTesting,
			allowed: false,
		},
		{
			name:    "backward warns",
			sys:     domain.System{Regulation: domain.RegulationEU},
			from:    domain.StageDevelopment,
			to:      domain.StageDraft,
			allowed: true,
			warns:   true,
		},
		{
			name:    "retired terminal",
			sys:     domain.System{Regulation: domain.RegulationEU},
			from:    domain.StageRetired,
			to:      domain.StageMonitoring,
			allowed: false,
		},
		{
			name:    "accountable required",
			sys:     domain.System{Regulation: domain.RegulationEU},
			from:    domain.StageDevelopment,
			to:      domain.StageTesting,
			allowed: false,
		},
		{
			name:    "unknown risk warns at deploy for MAS",
			sys:     domain.System{Regulation: domain.RegulationMAS, AccountablePerson: &owner},
			summary: engine.RiskSummary{Overall: domain.RiskUnknown},
			from:    domain.StageTesting,
			to:      domain.StageDeployed,
			allowed: true,
			warns:   true,
		},
		{
			name:    "risk ceiling denied",
			sys:     domain.System{Regulation: domain.RegulationEU, AccountablePerson: &owner},
			summary: engine.RiskSummary{Overall: domain.RiskHigh, Approved: 1},
			from:    domain.StageTesting,
			to:      domain.StageDeployed,
			allowed: false,
		},
		{
			name:    "MAS accepts high risk",
			sys:     domain.System{Regulation: domain.RegulationMAS, AccountablePerson: &owner},
			summary: engine.RiskSummary{Overall: domain.RiskHigh, Approved: 1},
			from:    domain.StageTesting,
			to:      domain.StageDeployed,
			allowed: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := policy(tc.sys, tc.summary, tc.from, tc.to)
			if d.Allowed != tc.allowed {
				t.Fatalf("allowed = %v, want %v (reason %q)", d.Allowed, tc.allowed, d.Reason)
			}
			if tc.warns && len(d.Warnings) == 0 {
				t.Fatalf("expected warnings")
			}
		})
	}
}
