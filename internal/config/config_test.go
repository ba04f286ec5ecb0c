package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"regline/internal/domain"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	for _, family := range domain.Regulations {
		if _, ok := cfg.Policy.Families[family]; !ok {
			t.Fatalf("default config missing family %s", family)
		}
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no families",
			yaml: "policy:\n  families: {}\n",
			want: "families is required",
		},
		{
			name: "unknown family",
			yaml: "policy:\n  families:\n    US:\n      allow_skip: true\n",
			want: "unknown regulation family",
		},
		{
			name: "bad accountable stage",
			yaml: "policy:\n  families:\n    EU:\n      require_accountable_at: launched\n",
			want: "unknown stage",
		},
		{
			name: "bad deploy risk",
			yaml: "policy:\n  families:\n    EU:\n      max_deploy_risk: extreme\n",
			want: "invalid max_deploy_risk",
		},
		{
			name: "webhook without url",
			yaml: "policy:\n  families:\n    EU: {}\nwebhooks:\n  - events: [system.stage_changed]\n",
			want: "url is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRulesFallbackIsStrict(t *testing.T) {
	cfg := &Config{Policy: PolicyConfig{Families: map[string]FamilyRules{
		domain.RegulationEU: {AllowSkip: true},
	}}}
	rules := cfg.Rules(domain.RegulationMAS)
	if rules.AllowSkip {
		t.Fatalf("fallback rules must not allow skips")
	}
	if rules.RequireAccountableAt != domain.StageDeployed {
		t.Fatalf("fallback must require an accountable person at deployed, got %q", rules.RequireAccountableAt)
	}
	if rules.MaxDeployRisk != domain.RiskMedium {
		t.Fatalf("fallback deploy ceiling must be medium, got %q", rules.MaxDeployRisk)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Policy.Families) == 0 {
		t.Fatalf("expected default families")
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "policy:\n  families:\n    UK:\n      allow_skip: true\n      max_deploy_risk: high\n"
	if err := os.WriteFile(filepath.Join(dir, "regline.yml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rules := cfg.Rules(domain.RegulationUK)
	if !rules.AllowSkip || rules.MaxDeployRisk != domain.RiskHigh {
		t.Fatalf("unexpected UK rules %+v", rules)
	}
}
