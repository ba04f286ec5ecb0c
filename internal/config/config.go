package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"regline/internal/domain"
)

// Config models regline.yml.
type Config struct {
	Policy   PolicyConfig    `yaml:"policy"`
	Review   ReviewConfig    `yaml:"review"`
	Server   ServerConfig    `yaml:"server"`
	Sweep    SweepConfig     `yaml:"sweep"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// PolicyConfig drives the default lifecycle transition policy.
type PolicyConfig struct {
	Families map[string]FamilyRules `yaml:"families"`
}

// FamilyRules are the per-regulation-family transition rules.
type FamilyRules struct {
	// AllowSkip permits forward moves of more than one stage.
	AllowSkip bool `yaml:"allow_skip"`
	// RequireAccountableAt is the first stage whose entry requires an
	// accountable person on the system. Empty disables the rule.
	RequireAccountableAt string `yaml:"require_accountable_at"`
	// MaxDeployRisk is the highest overall risk level accepted when
	// entering the deployed stage. Empty disables the rule.
	MaxDeployRisk string `yaml:"max_deploy_risk"`
}

type ReviewConfig struct {
	// AllowSelfReview permits a reviewer to approve or reject their own
	// submission. Off by default.
	AllowSelfReview bool `yaml:"allow_self_review"`
}

type ServerConfig struct {
	JWTSecret              string `yaml:"jwt_secret"`
	AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
}

type SweepConfig struct {
	// Schedule is a cron expression for the compensating task
	// re-evaluation sweep. Empty disables the sweep.
	Schedule string `yaml:"schedule"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Policy.Families) == 0 {
		return fmt.Errorf("config.policy.families is required")
	}
	known := map[string]bool{}
	for _, f := range domain.Regulations {
		known[f] = true
	}
	for family, rules := range c.Policy.Families {
		if !known[family] {
			return fmt.Errorf("config.policy.families: unknown regulation family %s", family)
		}
		if rules.RequireAccountableAt != "" && domain.StageIndex(rules.RequireAccountableAt) < 0 {
			return fmt.Errorf("family %s: unknown stage %s in require_accountable_at", family, rules.RequireAccountableAt)
		}
		switch rules.MaxDeployRisk {
		case "", domain.RiskLow, domain.RiskMedium, domain.RiskHigh:
		default:
			return fmt.Errorf("family %s: invalid max_deploy_risk %s", family, rules.MaxDeployRisk)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d]: url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d]: timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// Rules returns the transition rules for a regulation family, falling back
// to the strictest defaults for an unconfigured family.
func (c *Config) Rules(family string) FamilyRules {
	if rules, ok := c.Policy.Families[family]; ok {
		return rules
	}
	return FamilyRules{
		RequireAccountableAt: domain.StageDeployed,
		MaxDeployRisk:        domain.RiskMedium,
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "regline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// DefaultYAML returns the default config template as bytes.
func DefaultYAML() ([]byte, error) {
	return []byte(defaultTemplate), nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `policy:
  families:
    EU:
      allow_skip: false
      require_accountable_at: testing
      max_deploy_risk: medium
    UK:
      allow_skip: false
      require_accountable_at: deployed
      max_deploy_risk: medium
    MAS:
      allow_skip: false
      require_accountable_at: deployed
      max_deploy_risk: high

review:
  allow_self_review: false

server:
  jwt_secret: ""
  allow_legacy_actor_header: true

sweep:
  schedule: "@every 5m"
`
