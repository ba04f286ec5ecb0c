package domain

// Lifecycle stages for a registered AI system, in intended order of
// progression. The transition policy decides which moves are legal.
const (
	StageDraft       = "draft"
	StageDevelopment = "development"
	StageTesting     = "testing"
	StageDeployed    = "deployed"
	StageMonitoring  = "monitoring"
	StageRetired     = "retired"
)

// Stages lists all lifecycle stages in progression order.
var Stages = []string{StageDraft, StageDevelopment, StageTesting, StageDeployed, StageMonitoring, StageRetired}

// StageIndex returns the position of a stage in the progression order,
// or -1 for an unknown stage.
func StageIndex(stage string) int {
	for i, s := range Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// Regulation families supported by the task catalog.
const (
	RegulationEU  = "EU"
	RegulationUK  = "UK"
	RegulationMAS = "MAS"
)

var Regulations = []string{RegulationEU, RegulationUK, RegulationMAS}

// Risk assessment categories.
const (
	CategoryBias           = "bias"
	CategoryRobustness     = "robustness"
	CategoryPrivacy        = "privacy"
	CategoryExplainability = "explainability"
)

var Categories = []string{CategoryBias, CategoryRobustness, CategoryPrivacy, CategoryExplainability}

// Risk levels, plus the aggregate-only "unknown".
const (
	RiskLow     = "low"
	RiskMedium  = "medium"
	RiskHigh    = "high"
	RiskUnknown = "unknown"
)

// Assessment workflow statuses. draft and submitted are the only states a
// transition can leave; approved and rejected are terminal.
const (
	AssessmentDraft     = "draft"
	AssessmentSubmitted = "submitted"
	AssessmentApproved  = "approved"
	AssessmentRejected  = "rejected"
)

// Mitigation statuses, orthogonal to workflow status.
const (
	MitigationNotStarted = "not_started"
	MitigationInProgress = "in_progress"
	MitigationMitigated  = "mitigated"
)

// Governance task statuses. A completed task never reopens.
const (
	TaskPending   = "pending"
	TaskCompleted = "completed"
)

type System struct {
	ID                string  `json:"id"`
	TenantID          string  `json:"tenant_id"`
	Name              string  `json:"name"`
	Regulation        string  `json:"regulation" enum:"EU,UK,MAS"`
	LifecycleStage    string  `json:"lifecycle_stage" enum:"draft,development,testing,deployed,monitoring,retired"`
	RiskTier          string  `json:"risk_tier,omitempty"`
	AccountablePerson *string `json:"accountable_person,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

type RiskAssessment struct {
	ID               string   `json:"id"`
	SystemID         string   `json:"system_id"`
	Category         string   `json:"category" enum:"bias,robustness,privacy,explainability"`
	RiskLevel        string   `json:"risk_level" enum:"low,medium,high"`
	Status           string   `json:"status" enum:"draft,submitted,approved,rejected"`
	MitigationStatus string   `json:"mitigation_status" enum:"not_started,in_progress,mitigated"`
	Summary          string   `json:"summary,omitempty"`
	EvidenceLinks    []string `json:"evidence_links,omitempty"`
	CreatorID        string   `json:"creator_id"`
	ReviewerID       *string  `json:"reviewer_id,omitempty"`
	ReviewComment    *string  `json:"review_comment,omitempty"`
	Version          int      `json:"version"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

type GovernanceTask struct {
	ID           string  `json:"id"`
	SystemID     string  `json:"system_id"`
	Key          string  `json:"key"`
	Title        string  `json:"title"`
	Status       string  `json:"status" enum:"pending,completed"`
	Blocking     bool    `json:"blocking"`
	EvidenceLink *string `json:"evidence_link,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
	CompletedAt  *string `json:"completed_at,omitempty" format:"date-time"`
}

// LifecycleHistory rows are append-only: exactly one per successful stage change.
type LifecycleHistory struct {
	ID        int64  `json:"id"`
	SystemID  string `json:"system_id"`
	FromStage string `json:"from_stage"`
	ToStage   string `json:"to_stage"`
	ActorID   string `json:"actor_id"`
	Reason    string `json:"reason,omitempty"`
	TS        string `json:"ts" format:"date-time"`
}

// GovernanceHold marks a system whose assessment approvals are blocked by
// the shadow-AI governance process.
type GovernanceHold struct {
	SystemID  string `json:"system_id"`
	Reason    string `json:"reason"`
	PlacedBy  string `json:"placed_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SystemID   string `json:"system_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
