package server

import (
	"regline/internal/domain"
	"regline/internal/engine"
)

type RegisterSystemRequest struct {
	TenantID          string  `json:"tenant_id" example:"acme"`
	Name              string  `json:"name" example:"fraud-scoring"`
	Regulation        string  `json:"regulation" enum:"EU,UK,MAS"`
	RiskTier          string  `json:"risk_tier,omitempty"`
	AccountablePerson *string `json:"accountable_person,omitempty"`
}

type UpdateSystemRequest struct {
	Name              *string `json:"name,omitempty"`
	RiskTier          *string `json:"risk_tier,omitempty"`
	AccountablePerson *string `json:"accountable_person,omitempty"`
}

type TransitionRequest struct {
	ToStage string `json:"to_stage" enum:"draft,development,testing,deployed,monitoring,retired"`
	Reason  string `json:"reason,omitempty"`
}

type TransitionResponse struct {
	System   domain.System `json:"system"`
	Warnings []string      `json:"warnings,omitempty"`
	NoOp     bool          `json:"no_op,omitempty"`
}

type CreateAssessmentRequest struct {
	Category      string   `json:"category" enum:"bias,robustness,privacy,explainability"`
	RiskLevel     string   `json:"risk_level" enum:"low,medium,high"`
	Summary       string   `json:"summary,omitempty"`
	EvidenceLinks []string `json:"evidence_links,omitempty"`
}

type EditAssessmentRequest struct {
	RiskLevel     *string   `json:"risk_level,omitempty" enum:"low,medium,high"`
	Summary       *string   `json:"summary,omitempty"`
	EvidenceLinks *[]string `json:"evidence_links,omitempty"`
}

type ReviewRequest struct {
	Comment string `json:"comment,omitempty"`
}

type MitigationRequest struct {
	MitigationStatus string `json:"mitigation_status" enum:"not_started,in_progress,mitigated"`
}

type CompleteTaskRequest struct {
	EvidenceLink *string `json:"evidence_link,omitempty"`
}

type HoldRequest struct {
	Reason string `json:"reason"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyCreatedResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	// Key is the raw secret, returned exactly once.
	Key       string `json:"key"`
	CreatedAt string `json:"created_at"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}

type RiskSummaryResponse struct {
	SystemID string             `json:"system_id"`
	Summary  engine.RiskSummary `json:"summary"`
}
