package reglinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Regline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// System represents a registered AI system.
type System struct {
	ID                string  `json:"id"`
	TenantID          string  `json:"tenant_id"`
	Name              string  `json:"name"`
	Regulation        string  `json:"regulation"`
	LifecycleStage    string  `json:"lifecycle_stage"`
	RiskTier          string  `json:"risk_tier,omitempty"`
	AccountablePerson *string `json:"accountable_person,omitempty"`
}

// Assessment represents a risk assessment record.
type Assessment struct {
	ID               string   `json:"id"`
	SystemID         string   `json:"system_id"`
	Category         string   `json:"category"`
	RiskLevel        string   `json:"risk_level"`
	Status           string   `json:"status"`
	MitigationStatus string   `json:"mitigation_status"`
	Summary          string   `json:"summary,omitempty"`
	EvidenceLinks    []string `json:"evidence_links,omitempty"`
}

// Task represents a governance task.
type Task struct {
	ID       string `json:"id"`
	SystemID string `json:"system_id"`
	Key      string `json:"key"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Blocking bool   `json:"blocking"`
}

// TransitionResult is the response of a transition request.
type TransitionResult struct {
	System   System   `json:"system"`
	Warnings []string `json:"warnings,omitempty"`
	NoOp     bool     `json:"no_op,omitempty"`
}

// RiskSummary aggregates a system's risk posture.
type RiskSummary struct {
	SystemID string `json:"system_id"`
	Summary  struct {
		Total           int    `json:"total"`
		Approved        int    `json:"approved"`
		Overall         string `json:"overall"`
		UnmitigatedHigh int    `json:"unmitigated_high"`
	} `json:"summary"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SystemID   string         `json:"system_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RegisterSystem registers a new system.
func (c *Client) RegisterSystem(ctx context.Context, tenantID, name, regulation string) (System, error) {
	body := map[string]any{
		"tenant_id":  tenantID,
		"name":       name,
		"regulation": regulation,
	}
	var resp System
	err := c.do(ctx, http.MethodPost, "v0/systems", body, &resp)
	return resp, err
}

// GetSystem fetches a system by id.
func (c *Client) GetSystem(ctx context.Context, id string) (System, error) {
	var resp System
	err := c.do(ctx, http.MethodGet, "v0/systems/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// RequestTransition asks for a lifecycle stage change.
func (c *Client) RequestTransition(ctx context.Context, systemID, toStage, reason string) (TransitionResult, error) {
	body := map[string]any{
		"to_stage": toStage,
		"reason":   reason,
	}
	var resp TransitionResult
	endpoint := fmt.Sprintf("v0/systems/%s/transition", url.PathEscape(systemID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Risk returns the aggregated risk posture of a system.
func (c *Client) Risk(ctx context.Context, systemID string) (RiskSummary, error) {
	var resp RiskSummary
	endpoint := fmt.Sprintf("v0/systems/%s/risk", url.PathEscape(systemID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateAssessment creates a draft assessment.
func (c *Client) CreateAssessment(ctx context.Context, systemID, category, riskLevel, summary string, evidence []string) (Assessment, error) {
	body := map[string]any{
		"category":       category,
		"risk_level":     riskLevel,
		"summary":        summary,
		"evidence_links": evidence,
	}
	var resp Assessment
	endpoint := fmt.Sprintf("v0/systems/%s/assessments", url.PathEscape(systemID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SubmitAssessment moves a draft into review.
func (c *Client) SubmitAssessment(ctx context.Context, id string) (Assessment, error) {
	var resp Assessment
	endpoint := fmt.Sprintf("v0/assessments/%s/submit", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// ApproveAssessment approves a submitted assessment.
func (c *Client) ApproveAssessment(ctx context.Context, id, comment string) (Assessment, error) {
	var resp Assessment
	endpoint := fmt.Sprintf("v0/assessments/%s/approve", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"comment": comment}, &resp)
	return resp, err
}

// RejectAssessment rejects a submitted assessment. Comment is required.
func (c *Client) RejectAssessment(ctx context.Context, id, comment string) (Assessment, error) {
	var resp Assessment
	endpoint := fmt.Sprintf("v0/assessments/%s/reject", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"comment": comment}, &resp)
	return resp, err
}

// Tasks lists a system's governance tasks.
func (c *Client) Tasks(ctx context.Context, systemID string) ([]Task, error) {
	var resp []Task
	endpoint := fmt.Sprintf("v0/systems/%s/tasks", url.PathEscape(systemID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteTask marks a governance task done.
func (c *Client) CompleteTask(ctx context.Context, taskID string, evidenceLink string) (Task, error) {
	body := map[string]any{}
	if evidenceLink != "" {
		body["evidence_link"] = evidenceLink
	}
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/complete", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, systemID string, limit int) ([]Event, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if systemID != "" {
		params.Set("system_id", systemID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
