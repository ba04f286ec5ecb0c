package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"regline/internal/config"
	"regline/internal/db"
	"regline/internal/domain"
	"regline/internal/engine"
	"regline/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	DB     *sql.DB
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		DB:     conn,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func signToken(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Roles:            roles,
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func parseErrorBody(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error
}

func registerSystem(t *testing.T, srv *testServer, headers map[string]string) domain.System {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/systems", map[string]any{
		"tenant_id":  "acme",
		"name":       "fraud-scoring",
		"regulation": "EU",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register system: %d %s", res.StatusCode, string(data))
	}
	var sys domain.System
	if err := json.Unmarshal(data, &sys); err != nil {
		t.Fatalf("unmarshal system: %v", err)
	}
	return sys
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/systems", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if body := parseErrorBody(t, data); body.Code != "unauthorized" {
		t.Fatalf("expected code unauthorized, got %s", body.Code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must be open: %d %s", res.StatusCode, string(data))
	}
}

func TestInvalidBearerToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/systems", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if body := parseErrorBody(t, data); body.Code != "invalid_credentials" {
		t.Fatalf("expected code invalid_credentials, got %s", body.Code)
	}
}

func TestTransitionBlockedEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	sys := registerSystem(t, srv, asActor("alice"))

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/systems/"+sys.ID+"/transition", map[string]any{
		"to_stage": "development",
	}, asActor("alice"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	body := parseErrorBody(t, data)
	if body.Code != "transition_blocked" {
		t.Fatalf("expected code transition_blocked, got %s", body.Code)
	}
	blocking, ok := body.Details["blocking_tasks"].([]any)
	if !ok || len(blocking) == 0 {
		t.Fatalf("expected blocking_tasks in details, got %+v", body.Details)
	}
}

func TestValidationEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/systems", map[string]any{
		"tenant_id":  "acme",
		"name":       "fraud-scoring",
		"regulation": "US",
	}, asActor("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	if body := parseErrorBody(t, data); body.Code != "bad_request" {
		t.Fatalf("expected code bad_request, got %s", body.Code)
	}
}

func TestReviewRequiresReviewerRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	sys := registerSystem(t, srv, asActor("alice"))

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/systems/"+sys.ID+"/assessments", map[string]any{
		"category":   "bias",
		"risk_level": "low",
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create assessment: %d %s", res.StatusCode, string(data))
	}
	var a domain.RiskAssessment
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("unmarshal assessment: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assessments/"+a.ID+"/submit", map[string]any{}, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}

	// A JWT principal without the reviewer role is refused.
	noRole := map[string]string{"Authorization": "Bearer " + signToken(t, "carol")}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assessments/"+a.ID+"/approve", map[string]any{}, noRole)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without reviewer role, got %d %s", res.StatusCode, string(data))
	}

	reviewer := map[string]string{"Authorization": "Bearer " + signToken(t, "bob", "reviewer")}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assessments/"+a.ID+"/approve", map[string]any{}, reviewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var approved domain.RiskAssessment
	if err := json.Unmarshal(data, &approved); err != nil {
		t.Fatalf("unmarshal approved: %v", err)
	}
	if approved.Status != domain.AssessmentApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
	if approved.ReviewerID == nil || *approved.ReviewerID != "bob" {
		t.Fatalf("expected reviewer bob, got %+v", approved.ReviewerID)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	_, raw, err := srv.Engine.CreateAPIKey(context.Background(), "svc-ingest", "ingest")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}

	sys := registerSystem(t, srv, map[string]string{"X-Api-Key": raw})
	if sys.ID == "" {
		t.Fatalf("expected a system id")
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/systems", nil, map[string]string{"X-Api-Key": "rgl_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad key, got %d %s", res.StatusCode, string(data))
	}
}

func TestSystemRiskEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	sys := registerSystem(t, srv, asActor("alice"))

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/systems/"+sys.ID+"/risk", nil, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("risk: %d %s", res.StatusCode, string(data))
	}
	var body RiskSummaryResponse
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal risk: %v", err)
	}
	if body.Summary.Overall != domain.RiskUnknown {
		t.Fatalf("expected unknown overall risk, got %s", body.Summary.Overall)
	}
}

func TestInternalErrorEnvelopeHidesDetail(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	// A closed database makes every repo call fail with a storage error.
	srv.DB.Close()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/systems", nil, asActor("alice"))
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d %s", res.StatusCode, string(data))
	}
	body := parseErrorBody(t, data)
	if body.Code != "internal_error" {
		t.Fatalf("expected code internal_error, got %s", body.Code)
	}
	if body.Message != "internal error" {
		t.Fatalf("storage detail must not reach the caller, got %q", body.Message)
	}
	if len(body.Details) != 0 {
		t.Fatalf("expected no details, got %+v", body.Details)
	}
}
