package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"regline/internal/domain"
	"regline/internal/engine"
	"regline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"transition_blocked"`
	Message string         `json:"message" example:"transition blocked by open governance tasks: assessment.bias"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Regline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request validation is a caller error.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", promhttp.Handler())
	hcfg := huma.DefaultConfig("Regline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSystems(group, cfg.Engine)
	registerTransitions(group, cfg.Engine)
	registerAssessments(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerHolds(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors to the HTTP envelope. Each typed engine
// error has a stable code so clients can branch without parsing messages.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	var fe engine.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var ise engine.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{
			"entity":  ise.Entity,
			"current": ise.Current,
		})
	}
	var me engine.MissingEvidenceError
	if errors.As(err, &me) {
		return newAPIError(http.StatusUnprocessableEntity, "missing_evidence", err.Error(), map[string]any{
			"assessment_id": me.AssessmentID,
		})
	}
	var tbe engine.TransitionBlockedError
	if errors.As(err, &tbe) {
		keys := make([]string, 0, len(tbe.Tasks))
		for _, t := range tbe.Tasks {
			keys = append(keys, t.Key)
		}
		return newAPIError(http.StatusConflict, "transition_blocked", err.Error(), map[string]any{
			"blocking_tasks": keys,
		})
	}
	var tne engine.TransitionNotAllowedError
	if errors.As(err, &tne) {
		details := map[string]any{}
		if len(tne.Warnings) > 0 {
			details["warnings"] = tne.Warnings
		}
		return newAPIError(http.StatusUnprocessableEntity, "transition_not_allowed", err.Error(), details)
	}
	var ge engine.GovernanceBlockedError
	if errors.As(err, &ge) {
		return newAPIError(http.StatusConflict, "blocked_by_governance", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	// Unclassified errors come from storage or bugs. Callers get a bare
	// envelope; the detail stays in the server log.
	slog.Error("unhandled api error", "err", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Regline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSystems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-system",
		Method:        http.MethodPost,
		Path:          "/systems",
		Summary:       "Register system",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterSystemRequest `json:"body"`
	}) (*struct {
		Body domain.System `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sys, err := e.RegisterSystem(ctx, actorID, engine.RegisterSystemInput{
			TenantID:          input.Body.TenantID,
			Name:              input.Body.Name,
			Regulation:        input.Body.Regulation,
			RiskTier:          input.Body.RiskTier,
			AccountablePerson: input.Body.AccountablePerson,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.System `json:"body"`
		}{Body: sys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-systems",
		Method:      http.MethodGet,
		Path:        "/systems",
		Summary:     "List systems",
	}, func(ctx context.Context, input *struct {
		TenantID   string `query:"tenant_id"`
		Stage      string `query:"stage"`
		Regulation string `query:"regulation"`
	}) (*struct {
		Body []domain.System `json:"body"`
	}, error) {
		items, err := e.ListSystems(ctx, repo.SystemFilters{
			TenantID:   input.TenantID,
			Stage:      input.Stage,
			Regulation: input.Regulation,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.System{}
		}
		return &struct {
			Body []domain.System `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-system",
		Method:      http.MethodGet,
		Path:        "/systems/{system_id}",
		Summary:     "Get system",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SystemID string `path:"system_id"`
	}) (*struct {
		Body domain.System `json:"body"`
	}, error) {
		sys, err := e.GetSystem(ctx, input.SystemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.System `json:"body"`
		}{Body: sys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-system",
		Method:      http.MethodPatch,
		Path:        "/systems/{system_id}",
		Summary:     "Update system metadata",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SystemID string              `path:"system_id"`
		Body     UpdateSystemRequest `json:"body"`
		RawBody  []byte
	}) (*struct {
		Body domain.System `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var raw map[string]json.RawMessage
		_ = json.Unmarshal(input.RawBody, &raw)
		_, accountableProvided := raw["accountable_person"]
		sys, err := e.UpdateSystem(ctx, actorID, input.SystemID, engine.UpdateSystemInput{
			Name:                input.Body.Name,
			RiskTier:            input.Body.RiskTier,
			AccountablePerson:   input.Body.AccountablePerson,
			AccountableProvided: accountableProvided,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.System `json:"body"`
		}{Body: sys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "system-history",
		Method:      http.MethodGet,
		Path:        "/systems/{system_id}/history",
		Summary:     "Lifecycle history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SystemID string `path:"system_id"`
	}) (*struct {
		Body []domain.LifecycleHistory `json:"body"`
	}, error) {
		items, err := e.History(ctx, input.SystemID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.LifecycleHistory{}
		}
		return &struct {
			Body []domain.LifecycleHistory `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "system-risk",
		Method:      http.MethodGet,
		Path:        "/systems/{system_id}/risk",
		Summary:     "Aggregated risk posture",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SystemID string `path:"system_id"`
	}) (*struct {
		Body RiskSummaryResponse `json:"body"`
	}, error) {
		summary, err := e.RiskSummaryFor(ctx, input.SystemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RiskSummaryResponse `json:"body"`
		}{Body: RiskSummaryResponse{SystemID: input.SystemID, Summary: summary}}, nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "request-transition",
		Method:      http.MethodPost,
		Path:        "/systems/{system_id}/transition",
		Summary:     "Request lifecycle transition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		SystemID string            `path:"system_id"`
		Body     TransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RequestTransition(ctx, actorID, input.SystemID, input.Body.ToStage, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{System: res.System, Warnings: res.Warnings, NoOp: res.NoOp}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reevaluate-tasks",
		Method:      http.MethodPost,
		Path:        "/systems/{system_id}/reevaluate",
		Summary:     "Re-evaluate governance tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SystemID string `path:"system_id"`
	}) (*struct {
		Body []domain.GovernanceTask `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ReevaluateTasks(ctx, actorID, input.SystemID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.ListTasks(ctx, repo.TaskFilters{SystemID: input.SystemID})
		if err != nil {
			return nil, handleError(err)
		}
		if tasks == nil {
			tasks = []domain.GovernanceTask{}
		}
		return &struct {
			Body []domain.GovernanceTask `json:"body"`
		}{Body: tasks}, nil
	})
}

func registerAssessments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-assessment",
		Method:        http.MethodPost,
		Path:          "/systems/{system_id}/assessments",
		Summary:       "Create risk assessment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SystemID string                  `path:"system_id"`
		Body     CreateAssessmentRequest `json:"body"`
	}) (*struct {
		Body domain.RiskAssessment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAssessment(ctx, actorID, engine.CreateAssessmentInput{
			SystemID:      input.SystemID,
			Category:      input.Body.Category,
			RiskLevel:     input.Body.RiskLevel,
			Summary:       input.Body.Summary,
			EvidenceLinks: input.Body.EvidenceLinks,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RiskAssessment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assessments",
		Method:      http.MethodGet,
		Path:        "/systems/{system_id}/assessments",
		Summary:     "List risk assessments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SystemID string `path:"system_id"`
		Status   string `query:"status"`
		Category string `query:"category"`
	}) (*struct {
		Body []domain.RiskAssessment `json:"body"`
	}, error) {
		items, err := e.ListAssessments(ctx, repo.AssessmentFilters{
			SystemID: input.SystemID,
			Status:   input.Status,
			Category: input.Category,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.RiskAssessment{}
		}
		return &struct {
			Body []domain.RiskAssessment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assessment",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}",
		Summary:     "Get risk assessment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body domain.RiskAssessment `json:"body"`
	}, error) {
		a, err := e.GetAssessment(ctx, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RiskAssessment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-assessment",
		Method:      http.MethodPatch,
		Path:        "/assessments/{assessment_id}",
		Summary:     "Edit draft assessment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		AssessmentID string                `path:"assessment_id"`
		Body         EditAssessmentRequest `json:"body"`
	}) (*struct {
		Body domain.RiskAssessment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.EditAssessment(ctx, actorID, input.AssessmentID, engine.EditAssessmentInput{
			RiskLevel:     input.Body.RiskLevel,
			Summary:       input.Body.Summary,
			EvidenceLinks: input.Body.EvidenceLinks,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RiskAssessment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-assessment",
		Method:      http.MethodPost,
		Path:        "/assessments/{assessment_id}/submit",
		Summary:     "Submit assessment for review",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		AssessmentID string `path:"assessment_id"`
	}) (*struct {
		Body domain.RiskAssessment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SubmitAssessment(ctx, actorID, input.AssessmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RiskAssessment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-assessment",
		Method:      http.MethodPost,
		Path:        "/assessments/{assessment_id}/approve",
		Summary:     "Approve assessment",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		AssessmentID string        `path:"assessment_id"`
		Body         ReviewRequest `json:"body"`
	}) (*struct {
		Body domain.RiskAssessment `json:"body"`
	}, error) {
		if err := requireRole(ctx, "reviewer"); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ApproveAssessment(ctx, actorID, input.AssessmentID, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RiskAssessment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-assessment",
		Method:      http.MethodPost,
		Path:        "/assessments/{assessment_id}/reject",
		Summary:     "Reject assessment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		AssessmentID string        `path:"assessment_id"`
		Body         ReviewRequest `json:"body"`
	}) (*struct {
		Body domain.RiskAssessment `json:"body"`
	}, error) {
		if err := requireRole(ctx, "reviewer"); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RejectAssessment(ctx, actorID, input.AssessmentID, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RiskAssessment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-mitigation",
		Method:      http.MethodPost,
		Path:        "/assessments/{assessment_id}/mitigation",
		Summary:     "Update mitigation status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		AssessmentID string            `path:"assessment_id"`
		Body         MitigationRequest `json:"body"`
	}) (*struct {
		Body domain.RiskAssessment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SetMitigation(ctx, actorID, input.AssessmentID, input.Body.MitigationStatus)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RiskAssessment `json:"body"`
		}{Body: a}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/systems/{system_id}/tasks",
		Summary:     "List governance tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SystemID     string `path:"system_id"`
		Status       string `query:"status"`
		BlockingOnly bool   `query:"blocking_only"`
	}) (*struct {
		Body []domain.GovernanceTask `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, repo.TaskFilters{
			SystemID:     input.SystemID,
			Status:       input.Status,
			BlockingOnly: input.BlockingOnly,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.GovernanceTask{}
		}
		return &struct {
			Body []domain.GovernanceTask `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Complete governance task",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body domain.GovernanceTask `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CompleteTask(ctx, actorID, input.TaskID, input.Body.EvidenceLink)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GovernanceTask `json:"body"`
		}{Body: t}, nil
	})
}

func registerHolds(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "place-hold",
		Method:      http.MethodPut,
		Path:        "/systems/{system_id}/hold",
		Summary:     "Place governance hold",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SystemID string      `path:"system_id"`
		Body     HoldRequest `json:"body"`
	}) (*struct {
		Body domain.GovernanceHold `json:"body"`
	}, error) {
		if err := requireRole(ctx, "admin"); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.PlaceHold(ctx, actorID, input.SystemID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GovernanceHold `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-hold",
		Method:      http.MethodGet,
		Path:        "/systems/{system_id}/hold",
		Summary:     "Get governance hold",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SystemID string `path:"system_id"`
	}) (*struct {
		Body domain.GovernanceHold `json:"body"`
	}, error) {
		h, err := e.Hold(ctx, input.SystemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GovernanceHold `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-hold",
		Method:      http.MethodDelete,
		Path:        "/systems/{system_id}/hold",
		Summary:     "Release governance hold",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SystemID string `path:"system_id"`
	}) (*struct{}, error) {
		if err := requireRole(ctx, "admin"); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ReleaseHold(ctx, actorID, input.SystemID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		SystemID string `query:"system_id"`
		Limit    int    `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.ListEvents(ctx, input.SystemID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-apikey",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyCreatedResponse `json:"body"`
	}, error) {
		if err := requireRole(ctx, "admin"); err != nil {
			return nil, err
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		created, raw, err := e.CreateAPIKey(ctx, input.Body.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreatedResponse `json:"body"`
		}{Body: APIKeyCreatedResponse{
			ID:        created.ID,
			ActorID:   created.ActorID,
			Name:      created.Name,
			Key:       raw,
			CreatedAt: created.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-apikeys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if err := requireRole(ctx, "admin"); err != nil {
			return nil, err
		}
		keys, err := e.Repo.ListAPIKeys(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []APIKeyResponse{}
		for _, k := range keys {
			res = append(res, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-apikey",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := requireRole(ctx, "admin"); err != nil {
			return nil, err
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
