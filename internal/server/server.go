package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"plenario/internal/domain"
	"plenario/internal/engine"
	"plenario/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"terminal_stage"`
	Message string         `json:"message" example:"stage is terminal; tramitação cannot advance"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Plenário API.
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
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newRateLimitMiddleware(basePath, cfg.Engine))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Plenário API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerChamber(group, cfg.Engine)
	registerFlows(group, cfg.Engine)
	registerPropositions(group, cfg.Engine)
	registerTramitacoes(group, cfg.Engine)
	registerLegislators(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerAgendas(group, cfg.Engine)
	registerVoting(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startNotificationDispatcher(cfg.Engine)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var list *engine.ErrorList
	if errors.As(err, &list) {
		items := make([]map[string]any, 0, len(list.Errors))
		for _, e := range list.Errors {
			items = append(items, map[string]any{
				"code":    strings.ToLower(e.Code),
				"message": e.Message,
				"details": e.Details,
			})
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", list.Error(), map[string]any{"errors": items})
	}
	var de *engine.Error
	if errors.As(err, &de) {
		code := strings.ToLower(de.Code)
		switch de.Kind {
		case engine.KindValidation:
			return newAPIError(http.StatusBadRequest, code, de.Message, de.Details)
		case engine.KindNotFound:
			return newAPIError(http.StatusNotFound, code, de.Message, de.Details)
		case engine.KindState:
			return newAPIError(http.StatusUnprocessableEntity, code, de.Message, de.Details)
		case engine.KindConflict:
			return newAPIError(http.StatusConflict, code, de.Message, de.Details)
		}
		return newAPIError(http.StatusInternalServerError, code, de.Message, de.Details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Plenário API Docs</title>
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

func registerChamber(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-chamber",
		Method:      http.MethodGet,
		Path:        "/chamber",
		Summary:     "Chamber info",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ChamberResponse `json:"body"`
	}, error) {
		name, seats, err := e.Repo.GetChamber(ctx, e.Config.Chamber.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChamberResponse `json:"body"`
		}{Body: ChamberResponse{ID: e.Config.Chamber.ID, Name: name, Seats: seats}}, nil
	})
}

func registerFlows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-flow",
		Method:        http.MethodPost,
		Path:          "/flows",
		Summary:       "Create flow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateFlowRequest `json:"body"`
	}) (*struct {
		Body FlowResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stages := make([]engine.StageInput, 0, len(input.Body.Stages))
		for _, st := range input.Body.Stages {
			stages = append(stages, st.toInput())
		}
		f, err := e.CreateFlow(ctx, input.Body.Category, input.Body.Name, stages, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return flowWithStages(ctx, e, f)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-flows",
		Method:      http.MethodGet,
		Path:        "/flows",
		Summary:     "List flows",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.FlowDefinition `json:"body"`
	}, error) {
		flows, err := e.Repo.ListFlows(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if flows == nil {
			flows = []domain.FlowDefinition{}
		}
		return &struct {
			Body []domain.FlowDefinition `json:"body"`
		}{Body: flows}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-flow",
		Method:      http.MethodGet,
		Path:        "/flows/{category}",
		Summary:     "Get flow by category",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Category string `path:"category"`
	}) (*struct {
		Body FlowResponse `json:"body"`
	}, error) {
		f, err := e.FlowForCategory(ctx, input.Category)
		if err != nil {
			return nil, handleError(err)
		}
		return flowWithStages(ctx, e, f)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "seed-flows",
		Method:        http.MethodPost,
		Path:          "/flows/seed",
		Summary:       "Seed default flows from config",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		created, err := e.SeedDefaultFlows(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if created == nil {
			created = []string{}
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"created": created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-stage",
		Method:        http.MethodPost,
		Path:          "/flows/{flow_id}/stages",
		Summary:       "Add stage to flow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		FlowID string            `path:"flow_id"`
		Body   StageInputRequest `json:"body"`
	}) (*struct {
		Body domain.Stage `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddStage(ctx, input.FlowID, input.Body.toInput(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stage `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-stages",
		Method:      http.MethodPut,
		Path:        "/flows/{flow_id}/stages/order",
		Summary:     "Reorder flow stages",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		FlowID string `path:"flow_id"`
		Body   struct {
			StageIDs []string `json:"stage_ids"`
		} `json:"body"`
	}) (*struct {
		Body []domain.Stage `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stages, err := e.ReorderStages(ctx, input.FlowID, input.Body.StageIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Stage `json:"body"`
		}{Body: stages}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-stage",
		Method:      http.MethodPatch,
		Path:        "/stages/{id}",
		Summary:     "Update stage",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body StageInputRequest `json:"body"`
	}) (*struct {
		Body domain.Stage `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateStage(ctx, input.ID, input.Body.toInput(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stage `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-stage",
		Method:      http.MethodDelete,
		Path:        "/stages/{id}",
		Summary:     "Remove stage",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveStage(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func flowWithStages(ctx context.Context, e engine.Engine, f domain.FlowDefinition) (*struct {
	Body FlowResponse `json:"body"`
}, error) {
	stages, err := e.Repo.ListStages(ctx, f.ID)
	if err != nil {
		return nil, handleError(err)
	}
	if stages == nil {
		stages = []domain.Stage{}
	}
	return &struct {
		Body FlowResponse `json:"body"`
	}{Body: FlowResponse{FlowDefinition: f, Stages: stages}}, nil
}

func registerPropositions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-proposition",
		Method:        http.MethodPost,
		Path:          "/propositions",
		Summary:       "Register proposition",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePropositionRequest `json:"body"`
	}) (*struct {
		Body domain.Proposition `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProposition(ctx, engine.PropositionCreateOptions{
			ChamberID:   e.Config.Chamber.ID,
			Category:    input.Body.Category,
			Number:      input.Body.Number,
			Title:       input.Body.Title,
			Summary:     input.Body.Summary,
			Attributes:  input.Body.Attributes,
			Regime:      input.Body.Regime,
			PresentedAt: input.Body.PresentedAt,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proposition `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-propositions",
		Method:      http.MethodGet,
		Path:        "/propositions",
		Summary:     "List propositions",
	}, func(ctx context.Context, input *struct {
		Category string `query:"category"`
		Status   string `query:"status"`
		Regime   string `query:"regime"`
		Limit    int    `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Proposition `json:"body"`
	}, error) {
		props, err := e.Repo.ListPropositions(ctx, repo.PropositionFilters{
			ChamberID: e.Config.Chamber.ID,
			Category:  input.Category,
			Status:    input.Status,
			Regime:    input.Regime,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if props == nil {
			props = []domain.Proposition{}
		}
		return &struct {
			Body []domain.Proposition `json:"body"`
		}{Body: props}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-proposition",
		Method:      http.MethodGet,
		Path:        "/propositions/{id}",
		Summary:     "Get proposition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Proposition `json:"body"`
	}, error) {
		p, err := e.Repo.GetProposition(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proposition `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-eligibility",
		Method:      http.MethodGet,
		Path:        "/propositions/{id}/eligibility",
		Summary:     "Agenda eligibility",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.EligibilityResult `json:"body"`
	}, error) {
		res, err := e.CheckEligibility(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.EligibilityResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerTramitacoes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-tramitacao",
		Method:        http.MethodPost,
		Path:          "/propositions/{id}/tramitacao",
		Summary:       "Start tramitação",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Tramitacao `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.StartTramitacao(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tramitacao `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tramitacao",
		Method:      http.MethodGet,
		Path:        "/tramitacoes/{id}",
		Summary:     "Tramitação with history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TramitacaoResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTramitacao(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		passages, err := e.Repo.ListStagePassages(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if passages == nil {
			passages = []domain.StagePassage{}
		}
		return &struct {
			Body TramitacaoResponse `json:"body"`
		}{Body: TramitacaoResponse{Tramitacao: t, Passages: passages}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-tramitacao",
		Method:      http.MethodPost,
		Path:        "/tramitacoes/{id}/advance",
		Summary:     "Advance tramitação to the next stage",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body AdvanceRequest `json:"body"`
	}) (*struct {
		Body domain.Tramitacao `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AdvanceTramitacao(ctx, input.ID, engine.AdvanceOptions{
			Opinion:         input.Body.Opinion,
			ExpectedStageID: input.Body.ExpectedStageID,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tramitacao `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-tramitacao",
		Method:      http.MethodPost,
		Path:        "/tramitacoes/{id}/cancel",
		Summary:     "Cancel tramitação",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Reason string `json:"reason,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Tramitacao `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CancelTramitacao(ctx, input.ID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tramitacao `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-regime",
		Method:      http.MethodPost,
		Path:        "/tramitacoes/{id}/regime",
		Summary:     "Change urgency regime",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Regime string `json:"regime" enum:"normal,priority,urgency,extreme_urgency"`
		} `json:"body"`
	}) (*struct {
		Body domain.Tramitacao `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ChangeRegime(ctx, input.ID, input.Body.Regime, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tramitacao `json:"body"`
		}{Body: t}, nil
	})
}

func registerLegislators(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-legislator",
		Method:        http.MethodPost,
		Path:          "/legislators",
		Summary:       "Register legislator",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name  string `json:"name"`
			Party string `json:"party,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Legislator `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.CreateLegislator(ctx, e.Config.Chamber.ID, input.Body.Name, input.Body.Party, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Legislator `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-legislators",
		Method:      http.MethodGet,
		Path:        "/legislators",
		Summary:     "List active legislators",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Legislator `json:"body"`
	}, error) {
		legs, err := e.Repo.ListActiveLegislators(ctx, e.Config.Chamber.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if legs == nil {
			legs = []domain.Legislator{}
		}
		return &struct {
			Body []domain.Legislator `json:"body"`
		}{Body: legs}, nil
	})
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Schedule session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateSessionRequest `json:"body"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSession(ctx, e.Config.Chamber.ID, input.Body.Number, input.Body.Type, input.Body.ScheduledAt, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Session `json:"body"`
	}, error) {
		sessions, err := e.Repo.ListSessions(ctx, e.Config.Chamber.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if sessions == nil {
			sessions = []domain.Session{}
		}
		return &struct {
			Body []domain.Session `json:"body"`
		}{Body: sessions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		s, err := e.Repo.GetSession(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-session",
		Method:      http.MethodPatch,
		Path:        "/sessions/{id}/status",
		Summary:     "Transition session lifecycle",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Status string `json:"status" enum:"in_progress,concluded,cancelled"`
		} `json:"body"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.TransitionSession(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-presence",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/presence",
		Summary:     "Record legislator presence",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body RecordPresenceRequest `json:"body"`
	}) (*struct {
		Body domain.PresenceRecord `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.RecordPresence(ctx, input.ID, input.Body.LegislatorID, input.Body.Present, input.Body.Justification, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PresenceRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-presence",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/presence",
		Summary:     "Presence records",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.PresenceRecord `json:"body"`
	}, error) {
		recs, err := e.Repo.ListPresence(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if recs == nil {
			recs = []domain.PresenceRecord{}
		}
		return &struct {
			Body []domain.PresenceRecord `json:"body"`
		}{Body: recs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-minutes",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/minutes",
		Summary:     "Compose session minutes",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body MinutesResponse `json:"body"`
	}, error) {
		text, err := e.ComposeMinutes(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MinutesResponse `json:"body"`
		}{Body: MinutesResponse{SessionID: input.ID, Text: text}}, nil
	})
}

func registerAgendas(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "generate-agenda",
		Method:        http.MethodPost,
		Path:          "/sessions/{id}/agenda/generate",
		Summary:       "Generate session agenda",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body GenerateAgendaRequest `json:"body"`
	}) (*struct {
		Body domain.SessionAgenda `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		agenda, err := e.GenerateAgenda(ctx, input.ID, engine.GenerateOptions{
			MaxItems:              input.Body.MaxItems,
			MaxMinutes:            input.Body.MaxMinutes,
			IncludeExpiringVetoes: input.Body.IncludeExpiringVetoes,
			IncludeUrgencies:      input.Body.IncludeUrgencies,
			AllowedCategories:     input.Body.AllowedCategories,
			ExcludedCategories:    input.Body.ExcludedCategories,
			ActorID:               actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SessionAgenda `json:"body"`
		}{Body: agenda}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agenda",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/agenda",
		Summary:     "Session agenda",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.SessionAgenda `json:"body"`
	}, error) {
		agenda, err := e.Repo.GetSessionAgenda(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SessionAgenda `json:"body"`
		}{Body: agenda}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-agenda",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/agenda/publish",
		Summary:     "Publish session agenda",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.SessionAgenda `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		agenda, err := e.PublishAgenda(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SessionAgenda `json:"body"`
		}{Body: agenda}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agenda-item",
		Method:      http.MethodPatch,
		Path:        "/agenda-items/{id}/status",
		Summary:     "Transition agenda item",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Status string `json:"status" enum:"in_discussion,postponed,withdrawn"`
		} `json:"body"`
	}) (*struct {
		Body domain.AgendaItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.UpdateAgendaItem(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AgendaItem `json:"body"`
		}{Body: it}, nil
	})
}

func registerVoting(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "open-voting",
		Method:      http.MethodPost,
		Path:        "/agenda-items/{id}/voting/open",
		Summary:     "Open nominal voting",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.AgendaItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.OpenVoting(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AgendaItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-vote",
		Method:      http.MethodPost,
		Path:        "/agenda-items/{id}/votes",
		Summary:     "Record a vote",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body RecordVoteRequest `json:"body"`
	}) (*struct {
		Body domain.Vote `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.RecordVote(ctx, input.ID, input.Body.LegislatorID, input.Body.Choice, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Vote `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tally",
		Method:      http.MethodGet,
		Path:        "/agenda-items/{id}/tally",
		Summary:     "Current vote tally",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.VoteTally `json:"body"`
	}, error) {
		tally, err := e.ComputeTally(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.VoteTally `json:"body"`
		}{Body: tally}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-voting",
		Method:      http.MethodPost,
		Path:        "/agenda-items/{id}/voting/close",
		Summary:     "Close voting and resolve the item",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.VoteTally `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tally, err := e.CloseVoting(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.VoteTally `json:"body"`
		}{Body: tally}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Cursor     int64  `query:"cursor"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		events, err := e.Repo.LatestEventsFrom(ctx, limit, input.Cursor, e.Config.Chamber.ID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if events == nil {
			events = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: events}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ActorID string `json:"actor_id"`
			Name    string `json:"name,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body APIKeyCreatedResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		k, secret, err := CreateAPIKey(ctx, e, input.Body.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreatedResponse `json:"body"`
		}{Body: APIKeyCreatedResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, Key: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		keys, err := e.Repo.ListAPIKeys(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range keys {
			keys[i].KeyHash = ""
		}
		if keys == nil {
			keys = []domain.APIKey{}
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
