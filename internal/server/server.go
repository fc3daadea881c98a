package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"waveline/internal/app"
	"waveline/internal/domain"
	"waveline/internal/engine"
	"waveline/internal/engine/auth"
	"waveline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"wave_active"`
	Message string         `json:"message" example:"a wave is already active"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Waveline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil || cfg.App.Orchestrator == nil {
		return nil, errors.New("server needs an opened app")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Roles == nil {
		svc := cfg.App.Auth
		cfg.Auth.Roles = &svc
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.App.Repo))
	hcfg := huma.DefaultConfig("Waveline API", "0.3.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	a := cfg.App
	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, a)
	registerWaves(group, a)
	registerCatalog(group, a)
	registerEntities(group, a)
	registerEvents(group, a)
	registerRuns(group, a)
	registerStream(router, basePath, a, cfg.Auth)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrNoMoreWaves):
		return newAPIError(http.StatusConflict, "no_more_waves", err.Error(), nil)
	case errors.Is(err, engine.ErrWaveActive):
		return newAPIError(http.StatusConflict, "wave_active", err.Error(), nil)
	case errors.Is(err, engine.ErrNoActiveWave):
		return newAPIError(http.StatusConflict, "no_active_wave", err.Error(), nil)
	case errors.Is(err, context.Canceled):
		return newAPIError(http.StatusServiceUnavailable, "canceled", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

func requirePermission(ctx context.Context, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	return auth.Require(principal.Permissions, perm)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	security := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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
    <title>Waveline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; (mint one with wavectl token) or X-Api-Key (wavectl apikey create).
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

func registerStatus(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Orchestrator status",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Status `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermWaveRead); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Status `json:"body"`
		}{Body: a.Orchestrator.Status()}, nil
	})
}

func registerWaves(api huma.API, a *app.App) {
	control := func(id, p, summary string, op func(context.Context) error) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        p,
			Summary:     summary,
			Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict},
		}, func(ctx context.Context, _ *struct{}) (*struct {
			Body WaveControlResponse `json:"body"`
		}, error) {
			if err := requirePermission(ctx, auth.PermWaveControl); err != nil {
				return nil, handleError(err)
			}
			if err := op(ctx); err != nil {
				a.Logger.Printf("%s: %v", id, err)
				return nil, handleError(err)
			}
			return &struct {
				Body WaveControlResponse `json:"body"`
			}{Body: WaveControlResponse{Status: a.Orchestrator.Status()}}, nil
		})
	}
	control("start-next-wave", "/waves/next", "Start the next wave", a.Orchestrator.StartNextWave)
	control("stop-wave", "/waves/stop", "Stop the active wave", a.Orchestrator.StopCurrentWave)
	control("reset-waves", "/waves/reset", "Rewind the catalogue to the first wave", a.Orchestrator.Reset)
}

func registerCatalog(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "get-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "Normalized wave catalogue",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CatalogResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermWaveRead); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CatalogResponse `json:"body"`
		}{Body: catalogResponse(a.Orchestrator.Catalog(), a.Orchestrator.Warnings())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-spawners",
		Method:      http.MethodGet,
		Path:        "/spawners",
		Summary:     "Spawner ring",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SpawnersResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermWaveRead); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SpawnersResponse `json:"body"`
		}{Body: SpawnersResponse{Items: a.Orchestrator.Spawners()}}, nil
	})
}

func registerEntities(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-entities",
		Method:      http.MethodGet,
		Path:        "/entities",
		Summary:     "Live entities of the current wave",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body EntitiesResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermWaveRead); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EntitiesResponse `json:"body"`
		}{Body: entitiesResponse(a.Orchestrator.LiveEntities(), a.World.Enemies())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-entity",
		Method:      http.MethodDelete,
		Path:        "/entities/{entity_id}",
		Summary:     "Report an entity as removed from play",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EntityID string `path:"entity_id"`
	}) (*struct {
		Body RemoveEntityResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermEntityRemove); err != nil {
			return nil, handleError(err)
		}
		h := domain.EntityHandle(strings.TrimSpace(input.EntityID))
		if !a.RemoveEntity(h) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "entity not alive", map[string]any{"entity_id": input.EntityID})
		}
		return &struct {
			Body RemoveEntityResponse `json:"body"`
		}{Body: RemoveEntityResponse{EntityID: string(h), LiveEnemyCount: a.Orchestrator.Status().LiveEnemyCount}}, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List journal events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		RunID  string `query:"run_id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermWaveRead); err != nil {
			return nil, handleError(err)
		}
		if a.DB == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "journal_disabled", "journal not opened", nil)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := a.Repo.LatestEvents(ctx, repo.EventFilters{Limit: limit + 1, Cursor: cursorID, Type: input.Type, RunID: input.RunID})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRuns(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "Wave run history",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*struct {
		Body RunsResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermWaveRead); err != nil {
			return nil, handleError(err)
		}
		if a.DB == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "journal_disabled", "journal not opened", nil)
		}
		runs, err := a.Repo.ListRuns(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunsResponse `json:"body"`
		}{Body: RunsResponse{Items: nonNilRuns(runs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "One wave run with its journal event counts",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunDetailResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermWaveRead); err != nil {
			return nil, handleError(err)
		}
		if a.DB == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "journal_disabled", "journal not opened", nil)
		}
		run, err := a.Repo.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := a.Repo.CountEventsByType(ctx, run.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunDetailResponse `json:"body"`
		}{Body: RunDetailResponse{WaveRun: run, EventCounts: counts}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
