package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"opsdesk/internal/agenda"
	"opsdesk/internal/config"
	"opsdesk/internal/engine"
	"opsdesk/internal/lock"
	"opsdesk/internal/pages"
	"opsdesk/internal/records"
	"opsdesk/internal/remote"
	"opsdesk/internal/repo"
	"opsdesk/internal/trending"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"lease_conflict"`
	Message string         `json:"message" example:"lease already held"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the desk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(accessLog(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Desk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", promhttp.Handler())
	registerDocs(router, basePath)
	registerHealth(group)
	registerAgendas(group, cfg.Engine)
	registerTrending(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerColleagues(group, cfg.Engine)
	registerPages(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// accessLog writes one structured line per request.
func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
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

// handleError maps domain errors onto the envelope. The message is always
// the underlying error text.
func handleError(err error) huma.StatusError {
	return handleErrorWith(err, nil)
}

func handleErrorWith(err error, details map[string]any) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	with := func(extra map[string]any) map[string]any {
		if len(details) == 0 {
			return extra
		}
		out := map[string]any{}
		for k, v := range extra {
			out[k] = v
		}
		for k, v := range details {
			out[k] = v
		}
		return out
	}
	var missing *records.MissingColumnError
	var badDate *records.DateError
	var tplErr *agenda.TemplateError
	var held *lock.HeldError
	var upstream *remote.APIError
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, config.ErrUnknownProfile):
		return newAPIError(http.StatusNotFound, "not_found", msg, with(nil))
	case errors.As(err, &held):
		return newAPIError(http.StatusConflict, "lease_conflict", msg, with(map[string]any{"key": held.Key, "owner_id": held.OwnerID, "expires_at": held.ExpiresAt}))
	case errors.Is(err, lock.ErrHeld):
		return newAPIError(http.StatusConflict, "lease_conflict", msg, with(nil))
	case errors.Is(err, engine.ErrNotConfigured), errors.Is(err, trending.ErrNoDataSource):
		return newAPIError(http.StatusServiceUnavailable, "not_configured", msg, with(nil))
	case errors.As(err, &missing):
		return newAPIError(http.StatusUnprocessableEntity, "missing_columns", msg, with(map[string]any{"data_source_id": missing.DataSourceID, "columns": missing.Columns}))
	case errors.As(err, &badDate):
		return newAPIError(http.StatusUnprocessableEntity, "malformed_date", msg, with(map[string]any{"record_id": badDate.RecordID, "column": badDate.Column, "value": badDate.Value}))
	case errors.Is(err, pages.ErrNoValidBlocks):
		return newAPIError(http.StatusUnprocessableEntity, "no_valid_blocks", msg, with(nil))
	case errors.As(err, &tplErr):
		return newAPIError(http.StatusInternalServerError, "template_error", msg, with(map[string]any{"source": tplErr.Source}))
	case errors.As(err, &upstream):
		return newAPIError(http.StatusBadGateway, "upstream_error", msg, with(map[string]any{"service": upstream.Service, "status": upstream.StatusCode}))
	case errors.Is(err, agenda.ErrDispatchAborted):
		return newAPIError(http.StatusBadGateway, "dispatch_aborted", msg, with(nil))
	}
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, with(nil))
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", msg, with(nil))
	}
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

// registerOpenAPI serves the document huma builds, decorated once with the
// error envelope and bearer security.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var once sync.Once
	var spec []byte
	r.Get(path.Join("/", basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateOpenAPI(oas, openPaths(basePath))
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		io.Copy(w, bytes.NewReader(spec))
	})
}

func decorateOpenAPI(oas *huma.OpenAPI, open map[string]bool) {
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	errorResponse := &huma.Response{
		Description: "Error",
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
		},
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = errorResponse
			if open[route] {
				op.Security = []map[string][]string{}
			} else {
				op.Security = security
			}
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
    <title>Desk API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; (see desk token).
    </p>
  </body>
</html>`, specURL)
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

// body wraps a response payload for huma.
type body[T any] struct {
	Body T
}

func reply[T any](v T) *body[T] {
	return &body[T]{Body: v}
}
