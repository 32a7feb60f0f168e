package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"decisionlog/internal/domain"
	"decisionlog/internal/engine"
	"decisionlog/internal/logging"
	"decisionlog/internal/metrics"
)

const (
	basePath = "/api"

	// maxUploadBytes bounds request bodies, including image uploads.
	maxUploadBytes = 20 << 20
)

// Config for the HTTP API handler.
type Config struct {
	Engine         engine.Engine
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	AllowedOrigins []string
}

// apiError models the error envelope shared by every route.
type apiError struct {
	status  int
	Message string   `json:"error" example:"AI parsing failed"`
	Details []string `json:"details,omitempty"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// missingInput holds the message returned when an operation's body is absent.
var missingInput = map[string]string{
	opParse: "Missing text",
	opLog:   "Missing decision data",
}

// New returns an HTTP handler exposing the decision API.
func New(cfg Config) (http.Handler, error) {
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg, errorDetails(errs))
	}
	huma.NewErrorWithContext = func(hctx huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// request validation failures are reported as 400
			status = http.StatusBadRequest
		}
		details := errorDetails(errs)
		if status == http.StatusBadRequest && hctx != nil && hctx.Operation() != nil {
			if m, ok := missingInput[hctx.Operation().OperationID]; ok && mentionsMissingBody(msg, details) {
				return newAPIError(status, m, nil)
			}
		}
		return newAPIError(status, msg, details)
	}

	log := logging.OrNop(cfg.Logger)
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(logging.AccessLog(log))
	router.Use(instrument(cfg.Metrics))
	router.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
			if err != nil {
				writeError(w, newAPIError(http.StatusRequestEntityTooLarge, "Request body too large", nil))
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			next.ServeHTTP(w, r)
		})
	})

	hcfg := huma.DefaultConfig("Decision Log API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = "" // custom Swagger UI below
	hcfg.Transformers = nil
	hcfg.CreateHooks = nil // no $schema links in response bodies
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router)
	registerHealth(group)
	registerParse(group, cfg.Engine)
	registerLog(group, cfg.Engine)
	registerList(group, cfg.Engine)
	registerOCR(router, cfg.Engine, log)
	registerOpenAPI(router, api)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	return router, nil
}

func newAPIError(status int, message string, details []string) huma.StatusError {
	return &apiError{status: status, Message: message, Details: details}
}

func errorDetails(errs []error) []string {
	var out []string
	for _, err := range errs {
		if err != nil {
			out = append(out, err.Error())
		}
	}
	return out
}

func mentionsMissingBody(msg string, details []string) bool {
	for _, s := range append([]string{msg}, details...) {
		if strings.Contains(strings.ToLower(s), "body is required") {
			return true
		}
	}
	return false
}

// handleError maps pipeline failures onto the envelope. Validation failures
// are 400; every other kind is a 500 carrying the failure's short message.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var f *domain.Failure
	if errors.As(err, &f) {
		if f.Kind == domain.ValidationFailure {
			return newAPIError(http.StatusBadRequest, f.Msg, nil)
		}
		return newAPIError(http.StatusInternalServerError, f.Msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal error", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err huma.StatusError) {
	writeJSON(w, err.GetStatus(), err)
}

// instrument records request counts and latency by route pattern.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.Request(route, r.Method, status, time.Since(start))
		})
	}
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML("/openapi.json"))
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		oas := api.OpenAPI()
		ensureDefaultErrorResponses(oas)
		documentLogBody(oas)
		addOCROperation(oas)
		doc, err := json.Marshal(oas)
		if err != nil {
			writeError(w, newAPIError(http.StatusInternalServerError, "internal error", nil))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: errorSchema()},
				},
			}
		}
	}
}

// documentLogBody replaces the raw log-decision body with the Record schema.
func documentLogBody(oas *huma.OpenAPI) {
	if oas == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	item, ok := oas.Paths[basePath+"/log-decision"]
	if !ok || item.Post == nil {
		return
	}
	item.Post.RequestBody = &huma.RequestBody{
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: oas.Components.Schemas.Schema(reflect.TypeOf(domain.Record{}), true, "Record")},
		},
	}
}

func errorSchema() *huma.Schema {
	return &huma.Schema{
		Type:     "object",
		Required: []string{"error"},
		Properties: map[string]*huma.Schema{
			"error":   {Type: "string"},
			"details": {Type: "array", Items: &huma.Schema{Type: "string"}},
		},
	}
}

// addOCROperation documents the multipart upload route, which is served by
// chi directly.
func addOCROperation(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Paths == nil {
		oas.Paths = map[string]*huma.PathItem{}
	}
	oas.Paths[basePath+"/ocr"] = &huma.PathItem{
		Post: &huma.Operation{
			OperationID: "ocr",
			Summary:     "Extract text from an image",
			RequestBody: &huma.RequestBody{
				Required: true,
				Content: map[string]*huma.MediaType{
					"multipart/form-data": {Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"image"},
						Properties: map[string]*huma.Schema{
							"image": {Type: "string", Format: "binary"},
						},
					}},
				},
			},
			Responses: map[string]*huma.Response{
				"200": {
					Description: "OK",
					Content: map[string]*huma.MediaType{
						"application/json": {Schema: &huma.Schema{
							Type:       "object",
							Properties: map[string]*huma.Schema{"text": {Type: "string"}},
						}},
					},
				},
				"default": {
					Description: "Error",
					Content:     map[string]*huma.MediaType{"application/json": {Schema: errorSchema()}},
				},
			},
		},
	}
}

func swaggerHTML(specURL string) string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Decision Log API Docs</title>
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
  </body>
</html>`, specURL)
}
