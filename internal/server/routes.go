package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"decisionlog/internal/domain"
	"decisionlog/internal/engine"
)

const (
	opParse = "parse-decision"
	opLog   = "log-decision"
	opList  = "list-decisions"
	opTest  = "test"

	maxImageMemory = 10 << 20
)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: opTest,
		Method:      http.MethodGet,
		Path:        "/test",
		Summary:     "Liveness probe",
	}, func(ctx context.Context, _ *struct{}) (*messageOutput, error) {
		return &messageOutput{Body: MessageResponse{Message: "API is working!"}}, nil
	})
}

func registerParse(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: opParse,
		Method:      http.MethodPost,
		Path:        "/parse-decision",
		Summary:     "Extract a decision candidate from text",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *parseDecisionInput) (*candidateOutput, error) {
		text := string(input.RawBody)
		if strings.TrimSpace(text) == "" {
			return nil, newAPIError(http.StatusBadRequest, missingInput[opParse], nil)
		}
		c, err := e.Parse(ctx, text)
		if err != nil {
			return nil, handleError(err)
		}
		c.Owners = nonNilSlice(c.Owners)
		return &candidateOutput{Body: c}, nil
	})
}

func registerLog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: opLog,
		Method:      http.MethodPost,
		Path:        "/log-decision",
		Summary:     "Store a confirmed decision and relay it",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *logDecisionInput) (*logDecisionOutput, error) {
		if len(bytes.TrimSpace(input.RawBody)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, missingInput[opLog], nil)
		}
		rec, err := domain.ParseRecord(input.RawBody)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, missingInput[opLog], nil)
		}
		res, err := e.LogDecision(ctx, rec)
		if err != nil {
			return nil, handleError(err)
		}
		return &logDecisionOutput{Body: LogDecisionResponse{Success: true, Relay: res.Relay}}, nil
	})
}

func registerList(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: opList,
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "List decisions, newest first",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*decisionsOutput, error) {
		records, err := e.ListDecisions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range records {
			records[i].Owners = nonNilSlice(records[i].Owners)
		}
		return &decisionsOutput{Body: nonNilSlice(records)}, nil
	})
}

// registerOCR serves the multipart upload route. The image is read from the
// "image" field and sent to the vision adapter as-is.
func registerOCR(r chi.Router, e engine.Engine, log *zap.Logger) {
	r.Post(basePath+"/ocr", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxImageMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			log.Debug("parse multipart form", zap.Error(err))
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			writeError(w, newAPIError(http.StatusBadRequest, "No image uploaded", nil))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil || len(data) == 0 {
			writeError(w, newAPIError(http.StatusBadRequest, "No image uploaded", nil))
			return
		}
		text, err := e.ImageToText(r.Context(), data)
		if err != nil {
			writeError(w, handleError(err))
			return
		}
		writeJSON(w, http.StatusOK, OCRResponse{Text: text})
	})
}
