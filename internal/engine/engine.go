package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"decisionlog/internal/domain"
	"decisionlog/internal/logging"
	"decisionlog/internal/metrics"
	"decisionlog/internal/repo"
)

// TextExtractor turns natural language into a candidate.
type TextExtractor interface {
	Extract(ctx context.Context, text string) (domain.Candidate, error)
}

// ImageReader returns the text content of an image.
type ImageReader interface {
	ImageToText(ctx context.Context, image []byte) (string, error)
}

// Relayer forwards logged records.
type Relayer interface {
	Enabled() bool
	Send(ctx context.Context, rec domain.Record) error
}

// Engine runs the server side of the pipeline: extraction, OCR and the
// persistence gateway.
type Engine struct {
	Extractor TextExtractor
	Vision    ImageReader
	Repo      repo.Repository
	Relay     Relayer
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) log() *zap.Logger { return logging.OrNop(e.Logger) }

func (e Engine) fail(err error) error {
	e.Metrics.Failure(string(domain.KindOf(err)))
	return err
}

var (
	errMissingText  = domain.Fail(domain.ValidationFailure, "Missing text", nil)
	errMissingImage = domain.Fail(domain.ValidationFailure, "No image uploaded", nil)
)

// Parse extracts a candidate from text. Blank text is rejected without
// calling the extractor.
func (e Engine) Parse(ctx context.Context, text string) (domain.Candidate, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Candidate{}, e.fail(errMissingText)
	}
	start := e.now()
	c, err := e.Extractor.Extract(ctx, text)
	e.Metrics.ModelCall("extract", e.now().Sub(start))
	if err != nil {
		return domain.Candidate{}, e.fail(err)
	}
	if c.Owners == nil {
		c.Owners = []string{}
	}
	return c, nil
}

// ImageToText reads the text out of an image.
func (e Engine) ImageToText(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", e.fail(errMissingImage)
	}
	start := e.now()
	text, err := e.Vision.ImageToText(ctx, image)
	e.Metrics.ModelCall("ocr", e.now().Sub(start))
	if err != nil {
		return "", e.fail(err)
	}
	return text, nil
}

// RelayResult reports the outcome of forwarding a stored record.
type RelayResult struct {
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// LogResult is returned by LogDecision. Relay is nil when no webhook is configured.
type LogResult struct {
	Record domain.Record
	Relay  *RelayResult
}

// LogDecision stores rec and then relays it. The record is stamped with a
// server creation time, and given an id when it has none. Relay is best-effort:
// once the append succeeds, a relay failure is reported in the result and
// never as an error.
func (e Engine) LogDecision(ctx context.Context, rec domain.Record) (LogResult, error) {
	if strings.TrimSpace(rec.Title) == "" {
		return LogResult{}, e.fail(domain.ErrTitleRequired)
	}
	if rec.ID == "" {
		rec.ID = e.newID()
	}
	if rec.Owners == nil {
		rec.Owners = []string{}
	}
	rec.Created = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.Append(ctx, rec); err != nil {
		e.log().Error("append decision failed", zap.String("id", rec.ID), zap.Error(err))
		return LogResult{}, e.fail(domain.Fail(domain.PersistenceFailure, "Failed to log decision", err))
	}
	e.Metrics.DecisionLogged()
	e.log().Info("decision logged", zap.String("id", rec.ID))

	res := LogResult{Record: rec}
	if e.Relay == nil || !e.Relay.Enabled() {
		return res, nil
	}
	res.Relay = &RelayResult{Delivered: true}
	if err := e.Relay.Send(ctx, rec); err != nil {
		fields := []zap.Field{zap.String("id", rec.ID), zap.Error(err)}
		if h, ok := e.Relay.(interface{ Host() string }); ok {
			fields = append(fields, zap.String("webhook", h.Host()))
		}
		e.log().Warn("relay failed", fields...)
		res.Relay = &RelayResult{Error: err.Error()}
	}
	e.Metrics.Relay(res.Relay.Delivered)
	return res, nil
}

// ListDecisions returns history newest first.
func (e Engine) ListDecisions(ctx context.Context) ([]domain.Record, error) {
	records, err := e.Repo.List(ctx)
	if err != nil {
		e.log().Error("list decisions failed", zap.Error(err))
		return nil, e.fail(domain.Fail(domain.PersistenceFailure, "Failed to load decisions", err))
	}
	return NewestFirst(records), nil
}

// NewestFirst returns a reversed copy of records.
func NewestFirst(records []domain.Record) []domain.Record {
	out := make([]domain.Record, len(records))
	for i, r := range records {
		out[len(records)-1-i] = r
	}
	return out
}
