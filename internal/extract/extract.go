// Package extract turns free text and images into decision candidates using
// a generative model.
package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"decisionlog/internal/config"
	"decisionlog/internal/domain"
	"decisionlog/internal/llm"
	"decisionlog/internal/logging"
)

const (
	msgExtractionFailed = "AI parsing failed"
	msgVisionFailed     = "OCR failed"

	// ImageMIME is the content type attached to every image sent for OCR.
	ImageMIME = "image/jpeg"
)

const extractionPrompt = `Extract structured data from this input. Return JSON with:
- title (string)
- summary (1–2 sentence string)
- owners (array of names)
- due_date (ISO format if found)
- related_jira_key (string if present)

Input: %s`

const visionPrompt = "Extract only the raw text from this image. Don't add any descriptions, labels, or explanations. " +
	"Output the text exactly as it appears, maintaining only line breaks. No additional formatting or commentary."

var (
	jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

	ErrNoJSON = errors.New("model response contains no JSON object")
)

// caller applies the shared rate limit and per-call deadline.
type caller struct {
	gen     llm.Generator
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

func newCaller(gen llm.Generator, cfg config.ModelConfig, logger *zap.Logger) caller {
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return caller{
		gen:     gen,
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.Timeout(),
		logger:  logging.OrNop(logger),
	}
}

func (c caller) generate(ctx context.Context, parts ...llms.ContentPart) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.gen.GenerateContent(ctx, []llms.MessageContent{{
		Role:  llms.ChatMessageTypeHuman,
		Parts: parts,
	}})
	if err != nil {
		return "", err
	}
	return llm.Text(resp), nil
}

// Extractor converts natural language into a Candidate. It keeps no state
// between calls and never retries.
type Extractor struct {
	caller
}

// NewExtractor returns an Extractor. A nil gen makes every call fail without
// contacting a model.
func NewExtractor(gen llm.Generator, cfg config.ModelConfig, logger *zap.Logger) *Extractor {
	return &Extractor{caller: newCaller(gen, cfg, logger)}
}

// Prompt renders the instruction sent for text.
func Prompt(text string) string {
	return fmt.Sprintf(extractionPrompt, text)
}

// Extract asks the model for a candidate. Every failure is an ExtractionFailure.
func (x *Extractor) Extract(ctx context.Context, text string) (domain.Candidate, error) {
	if x.gen == nil {
		return domain.Candidate{}, domain.Fail(domain.ExtractionFailure, msgExtractionFailed, llm.ErrMissingAPIKey)
	}
	out, err := x.generate(ctx, llms.TextPart(Prompt(text)))
	if err != nil {
		x.logger.Warn("extraction call failed", zap.Error(err))
		return domain.Candidate{}, domain.Fail(domain.ExtractionFailure, msgExtractionFailed, err)
	}
	obj, err := CutJSON(out)
	if err != nil {
		x.logger.Warn("extraction response unusable", zap.Error(err), zap.Int("response_len", len(out)))
		return domain.Candidate{}, domain.Fail(domain.ExtractionFailure, msgExtractionFailed, err)
	}
	c, err := domain.ParseCandidate(obj)
	if err != nil {
		x.logger.Warn("extraction response unusable", zap.Error(err))
		return domain.Candidate{}, domain.Fail(domain.ExtractionFailure, msgExtractionFailed, err)
	}
	return c, nil
}

// CutJSON returns the span from the first "{" to the last "}" in s.
func CutJSON(s string) ([]byte, error) {
	m := jsonObject.FindString(s)
	if m == "" {
		return nil, ErrNoJSON
	}
	return []byte(m), nil
}

// Vision reads the text out of an image.
type Vision struct {
	caller
}

// NewVision returns a Vision adapter. A nil gen makes every call fail eagerly.
func NewVision(gen llm.Generator, cfg config.ModelConfig, logger *zap.Logger) *Vision {
	return &Vision{caller: newCaller(gen, cfg, logger)}
}

// ImageToText returns the verbatim text content of image. Every failure is a
// VisionFailure.
func (v *Vision) ImageToText(ctx context.Context, image []byte) (string, error) {
	if v.gen == nil {
		return "", domain.Fail(domain.VisionFailure, msgVisionFailed, llm.ErrMissingAPIKey)
	}
	out, err := v.generate(ctx, llms.TextPart(visionPrompt), llms.BinaryPart(ImageMIME, image))
	if err != nil {
		v.logger.Warn("vision call failed", zap.Error(err), zap.Int("image_bytes", len(image)))
		return "", domain.Fail(domain.VisionFailure, msgVisionFailed, err)
	}
	return out, nil
}
