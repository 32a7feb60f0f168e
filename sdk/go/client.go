package decisionlogsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"decisionlog/internal/domain"
)

// Client is a minimal Decision Log HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. Extraction calls can take a while,
// so the default timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 90 * time.Second,
	}
}

type (
	Candidate = domain.Candidate
	Record    = domain.Record
)

// RelayResult reports webhook delivery for a logged decision.
type RelayResult struct {
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// LogResult is the response of LogDecision.
type LogResult struct {
	Success bool         `json:"success"`
	Relay   *RelayResult `json:"relay,omitempty"`
}

// APIError is returned for non-2xx responses. Message is the server's error
// field, or a default for the call when the server sent none.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return e.Message
}

// Ping calls the liveness probe.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	err := c.do(ctx, http.MethodGet, "api/test", "", nil, &resp, "API is not reachable")
	return resp.Message, err
}

// ParseDecision extracts a candidate from free text.
func (c *Client) ParseDecision(ctx context.Context, text string) (Candidate, error) {
	var resp Candidate
	err := c.do(ctx, http.MethodPost, "api/parse-decision", "text/plain", strings.NewReader(text), &resp, "Failed to parse decision")
	return resp, err
}

// LogDecision stores a confirmed record.
func (c *Client) LogDecision(ctx context.Context, rec Record) (LogResult, error) {
	if rec.Owners == nil {
		rec.Owners = []string{}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(rec); err != nil {
		return LogResult{}, err
	}
	var resp LogResult
	err := c.do(ctx, http.MethodPost, "api/log-decision", "application/json", &buf, &resp, "Failed to log decision")
	return resp, err
}

// OCR uploads an image and returns its text.
func (c *Client) OCR(ctx context.Context, filename string, image []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(image); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	var resp struct {
		Text string `json:"text"`
	}
	err = c.do(ctx, http.MethodPost, "api/ocr", w.FormDataContentType(), &buf, &resp, "Failed to process image")
	return resp.Text, err
}

// Decisions lists history, newest first.
func (c *Client) Decisions(ctx context.Context) ([]Record, error) {
	var resp []Record
	err := c.do(ctx, http.MethodGet, "api/decisions", "", nil, &resp, "Failed to fetch decisions")
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any, defaultMsg string) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", defaultMsg, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: defaultMsg, Body: string(b)}
		var env struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil && env.Error != "" {
			apiErr.Message = env.Error
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
