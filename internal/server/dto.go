package server

import (
	"decisionlog/internal/domain"
	"decisionlog/internal/engine"
)

// Request payloads

type parseDecisionInput struct {
	RawBody []byte `contentType:"text/plain" required:"false"`
}

// logDecisionInput takes the raw body so client ids of any JSON type are
// accepted; the documented schema is patched in by registerOpenAPI.
type logDecisionInput struct {
	RawBody []byte `contentType:"application/json" required:"false"`
}

// Response payloads

type MessageResponse struct {
	Message string `json:"message" example:"API is working!"`
}

type LogDecisionResponse struct {
	Success bool                `json:"success"`
	Relay   *engine.RelayResult `json:"relay,omitempty" doc:"Present only when a webhook is configured"`
}

type OCRResponse struct {
	Text string `json:"text"`
}

type candidateOutput struct {
	Body domain.Candidate
}

type logDecisionOutput struct {
	Body LogDecisionResponse
}

type decisionsOutput struct {
	Body []domain.Record
}

type messageOutput struct {
	Body MessageResponse
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
