package capture

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decisionlog/internal/domain"
	"decisionlog/internal/engine"
	"decisionlog/internal/repo"
	"decisionlog/internal/server"
	decisionlogsdk "decisionlog/sdk/go"
)

type stubExtractor struct{ calls int }

func (s *stubExtractor) Extract(context.Context, string) (domain.Candidate, error) {
	s.calls++
	return domain.Candidate{Title: "Adopt Go", Owners: []string{"Ana"}}, nil
}

type stubVision struct{}

func (stubVision) ImageToText(context.Context, []byte) (string, error) { return "Adopt Go", nil }

func TestTextPipelineAgainstServer(t *testing.T) {
	ext := &stubExtractor{}
	handler, err := server.New(server.Config{Engine: engine.Engine{
		Extractor: ext,
		Vision:    stubVision{},
		Repo:      repo.NewMemoryStore(),
	}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := newTestFlow(nil)
	f.Backend = decisionlogsdk.New(srv.URL)

	tc := NewTextCapture(f)
	tc.SetText("we adopt Go, Ana owns it")
	_, err = tc.Submit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, ext.calls)

	res, err := f.Confirm(t.Context(), Edits{Owners: ptr("Ana, Bo")})
	require.NoError(t, err)
	assert.Nil(t, res.Relay)

	_, err = f.Confirm(t.Context(), Edits{})
	assert.ErrorIs(t, err, ErrNoCandidate)

	records, err := f.RefreshHistory(t.Context())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "dec-1", records[0].ID)
	assert.Equal(t, []string{"Ana", "Bo"}, records[0].Owners)
	assert.NotEmpty(t, records[0].Created)
}

func TestEmptyTitleRejectedByServer(t *testing.T) {
	handler, err := server.New(server.Config{Engine: engine.Engine{Repo: repo.NewMemoryStore()}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	_, err = decisionlogsdk.New(srv.URL).LogDecision(t.Context(), domain.Record{ID: "x", Owners: []string{}})
	var apiErr *decisionlogsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Title is required", apiErr.Message)
}
