package domain

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Candidate
	}{
		{
			name: "full object",
			in:   `{"title":"Ship v2","summary":"We ship v2 in May.","owners":["Alice","Bob"],"due_date":"2024-05-01","related_jira_key":"PROJ-12"}`,
			want: Candidate{
				Title:          "Ship v2",
				Summary:        "We ship v2 in May.",
				Owners:         []string{"Alice", "Bob"},
				DueDate:        "2024-05-01T00:00:00Z",
				RelatedJiraKey: "PROJ-12",
			},
		},
		{
			name: "owners as delimited string",
			in:   `{"title":"x","owners":"Alice, Bob ,  , Carol"}`,
			want: Candidate{Title: "x", Owners: []string{"Alice", "Bob", "Carol"}},
		},
		{
			name: "wrong types become empty",
			in:   `{"title":["nope"],"summary":null,"owners":{"a":1},"due_date":42}`,
			want: Candidate{Owners: []string{}},
		},
		{
			name: "non-string owners dropped",
			in:   `{"owners":["Alice",3,null,"  ","Bob"]}`,
			want: Candidate{Owners: []string{"Alice", "Bob"}},
		},
		{
			name: "unparseable due date dropped",
			in:   `{"title":"t","due_date":"next friday"}`,
			want: Candidate{Title: "t", Owners: []string{}},
		},
		{
			name: "offset due date normalized to UTC",
			in:   `{"due_date":"2024-05-01T09:30:00+02:00"}`,
			want: Candidate{Owners: []string{}, DueDate: "2024-05-01T07:30:00Z"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCandidate([]byte(tt.in))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("candidate mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseCandidateRejectsMalformedJSON(t *testing.T) {
	_, err := ParseCandidate([]byte(`{"title": "unterminated`))
	require.Error(t, err)

	_, err = ParseCandidate([]byte(`null`))
	require.Error(t, err)
}

func TestParseRecord(t *testing.T) {
	got, err := ParseRecord([]byte(`{"id":1712345678901,"title":" Ship v2 ","owners":"Alice, Bob","due_date":"2024-05-01","created":"x","timestamp":"2024-04-01T10:00:00Z"}`))
	require.NoError(t, err)
	want := Record{
		ID:        "1712345678901",
		Title:     "Ship v2",
		Owners:    []string{"Alice", "Bob"},
		DueDate:   "2024-05-01",
		Timestamp: "2024-04-01T10:00:00Z",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}

	for _, in := range []string{`null`, `[1]`, `{"title":`} {
		_, err := ParseRecord([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestSplitOwners(t *testing.T) {
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, SplitOwners("Alice, Bob ,  , Carol"))
	assert.Equal(t, []string{}, SplitOwners(""))
	assert.Equal(t, []string{"Ann", "Ann"}, SplitOwners("Ann,Ann"))
}

func TestConfirmAssignsIdentity(t *testing.T) {
	c := Candidate{Title: "t"}
	r := c.Confirm("id-1", "2024-05-01T00:00:00Z")
	assert.Equal(t, "id-1", r.ID)
	assert.Equal(t, "2024-05-01T00:00:00Z", r.Timestamp)
	assert.Equal(t, []string{}, r.Owners)
	assert.Empty(t, r.Created)
	assert.Equal(t, c.Title, r.Candidate().Title)
}

func TestFailureClassification(t *testing.T) {
	cause := errors.New("boom")
	err := Fail(ExtractionFailure, "AI parsing failed", cause)

	assert.Equal(t, ExtractionFailure, KindOf(err))
	assert.Equal(t, "AI parsing failed", Message(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Kind(""), KindOf(cause))
	assert.Equal(t, ValidationFailure, KindOf(ErrTitleRequired))
}
