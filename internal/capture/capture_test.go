package capture

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decisionlog/internal/domain"
	decisionlogsdk "decisionlog/sdk/go"
)

type fakeBackend struct {
	mu        sync.Mutex
	parsed    []string
	ocrCalls  int
	logged    []domain.Record
	parseErr  error
	ocrErr    error
	logErr    error
	ocrText   string
	candidate domain.Candidate
	history   []domain.Record
}

func (b *fakeBackend) ParseDecision(_ context.Context, text string) (domain.Candidate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parsed = append(b.parsed, text)
	if b.parseErr != nil {
		return domain.Candidate{}, b.parseErr
	}
	return b.candidate, nil
}

func (b *fakeBackend) OCR(_ context.Context, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ocrCalls++
	if b.ocrErr != nil {
		return "", b.ocrErr
	}
	return b.ocrText, nil
}

func (b *fakeBackend) LogDecision(_ context.Context, rec domain.Record) (decisionlogsdk.LogResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.logErr != nil {
		return decisionlogsdk.LogResult{}, b.logErr
	}
	b.logged = append(b.logged, rec)
	return decisionlogsdk.LogResult{Success: true}, nil
}

func (b *fakeBackend) Decisions(context.Context) ([]domain.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history, nil
}

func (b *fakeBackend) parseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.parsed)
}

var cet = time.FixedZone("CET", 3600)

func newTestFlow(b *fakeBackend) *Flow {
	return NewFlow(b, Review{
		Location: cet,
		Now:      func() time.Time { return time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC) },
		NewID:    func() string { return "dec-1" },
	})
}

func ptr(s string) *string { return &s }

func TestTextSubmitExtractsOnce(t *testing.T) {
	b := &fakeBackend{candidate: domain.Candidate{Title: "Ship v2", Owners: []string{"Ana"}}}
	f := newTestFlow(b)
	tc := NewTextCapture(f)

	tc.SetText("We agreed to ship v2 on Friday")
	require.Equal(t, Ready, tc.State())

	c, err := tc.Submit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Ship v2", c.Title)
	assert.Equal(t, []string{"We agreed to ship v2 on Friday"}, b.parsed)
	assert.Equal(t, Confirmed, tc.State())
	assert.Equal(t, ViewConfirm, f.View())

	cur, ok := f.Store.Current()
	require.True(t, ok)
	assert.Equal(t, "Ship v2", cur.Title)
	assert.False(t, f.Store.Loading())
}

func TestTextSubmitFailureKeepsInput(t *testing.T) {
	b := &fakeBackend{parseErr: &decisionlogsdk.APIError{StatusCode: http.StatusInternalServerError, Message: "AI parsing failed"}}
	f := newTestFlow(b)
	tc := NewTextCapture(f)
	tc.SetText("hire two engineers")

	_, err := tc.Submit(t.Context())
	require.Error(t, err)
	assert.Equal(t, domain.ExtractionFailure, domain.KindOf(err))
	assert.Equal(t, 1, b.parseCount())
	assert.Equal(t, Ready, tc.State())
	assert.Equal(t, "hire two engineers", tc.Text())
	assert.Equal(t, "AI parsing failed", tc.Err())
	assert.Equal(t, "AI parsing failed", f.Store.Error())
	assert.False(t, f.Store.Loading())
	assert.Equal(t, ViewCapture, f.View())
}

func TestBlankTextIsNotSubmittable(t *testing.T) {
	b := &fakeBackend{}
	tc := NewTextCapture(newTestFlow(b))
	tc.SetText("   \n\t")

	assert.Equal(t, Idle, tc.State())
	_, err := tc.Submit(t.Context())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, b.parseCount())
}

func TestSubmitWhileLoadingIsBusy(t *testing.T) {
	b := &fakeBackend{}
	f := newTestFlow(b)
	tc := NewTextCapture(f)
	tc.SetText("something")
	f.Store.SetLoading(true)

	_, err := tc.Submit(t.Context())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Zero(t, b.parseCount())
	assert.Equal(t, Ready, tc.State())
	assert.Empty(t, tc.Err())
}

func TestNewCaptureDiscardsCandidate(t *testing.T) {
	f := newTestFlow(&fakeBackend{})
	f.Store.SetCurrent(domain.Candidate{Title: "stale"})

	NewTextCapture(f).SetText("fresh input")

	_, ok := f.Store.Current()
	assert.False(t, ok)
}

type fakeSession struct {
	events  chan RecognitionEvent
	mu      sync.Mutex
	stopped bool
}

func (s *fakeSession) Events() <-chan RecognitionEvent { return s.events }

func (s *fakeSession) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeSession) send(evs ...RecognitionEvent) {
	for _, ev := range evs {
		s.events <- ev
	}
}

type fakeRecognizer struct {
	session *fakeSession
	opts    RecognitionOptions
	err     error
}

func (r *fakeRecognizer) Start(_ context.Context, opts RecognitionOptions) (Session, error) {
	r.opts = opts
	if r.err != nil {
		return nil, r.err
	}
	r.session = &fakeSession{events: make(chan RecognitionEvent)}
	return r.session, nil
}

func partial(s string) RecognitionEvent { return RecognitionEvent{Type: EventPartialResult, Text: s} }
func final(s string) RecognitionEvent   { return RecognitionEvent{Type: EventFinalResult, Text: s} }

func TestVoiceCommitsOnlyFinalResults(t *testing.T) {
	rec := &fakeRecognizer{}
	v := NewVoiceCapture(newTestFlow(&fakeBackend{}), rec)

	require.NoError(t, v.Start(t.Context()))
	assert.Equal(t, Capturing, v.State())
	assert.Equal(t, DefaultRecognitionOptions(), rec.opts)

	rec.session.send(
		RecognitionEvent{Type: EventStarted},
		partial("we"), partial("we will"), final("we will ship"),
		partial("on"), final("on friday "),
	)
	close(rec.session.events)
	v.Wait()

	assert.Equal(t, "we will ship on friday", v.Transcript())
	assert.Equal(t, Ready, v.State())
}

func TestVoiceStopDiscardsLateResults(t *testing.T) {
	rec := &fakeRecognizer{}
	v := NewVoiceCapture(newTestFlow(&fakeBackend{}), rec)
	require.NoError(t, v.Start(t.Context()))

	rec.session.send(final("keep this"))
	v.Stop()
	assert.True(t, rec.session.stopped)
	assert.Equal(t, Ready, v.State())

	rec.session.send(final("late"), RecognitionEvent{Type: EventEnded})
	close(rec.session.events)
	v.Wait()

	assert.Equal(t, "keep this", v.Transcript())
	assert.Equal(t, Ready, v.State())
}

func TestVoiceTranscriptSurvivesRestart(t *testing.T) {
	rec := &fakeRecognizer{}
	v := NewVoiceCapture(newTestFlow(&fakeBackend{}), rec)

	require.NoError(t, v.Start(t.Context()))
	rec.session.send(final("first"))
	close(rec.session.events)
	v.Wait()

	require.NoError(t, v.Start(t.Context()))
	rec.session.send(final("second"))
	close(rec.session.events)
	v.Wait()

	assert.Equal(t, "first second", v.Transcript())
}

func TestVoiceErrorSurfacesCode(t *testing.T) {
	rec := &fakeRecognizer{}
	f := newTestFlow(&fakeBackend{})
	v := NewVoiceCapture(f, rec)
	require.NoError(t, v.Start(t.Context()))

	rec.session.send(final("partial work"), RecognitionEvent{Type: EventError, Code: "no-speech"})
	close(rec.session.events)
	v.Wait()

	assert.Equal(t, Failed, v.State())
	assert.Equal(t, "Speech recognition error: no-speech", v.Err())
	assert.Equal(t, "Speech recognition error: no-speech", f.Store.Error())
	assert.Equal(t, "partial work", v.Transcript())
}

func TestVoiceSubmitAfterErrorUsesTranscript(t *testing.T) {
	b := &fakeBackend{candidate: domain.Candidate{Title: "x"}}
	rec := &fakeRecognizer{}
	v := NewVoiceCapture(newTestFlow(b), rec)
	require.NoError(t, v.Start(t.Context()))
	rec.session.send(final("move standup"), RecognitionEvent{Type: EventError, Code: "network"})
	close(rec.session.events)
	v.Wait()

	_, err := v.Submit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"move standup"}, b.parsed)
	assert.Equal(t, Confirmed, v.State())
}

func TestVoiceUnavailable(t *testing.T) {
	v := NewVoiceCapture(newTestFlow(&fakeBackend{}), nil)
	assert.False(t, v.Available())
	assert.ErrorIs(t, v.Start(t.Context()), ErrUnsupported)
	assert.Equal(t, Idle, v.State())
}

func TestVoiceStartFailure(t *testing.T) {
	rec := &fakeRecognizer{err: errors.New("not-allowed")}
	v := NewVoiceCapture(newTestFlow(&fakeBackend{}), rec)

	err := v.Start(t.Context())
	assert.Equal(t, domain.RecognitionFailure, domain.KindOf(err))
	assert.Equal(t, Failed, v.State())
	assert.Equal(t, "Speech recognition error: not-allowed", v.Err())
}

func TestImageIgnoresNonImages(t *testing.T) {
	b := &fakeBackend{}
	f := newTestFlow(b)
	m := NewImageCapture(f)

	require.NoError(t, m.Select(t.Context(), "notes.pdf", "application/pdf", []byte("%PDF")))
	assert.Equal(t, Idle, m.State())
	assert.Empty(t, m.Preview())
	assert.Empty(t, f.Store.Error())
	assert.Zero(t, b.ocrCalls)
}

func TestImageOCRThenEditAndSubmit(t *testing.T) {
	b := &fakeBackend{ocrText: "Decision: use Go\nOwner: Ana", candidate: domain.Candidate{Title: "Use Go"}}
	f := newTestFlow(b)
	m := NewImageCapture(f)

	require.NoError(t, m.Select(t.Context(), "board.png", "image/png", []byte{1, 2, 3}))
	assert.Equal(t, Ready, m.State())
	assert.Equal(t, "data:image/png;base64,AQID", m.Preview())
	assert.Equal(t, "Decision: use Go\nOwner: Ana", m.Text())
	assert.False(t, f.Store.Loading())

	m.SetText("Decision: use Go\nOwner: Ana, Bo")
	_, err := m.Submit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"Decision: use Go\nOwner: Ana, Bo"}, b.parsed)
	assert.Equal(t, Confirmed, m.State())
}

func TestImageOCRFailureThenRetry(t *testing.T) {
	b := &fakeBackend{ocrErr: &decisionlogsdk.APIError{StatusCode: http.StatusInternalServerError, Message: "OCR failed"}}
	f := newTestFlow(b)
	m := NewImageCapture(f)

	err := m.Select(t.Context(), "board.jpg", "image/jpeg", []byte{0xff})
	assert.Equal(t, domain.VisionFailure, domain.KindOf(err))
	assert.Equal(t, Failed, m.State())
	assert.Equal(t, "OCR failed", f.Store.Error())
	assert.NotEmpty(t, m.Preview())

	b.mu.Lock()
	b.ocrErr, b.ocrText = nil, "retry text"
	b.mu.Unlock()
	require.NoError(t, m.Retry(t.Context()))
	assert.Equal(t, Ready, m.State())
	assert.Equal(t, "retry text", m.Text())
	assert.Equal(t, 2, b.ocrCalls)
}

func TestImageDiscardResetsEverything(t *testing.T) {
	m := NewImageCapture(newTestFlow(&fakeBackend{ocrText: "text"}))
	require.NoError(t, m.Select(t.Context(), "a.jpg", "image/jpeg", []byte{1}))

	m.Discard()
	assert.Equal(t, Idle, m.State())
	assert.Empty(t, m.Preview())
	assert.Empty(t, m.Text())
	assert.Empty(t, m.Filename())
}

func TestParseOwners(t *testing.T) {
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, ParseOwners("Alice, Bob ,  , Carol"))
	assert.Equal(t, []string{}, ParseOwners(" , "))
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"calendar date", "2025-03-14", "2025-03-14T00:00:00+01:00"},
		{"cleared", "", ""},
		{"whitespace", "  ", ""},
		{"already a timestamp", "2025-03-14T12:00:00Z", "2025-03-14T12:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDate(tt.in, cet)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NormalizeDate("next tuesday", cet)
	assert.Equal(t, domain.ValidationFailure, domain.KindOf(err))
}

func TestReconcileClearsDate(t *testing.T) {
	r := Review{Location: cet, NewID: func() string { return "id" }}
	rec, err := r.Reconcile(domain.Candidate{Title: "t", DueDate: "2025-01-01T00:00:00Z"}, Edits{DueDate: ptr("")})
	require.NoError(t, err)
	assert.Equal(t, "", rec.DueDate)
	assert.Equal(t, []string{}, rec.Owners)
}

func TestConfirmWithoutTitleSkipsGateway(t *testing.T) {
	b := &fakeBackend{}
	f := newTestFlow(b)
	f.Store.SetCurrent(domain.Candidate{Title: "Extracted"})
	edits := Edits{Title: ptr("  "), Owners: ptr("Ana")}

	_, err := f.Confirm(t.Context(), edits)
	assert.ErrorIs(t, err, domain.ErrTitleRequired)
	assert.Empty(t, b.logged)
	assert.Equal(t, "Title is required", f.Store.Error())

	_, ok := f.Store.Current()
	assert.True(t, ok)
	kept, ok := f.PendingEdits()
	require.True(t, ok)
	assert.Equal(t, "Ana", *kept.Owners)
}

func TestConfirmAppendsToHistory(t *testing.T) {
	b := &fakeBackend{}
	f := newTestFlow(b)
	f.Store.SetCurrent(domain.Candidate{Title: "Ship v2", Summary: "Release", RelatedJiraKey: "REL-9"})
	f.Navigate(ViewConfirm)

	got, err := f.Confirm(t.Context(), Edits{Owners: ptr("Alice, Bob ,  , Carol"), DueDate: ptr("2025-03-14")})
	require.NoError(t, err)

	want := domain.Record{
		ID:             "dec-1",
		Title:          "Ship v2",
		Summary:        "Release",
		Owners:         []string{"Alice", "Bob", "Carol"},
		DueDate:        "2025-03-14T00:00:00+01:00",
		RelatedJiraKey: "REL-9",
		Timestamp:      "2025-03-01T09:30:00Z",
	}
	assert.Equal(t, want, got.Record)
	require.Len(t, b.logged, 1)
	assert.Equal(t, want, b.logged[0])

	snap := f.Store.Snapshot()
	assert.Nil(t, snap.Current)
	assert.Len(t, snap.History, 1)
	assert.False(t, snap.Loading)
	assert.Equal(t, ViewHistory, f.View())
}

func TestConfirmGatewayFailureKeepsDraft(t *testing.T) {
	b := &fakeBackend{logErr: &decisionlogsdk.APIError{StatusCode: http.StatusInternalServerError, Message: "Failed to log decision"}}
	f := newTestFlow(b)
	f.Store.SetCurrent(domain.Candidate{Title: "Keep me"})
	f.Navigate(ViewConfirm)

	_, err := f.Confirm(t.Context(), Edits{Summary: ptr("edited")})
	assert.Equal(t, domain.PersistenceFailure, domain.KindOf(err))
	assert.Equal(t, "Failed to log decision", f.Store.Error())
	assert.False(t, f.Store.Loading())
	assert.Empty(t, f.Store.History())
	assert.Equal(t, ViewConfirm, f.View())

	cur, ok := f.Store.Current()
	require.True(t, ok)
	assert.Equal(t, "Keep me", cur.Title)
	kept, ok := f.PendingEdits()
	require.True(t, ok)
	assert.Equal(t, "edited", *kept.Summary)
}

func TestNavigateAwayClearsCandidate(t *testing.T) {
	f := newTestFlow(&fakeBackend{})
	f.Store.SetCurrent(domain.Candidate{Title: "draft"})
	f.Navigate(ViewConfirm)

	f.Navigate(ViewHistory)

	_, ok := f.Store.Current()
	assert.False(t, ok)
	_, err := f.Confirm(t.Context(), Edits{})
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestRefreshHistoryKeepsInsertionOrder(t *testing.T) {
	newest := []domain.Record{{ID: "c", Title: "C"}, {ID: "b", Title: "B"}, {ID: "a", Title: "A"}}
	f := newTestFlow(&fakeBackend{history: newest})

	got, err := f.RefreshHistory(t.Context())
	require.NoError(t, err)
	assert.Equal(t, newest, got)

	ids := func(rs []domain.Record) string {
		var out []string
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return strings.Join(out, ",")
	}
	assert.Equal(t, "a,b,c", ids(f.Store.History()))
	assert.Equal(t, "c,b,a", ids(f.Store.NewestFirst()))
}

func TestDraftStoreTransitions(t *testing.T) {
	s := NewDraftStore()
	s.SetLoading(true)
	s.SetError("boom")
	assert.False(t, s.Loading())
	assert.Equal(t, "boom", s.Error())

	s.SetLoading(true)
	s.SetCurrent(domain.Candidate{Title: "a", Owners: []string{"x"}})
	assert.False(t, s.Loading())

	c, _ := s.Current()
	c.Owners[0] = "mutated"
	again, _ := s.Current()
	if diff := cmp.Diff([]string{"x"}, again.Owners); diff != "" {
		t.Fatalf("store leaked its slice (-want +got):\n%s", diff)
	}

	s.AddRecord(domain.Record{ID: "1", Title: "a"})
	snap := s.Snapshot()
	assert.Nil(t, snap.Current)
	assert.Len(t, snap.History, 1)
}

// gatedOCR blocks each OCR call until its filename is released.
type gatedOCR struct {
	*fakeBackend
	started chan string
	release map[string]chan struct{}
}

func (g *gatedOCR) OCR(_ context.Context, filename string, _ []byte) (string, error) {
	g.started <- filename
	<-g.release[filename]
	return "text of " + filename, nil
}

func TestImageDiscardedOCRResultIsDropped(t *testing.T) {
	g := &gatedOCR{
		fakeBackend: &fakeBackend{},
		started:     make(chan string),
		release:     map[string]chan struct{}{"a.png": make(chan struct{}), "b.png": make(chan struct{})},
	}
	f := newTestFlow(g.fakeBackend)
	f.Backend = g
	m := NewImageCapture(f)

	doneA := make(chan error, 1)
	go func() { doneA <- m.Select(context.Background(), "a.png", "image/png", []byte{1}) }()
	require.Equal(t, "a.png", <-g.started)

	m.Discard()

	doneB := make(chan error, 1)
	go func() { doneB <- m.Select(context.Background(), "b.png", "image/png", []byte{2}) }()
	require.Equal(t, "b.png", <-g.started)

	close(g.release["a.png"])
	require.NoError(t, <-doneA)
	assert.Equal(t, Capturing, m.State())
	assert.Empty(t, m.Text())
	assert.True(t, f.Store.Loading())

	close(g.release["b.png"])
	require.NoError(t, <-doneB)
	assert.Equal(t, Ready, m.State())
	assert.Equal(t, "b.png", m.Filename())
	assert.Equal(t, "text of b.png", m.Text())
	assert.False(t, f.Store.Loading())
}

func TestImageDiscardDuringOCRStaysIdle(t *testing.T) {
	g := &gatedOCR{
		fakeBackend: &fakeBackend{},
		started:     make(chan string),
		release:     map[string]chan struct{}{"a.png": make(chan struct{})},
	}
	f := newTestFlow(g.fakeBackend)
	f.Backend = g
	m := NewImageCapture(f)

	done := make(chan error, 1)
	go func() { done <- m.Select(context.Background(), "a.png", "image/png", []byte{1}) }()
	<-g.started
	m.Discard()
	close(g.release["a.png"])
	require.NoError(t, <-done)

	assert.Equal(t, Idle, m.State())
	assert.Empty(t, m.Text())
	assert.False(t, f.Store.Loading())
}
