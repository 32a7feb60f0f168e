package capture

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"decisionlog/internal/domain"
	decisionlogsdk "decisionlog/sdk/go"
)

// Backend is the server surface the client pipeline talks to. The SDK
// client satisfies it.
type Backend interface {
	ParseDecision(ctx context.Context, text string) (domain.Candidate, error)
	OCR(ctx context.Context, filename string, image []byte) (string, error)
	LogDecision(ctx context.Context, rec domain.Record) (decisionlogsdk.LogResult, error)
	Decisions(ctx context.Context) ([]domain.Record, error)
}

var _ Backend = (*decisionlogsdk.Client)(nil)

// State of a capture modality.
type State int

const (
	Idle State = iota
	Capturing
	Ready
	Submitting
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Ready:
		return "ready"
	case Submitting:
		return "submitting"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// View is the screen the pipeline is on.
type View string

const (
	ViewCapture View = "capture"
	ViewConfirm View = "confirm"
	ViewHistory View = "history"
)

var (
	ErrBusy        = errors.New("another operation is in progress")
	ErrNotReady    = errors.New("nothing to submit")
	ErrNoCandidate = errors.New("no decision to confirm")
	ErrUnsupported = errors.New("speech recognition is not supported")
)

// Confirmation is the outcome of a successful Confirm.
type Confirmation struct {
	Record domain.Record
	Relay  *decisionlogsdk.RelayResult
}

// Flow coordinates the modalities, the draft store and the review step.
type Flow struct {
	Store   *DraftStore
	Backend Backend
	Review  Review

	mu    sync.Mutex
	view  View
	edits *Edits
}

func NewFlow(backend Backend, review Review) *Flow {
	return &Flow{
		Store:   NewDraftStore(),
		Backend: backend,
		Review:  review,
		view:    ViewCapture,
	}
}

func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

// Navigate switches views. Leaving the confirmation view without confirming
// discards the candidate.
func (f *Flow) Navigate(v View) {
	f.mu.Lock()
	leaving := f.view == ViewConfirm && v != ViewConfirm
	f.view = v
	if leaving {
		f.edits = nil
	}
	f.mu.Unlock()
	if leaving {
		f.Store.ClearCurrent()
	}
}

// PendingEdits returns the edits of the last failed confirmation.
func (f *Flow) PendingEdits() (Edits, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.edits == nil {
		return Edits{}, false
	}
	return *f.edits, true
}

// begin starts a new capture, dropping any uncommitted candidate.
func (f *Flow) begin() {
	f.Store.ClearCurrent()
	f.Store.ClearError()
}

// submit sends text to extraction exactly once. On success the candidate
// becomes current and the flow moves to confirmation.
func (f *Flow) submit(ctx context.Context, text string) (domain.Candidate, error) {
	if f.Store.Loading() {
		return domain.Candidate{}, ErrBusy
	}
	f.Store.SetLoading(true)
	f.Store.ClearError()
	c, err := f.Backend.ParseDecision(ctx, text)
	if err != nil {
		msg := userMessage(err, "Failed to parse decision")
		f.Store.SetError(msg)
		return domain.Candidate{}, domain.Fail(domain.ExtractionFailure, msg, err)
	}
	f.Store.SetCurrent(c)
	f.mu.Lock()
	f.view = ViewConfirm
	f.edits = nil
	f.mu.Unlock()
	return c, nil
}

// Confirm reconciles the current candidate with edits and logs it. On
// failure the candidate stays current and the edits are kept for retry.
func (f *Flow) Confirm(ctx context.Context, e Edits) (Confirmation, error) {
	c, ok := f.Store.Current()
	if !ok {
		return Confirmation{}, ErrNoCandidate
	}
	if f.Store.Loading() {
		return Confirmation{}, ErrBusy
	}
	rec, err := f.Review.Reconcile(c, e)
	if err != nil {
		f.keepEdits(e)
		f.Store.SetError(domain.Message(err))
		return Confirmation{}, err
	}
	f.Store.SetLoading(true)
	f.Store.ClearError()
	res, err := f.Backend.LogDecision(ctx, rec)
	if err != nil {
		f.keepEdits(e)
		msg := userMessage(err, "Failed to log decision")
		f.Store.SetError(msg)
		return Confirmation{}, domain.Fail(domain.PersistenceFailure, msg, err)
	}
	f.Store.AddRecord(rec)
	f.Store.SetLoading(false)
	f.mu.Lock()
	f.edits = nil
	f.view = ViewHistory
	f.mu.Unlock()
	return Confirmation{Record: rec, Relay: res.Relay}, nil
}

func (f *Flow) keepEdits(e Edits) {
	f.mu.Lock()
	f.edits = &e
	f.mu.Unlock()
}

// RefreshHistory reloads history from the server, which lists newest first.
func (f *Flow) RefreshHistory(ctx context.Context) ([]domain.Record, error) {
	records, err := f.Backend.Decisions(ctx)
	if err != nil {
		msg := userMessage(err, "Failed to fetch decisions")
		f.Store.SetError(msg)
		return nil, domain.Fail(domain.PersistenceFailure, msg, err)
	}
	stored := slices.Clone(records)
	slices.Reverse(stored)
	f.Store.ReplaceHistory(stored)
	return records, nil
}

func userMessage(err error, fallback string) string {
	var apiErr *decisionlogsdk.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var f *domain.Failure
	if errors.As(err, &f) {
		return f.Msg
	}
	return fallback
}
