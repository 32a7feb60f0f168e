package capture

import (
	"context"
	"errors"
	"strings"
	"sync"

	"decisionlog/internal/domain"
)

// TextCapture is the typed-text modality. It has no capturing phase: it is
// ready as soon as the text is not blank.
type TextCapture struct {
	flow *Flow

	mu    sync.Mutex
	text  string
	state State
	err   string
}

func NewTextCapture(f *Flow) *TextCapture {
	return &TextCapture{flow: f}
}

func (t *TextCapture) SetText(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Submitting {
		return
	}
	if t.state == Idle || t.state == Confirmed {
		t.flow.begin()
	}
	t.text = s
	t.err = ""
	if strings.TrimSpace(s) == "" {
		t.state = Idle
	} else {
		t.state = Ready
	}
}

func (t *TextCapture) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text
}

func (t *TextCapture) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err is the message of the last failed submit.
func (t *TextCapture) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Submit extracts a candidate from the text. A failure returns the modality
// to Ready with the text kept.
func (t *TextCapture) Submit(ctx context.Context) (domain.Candidate, error) {
	t.mu.Lock()
	if t.state != Ready {
		t.mu.Unlock()
		return domain.Candidate{}, ErrNotReady
	}
	t.state = Submitting
	text := t.text
	t.mu.Unlock()

	c, err := t.flow.submit(ctx, text)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.state = Ready
		if !errors.Is(err, ErrBusy) {
			t.err = domain.Message(err)
		}
		return domain.Candidate{}, err
	}
	t.state = Confirmed
	t.err = ""
	return c, nil
}

// Reset clears the text and returns to Idle.
func (t *TextCapture) Reset() {
	t.mu.Lock()
	t.text, t.err, t.state = "", "", Idle
	t.mu.Unlock()
}
