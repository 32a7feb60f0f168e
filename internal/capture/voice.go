package capture

import (
	"context"
	"errors"
	"strings"
	"sync"

	"decisionlog/internal/domain"
)

// EventType enumerates recognition session events.
type EventType int

const (
	EventStarted EventType = iota
	EventPartialResult
	EventFinalResult
	EventError
	EventEnded
)

// RecognitionEvent is delivered in order on a session's event channel.
// Text is set for results, Code for errors.
type RecognitionEvent struct {
	Type EventType
	Text string
	Code string
}

// RecognitionOptions configure a recognizer session.
type RecognitionOptions struct {
	Continuous     bool
	InterimResults bool
	Language       string
}

func DefaultRecognitionOptions() RecognitionOptions {
	return RecognitionOptions{Continuous: true, InterimResults: true, Language: "en-US"}
}

// Recognizer starts speech recognition sessions.
type Recognizer interface {
	Start(ctx context.Context, opts RecognitionOptions) (Session, error)
}

// Session is a running recognition. Events is closed when the engine is done.
// Stop asks the engine to stop delivering results.
type Session interface {
	Events() <-chan RecognitionEvent
	Stop()
}

// VoiceCapture is the speech modality. Only final results are committed to
// the transcript; partial results are dropped.
type VoiceCapture struct {
	flow *Flow
	rec  Recognizer
	opts RecognitionOptions

	mu         sync.Mutex
	state      State
	transcript string
	err        string
	session    Session
	wg         sync.WaitGroup
}

// NewVoiceCapture returns the modality. A nil recognizer disables it.
func NewVoiceCapture(f *Flow, rec Recognizer) *VoiceCapture {
	return &VoiceCapture{flow: f, rec: rec, opts: DefaultRecognitionOptions()}
}

// Available reports whether speech recognition exists in this runtime.
func (v *VoiceCapture) Available() bool { return v.rec != nil }

// Start opens a recognition session. The existing transcript is kept and new
// final results are appended to it.
func (v *VoiceCapture) Start(ctx context.Context) error {
	if v.rec == nil {
		return ErrUnsupported
	}
	v.mu.Lock()
	if v.state == Capturing || v.state == Submitting {
		v.mu.Unlock()
		return ErrBusy
	}
	opts := v.opts
	v.mu.Unlock()

	v.flow.begin()
	sess, err := v.rec.Start(ctx, opts)
	if err != nil {
		msg := "Speech recognition error: " + domain.Message(err)
		v.fail(msg)
		return domain.Fail(domain.RecognitionFailure, msg, err)
	}

	v.mu.Lock()
	v.session = sess
	v.state = Capturing
	v.err = ""
	v.mu.Unlock()

	v.wg.Add(1)
	go v.consume(sess)
	return nil
}

func (v *VoiceCapture) consume(sess Session) {
	defer v.wg.Done()
	for ev := range sess.Events() {
		v.handle(sess, ev)
	}
	v.handle(sess, RecognitionEvent{Type: EventEnded})
}

func (v *VoiceCapture) handle(sess Session, ev RecognitionEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	// Events from a stopped or replaced session are ignored.
	if v.session != sess {
		return
	}
	switch ev.Type {
	case EventFinalResult:
		if seg := strings.TrimSpace(ev.Text); seg != "" {
			v.transcript = joinSegment(v.transcript, seg)
		}
	case EventError:
		v.session = nil
		v.state = Failed
		v.err = "Speech recognition error: " + ev.Code
		v.flow.Store.SetError(v.err)
	case EventEnded:
		v.session = nil
		v.state = v.settled()
	}
}

// Stop ends capture. Results delivered after this call are discarded.
func (v *VoiceCapture) Stop() {
	v.mu.Lock()
	sess := v.session
	v.session = nil
	if v.state == Capturing {
		v.state = v.settled()
	}
	v.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
}

// Wait blocks until every session's event channel has been drained.
func (v *VoiceCapture) Wait() {
	v.wg.Wait()
}

func (v *VoiceCapture) settled() State {
	if strings.TrimSpace(v.transcript) == "" {
		return Idle
	}
	return Ready
}

func (v *VoiceCapture) fail(msg string) {
	v.mu.Lock()
	v.state = Failed
	v.err = msg
	v.mu.Unlock()
	v.flow.Store.SetError(msg)
}

func (v *VoiceCapture) Transcript() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.transcript
}

// SetTranscript replaces the transcript with a user edit.
func (v *VoiceCapture) SetTranscript(s string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.transcript = s
	if v.state != Capturing && v.state != Submitting {
		v.state = v.settled()
	}
}

func (v *VoiceCapture) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *VoiceCapture) Err() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Submit extracts a candidate from the transcript. It is allowed after a
// recognition error as long as some transcript was captured.
func (v *VoiceCapture) Submit(ctx context.Context) (domain.Candidate, error) {
	v.mu.Lock()
	if (v.state != Ready && v.state != Failed) || strings.TrimSpace(v.transcript) == "" {
		v.mu.Unlock()
		return domain.Candidate{}, ErrNotReady
	}
	v.state = Submitting
	text := v.transcript
	v.mu.Unlock()

	c, err := v.flow.submit(ctx, text)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.state = Ready
		if !errors.Is(err, ErrBusy) {
			v.err = domain.Message(err)
		}
		return domain.Candidate{}, err
	}
	v.state = Confirmed
	v.err = ""
	return c, nil
}

func joinSegment(transcript, seg string) string {
	transcript = strings.TrimRight(transcript, " ")
	if transcript == "" {
		return seg
	}
	return transcript + " " + seg
}
