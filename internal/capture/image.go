package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"mime"
	"strings"
	"sync"

	"decisionlog/internal/domain"
)

// ImageCapture is the photographed-note modality. Selecting an image runs
// OCR; the recognized text stays editable until submit.
type ImageCapture struct {
	flow *Flow

	mu       sync.Mutex
	state    State
	filename string
	mimeType string
	data     []byte
	preview  string
	text     string
	err      string
	// gen identifies the current selection; OCR results for an older one
	// are dropped.
	gen uint64
}

func NewImageCapture(f *Flow) *ImageCapture {
	return &ImageCapture{flow: f}
}

// IsImage reports whether a MIME type belongs to the image class.
func IsImage(mimeType string) bool {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/")
}

// Select takes a picked or dropped file and runs OCR on it. Files that are
// not images are ignored and the modality does not change state.
func (m *ImageCapture) Select(ctx context.Context, filename, mimeType string, data []byte) error {
	if !IsImage(mimeType) {
		return nil
	}
	m.mu.Lock()
	if m.state == Capturing || m.state == Submitting {
		m.mu.Unlock()
		return ErrBusy
	}
	m.state = Capturing
	m.filename = filename
	m.mimeType = mimeType
	m.data = data
	m.preview = "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	m.text = ""
	m.err = ""
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.flow.begin()
	return m.recognize(ctx, gen)
}

// Retry runs OCR again on the selected image after a failure.
func (m *ImageCapture) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Failed || len(m.data) == 0 {
		m.mu.Unlock()
		return ErrNotReady
	}
	m.state = Capturing
	m.gen++
	gen := m.gen
	m.mu.Unlock()
	return m.recognize(ctx, gen)
}

func (m *ImageCapture) recognize(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	filename, data := m.filename, m.data
	m.mu.Unlock()

	m.flow.Store.SetLoading(true)
	m.flow.Store.ClearError()
	text, err := m.flow.Backend.OCR(ctx, filename, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		// Discarded or replaced while OCR was running. A newer selection
		// still in flight keeps the loading flag.
		if m.state != Capturing {
			m.flow.Store.SetLoading(false)
		}
		return nil
	}
	if err != nil {
		msg := userMessage(err, "Failed to process image")
		m.state = Failed
		m.err = msg
		m.flow.Store.SetError(msg)
		return domain.Fail(domain.VisionFailure, msg, err)
	}
	m.text = text
	m.state = Ready
	m.flow.Store.SetLoading(false)
	return nil
}

// SetText edits the recognized text.
func (m *ImageCapture) SetText(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Ready {
		m.text = s
	}
}

func (m *ImageCapture) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// Preview is a data URL of the selected image.
func (m *ImageCapture) Preview() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preview
}

func (m *ImageCapture) Filename() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filename
}

func (m *ImageCapture) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ImageCapture) Err() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Submit extracts a candidate from the (possibly edited) OCR text.
func (m *ImageCapture) Submit(ctx context.Context) (domain.Candidate, error) {
	m.mu.Lock()
	if m.state != Ready || strings.TrimSpace(m.text) == "" {
		m.mu.Unlock()
		return domain.Candidate{}, ErrNotReady
	}
	m.state = Submitting
	text := m.text
	m.mu.Unlock()

	c, err := m.flow.submit(ctx, text)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = Ready
		if !errors.Is(err, ErrBusy) {
			m.err = domain.Message(err)
		}
		return domain.Candidate{}, err
	}
	m.state = Confirmed
	m.err = ""
	return c, nil
}

// Discard clears the file, preview and text together.
func (m *ImageCapture) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Idle
	m.gen++
	m.filename, m.mimeType, m.preview, m.text, m.err = "", "", "", "", ""
	m.data = nil
}
