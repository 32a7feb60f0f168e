package capture

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"decisionlog/internal/domain"
)

// Edits are field overrides from the review form. Nil leaves the extracted
// value in place. Owners is the comma separated edit string and DueDate a
// calendar date (YYYY-MM-DD) or empty to clear it.
type Edits struct {
	Title          *string
	Summary        *string
	Owners         *string
	DueDate        *string
	RelatedJiraKey *string
}

// Review turns a candidate plus edits into a confirmed record.
type Review struct {
	Location *time.Location
	Now      func() time.Time
	NewID    func() string
}

func NewReview(loc *time.Location) Review {
	return Review{Location: loc}
}

// Apply merges edits into c without validating.
func (r Review) Apply(c domain.Candidate, e Edits) (domain.Candidate, error) {
	if e.Title != nil {
		c.Title = *e.Title
	}
	if e.Summary != nil {
		c.Summary = *e.Summary
	}
	if e.Owners != nil {
		c.Owners = ParseOwners(*e.Owners)
	}
	if e.DueDate != nil {
		due, err := NormalizeDate(*e.DueDate, r.location())
		if err != nil {
			return c, err
		}
		c.DueDate = due
	}
	if e.RelatedJiraKey != nil {
		c.RelatedJiraKey = *e.RelatedJiraKey
	}
	return c, nil
}

// Reconcile applies edits, requires a title and assigns the record identity.
func (r Review) Reconcile(c domain.Candidate, e Edits) (domain.Record, error) {
	c, err := r.Apply(c, e)
	if err != nil {
		return domain.Record{}, err
	}
	if strings.TrimSpace(c.Title) == "" {
		return domain.Record{}, domain.ErrTitleRequired
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	newID := uuid.NewString
	if r.NewID != nil {
		newID = r.NewID
	}
	return c.Confirm(newID(), now().UTC().Format(time.RFC3339)), nil
}

func (r Review) location() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

// ParseOwners splits the owners edit string on commas, trimming entries and
// dropping empty ones.
func ParseOwners(s string) []string {
	return domain.SplitOwners(s)
}

// NormalizeDate converts a calendar date into the start of that day in loc.
// An empty input clears the date. Values that already carry a time are
// accepted as-is.
func NormalizeDate(s string, loc *time.Location) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if loc == nil {
		loc = time.Local
	}
	if d, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return d.Format(time.RFC3339), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(time.RFC3339), nil
	}
	return "", domain.Fail(domain.ValidationFailure, "Invalid due date", nil)
}
