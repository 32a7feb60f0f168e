package domain

// Candidate is an unconfirmed, machine-extracted decision. It never carries
// an id or a creation timestamp.
type Candidate struct {
	Title          string   `json:"title" required:"false"`
	Summary        string   `json:"summary" required:"false"`
	Owners         []string `json:"owners" required:"false"`
	DueDate        string   `json:"due_date" required:"false" doc:"RFC3339 timestamp or empty"`
	RelatedJiraKey string   `json:"related_jira_key" required:"false"`
}

// Record is a confirmed decision. ID and Timestamp are assigned by the
// client at confirmation; Created is stamped by the server on append.
type Record struct {
	ID             string   `json:"id" required:"false"`
	Title          string   `json:"title" required:"false"`
	Summary        string   `json:"summary" required:"false"`
	Owners         []string `json:"owners" required:"false"`
	DueDate        string   `json:"due_date" required:"false"`
	RelatedJiraKey string   `json:"related_jira_key" required:"false"`
	Timestamp      string   `json:"timestamp,omitempty" required:"false"`
	Created        string   `json:"created,omitempty" required:"false" format:"date-time"`

	_ struct{} `json:"-" additionalProperties:"true"`
}

// Candidate strips the confirmation fields.
func (r Record) Candidate() Candidate {
	return Candidate{
		Title:          r.Title,
		Summary:        r.Summary,
		Owners:         r.Owners,
		DueDate:        r.DueDate,
		RelatedJiraKey: r.RelatedJiraKey,
	}
}

// Confirm turns a candidate into a record with the given identity.
func (c Candidate) Confirm(id, timestamp string) Record {
	owners := c.Owners
	if owners == nil {
		owners = []string{}
	}
	return Record{
		ID:             id,
		Title:          c.Title,
		Summary:        c.Summary,
		Owners:         owners,
		DueDate:        c.DueDate,
		RelatedJiraKey: c.RelatedJiraKey,
		Timestamp:      timestamp,
	}
}
