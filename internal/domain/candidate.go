package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var dueDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseCandidate normalizes a model-produced JSON object into a Candidate.
// Only malformed JSON is an error; fields of the wrong type become empty,
// owners given as a delimited string are split, and due dates that cannot be
// read as a date are dropped.
func ParseCandidate(data []byte) (Candidate, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate: %w", err)
	}
	if raw == nil {
		return Candidate{}, fmt.Errorf("decode candidate: not an object")
	}
	c := Candidate{
		Title:          stringField(raw["title"]),
		Summary:        stringField(raw["summary"]),
		RelatedJiraKey: stringField(raw["related_jira_key"]),
		DueDate:        NormalizeDueDate(stringField(raw["due_date"])),
		Owners:         ownersField(raw["owners"]),
	}
	return c, nil
}

// ParseRecord decodes a record submitted for logging. A numeric id is kept in
// its decimal form and other fields of the wrong type become empty. Created
// is not read; the server stamps it.
func ParseRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if raw == nil {
		return Record{}, fmt.Errorf("decode record: not an object")
	}
	return Record{
		ID:             stringField(raw["id"]),
		Title:          stringField(raw["title"]),
		Summary:        stringField(raw["summary"]),
		Owners:         ownersField(raw["owners"]),
		DueDate:        stringField(raw["due_date"]),
		RelatedJiraKey: stringField(raw["related_jira_key"]),
		Timestamp:      stringField(raw["timestamp"]),
	}, nil
}

// NormalizeDueDate returns the canonical RFC3339 UTC form of s, or "" when s
// is empty or not a recognizable date.
func NormalizeDueDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return ""
}

// SplitOwners splits a comma separated list, trimming entries and dropping
// empty ones. Order is preserved and duplicates are kept.
func SplitOwners(s string) []string {
	owners := []string{}
	for _, part := range strings.Split(s, ",") {
		if name := strings.TrimSpace(part); name != "" {
			owners = append(owners, name)
		}
	}
	return owners
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimSpace(fmt.Sprint(t))
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func ownersField(v any) []string {
	switch t := v.(type) {
	case string:
		return SplitOwners(t)
	case []any:
		owners := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					owners = append(owners, s)
				}
			}
		}
		return owners
	default:
		return []string{}
	}
}
