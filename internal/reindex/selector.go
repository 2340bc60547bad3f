package reindex

import (
	"strings"
	"time"
)

// SelectorKind names the variants of the selector tagged union.
type SelectorKind string

const (
	SelectDateRange SelectorKind = "date_range"
	SelectUser      SelectorKind = "user"
	SelectGroup     SelectorKind = "group"
	SelectIDs       SelectorKind = "ids"
)

// Selector picks the set of annotations a job operates on. Exactly one
// variant is populated, indicated by Kind.
type Selector struct {
	Kind SelectorKind `json:"kind"`

	// date_range: both bounds inclusive, Start <= End.
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`

	// user
	Username string `json:"username,omitempty"`

	// group
	GroupID string `json:"group_id,omitempty"`

	// ids: input order preserved, duplicates removed.
	IDs []string `json:"ids,omitempty"`
}

// Validate checks the selector's invariants. Returns a ValidationError
// on the first violation.
func (s Selector) Validate() error {
	switch s.Kind {
	case SelectDateRange:
		if s.Start.IsZero() || s.End.IsZero() {
			return &ValidationError{Reason: "date_range requires both start and end"}
		}
		if s.Start.After(s.End) {
			return &ValidationError{Reason: "date_range start must not be after end"}
		}
	case SelectUser:
		if strings.TrimSpace(s.Username) == "" {
			return &ValidationError{Reason: "user selector requires a username"}
		}
	case SelectGroup:
		if strings.TrimSpace(s.GroupID) == "" {
			return &ValidationError{Reason: "group selector requires a group_id"}
		}
	case SelectIDs:
		if len(s.IDs) == 0 {
			return &ValidationError{Reason: "ids selector requires at least one annotation id"}
		}
	default:
		return &ValidationError{Reason: "unknown selector kind " + string(s.Kind)}
	}
	return nil
}

// ParseIDList splits newline-separated annotation ids, one per line.
// Blank lines are ignored, surrounding whitespace is trimmed, and
// duplicates collapse to the first occurrence (input order preserved).
func ParseIDList(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		id := strings.TrimSpace(line)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
