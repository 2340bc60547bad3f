package store

import "time"

// Annotation is a stored annotation row.
type Annotation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userid"`
	GroupID       string    `json:"groupid"`
	Text          string    `json:"text"`
	Tags          []string  `json:"tags"`
	TargetURI     string    `json:"target_uri"`
	DocumentTitle string    `json:"document_title"`
	Shared        bool      `json:"shared"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
}

// AnnotationRef is a lightweight reference to an annotation: its id plus
// the last-modified timestamp, enough to drive staleness decisions without
// fetching the full row.
type AnnotationRef struct {
	ID      string
	Updated time.Time
}
