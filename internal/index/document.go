package index

import (
	"strings"
	"time"

	"github.com/user/annodex/internal/store"
)

// Shape selects which document representation a job writes.
type Shape string

const (
	// ShapeFull indexes every searchable field of an annotation.
	ShapeFull Shape = "full"
	// ShapeSlim indexes only the identifier-bearing fields, for
	// lighter-weight lookups.
	ShapeSlim Shape = "slim"
)

// Valid reports whether s is a known shape.
func (s Shape) Valid() bool {
	return s == ShapeFull || s == ShapeSlim
}

// FullDocument is the complete index representation of an annotation.
// Construction is deterministic: the same annotation always yields the
// same document, which makes index writes idempotent.
type FullDocument struct {
	Shape   string `json:"shape"`
	ID      string `json:"id"`
	User    string `json:"user"`
	Group   string `json:"group"`
	Text    string `json:"text"`
	Tags    string `json:"tags"`
	URI     string `json:"uri"`
	Title   string `json:"title"`
	Shared  bool   `json:"shared"`
	Created string `json:"created"`
	Updated string `json:"updated"`
}

// SlimDocument is the reduced index representation: identifier-bearing
// fields only.
type SlimDocument struct {
	Shape   string `json:"shape"`
	ID      string `json:"id"`
	User    string `json:"user"`
	Group   string `json:"group"`
	URI     string `json:"uri"`
	Updated string `json:"updated"`
}

// BuildFull converts an annotation to its full index document.
func BuildFull(a *store.Annotation) FullDocument {
	return FullDocument{
		Shape:   string(ShapeFull),
		ID:      a.ID,
		User:    a.UserID,
		Group:   a.GroupID,
		Text:    a.Text,
		Tags:    strings.Join(a.Tags, " "),
		URI:     a.TargetURI,
		Title:   a.DocumentTitle,
		Shared:  a.Shared,
		Created: a.Created.UTC().Format(time.RFC3339Nano),
		Updated: a.Updated.UTC().Format(time.RFC3339Nano),
	}
}

// BuildSlim converts an annotation to its slim index document.
func BuildSlim(a *store.Annotation) SlimDocument {
	return SlimDocument{
		Shape:   string(ShapeSlim),
		ID:      a.ID,
		User:    a.UserID,
		Group:   a.GroupID,
		URI:     a.TargetURI,
		Updated: a.Updated.UTC().Format(time.RFC3339Nano),
	}
}

// docID namespaces a document id by shape so the two shapes never
// overwrite each other: full/<id> and slim/<id> are distinct documents.
func docID(shape Shape, id string) string {
	return string(shape) + "/" + id
}
