package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an annotation does not exist or has been
// soft-deleted. Deleted annotations are invisible to all read paths.
var ErrNotFound = errors.New("annotation not found")

// Store is the data access layer for the annotation corpus.
type Store struct {
	db *DB
}

// NewStore creates a new Store with the given DB.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadDB returns the read database connection for queries.
func (s *Store) ReadDB() *sql.DB {
	return s.db.Read
}

// timeLayout is fixed-width (nanosecond digits never stripped) so that
// lexicographic ordering of stored strings matches chronological
// ordering. The range and keyset predicates compare these as TEXT.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Insert stores a new annotation. The id must be unique.
func (s *Store) Insert(a Annotation) error {
	tags, err := json.Marshal(a.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.Write.Exec(`INSERT INTO annotations
		(id, userid, groupid, text, tags, target_uri, document_title, shared, deleted, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		a.ID, a.UserID, a.GroupID, a.Text, string(tags), a.TargetURI, a.DocumentTitle,
		boolToInt(a.Shared), fmtTime(a.Created), fmtTime(a.Updated))
	if err != nil {
		return fmt.Errorf("insert annotation %s: %w", a.ID, err)
	}
	return nil
}

// Touch updates an annotation's text and bumps its updated timestamp.
func (s *Store) Touch(id, text string, updated time.Time) error {
	res, err := s.db.Write.Exec(
		"UPDATE annotations SET text = ?, updated = ? WHERE id = ? AND deleted = 0",
		text, fmtTime(updated), id)
	if err != nil {
		return fmt.Errorf("update annotation %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes an annotation. Deleted rows drop out of every
// listing and FetchByID.
func (s *Store) Delete(id string) error {
	res, err := s.db.Write.Exec("UPDATE annotations SET deleted = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete annotation %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FetchByID loads a single annotation. Returns ErrNotFound for missing
// or deleted rows.
func (s *Store) FetchByID(id string) (*Annotation, error) {
	row := s.db.Read.QueryRow(`SELECT id, userid, groupid, text, tags, target_uri,
		document_title, shared, created, updated
		FROM annotations WHERE id = ? AND deleted = 0`, id)
	a, err := scanAnnotation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch annotation %s: %w", id, err)
	}
	return a, nil
}

// FetchUpdated returns just the last-modified timestamp of an annotation.
// A single-column point lookup, cheap enough to call per record.
func (s *Store) FetchUpdated(id string) (time.Time, error) {
	var updated string
	err := s.db.Read.QueryRow(
		"SELECT updated FROM annotations WHERE id = ? AND deleted = 0", id).Scan(&updated)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch updated %s: %w", id, err)
	}
	return parseTime(updated)
}

// RangeKey is a keyset-pagination cursor over (updated, id).
// The zero value starts from the beginning.
type RangeKey struct {
	Updated time.Time
	ID      string
}

// ListByDateRange returns up to limit refs whose updated timestamp falls
// in [start, end] (inclusive), ordered by (updated, id) ascending, starting
// strictly after the given key. The returned key resumes the scan.
func (s *Store) ListByDateRange(start, end time.Time, after RangeKey, limit int) ([]AnnotationRef, RangeKey, error) {
	afterUpdated := fmtTime(after.Updated)
	if after.Updated.IsZero() {
		afterUpdated = ""
	}
	rows, err := s.db.Read.Query(`SELECT id, updated FROM annotations
		WHERE deleted = 0 AND updated >= ? AND updated <= ?
		  AND (updated > ? OR (updated = ? AND id > ?))
		ORDER BY updated, id LIMIT ?`,
		fmtTime(start), fmtTime(end), afterUpdated, afterUpdated, after.ID, limit)
	if err != nil {
		return nil, after, fmt.Errorf("list by date range: %w", err)
	}
	defer rows.Close()

	refs, err := scanRefs(rows)
	if err != nil {
		return nil, after, fmt.Errorf("list by date range: %w", err)
	}
	next := after
	if len(refs) > 0 {
		last := refs[len(refs)-1]
		next = RangeKey{Updated: last.Updated, ID: last.ID}
	}
	return refs, next, nil
}

// ListByUser returns up to limit refs owned by the user, ordered by id
// ascending, starting strictly after afterID.
func (s *Store) ListByUser(username string, afterID string, limit int) ([]AnnotationRef, error) {
	rows, err := s.db.Read.Query(`SELECT id, updated FROM annotations
		WHERE deleted = 0 AND userid = ? AND id > ?
		ORDER BY id LIMIT ?`, username, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list by user: %w", err)
	}
	defer rows.Close()
	refs, err := scanRefs(rows)
	if err != nil {
		return nil, fmt.Errorf("list by user: %w", err)
	}
	return refs, nil
}

// ListByGroup returns up to limit refs owned by the group, ordered by id
// ascending, starting strictly after afterID.
func (s *Store) ListByGroup(groupID string, afterID string, limit int) ([]AnnotationRef, error) {
	rows, err := s.db.Read.Query(`SELECT id, updated FROM annotations
		WHERE deleted = 0 AND groupid = ? AND id > ?
		ORDER BY id LIMIT ?`, groupID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list by group: %w", err)
	}
	defer rows.Close()
	refs, err := scanRefs(rows)
	if err != nil {
		return nil, fmt.Errorf("list by group: %w", err)
	}
	return refs, nil
}

// CountByDateRange counts non-deleted annotations updated within [start, end].
func (s *Store) CountByDateRange(start, end time.Time) (int, error) {
	var n int
	err := s.db.Read.QueryRow(
		"SELECT COUNT(*) FROM annotations WHERE deleted = 0 AND updated >= ? AND updated <= ?",
		fmtTime(start), fmtTime(end)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by date range: %w", err)
	}
	return n, nil
}

// CountByUser counts non-deleted annotations owned by the user.
func (s *Store) CountByUser(username string) (int, error) {
	var n int
	err := s.db.Read.QueryRow(
		"SELECT COUNT(*) FROM annotations WHERE deleted = 0 AND userid = ?", username).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by user: %w", err)
	}
	return n, nil
}

// CountByGroup counts non-deleted annotations owned by the group.
func (s *Store) CountByGroup(groupID string) (int, error) {
	var n int
	err := s.db.Read.QueryRow(
		"SELECT COUNT(*) FROM annotations WHERE deleted = 0 AND groupid = ?", groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by group: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (*Annotation, error) {
	var a Annotation
	var tags string
	var shared int
	var created, updated string
	err := row.Scan(&a.ID, &a.UserID, &a.GroupID, &a.Text, &tags, &a.TargetURI,
		&a.DocumentTitle, &shared, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	a.Shared = shared != 0
	if a.Created, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created: %w", err)
	}
	if a.Updated, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated: %w", err)
	}
	return &a, nil
}

func scanRefs(rows *sql.Rows) ([]AnnotationRef, error) {
	var refs []AnnotationRef
	for rows.Next() {
		var ref AnnotationRef
		var updated string
		if err := rows.Scan(&ref.ID, &updated); err != nil {
			return nil, err
		}
		var err error
		if ref.Updated, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("parse updated: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
