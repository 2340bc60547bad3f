package reindex

import (
	"context"

	"github.com/user/annodex/internal/store"
)

// Resolver turns a selector into a lazy stream of annotation refs,
// paginating against the store in fixed-size chunks so the full result
// set is never held in memory.
type Resolver struct {
	store     *store.Store
	chunkSize int
}

// NewResolver creates a Resolver. chunkSize bounds each store round-trip.
func NewResolver(s *store.Store, chunkSize int) *Resolver {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Resolver{store: s, chunkSize: chunkSize}
}

// Count returns how many annotations the selector matches. For an ids
// selector this is simply the list length; the other variants run a
// COUNT query.
func (r *Resolver) Count(sel Selector) (int, error) {
	switch sel.Kind {
	case SelectDateRange:
		n, err := r.store.CountByDateRange(sel.Start, sel.End)
		if err != nil {
			return 0, &SelectorError{Err: err}
		}
		return n, nil
	case SelectUser:
		n, err := r.store.CountByUser(sel.Username)
		if err != nil {
			return 0, &SelectorError{Err: err}
		}
		return n, nil
	case SelectGroup:
		n, err := r.store.CountByGroup(sel.GroupID)
		if err != nil {
			return 0, &SelectorError{Err: err}
		}
		return n, nil
	default:
		return len(sel.IDs), nil
	}
}

// Stream yields annotation refs one at a time, fetching pages from the
// store on demand. Not safe for concurrent use; callers serialize Next.
type Stream struct {
	fetch func(ctx context.Context) ([]store.AnnotationRef, error)
	buf   []store.AnnotationRef
	done  bool
}

// Next returns the next ref. ok is false once the stream is exhausted.
// A store failure mid-pagination surfaces as a SelectorError.
func (st *Stream) Next(ctx context.Context) (store.AnnotationRef, bool, error) {
	for len(st.buf) == 0 {
		if st.done {
			return store.AnnotationRef{}, false, nil
		}
		page, err := st.fetch(ctx)
		if err != nil {
			st.done = true
			return store.AnnotationRef{}, false, err
		}
		if len(page) == 0 {
			st.done = true
			return store.AnnotationRef{}, false, nil
		}
		st.buf = page
	}
	ref := st.buf[0]
	st.buf = st.buf[1:]
	return ref, true, nil
}

// Resolve builds a fresh stream for the selector. Each call re-executes
// the same logical query from the start; no cursor state is shared
// between calls. The selector must already be validated.
func (r *Resolver) Resolve(sel Selector) *Stream {
	switch sel.Kind {
	case SelectDateRange:
		var key store.RangeKey
		return &Stream{fetch: func(ctx context.Context) ([]store.AnnotationRef, error) {
			if err := ctx.Err(); err != nil {
				return nil, &SelectorError{Err: err}
			}
			refs, next, err := r.store.ListByDateRange(sel.Start, sel.End, key, r.chunkSize)
			if err != nil {
				return nil, &SelectorError{Err: err}
			}
			key = next
			return refs, nil
		}}
	case SelectUser:
		afterID := ""
		return &Stream{fetch: func(ctx context.Context) ([]store.AnnotationRef, error) {
			if err := ctx.Err(); err != nil {
				return nil, &SelectorError{Err: err}
			}
			refs, err := r.store.ListByUser(sel.Username, afterID, r.chunkSize)
			if err != nil {
				return nil, &SelectorError{Err: err}
			}
			if len(refs) > 0 {
				afterID = refs[len(refs)-1].ID
			}
			return refs, nil
		}}
	case SelectGroup:
		afterID := ""
		return &Stream{fetch: func(ctx context.Context) ([]store.AnnotationRef, error) {
			if err := ctx.Err(); err != nil {
				return nil, &SelectorError{Err: err}
			}
			refs, err := r.store.ListByGroup(sel.GroupID, afterID, r.chunkSize)
			if err != nil {
				return nil, &SelectorError{Err: err}
			}
			if len(refs) > 0 {
				afterID = refs[len(refs)-1].ID
			}
			return refs, nil
		}}
	default: // SelectIDs
		// Refs carry no timestamp; the staleness filter fetches it
		// lazily when it needs one.
		ids := sel.IDs
		return &Stream{fetch: func(ctx context.Context) ([]store.AnnotationRef, error) {
			if err := ctx.Err(); err != nil {
				return nil, &SelectorError{Err: err}
			}
			if len(ids) == 0 {
				return nil, nil
			}
			n := r.chunkSize
			if n > len(ids) {
				n = len(ids)
			}
			refs := make([]store.AnnotationRef, n)
			for i := 0; i < n; i++ {
				refs[i] = store.AnnotationRef{ID: ids[i]}
			}
			ids = ids[n:]
			return refs, nil
		}}
	}
}
