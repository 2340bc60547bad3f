package reindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/annodex/internal/index"
	"github.com/user/annodex/internal/store"
)

// Filter decides whether a record actually needs reprocessing. It costs
// one metadata point lookup per record, nothing more.
type Filter struct {
	store *store.Store
	index *index.Index
}

// NewFilter creates a staleness filter over the given store and index.
func NewFilter(s *store.Store, ix *index.Index) *Filter {
	return &Filter{store: s, index: ix}
}

// ShouldProcess reports whether the record behind ref needs reindexing
// for the given shape. Force bypasses the check entirely. A document
// absent from the index is never up to date.
func (f *Filter) ShouldProcess(ctx context.Context, ref store.AnnotationRef, shape index.Shape, force bool) (bool, error) {
	if force {
		return true, nil
	}

	indexedAt, ok, err := f.index.IndexedAt(ctx, shape, ref.ID)
	if err != nil {
		return false, &IndexError{RecordID: ref.ID, Err: err}
	}
	if !ok {
		return true, nil
	}

	updated := ref.Updated
	if updated.IsZero() {
		// Ref came from an ids selector; fetch the timestamp now.
		updated, err = f.store.FetchUpdated(ref.ID)
		if errors.Is(err, store.ErrNotFound) {
			// Let the pipeline surface NotFound.
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("staleness lookup %s: %w", ref.ID, err)
		}
	}

	return updated.After(indexedAt), nil
}
