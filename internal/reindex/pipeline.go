package reindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/user/annodex/internal/index"
	"github.com/user/annodex/internal/store"
)

var tracer = otel.Tracer("annodex/reindex")

// Pipeline drives one record through fetch, document build, and index
// upsert. Per-record work runs under a bounded deadline; exceeding it
// counts as an IndexError for that record only.
type Pipeline struct {
	store         *store.Store
	index         *index.Index
	recordTimeout time.Duration
}

// NewPipeline creates a Pipeline. recordTimeout bounds each Process call.
func NewPipeline(s *store.Store, ix *index.Index, recordTimeout time.Duration) *Pipeline {
	if recordTimeout <= 0 {
		recordTimeout = DefaultRecordTimeout
	}
	return &Pipeline{store: s, index: ix, recordTimeout: recordTimeout}
}

// Process reindexes a single annotation under the given shape. It is
// idempotent: the same record and shape always produce the same document.
// Returns ErrNotFound when the record vanished and IndexError on index
// failures; both are per-record conditions.
func (p *Pipeline) Process(ctx context.Context, id string, shape index.Shape) error {
	ctx, cancel := context.WithTimeout(ctx, p.recordTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "reindex.process")
	span.SetAttributes(
		attribute.String("annotation.id", id),
		attribute.String("job.type", string(shape)),
	)
	defer span.End()

	a, err := p.store.FetchByID(id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("fetch %s: %w", id, err)
	}

	var doc any
	switch shape {
	case index.ShapeSlim:
		doc = index.BuildSlim(a)
	default:
		doc = index.BuildFull(a)
	}

	if err := p.index.Upsert(ctx, shape, id, doc); err != nil {
		return &IndexError{RecordID: id, Err: err}
	}
	return nil
}
