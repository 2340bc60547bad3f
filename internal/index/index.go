// Package index wraps the embedded full-text search index the reindex
// pipeline writes into: a Bleve index for the documents themselves plus a
// Pebble sidecar holding per-document last-indexed timestamps.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// Index is the search index for annotation documents.
type Index struct {
	idx  bleve.Index
	meta *metaStore
}

// Open creates or opens the index under dir.
func Open(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	blevePath := filepath.Join(dir, "annotations.bleve")
	idx, err := bleve.Open(blevePath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(blevePath, buildIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}

	meta, err := openMeta(filepath.Join(dir, "meta"))
	if err != nil {
		idx.Close()
		return nil, err
	}

	slog.Info("search index opened", "path", blevePath)
	return &Index{idx: idx, meta: meta}, nil
}

func buildIndexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	im.TypeField = "shape"

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "en"
	textField.Store = false

	keywordField := bleve.NewKeywordFieldMapping()
	keywordField.Store = false

	full := bleve.NewDocumentMapping()
	full.AddFieldMappingsAt("text", textField)
	full.AddFieldMappingsAt("title", textField)
	full.AddFieldMappingsAt("tags", textField)
	full.AddFieldMappingsAt("id", keywordField)
	full.AddFieldMappingsAt("user", keywordField)
	full.AddFieldMappingsAt("group", keywordField)
	full.AddFieldMappingsAt("uri", keywordField)
	full.AddFieldMappingsAt("shape", keywordField)
	full.AddFieldMappingsAt("created", keywordField)
	full.AddFieldMappingsAt("updated", keywordField)

	slim := bleve.NewDocumentMapping()
	slim.AddFieldMappingsAt("id", keywordField)
	slim.AddFieldMappingsAt("user", keywordField)
	slim.AddFieldMappingsAt("group", keywordField)
	slim.AddFieldMappingsAt("uri", keywordField)
	slim.AddFieldMappingsAt("shape", keywordField)
	slim.AddFieldMappingsAt("updated", keywordField)

	im.AddDocumentMapping(string(ShapeFull), full)
	im.AddDocumentMapping(string(ShapeSlim), slim)
	return im
}

// Upsert writes a document under its shape-namespaced id and records the
// index timestamp in the metadata sidecar. A repeat upsert with the same
// document fully replaces the previous one.
func (ix *Index) Upsert(ctx context.Context, shape Shape, id string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ix.idx.Index(docID(shape, id), doc); err != nil {
		return fmt.Errorf("index %s/%s: %w", shape, id, err)
	}
	if err := ix.meta.Put(shape, id, time.Now()); err != nil {
		return err
	}
	return nil
}

// IndexedAt returns when the document was last indexed. ok is false when
// the document is absent from the index.
func (ix *Index) IndexedAt(_ context.Context, shape Shape, id string) (time.Time, bool, error) {
	return ix.meta.Get(shape, id)
}

// Hit is a single search result.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Search runs a match query across the full-shape text fields and returns
// annotation ids ranked by score.
func (ix *Index) Search(_ context.Context, text string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	// Query each text field individually and combine with OR; the _all
	// composite field uses a different analyzer than the per-field "en".
	fields := []string{"text", "title", "tags"}
	fieldQueries := make([]blevequery.Query, 0, len(fields))
	for _, field := range fields {
		q := bleve.NewMatchQuery(text)
		q.SetField(field)
		fieldQueries = append(fieldQueries, q)
	}
	shapeQ := bleve.NewTermQuery(string(ShapeFull))
	shapeQ.SetField("shape")
	q := bleve.NewConjunctionQuery(bleve.NewDisjunctionQuery(fieldQueries...), shapeQ)

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := ix.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID[len(ShapeFull)+1:], Score: h.Score})
	}
	return hits, nil
}

// DocCount returns the number of documents in the index, across shapes.
func (ix *Index) DocCount() (uint64, error) {
	return ix.idx.DocCount()
}

// Close closes the index and its metadata sidecar.
func (ix *Index) Close() error {
	metaErr := ix.meta.Close()
	if err := ix.idx.Close(); err != nil {
		return err
	}
	return metaErr
}
