package reindex

import (
	"context"
	"testing"
	"time"

	"github.com/user/annodex/internal/index"
	"github.com/user/annodex/internal/store"
)

func TestShouldProcessForce(t *testing.T) {
	f := NewFilter(testStore(t), testIndex(t))
	ref := store.AnnotationRef{ID: "whatever"}
	ok, err := f.ShouldProcess(context.Background(), ref, index.ShapeFull, true)
	if err != nil {
		t.Fatalf("ShouldProcess: %v", err)
	}
	if !ok {
		t.Error("force must always process")
	}
}

func TestShouldProcessAbsentDocument(t *testing.T) {
	f := NewFilter(testStore(t), testIndex(t))
	// Ref timestamp far in the past; absence alone decides.
	ref := store.AnnotationRef{ID: "a1", Updated: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
	ok, err := f.ShouldProcess(context.Background(), ref, index.ShapeFull, false)
	if err != nil {
		t.Fatalf("ShouldProcess: %v", err)
	}
	if !ok {
		t.Error("a missing index document is never up to date")
	}
}

func TestShouldProcessUpToDate(t *testing.T) {
	s := testStore(t)
	ix := testIndex(t)
	ctx := context.Background()

	updated := time.Now().UTC().Add(-time.Hour)
	a := store.Annotation{ID: "a1", UserID: "u", GroupID: "g", Created: updated, Updated: updated}
	if err := s.Insert(a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// Upsert stamps indexed_at = now, which is after updated.
	if err := ix.Upsert(ctx, index.ShapeFull, "a1", index.BuildFull(&a)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	f := NewFilter(s, ix)
	ok, err := f.ShouldProcess(ctx, store.AnnotationRef{ID: "a1", Updated: updated}, index.ShapeFull, false)
	if err != nil {
		t.Fatalf("ShouldProcess: %v", err)
	}
	if ok {
		t.Error("record indexed after its last modification is not stale")
	}
}

func TestShouldProcessStaleRecord(t *testing.T) {
	s := testStore(t)
	ix := testIndex(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	a := store.Annotation{ID: "a1", UserID: "u", GroupID: "g", Created: old, Updated: old}
	if err := s.Insert(a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ix.Upsert(ctx, index.ShapeFull, "a1", index.BuildFull(&a)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// The record is modified after indexing.
	newer := time.Now().UTC().Add(time.Hour)
	f := NewFilter(s, ix)
	ok, err := f.ShouldProcess(ctx, store.AnnotationRef{ID: "a1", Updated: newer}, index.ShapeFull, false)
	if err != nil {
		t.Fatalf("ShouldProcess: %v", err)
	}
	if !ok {
		t.Error("record modified after indexing is stale")
	}
}

func TestShouldProcessLazyTimestamp(t *testing.T) {
	s := testStore(t)
	ix := testIndex(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	a := store.Annotation{ID: "a1", UserID: "u", GroupID: "g", Created: old, Updated: old}
	if err := s.Insert(a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ix.Upsert(ctx, index.ShapeFull, "a1", index.BuildFull(&a)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	f := NewFilter(s, ix)
	// Zero Updated, as produced by an ids selector: the filter fetches
	// the timestamp itself. Record is older than indexed_at, so skip.
	ok, err := f.ShouldProcess(ctx, store.AnnotationRef{ID: "a1"}, index.ShapeFull, false)
	if err != nil {
		t.Fatalf("ShouldProcess: %v", err)
	}
	if ok {
		t.Error("unmodified record should be skipped even via lazy lookup")
	}

	// Bump the record; now it is stale again.
	if err := s.Touch("a1", "edited", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	ok, err = f.ShouldProcess(ctx, store.AnnotationRef{ID: "a1"}, index.ShapeFull, false)
	if err != nil {
		t.Fatalf("ShouldProcess: %v", err)
	}
	if !ok {
		t.Error("touched record should be stale")
	}
}

func TestShouldProcessShapesIndependent(t *testing.T) {
	s := testStore(t)
	ix := testIndex(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	a := store.Annotation{ID: "a1", UserID: "u", GroupID: "g", Created: old, Updated: old}
	if err := s.Insert(a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ix.Upsert(ctx, index.ShapeFull, "a1", index.BuildFull(&a)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	f := NewFilter(s, ix)
	ref := store.AnnotationRef{ID: "a1", Updated: old}
	// Full document is fresh, slim was never written.
	if ok, _ := f.ShouldProcess(ctx, ref, index.ShapeFull, false); ok {
		t.Error("full shape should be up to date")
	}
	if ok, _ := f.ShouldProcess(ctx, ref, index.ShapeSlim, false); !ok {
		t.Error("slim shape was never indexed and must process")
	}
}
