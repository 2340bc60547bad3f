package reindex

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/user/annodex/internal/index"
	"github.com/user/annodex/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	s := store.NewStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testIndex(t *testing.T) *index.Index {
	t.Helper()
	ix, err := index.Open(t.TempDir())
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func seedRange(t *testing.T, s *store.Store, n int, base time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		a := store.Annotation{
			ID:      fmt.Sprintf("ann%03d", i),
			UserID:  "acct:ada@example.com",
			GroupID: "__world__",
			Text:    fmt.Sprintf("note %d", i),
			Created: base.Add(time.Duration(i) * time.Minute),
			Updated: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Insert(a); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
}

func drain(t *testing.T, st *Stream) []store.AnnotationRef {
	t.Helper()
	var refs []store.AnnotationRef
	for {
		ref, ok, err := st.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			return refs
		}
		refs = append(refs, ref)
	}
}

func TestResolveDateRangeExactlyOnce(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedRange(t, s, 25, base)

	r := NewResolver(s, 7) // chunk smaller than result set
	sel := Selector{Kind: SelectDateRange, Start: base, End: base.Add(24 * time.Minute)}

	refs := drain(t, r.Resolve(sel))
	if len(refs) != 25 {
		t.Fatalf("resolved %d refs, want 25", len(refs))
	}
	seen := map[string]bool{}
	var prev time.Time
	for _, ref := range refs {
		if seen[ref.ID] {
			t.Errorf("id %s yielded twice", ref.ID)
		}
		seen[ref.ID] = true
		if ref.Updated.Before(prev) {
			t.Error("date range refs must be ordered by timestamp ascending")
		}
		prev = ref.Updated
	}
}

func TestResolveIsRestartable(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedRange(t, s, 10, base)

	r := NewResolver(s, 3)
	sel := Selector{Kind: SelectDateRange, Start: base, End: base.Add(time.Hour)}

	// Partially consume one stream, then resolve again: the second
	// stream starts from the beginning.
	st1 := r.Resolve(sel)
	for i := 0; i < 4; i++ {
		if _, ok, err := st1.Next(context.Background()); !ok || err != nil {
			t.Fatalf("Next: ok=%v err=%v", ok, err)
		}
	}
	refs := drain(t, r.Resolve(sel))
	if len(refs) != 10 {
		t.Errorf("restarted stream yielded %d refs, want 10", len(refs))
	}
}

func TestResolveUserAndGroup(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	for i, owner := range []struct{ user, group string }{
		{"ada", "g1"}, {"ada", "g2"}, {"bob", "g1"},
	} {
		if err := s.Insert(store.Annotation{
			ID: fmt.Sprintf("a%d", i), UserID: owner.user, GroupID: owner.group,
			Created: now, Updated: now,
		}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	r := NewResolver(s, 2)
	refs := drain(t, r.Resolve(Selector{Kind: SelectUser, Username: "ada"}))
	if len(refs) != 2 {
		t.Errorf("user refs = %d, want 2", len(refs))
	}
	refs = drain(t, r.Resolve(Selector{Kind: SelectGroup, GroupID: "g1"}))
	if len(refs) != 2 {
		t.Errorf("group refs = %d, want 2", len(refs))
	}
}

func TestResolveIDsPreservesOrder(t *testing.T) {
	s := testStore(t)
	r := NewResolver(s, 2)
	sel := Selector{Kind: SelectIDs, IDs: []string{"z9", "a1", "m5"}}

	refs := drain(t, r.Resolve(sel))
	if len(refs) != 3 {
		t.Fatalf("refs = %d, want 3", len(refs))
	}
	for i, want := range []string{"z9", "a1", "m5"} {
		if refs[i].ID != want {
			t.Errorf("refs[%d] = %q, want %q", i, refs[i].ID, want)
		}
		if !refs[i].Updated.IsZero() {
			t.Error("ids refs carry no timestamp; it is fetched lazily")
		}
	}
}

func TestResolveCount(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedRange(t, s, 5, base)

	r := NewResolver(s, 100)
	n, err := r.Count(Selector{Kind: SelectDateRange, Start: base, End: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 5 {
		t.Errorf("count = %d, want 5", n)
	}
	n, err = r.Count(Selector{Kind: SelectIDs, IDs: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Count ids: %v", err)
	}
	if n != 2 {
		t.Errorf("ids count = %d, want 2", n)
	}
}

func TestResolveFailsAfterStoreClose(t *testing.T) {
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	s := store.NewStore(db)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedRange(t, s, 3, base)

	r := NewResolver(s, 10)
	st := r.Resolve(Selector{Kind: SelectDateRange, Start: base, End: base.Add(time.Hour)})
	_ = s.Close()

	_, _, err = st.Next(context.Background())
	var se *SelectorError
	if !errors.As(err, &se) {
		t.Errorf("err = %v, want SelectorError", err)
	}
}
