package reindex

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/user/annodex/internal/index"
	"github.com/user/annodex/internal/store"
)

func waitForJob(t *testing.T, d *Dispatcher, id string) *Job {
	t.Helper()
	d.Wait()
	job, ok := d.Registry().Get(id)
	if !ok {
		t.Fatalf("job %s disappeared", id)
	}
	return job
}

func TestSubmitRejectsInvalidSelector(t *testing.T) {
	d := New(testStore(t), testIndex(t), DefaultConfig())

	_, err := d.Submit(Request{Type: index.ShapeFull, Selector: Selector{Kind: SelectIDs}})
	if !IsValidation(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
	_, err = d.Submit(Request{Type: "huge", Selector: idsSelector("a1")})
	if !IsValidation(err) {
		t.Errorf("err = %v, want ValidationError for bad job type", err)
	}
	if jobs := d.Registry().List(); len(jobs) != 0 {
		t.Errorf("no job should be created on validation failure, got %d", len(jobs))
	}
}

func TestForcedIDsJobCollapsesDuplicates(t *testing.T) {
	s := testStore(t)
	ix := testIndex(t)
	now := time.Now().UTC()
	for _, id := range []string{"a1", "a2"} {
		if err := s.Insert(store.Annotation{ID: id, UserID: "u", GroupID: "g", Created: now, Updated: now}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	d := New(s, ix, DefaultConfig())
	job, err := d.Submit(Request{
		Type:     index.ShapeFull,
		Selector: Selector{Kind: SelectIDs, IDs: ParseIDList("a1\na2\na1")},
		Force:    true,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitForJob(t, d, job.ID)
	if final.State != JobCompleted {
		t.Fatalf("state = %q, want completed", final.State)
	}
	if final.Total != 2 {
		t.Errorf("total = %d, want 2 (duplicate collapsed)", final.Total)
	}
	if final.Processed != 2 || final.Errors != 0 {
		t.Errorf("processed = %d errors = %d, want 2/0", final.Processed, final.Errors)
	}
	for _, id := range []string{"a1", "a2"} {
		if _, ok, _ := ix.IndexedAt(context.Background(), index.ShapeFull, id); !ok {
			t.Errorf("annotation %s missing from index", id)
		}
	}
}

func TestPartialFailuresDoNotFailJob(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	ids := []string{"a1", "a2", "a3", "a4", "a5"}
	for _, id := range ids {
		if err := s.Insert(store.Annotation{ID: id, UserID: "u", GroupID: "g", Created: now, Updated: now}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	d := New(s, testIndex(t), DefaultConfig())
	// Three of the requested ids do not exist: per-record NotFound,
	// never fatal.
	sel := Selector{Kind: SelectIDs, IDs: append(append([]string{}, ids...), "ghost1", "ghost2", "ghost3")}
	job, err := d.Submit(Request{Type: index.ShapeFull, Selector: sel, Force: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitForJob(t, d, job.ID)
	if final.State != JobCompleted {
		t.Fatalf("state = %q, want completed despite per-record errors", final.State)
	}
	if final.Processed != 5 {
		t.Errorf("processed = %d, want 5", final.Processed)
	}
	if final.Errors != 3 {
		t.Errorf("errors = %d, want 3", final.Errors)
	}
	if len(final.RecentErrors) != 3 {
		t.Errorf("recent errors = %d, want 3", len(final.RecentErrors))
	}
}

func TestCircuitBreakerFailsJob(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	var ids []string
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("a%d", i)
		ids = append(ids, id)
		if err := s.Insert(store.Annotation{ID: id, UserID: "u", GroupID: "g", Created: now, Updated: now}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	cfg := DefaultConfig()
	cfg.RecordTimeout = time.Nanosecond // every index write times out
	cfg.BreakerMinSample = 5
	cfg.ErrorRatio = 0.5
	d := New(s, testIndex(t), cfg)

	job, err := d.Submit(Request{Type: index.ShapeFull, Selector: idsSelector(ids...), Force: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitForJob(t, d, job.ID)
	if final.State != JobFailed {
		t.Fatalf("state = %q, want failed once breaker trips", final.State)
	}
	if !strings.Contains(final.Error, "error ratio") {
		t.Errorf("job error = %q", final.Error)
	}
	if final.Errors < cfg.BreakerMinSample {
		t.Errorf("errors = %d, want at least the breaker sample floor", final.Errors)
	}
}

func TestCancellationStopsAtRecordBoundary(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedRange(t, s, 10, base)

	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.JobWorkers = 1
	d := New(s, testIndex(t), cfg)

	records := 0
	d.recordHook = func(jobID string) {
		records++
		if records == 3 {
			d.Registry().RequestCancel(jobID)
		}
	}

	job, err := d.Submit(Request{
		Type:     index.ShapeFull,
		Selector: Selector{Kind: SelectDateRange, Start: base, End: base.Add(time.Hour)},
		Force:    true,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitForJob(t, d, job.ID)
	if final.State != JobCancelled {
		t.Fatalf("state = %q, want cancelled", final.State)
	}
	attempted := final.Processed + final.Skipped + final.Errors
	if attempted != 3 {
		t.Errorf("attempted = %d, want exactly 3 before the flag was observed", attempted)
	}
	if attempted >= final.Total {
		t.Error("cancelled job must leave records unprocessed")
	}
}

func TestUnforcedRerunSkipsFreshRecords(t *testing.T) {
	s := testStore(t)
	ix := testIndex(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedRange(t, s, 3, base)

	d := New(s, ix, DefaultConfig())
	sel := Selector{Kind: SelectDateRange, Start: base, End: base.Add(time.Hour)}

	job, err := d.Submit(Request{Type: index.ShapeFull, Selector: sel, Force: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if final := waitForJob(t, d, job.ID); final.Processed != 3 {
		t.Fatalf("first run processed = %d, want 3", final.Processed)
	}

	// Second run without force: everything is already up to date.
	job, err = d.Submit(Request{Type: index.ShapeFull, Selector: sel, Force: false})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final := waitForJob(t, d, job.ID)
	if final.State != JobCompleted {
		t.Fatalf("state = %q, want completed", final.State)
	}
	if final.Processed != 0 || final.Skipped != 3 {
		t.Errorf("processed = %d skipped = %d, want 0/3", final.Processed, final.Skipped)
	}
}

func TestSelectorFailureFailsJob(t *testing.T) {
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	s := store.NewStore(db)
	d := New(s, testIndex(t), DefaultConfig())
	_ = s.Close() // store unreachable before the job runs

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	job, err := d.Submit(Request{
		Type:     index.ShapeFull,
		Selector: Selector{Kind: SelectDateRange, Start: base, End: base.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitForJob(t, d, job.ID)
	if final.State != JobFailed {
		t.Errorf("state = %q, want failed on selector error", final.State)
	}
	if final.Error == "" {
		t.Error("fatal selector error must surface in job status")
	}
}
