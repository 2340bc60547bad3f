package reindex

import (
	"sort"
	"sync"
	"time"

	"github.com/user/annodex/internal/index"
)

// JobState is the lifecycle state of a reindex job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the state is final. Terminal jobs are
// immutable.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobError is one per-record failure, kept in a bounded ring on the job.
type JobError struct {
	RecordID   string    `json:"record_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Job is a single reindex job. Owned by the Registry; mutated only by
// the dispatcher goroutine driving it. Readers get snapshot copies.
type Job struct {
	ID           string      `json:"id"`
	Type         index.Shape `json:"job_type"`
	Selector     Selector    `json:"selector"`
	Force        bool        `json:"force"`
	State        JobState    `json:"state"`
	Total        int         `json:"total_matched"`
	Processed    int         `json:"processed_count"`
	Skipped      int         `json:"skipped_count"`
	Errors       int         `json:"error_count"`
	RecentErrors []JobError  `json:"recent_errors,omitempty"`
	Error        string      `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`

	// index-failure share of Errors, for the circuit breaker
	indexErrors int
}

// JobEvent is a progress notification published while a job runs.
// Events may be dropped under pressure; the status endpoint remains the
// source of truth.
type JobEvent struct {
	Type        string `json:"type"`
	JobID       string `json:"job_id"`
	State       string `json:"state"`
	Total       int    `json:"total,omitempty"`
	Processed   int    `json:"processed,omitempty"`
	Skipped     int    `json:"skipped,omitempty"`
	Errors      int    `json:"errors,omitempty"`
	Percent     int    `json:"percent,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAtNs int64  `json:"created_at_ns"`
}

// Registry is the process-wide table of reindex jobs. The dispatcher
// writes; everyone else only reads snapshots.
type Registry struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]*cancelFlag
	events      map[string]chan JobEvent
	maxRecent   int
	maxTerminal int
}

type cancelFlag struct {
	mu  sync.Mutex
	set bool
}

// NewRegistry creates a Registry. maxRecent caps each job's error ring;
// maxTerminal bounds how many finished jobs are retained.
func NewRegistry(maxRecent, maxTerminal int) *Registry {
	if maxRecent <= 0 {
		maxRecent = DefaultMaxRecentErrors
	}
	if maxTerminal <= 0 {
		maxTerminal = DefaultMaxTerminalJobs
	}
	return &Registry{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]*cancelFlag),
		events:      make(map[string]chan JobEvent),
		maxRecent:   maxRecent,
		maxTerminal: maxTerminal,
	}
}

// create registers a new queued job and its event channel.
func (r *Registry) create(jobType index.Shape, sel Selector, force bool) *Job {
	now := time.Now().UTC()
	job := &Job{
		ID:        NewJobID(),
		Type:      jobType,
		Selector:  sel,
		Force:     force,
		State:     JobQueued,
		Total:     -1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.cancels[job.ID] = &cancelFlag{}
	r.events[job.ID] = make(chan JobEvent, 1024)
	r.mu.Unlock()
	return copyJob(job)
}

// Get returns a snapshot of the job, or false if unknown.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return copyJob(job), true
}

// List returns snapshots of all jobs, newest first.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	out := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, copyJob(job))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// RequestCancel sets the job's cancellation flag. The dispatcher
// observes it at the next record boundary; in-flight per-record work
// completes. Returns false if the job is unknown or already terminal.
func (r *Registry) RequestCancel(id string) bool {
	r.mu.RLock()
	job, ok := r.jobs[id]
	flag := r.cancels[id]
	r.mu.RUnlock()
	if !ok || job.State.Terminal() {
		return false
	}
	flag.mu.Lock()
	flag.set = true
	flag.mu.Unlock()
	return true
}

func (r *Registry) cancelRequested(id string) bool {
	r.mu.RLock()
	flag, ok := r.cancels[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	flag.mu.Lock()
	defer flag.mu.Unlock()
	return flag.set
}

// update applies fn to the live job under the registry lock. No-op on
// terminal jobs.
func (r *Registry) update(id string, fn func(j *Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok && !job.State.Terminal() {
		fn(job)
		job.UpdatedAt = time.Now().UTC()
	}
}

// addError records a per-record failure: the uncapped counter always
// increments, the ring drops its oldest entry once full.
func (r *Registry) addError(id, recordID, reason string, isIndexErr bool) {
	r.update(id, func(j *Job) {
		j.Errors++
		if isIndexErr {
			j.indexErrors++
		}
		if len(j.RecentErrors) >= r.maxRecent {
			j.RecentErrors = j.RecentErrors[1:]
		}
		j.RecentErrors = append(j.RecentErrors, JobError{
			RecordID:   recordID,
			Reason:     reason,
			OccurredAt: time.Now().UTC(),
		})
	})
}

// finish moves the job to a terminal state and closes its event channel.
func (r *Registry) finish(id string, state JobState, errMsg string) {
	now := time.Now().UTC()
	r.update(id, func(j *Job) {
		j.State = state
		j.Error = errMsg
		j.FinishedAt = &now
	})
	job, _ := r.Get(id)
	ev := JobEvent{
		Type:        "reindex.job." + string(state),
		JobID:       id,
		State:       string(state),
		CreatedAtNs: time.Now().UnixNano(),
	}
	if job != nil {
		ev.Total = job.Total
		ev.Processed = job.Processed
		ev.Skipped = job.Skipped
		ev.Errors = job.Errors
		ev.Error = job.Error
	}
	r.publish(id, ev)
	r.closeEvents(id)
}

// breakerStats returns how many records the job has attempted
// (processed or errored) and how many of those failed at the index.
func (r *Registry) breakerStats(id string) (attempted, indexErrors int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return 0, 0
	}
	return job.Processed + job.Errors, job.indexErrors
}

// EventsFor returns the job's event channel for streaming consumers.
func (r *Registry) EventsFor(id string) (<-chan JobEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.events[id]
	return ch, ok
}

func (r *Registry) publish(id string, ev JobEvent) {
	r.mu.RLock()
	ch, ok := r.events[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		// drop under pressure; status endpoint remains source of truth
	}
}

func (r *Registry) closeEvents(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.events[id]; ok {
		close(ch)
		delete(r.events, id)
	}
}

// EvictTerminal removes the oldest-finished terminal jobs beyond the
// retention bound. Running and queued jobs are never evicted. Returns
// how many jobs were removed.
func (r *Registry) EvictTerminal() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var terminal []*Job
	for _, job := range r.jobs {
		if job.State.Terminal() {
			terminal = append(terminal, job)
		}
	}
	if len(terminal) <= r.maxTerminal {
		return 0
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].FinishedAt.Before(*terminal[j].FinishedAt)
	})
	evict := terminal[:len(terminal)-r.maxTerminal]
	for _, job := range evict {
		delete(r.jobs, job.ID)
		delete(r.cancels, job.ID)
	}
	return len(evict)
}

func copyJob(j *Job) *Job {
	cp := *j
	if j.FinishedAt != nil {
		ft := *j.FinishedAt
		cp.FinishedAt = &ft
	}
	if j.RecentErrors != nil {
		cp.RecentErrors = append([]JobError(nil), j.RecentErrors...)
	}
	if j.Selector.IDs != nil {
		cp.Selector.IDs = append([]string(nil), j.Selector.IDs...)
	}
	return &cp
}
