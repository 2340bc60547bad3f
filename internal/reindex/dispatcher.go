// Package reindex implements the bulk reindex job core: selector
// resolution, staleness filtering, the per-record indexing pipeline, and
// the dispatcher that drives jobs through a shared worker pool while
// tracking progress in a process-wide registry.
package reindex

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/user/annodex/internal/index"
	"github.com/user/annodex/internal/store"
)

// Defaults for dispatcher tunables.
const (
	DefaultChunkSize        = 500
	DefaultWorkers          = 8
	DefaultJobWorkers       = 4
	DefaultRecordTimeout    = 30 * time.Second
	DefaultErrorRatio       = 0.5
	DefaultBreakerMinSample = 20
	DefaultMaxRecentErrors  = 50
	DefaultMaxTerminalJobs  = 100
)

// Config holds dispatcher tunables.
type Config struct {
	Workers          int           // global worker pool shared by all jobs
	JobWorkers       int           // per-job concurrency bound
	ChunkSize        int           // resolver pagination chunk
	RecordTimeout    time.Duration // per-record pipeline deadline
	ErrorRatio       float64       // index-error fraction that trips the breaker
	BreakerMinSample int           // records attempted before the breaker may trip
	MaxRecentErrors  int           // per-job error ring cap
	MaxTerminalJobs  int           // registry retention bound
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:          DefaultWorkers,
		JobWorkers:       DefaultJobWorkers,
		ChunkSize:        DefaultChunkSize,
		RecordTimeout:    DefaultRecordTimeout,
		ErrorRatio:       DefaultErrorRatio,
		BreakerMinSample: DefaultBreakerMinSample,
		MaxRecentErrors:  DefaultMaxRecentErrors,
		MaxTerminalJobs:  DefaultMaxTerminalJobs,
	}
}

// Request is a job submission from the admin boundary.
type Request struct {
	Type     index.Shape
	Selector Selector
	Force    bool
}

// Dispatcher owns the worker pool and drives reindex jobs end to end.
type Dispatcher struct {
	registry *Registry
	resolver *Resolver
	filter   *Filter
	pipeline *Pipeline
	config   Config

	// global admission control: one slot per concurrent record
	slots chan struct{}
	wg    sync.WaitGroup

	// called after each record when set; tests use it to act at a
	// record boundary
	recordHook func(jobID string)
}

// New creates a Dispatcher over the annotation store and search index.
func New(s *store.Store, ix *index.Index, config Config) *Dispatcher {
	def := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.JobWorkers <= 0 {
		config.JobWorkers = def.JobWorkers
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = def.ChunkSize
	}
	if config.RecordTimeout <= 0 {
		config.RecordTimeout = def.RecordTimeout
	}
	if config.ErrorRatio <= 0 || config.ErrorRatio > 1 {
		config.ErrorRatio = def.ErrorRatio
	}
	if config.BreakerMinSample <= 0 {
		config.BreakerMinSample = def.BreakerMinSample
	}
	return &Dispatcher{
		registry: NewRegistry(config.MaxRecentErrors, config.MaxTerminalJobs),
		resolver: NewResolver(s, config.ChunkSize),
		filter:   NewFilter(s, ix),
		pipeline: NewPipeline(s, ix, config.RecordTimeout),
		config:   config,
		slots:    make(chan struct{}, config.Workers),
	}
}

// Registry exposes the job registry for status readers.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Submit validates the request, registers a queued job, and starts
// driving it in the background. Validation failures return before any
// job is created.
func (d *Dispatcher) Submit(req Request) (*Job, error) {
	if !req.Type.Valid() {
		return nil, &ValidationError{Reason: "unknown job type " + string(req.Type)}
	}
	if err := req.Selector.Validate(); err != nil {
		return nil, err
	}

	job := d.registry.create(req.Type, req.Selector, req.Force)
	slog.Info("reindex job submitted",
		"job_id", job.ID, "job_type", job.Type,
		"selector", job.Selector.Kind, "force", job.Force)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(job.ID, req)
	}()
	return job, nil
}

// Wait blocks until all in-flight jobs have finished. For shutdown and
// tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(jobID string, req Request) {
	ctx, span := tracer.Start(context.Background(), "reindex.job")
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.type", string(req.Type)),
		attribute.String("job.selector", string(req.Selector.Kind)),
	)
	defer span.End()

	d.registry.update(jobID, func(j *Job) { j.State = JobRunning })
	d.registry.publish(jobID, JobEvent{
		Type:        "reindex.job.started",
		JobID:       jobID,
		State:       string(JobRunning),
		CreatedAtNs: time.Now().UnixNano(),
	})

	total, err := d.resolver.Count(req.Selector)
	if err != nil {
		slog.Error("reindex selector count failed", "job_id", jobID, "error", err)
		d.registry.finish(jobID, JobFailed, err.Error())
		return
	}
	d.registry.update(jobID, func(j *Job) { j.Total = total })

	stream := d.resolver.Resolve(req.Selector)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		streamMu sync.Mutex
		fatalMu  sync.Mutex
		fatalErr error
	)
	setFatal := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
		stop()
	}

	var workers sync.WaitGroup
	for i := 0; i < d.config.JobWorkers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for {
				// Record boundary: cancellation is observed here,
				// never mid-record.
				if runCtx.Err() != nil || d.registry.cancelRequested(jobID) {
					return
				}

				streamMu.Lock()
				ref, ok, err := stream.Next(runCtx)
				streamMu.Unlock()
				if err != nil {
					setFatal(err)
					return
				}
				if !ok {
					return
				}

				d.slots <- struct{}{}
				d.processOne(runCtx, jobID, ref, req)
				<-d.slots

				if d.recordHook != nil {
					d.recordHook(jobID)
				}

				if d.breakerTripped(jobID) {
					setFatal(errors.New("error ratio exceeded threshold, aborting job"))
					return
				}
			}
		}()
	}
	workers.Wait()

	fatalMu.Lock()
	ferr := fatalErr
	fatalMu.Unlock()

	switch {
	case ferr != nil:
		slog.Error("reindex job failed", "job_id", jobID, "error", ferr)
		d.registry.finish(jobID, JobFailed, ferr.Error())
	case d.registry.cancelRequested(jobID):
		slog.Info("reindex job cancelled", "job_id", jobID)
		d.registry.finish(jobID, JobCancelled, "")
	default:
		slog.Info("reindex job completed", "job_id", jobID)
		d.registry.finish(jobID, JobCompleted, "")
	}
}

func (d *Dispatcher) processOne(ctx context.Context, jobID string, ref store.AnnotationRef, req Request) {
	process, err := d.filter.ShouldProcess(ctx, ref, req.Type, req.Force)
	if err != nil {
		d.registry.addError(jobID, ref.ID, err.Error(), IsIndexError(err))
		d.publishProgress(jobID)
		return
	}
	if !process {
		d.registry.update(jobID, func(j *Job) { j.Skipped++ })
		d.publishProgress(jobID)
		return
	}

	if err := d.pipeline.Process(ctx, ref.ID, req.Type); err != nil {
		slog.Debug("reindex record failed", "job_id", jobID, "annotation_id", ref.ID, "error", err)
		d.registry.addError(jobID, ref.ID, err.Error(), IsIndexError(err))
		d.publishProgress(jobID)
		return
	}

	d.registry.update(jobID, func(j *Job) { j.Processed++ })
	d.publishProgress(jobID)
}

// breakerTripped reports whether index failures exceed the configured
// fraction of attempted records. NotFound errors do not count: they are
// record-level noise, not a systemic index failure.
func (d *Dispatcher) breakerTripped(jobID string) bool {
	attempted, indexErrors := d.registry.breakerStats(jobID)
	if attempted < d.config.BreakerMinSample {
		return false
	}
	return float64(indexErrors)/float64(attempted) > d.config.ErrorRatio
}

func (d *Dispatcher) publishProgress(jobID string) {
	job, ok := d.registry.Get(jobID)
	if !ok {
		return
	}
	percent := 0
	if job.Total > 0 {
		percent = (job.Processed + job.Skipped + job.Errors) * 100 / job.Total
	}
	d.registry.publish(jobID, JobEvent{
		Type:        "reindex.job.progress",
		JobID:       jobID,
		State:       string(JobRunning),
		Total:       job.Total,
		Processed:   job.Processed,
		Skipped:     job.Skipped,
		Errors:      job.Errors,
		Percent:     percent,
		CreatedAtNs: time.Now().UnixNano(),
	})
}
