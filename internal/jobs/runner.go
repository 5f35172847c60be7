package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sdtom/internal/postgres"
)

// Names of the scheduled jobs.
const (
	JobFindNewTNSClassifications = "find-new-tns-classifications"
	JobFetchNewLasairAlerts      = "fetch-new-lasair-alerts"
)

// maxRuns bounds the finished runs kept for lookup.
const maxRuns = 500

// ErrUnknownJob is returned for a job name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Run records one execution of a job.
type Run struct {
	ID          string    `json:"id"`
	Job         string    `json:"job"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Duration    float64   `json:"duration_seconds,omitempty"`
}

// SubmitResult is the outcome of asking for a run.
type SubmitResult struct {
	ID      string
	Skipped bool
	Reason  string
}

// Func is the body of a job.
type Func func(ctx context.Context) error

// RunnerHooks observe run lifecycle. Nil fields are skipped.
type RunnerHooks struct {
	OnSubmit   func(job, result string)
	OnComplete func(job string, status Status, duration float64)
}

// Runner starts registered jobs and keeps their run history. A job that is
// already pending or running is not started again.
type Runner struct {
	mu     sync.Mutex
	jobs   map[string]Func
	runs   map[string]*Run
	order  []string          // run IDs, oldest first
	active map[string]string // job name -> run ID

	wg     sync.WaitGroup
	hooks  RunnerHooks
	logger log.Logger
}

// NewRunner creates an empty Runner.
func NewRunner(logger log.Logger, hooks RunnerHooks) *Runner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{
		jobs:   make(map[string]Func),
		runs:   make(map[string]*Run),
		active: make(map[string]string),
		hooks:  hooks,
		logger: logger,
	}
}

// Register adds a job under name, replacing any previous one.
func (r *Runner) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[name] = fn
}

// Jobs returns the registered job names, sorted.
func (r *Runner) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for n := range r.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Submit starts job name in the background. The run outlives ctx
// cancellation; use Wait to let in-flight runs finish.
func (r *Runner) Submit(ctx context.Context, name string) (*SubmitResult, error) {
	run, fn, err := r.start(name)
	if err != nil {
		r.submitted("unknown", "rejected")
		return nil, err
	}
	if run == nil {
		r.submitted(name, "duplicate")
		return &SubmitResult{Skipped: true, Reason: "duplicate"}, nil
	}
	r.submitted(name, "accepted")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(context.WithoutCancel(ctx), run.ID, name, fn)
	}()

	return &SubmitResult{ID: run.ID}, nil
}

// RunNow runs job name in the caller's goroutine and returns the finished run.
// A run that failed is returned together with its error.
func (r *Runner) RunNow(ctx context.Context, name string) (*Run, error) {
	run, fn, err := r.start(name)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("job %s is already running", name)
	}
	err = r.execute(ctx, run.ID, name, fn)
	final, _ := r.Get(run.ID)
	return final, err
}

// Get returns a copy of the run with the given ID.
func (r *Runner) Get(id string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, false
	}
	cp := *run
	return &cp, true
}

// Wait blocks until all background runs have finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start records a pending run. It returns a nil run when the job is already active.
func (r *Runner) start(name string) (*Run, Func, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn, ok := r.jobs[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if _, busy := r.active[name]; busy {
		return nil, nil, nil
	}

	run := &Run{
		ID:        ulid.Make().String(),
		Job:       name,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	r.runs[run.ID] = run
	r.order = append(r.order, run.ID)
	r.active[name] = run.ID
	r.evictLocked()

	cp := *run
	return &cp, fn, nil
}

func (r *Runner) execute(ctx context.Context, id, name string, fn Func) error {
	L := r.logger.With("job", name, "run_id", id)
	ctx = log.WithContext(ctx, L)
	ctx = postgres.WithJob(ctx, name)
	ctx = postgres.NewRunDBStatsContext(ctx)

	ctx, span := tracer.Start(ctx, "jobs.run", trace.WithAttributes(
		attribute.String("sdtom.job", name),
		attribute.String("sdtom.run.id", id),
	))
	defer span.End()

	start := time.Now()
	r.update(id, func(run *Run) {
		run.Status = StatusRunning
		run.StartedAt = start
	})
	L.Info(ctx, "job started")

	err := runSafely(ctx, fn)

	status := StatusComplete
	if err != nil {
		status = StatusFailed
		recordErr(span, err)
	}
	done := time.Now()
	dur := done.Sub(start).Seconds()

	r.mu.Lock()
	if run, ok := r.runs[id]; ok {
		run.Status = status
		run.CompletedAt = done
		run.Duration = dur
		if err != nil {
			run.Error = err.Error()
		}
	}
	delete(r.active, name)
	r.mu.Unlock()

	if r.hooks.OnComplete != nil {
		r.hooks.OnComplete(name, status, dur)
	}

	fields := []any{"duration", dur}
	if stats, ok := postgres.RunDBStatsFromContext(ctx); ok {
		count, total, errs := stats.Snapshot()
		fields = append(fields, "db_queries", count, "db_time", total.Seconds(), "db_errors", errs)
	}
	if err != nil {
		L.Error(ctx, err, "job failed", fields...)
		return err
	}
	L.Info(ctx, "job complete", fields...)
	return nil
}

func runSafely(ctx context.Context, fn Func) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Runner) update(id string, fn func(*Run)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		fn(run)
	}
}

// evictLocked drops the oldest finished runs beyond maxRuns.
func (r *Runner) evictLocked() {
	for len(r.order) > maxRuns {
		evicted := false
		for i, id := range r.order {
			run := r.runs[id]
			if run.Status == StatusPending || run.Status == StatusRunning {
				continue
			}
			delete(r.runs, id)
			r.order = append(r.order[:i], r.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

func (r *Runner) submitted(job, result string) {
	if r.hooks.OnSubmit != nil {
		r.hooks.OnSubmit(job, result)
	}
}

// Register adds the scheduled jobs of s to r.
func (s *Service) Register(r *Runner) {
	r.Register(JobFindNewTNSClassifications, s.FindNewTNSClassifications)
	r.Register(JobFetchNewLasairAlerts, s.FetchNewLasairAlerts)
}
