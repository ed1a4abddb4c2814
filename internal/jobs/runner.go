package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/capforge/api/internal/models"
	"github.com/capforge/api/internal/pipeline"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("generation queue is full, try again later")
	// ErrRunnerClosed is returned by Submit after Shutdown.
	ErrRunnerClosed = errors.New("runner is shut down")
)

// StepQueued is the step of a job waiting for a worker.
const StepQueued = "queued"

// Pipeline runs one generation to a terminal outcome.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request, onStep pipeline.StepFunc) (pipeline.Outcome, error)
}

// Submission is a generation request bound for the background queue.
type Submission struct {
	Request pipeline.Request
	Owner   string
}

// RunnerConfig sizes the worker pool.
type RunnerConfig struct {
	Workers   int
	QueueSize int
}

// RunnerOption configures optional Runner collaborators.
type RunnerOption func(*Runner)

// WithEvents publishes job lifecycle events.
func WithEvents(p EventPublisher) RunnerOption {
	return func(r *Runner) {
		if p != nil {
			r.events = p
		}
	}
}

// WithUsage records a summary of every finished run.
func WithUsage(u UsageRecorder) RunnerOption {
	return func(r *Runner) {
		if u != nil {
			r.usage = u
		}
	}
}

type task struct {
	job *models.Job
	sub Submission
}

// Runner executes submitted jobs on a fixed pool of workers fed by a bounded queue.
type Runner struct {
	store  Store
	pipe   Pipeline
	events EventPublisher
	usage  UsageRecorder
	logger *zap.Logger
	cfg    RunnerConfig

	mu     sync.RWMutex
	closed bool
	queue  chan task

	group  errgroup.Group
	cancel context.CancelFunc
}

// NewRunner creates a runner. Call Start before Submit.
func NewRunner(store Store, pipe Pipeline, cfg RunnerConfig, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	r := &Runner{
		store:  store,
		pipe:   pipe,
		events: nopPublisher{},
		usage:  nopRecorder{},
		logger: logger,
		cfg:    cfg,
		queue:  make(chan task, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the workers. Runs use a context derived from ctx but
// detached from its cancellation; Shutdown cancels them only when its own
// deadline passes.
func (r *Runner) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	for i := 0; i < r.cfg.Workers; i++ {
		worker := i
		r.group.Go(func() error {
			r.work(runCtx, worker)
			return nil
		})
	}
	r.logger.Info("job runner started",
		zap.Int("workers", r.cfg.Workers),
		zap.Int("queue_size", r.cfg.QueueSize),
	)
}

// Submit creates a running job and queues it. The job is returned before any
// pipeline work starts.
func (r *Runner) Submit(ctx context.Context, sub Submission) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRunnerClosed
	}

	job, err := r.store.Create(ctx, NewJob{
		Prompt:   sub.Request.Prompt,
		Provider: sub.Request.Provider,
		Model:    sub.Request.Model,
		Owner:    sub.Owner,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if job, err = r.store.Update(ctx, job.ID, StepPatch(StepQueued)); err != nil {
		return nil, fmt.Errorf("queue job: %w", err)
	}

	r.publish(ctx, job, EventCreated, "")

	select {
	case r.queue <- task{job: job, sub: sub}:
	default:
		submittedTotal.WithLabelValues("rejected").Inc()
		rejected, err := r.store.Update(ctx, job.ID, FailPatch(ErrQueueFull.Error()))
		if err != nil {
			r.logger.Warn("failed to mark rejected job", zap.Stringer("job_id", job.ID), zap.Error(err))
		} else {
			r.publish(ctx, rejected, EventFinished, "")
		}
		return nil, ErrQueueFull
	}
	submittedTotal.WithLabelValues("accepted").Inc()
	queueDepth.Set(float64(len(r.queue)))
	return job, nil
}

// Shutdown stops accepting submissions and waits for queued and in-flight
// runs. If ctx ends first, in-flight runs are canceled and ctx's error is returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- r.group.Wait() }()

	select {
	case err := <-done:
		if r.cancel != nil {
			r.cancel()
		}
		return err
	case <-ctx.Done():
		if r.cancel != nil {
			r.cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (r *Runner) work(ctx context.Context, worker int) {
	for t := range r.queue {
		queueDepth.Set(float64(len(r.queue)))
		r.execute(ctx, worker, t)
	}
}

func (r *Runner) execute(ctx context.Context, worker int, t task) {
	id := t.job.ID
	logger := r.logger.With(zap.Stringer("job_id", id), zap.Int("worker", worker))
	start := time.Now()
	logger.Info("job started",
		zap.String("provider", t.sub.Request.Provider),
		zap.String("model", t.sub.Request.Model),
		zap.String("prompt_preview", pipeline.Summarize(t.sub.Request.Prompt, 140)),
	)

	onStep := func(step, status string) {
		logger.Debug("pipeline step", zap.String("step", step), zap.String("status", status))
		if status != pipeline.StatusStarted {
			return
		}
		job, err := r.store.Update(ctx, id, StepPatch(step))
		if err != nil {
			logger.Warn("failed to record step", zap.String("step", step), zap.Error(err))
			return
		}
		r.publish(ctx, job, EventStep, step)
	}

	outcome, runErr := r.pipe.Run(ctx, t.sub.Request, onStep)
	elapsed := time.Since(start)
	runDuration.Observe(elapsed.Seconds())

	patch := terminalPatch(outcome, runErr)
	if runErr != nil {
		logger.Error("job failed", zap.Duration("duration", elapsed), zap.Error(runErr))
	} else {
		logger.Info("job finished", zap.String("outcome", OutcomeLabel(outcome, nil)), zap.Duration("duration", elapsed))
	}

	// the terminal write must land even when the run was canceled
	ctx = context.WithoutCancel(ctx)
	job, err := r.store.Update(ctx, id, patch)
	if err != nil {
		logger.Error("failed to record job result", zap.Error(err))
		return
	}
	finishedTotal.WithLabelValues(string(job.Status)).Inc()
	r.publish(ctx, job, EventFinished, "")

	run := NewRunRecord(id, t.sub, outcome, runErr, elapsed)
	if err := r.usage.RecordRun(ctx, run); err != nil {
		logger.Warn("failed to record usage", zap.Error(err))
	}
}

// terminalPatch maps a pipeline result onto the job's terminal state.
func terminalPatch(outcome pipeline.Outcome, runErr error) Patch {
	if runErr != nil {
		return FailPatch(runErr.Error())
	}
	switch o := outcome.(type) {
	case *pipeline.ClarificationOutcome:
		return resultPatch(models.JobStatusClarification, o)
	case *pipeline.InfeasibleOutcome:
		return resultPatch(models.JobStatusClarification, o)
	case *pipeline.FailureOutcome:
		return FailPatch(o.Error)
	case *pipeline.SuccessOutcome:
		return resultPatch(models.JobStatusCompleted, o)
	}
	return FailPatch(fmt.Sprintf("unexpected pipeline outcome %T", outcome))
}

// OutcomeLabel names a run result for logs and the usage ledger.
func OutcomeLabel(outcome pipeline.Outcome, runErr error) string {
	if runErr != nil {
		return "error"
	}
	switch outcome.(type) {
	case *pipeline.ClarificationOutcome:
		return "clarification"
	case *pipeline.InfeasibleOutcome:
		return "infeasible"
	case *pipeline.FailureOutcome:
		return "failure"
	case *pipeline.SuccessOutcome:
		return "success"
	}
	return "error"
}

// NewRunRecord summarises a finished run for a UsageRecorder.
func NewRunRecord(id uuid.UUID, sub Submission, outcome pipeline.Outcome, runErr error, elapsed time.Duration) models.GenerationRun {
	run := models.GenerationRun{
		JobID:      id,
		Owner:      sub.Owner,
		Provider:   sub.Request.Provider,
		Model:      sub.Request.Model,
		Prompt:     sub.Request.Prompt,
		Outcome:    OutcomeLabel(outcome, runErr),
		Duration:   elapsed,
		FinishedAt: time.Now(),
	}
	if outcome != nil {
		run.Tokens = outcome.Tokens()
		run.Iterations = iterationsOf(outcome)
	}
	return run
}

// resultPatch stores v as the job result. HTML is kept unescaped so stored
// results stay readable in Redis and in logs.
func resultPatch(status models.JobStatus, v any) Patch {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return FailPatch("encode result: " + err.Error())
	}
	return CompletePatch(status, bytes.TrimRight(buf.Bytes(), "\n"))
}

func iterationsOf(o pipeline.Outcome) int {
	switch o := o.(type) {
	case *pipeline.FailureOutcome:
		return o.Iterations
	case *pipeline.SuccessOutcome:
		return o.Iterations
	}
	return 0
}

func (r *Runner) publish(ctx context.Context, job *models.Job, kind, step string) {
	err := r.events.Publish(ctx, Event{
		Type:   kind,
		JobID:  job.ID,
		Status: job.Status,
		Step:   step,
		Error:  job.Error,
		Owner:  job.Owner,
		At:     time.Now(),
	})
	if err != nil {
		r.logger.Debug("failed to publish job event", zap.Stringer("job_id", job.ID), zap.String("type", kind), zap.Error(err))
	}
}

// Get returns a job by id.
func (r *Runner) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return r.store.Get(ctx, id)
}
