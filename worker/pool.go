package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"docgen/models"
	"docgen/store"
)

// Engine runs one external conversion. Implemented by services.SofficeEngine
// in production and stubbed in tests.
type Engine interface {
	Convert(ctx context.Context, inputPath, targetFormat, workDir string) (string, error)
}

// TransitionRecorder receives every job state change (Postgres audit trail).
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, job *models.ConversionJob)
}

// StatusPublisher mirrors job state to an external system (Redis).
type StatusPublisher interface {
	Publish(ctx context.Context, job *models.ConversionJob)
}

// Options configures a Pool. Engine, Store, WorkRoot are required; the rest
// have sensible defaults or may be nil.
type Options struct {
	Engine     Engine
	Store      *store.ResultStore
	WorkRoot   string
	Workers    int
	QueueDepth int
	Timeout    time.Duration
	Metrics    *Metrics
	Audit      TransitionRecorder
	Status     StatusPublisher
}

type jobEntry struct {
	job    *models.ConversionJob
	cancel context.CancelFunc // set while the job is running
}

// Pool schedules conversions over a fixed number of slots, each owning one
// engine invocation and one exclusive workspace directory at a time. Pending
// jobs wait in a FIFO queue of bounded depth; beyond that, Submit fails fast
// with Overloaded.
//
// The pool owns a job until it reaches a terminal state, then hands it to
// the result store and forgets it. A single mutex guards the registry;
// contention is negligible next to per-job engine latency.
type Pool struct {
	engine   Engine
	results  *store.ResultStore
	workRoot string
	workers  int
	timeout  time.Duration
	metrics  *Metrics
	audit    TransitionRecorder
	status   StatusPublisher

	mu      sync.Mutex
	active  map[string]*jobEntry
	queue   chan *models.ConversionJob
	stopped bool
	wg      sync.WaitGroup
}

func NewPool(opts Options) *Pool {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	depth := opts.QueueDepth
	if depth < 1 {
		depth = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Pool{
		engine:   opts.Engine,
		results:  opts.Store,
		workRoot: opts.WorkRoot,
		workers:  workers,
		timeout:  timeout,
		metrics:  opts.Metrics,
		audit:    opts.Audit,
		status:   opts.Status,
		active:   make(map[string]*jobEntry),
		queue:    make(chan *models.ConversionJob, depth),
	}
}

// Start launches the slot workers. ctx cancellation stops them after their
// current job.
func (p *Pool) Start(ctx context.Context) {
	slog.Info("starting conversion pool",
		"workers", p.workers, "queue_depth", cap(p.queue), "timeout", p.timeout)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runSlot(ctx, i)
	}
}

// Submit enqueues a queued job. Non-blocking: a full queue yields
// models.ErrOverloaded and the job is never admitted.
func (p *Pool) Submit(job *models.ConversionJob) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return models.ErrOverloaded
	}

	select {
	case p.queue <- job:
		p.active[job.ID] = &jobEntry{job: job}
		snap := job.Snapshot()
		p.mu.Unlock()

		p.metrics.jobSubmitted(len(p.queue))
		p.publish(snap)
		slog.Info("conversion job enqueued",
			"job_id", job.ID, "target", job.TargetFormat, "input", job.InputName)
		return nil
	default:
		p.mu.Unlock()
		p.metrics.jobRejected()
		return models.ErrOverloaded
	}
}

// Lookup returns a snapshot of a job the pool still owns.
func (p *Pool) Lookup(id string) (*models.ConversionJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.active[id]
	if !ok {
		return nil, false
	}
	return e.job.Snapshot(), true
}

// Cancel requests cancellation. A queued job terminates immediately without
// any engine invocation; a running job has its engine process killed,
// best-effort. Returns false when the pool no longer owns the id.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	e, ok := p.active[id]
	if !ok {
		p.mu.Unlock()
		return false
	}

	switch e.job.State {
	case models.StateQueued:
		p.terminateLocked(e.job, models.StateCancelled,
			models.NewFailure(models.FailureCancelled, "cancelled before execution", nil))
		snap := e.job.Snapshot()
		job := e.job
		p.mu.Unlock()

		p.results.Put(context.Background(), job)
		p.release(id)
		p.metrics.jobFinished(snap, len(p.queue))
		p.publish(snap)
		slog.Info("queued conversion cancelled", "job_id", id)
		return true

	case models.StateRunning:
		cancel := e.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		slog.Info("cancellation signalled to running conversion", "job_id", id)
		return true
	}

	p.mu.Unlock()
	return false
}

// Stop closes intake, cancels everything outstanding and waits for the slots
// to finish, bounded by ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true

	var queued []*models.ConversionJob
	for _, e := range p.active {
		switch e.job.State {
		case models.StateQueued:
			p.terminateLocked(e.job, models.StateCancelled,
				models.NewFailure(models.FailureCancelled, "service shutting down", nil))
			queued = append(queued, e.job)
		case models.StateRunning:
			if e.cancel != nil {
				e.cancel()
			}
		}
	}
	close(p.queue)
	p.mu.Unlock()

	for _, job := range queued {
		p.results.Put(context.Background(), job)
		p.release(job.ID)
		p.publish(job.Snapshot())
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("conversion pool stopped")
		return nil
	case <-ctx.Done():
		slog.Warn("conversion pool stop timed out")
		return ctx.Err()
	}
}

// runSlot is one execution slot: an exclusive workspace directory driving at
// most one engine process at a time.
func (p *Pool) runSlot(ctx context.Context, slotID int) {
	defer p.wg.Done()

	workDir := filepath.Join(p.workRoot, fmt.Sprintf("slot-%d", slotID))
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		slog.Error("slot workspace unavailable", "slot", slotID, "error", err)
		return
	}
	slog.Debug("conversion slot started", "slot", slotID, "workspace", workDir)

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.runJob(ctx, slotID, workDir, job)
		}
	}
}

func (p *Pool) runJob(ctx context.Context, slotID int, workDir string, job *models.ConversionJob) {
	// Claim. Jobs cancelled while queued are already terminal; skip them
	// without ever touching the engine.
	p.mu.Lock()
	e, ok := p.active[job.ID]
	if !ok || job.State != models.StateQueued {
		p.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	job.State = models.StateRunning
	job.StartedAt = &now
	jobCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	snap := job.Snapshot()
	p.mu.Unlock()
	defer cancel()

	p.metrics.jobStarted(len(p.queue))
	p.publish(snap)
	slog.Info("conversion started", "job_id", job.ID, "slot", slotID)

	// A crash is retried once with a clean workspace; everything else is
	// final on the first attempt.
	var output []byte
	var failure *models.Failure
	for attempt := 1; attempt <= 2; attempt++ {
		p.mu.Lock()
		job.Attempts = attempt
		p.mu.Unlock()

		output, failure = p.runOnce(jobCtx, workDir, job)
		if failure == nil || failure.Kind != models.FailureEngineCrashed || attempt > 1 {
			break
		}
		slog.Warn("engine crashed, retrying with fresh workspace",
			"job_id", job.ID, "slot", slotID, "error", failure.Message)
	}
	_ = cleanDir(workDir)

	p.mu.Lock()
	if failure == nil {
		job.Artifact = models.NewArtifact(job.ID, models.FormatContentType(job.TargetFormat), output)
		p.terminateLocked(job, models.StateSucceeded, nil)
	} else {
		p.terminateLocked(job, models.StateForFailure(failure.Kind), failure)
	}
	snap = job.Snapshot()
	p.mu.Unlock()

	p.results.Put(context.Background(), job)
	p.release(job.ID)
	p.metrics.jobFinished(snap, len(p.queue))
	p.publish(snap)

	if failure == nil {
		slog.Info("conversion succeeded", "job_id", job.ID, "slot", slotID,
			"bytes", job.Artifact.Size, "duration", job.Duration())
	} else {
		slog.Warn("conversion failed", "job_id", job.ID, "slot", slotID,
			"kind", failure.Kind, "error", failure.Message, "duration", job.Duration())
	}
}

// runOnce performs a single engine invocation in a freshly reset workspace.
func (p *Pool) runOnce(ctx context.Context, workDir string, job *models.ConversionJob) ([]byte, *models.Failure) {
	if err := cleanDir(workDir); err != nil {
		return nil, models.FailureOf(err)
	}

	inputPath := filepath.Join(workDir, inputFileName(job))
	if err := os.WriteFile(inputPath, job.Input, 0o600); err != nil {
		return nil, models.FailureOf(fmt.Errorf("writing engine input: %w", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	outputPath, err := p.engine.Convert(runCtx, inputPath, job.TargetFormat, workDir)
	if err != nil {
		return nil, models.FailureOf(err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, models.FailureOf(fmt.Errorf("reading engine output: %w", err))
	}
	return data, nil
}

// terminateLocked applies a terminal transition. Callers hold p.mu. Illegal
// transitions (already terminal) are dropped, keeping states monotonic.
//
// The registry entry stays until release(): the job must be visible in store
// or pool at every instant, so it is stored first and forgotten second.
func (p *Pool) terminateLocked(job *models.ConversionJob, state models.JobState, failure *models.Failure) {
	if !job.State.CanTransition(state) {
		return
	}
	now := time.Now().UTC()
	job.State = state
	job.CompletedAt = &now
	job.Failure = failure
	job.Input = nil
}

// release drops a terminal job from the registry after the result store has
// taken ownership.
func (p *Pool) release(id string) {
	p.mu.Lock()
	delete(p.active, id)
	p.mu.Unlock()
}

// publish fans a snapshot out to the optional audit and status sinks.
func (p *Pool) publish(snap *models.ConversionJob) {
	if p.audit == nil && p.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if p.audit != nil {
		p.audit.RecordTransition(ctx, snap)
	}
	if p.status != nil {
		p.status.Publish(ctx, snap)
	}
}

// inputFileName gives the engine a stable name carrying the original
// extension, which soffice uses for input format detection.
func inputFileName(job *models.ConversionJob) string {
	ext := filepath.Ext(job.InputName)
	if ext == "" {
		ext = ".docx"
	}
	return "input" + ext
}

// cleanDir empties a workspace directory without removing the directory
// itself, so the slot keeps exclusive ownership of the path.
func cleanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading workspace: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("cleaning workspace: %w", err)
		}
	}
	return nil
}
