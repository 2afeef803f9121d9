package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"lagsearch/internal/model"
)

var (
	ErrWorkerFailure = errors.New("worker failure")
	ErrJobTimeout    = errors.New("job timed out")
	ErrClosed        = errors.New("pool closed")
)

// Job is one chromosome to score. Index is the caller's position for it.
type Job struct {
	Index      int
	Chromosome model.Chromosome
	Generation int
}

// Evaluator scores jobs for one worker slot. A slot never runs two jobs at
// once, so implementations need not be goroutine-safe. Evaluators that hold
// resources may implement io.Closer.
type Evaluator interface {
	Evaluate(ctx context.Context, job Job) (model.Candidate, error)
}

// Factory builds the evaluator for a worker slot. It is called again after
// the slot's evaluator failed.
type Factory func(workerID int) (Evaluator, error)

type RestartPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// MaxRestarts bounds evaluator rebuilds per slot. Zero means unlimited.
	MaxRestarts int
}

func defaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func normalizeRestartPolicy(policy RestartPolicy) RestartPolicy {
	def := defaultRestartPolicy()
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	if policy.MaxRestarts < 0 {
		policy.MaxRestarts = 0
	}
	return policy
}

type Hooks struct {
	OnWorkerRestart func(workerID int, err error, restarts int)
	OnJobFailure    func(job Job, err error, attempt int)
}

type Config struct {
	Workers int
	Factory Factory
	// JobTimeout bounds a single attempt. Zero disables it.
	JobTimeout time.Duration
	// Retries is how many times a failed job is requeued.
	Retries int
	Restart RestartPolicy
	Hooks   Hooks
	Logger  *slog.Logger
}

type Result struct {
	Index     int
	Candidate model.Candidate
	Err       error
	Attempts  int
}

type WorkerStatus struct {
	ID        int    `json:"id"`
	Restarts  int    `json:"restarts"`
	Completed int    `json:"completed"`
	LastError string `json:"last_error,omitempty"`
	Failed    bool   `json:"failed"`
}

// Pool is a fixed set of worker slots. Execute calls are serialized; within
// one call the slots run in parallel and all bookkeeping happens on the
// calling goroutine.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	execMu  sync.Mutex
	workers []*worker

	mu     sync.Mutex
	closed bool
}

type worker struct {
	id        int
	evaluator Evaluator
	backoff   time.Duration

	mu        sync.Mutex
	restarts  int
	completed int
	lastErr   error
	failed    bool
}

func New(cfg Config) (*Pool, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("evaluator factory is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0")
	}
	if cfg.JobTimeout < 0 {
		return nil, fmt.Errorf("job timeout must be >= 0")
	}
	cfg.Restart = normalizeRestartPolicy(cfg.Restart)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	workers := make([]*worker, cfg.Workers)
	for i := range workers {
		workers[i] = &worker{id: i}
	}
	return &Pool{cfg: cfg, logger: cfg.Logger, workers: workers}, nil
}

func (p *Pool) Size() int {
	return len(p.workers)
}

// Execute runs every job and returns one result per job, in job order. A
// failed attempt is requeued up to Retries times before the job is reported
// with ErrWorkerFailure. The returned error is non-nil only when ctx ended
// before the batch finished.
func (p *Pool) Execute(ctx context.Context, jobs []Job) ([]Result, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	p.execMu.Lock()
	defer p.execMu.Unlock()

	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results, nil
	}

	type attempt struct {
		pos int
		n   int
	}
	type outcome struct {
		attempt
		candidate model.Candidate
		err       error
		workerID  int
	}

	queue := make(chan attempt, len(jobs))
	outcomes := make(chan outcome)
	for i := range jobs {
		queue <- attempt{pos: i, n: 1}
	}

	workerCount := min(len(p.workers), len(jobs))
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func(slot *worker) {
			defer wg.Done()
			for a := range queue {
				candidate, err := p.run(ctx, slot, jobs[a.pos])
				outcomes <- outcome{attempt: a, candidate: candidate, err: err, workerID: slot.id}
			}
		}(p.workers[w])
	}

	pending := len(jobs)
	for pending > 0 {
		o := <-outcomes
		job := jobs[o.pos]
		if o.err == nil {
			results[o.pos] = Result{Index: job.Index, Candidate: o.candidate, Attempts: o.n}
			pending--
			continue
		}
		if p.cfg.Hooks.OnJobFailure != nil {
			p.cfg.Hooks.OnJobFailure(job, o.err, o.n)
		}
		if ctx.Err() == nil && o.n <= p.cfg.Retries {
			p.logger.Debug("requeueing job", "index", job.Index, "worker", o.workerID, "attempt", o.n, "err", o.err)
			queue <- attempt{pos: o.pos, n: o.n + 1}
			continue
		}
		if ctx.Err() == nil {
			p.logger.Warn("job failed", "index", job.Index, "worker", o.workerID, "attempts", o.n, "err", o.err)
		}
		results[o.pos] = Result{
			Index:    job.Index,
			Err:      fmt.Errorf("%w: job %d after %d attempts: %w", ErrWorkerFailure, job.Index, o.n, o.err),
			Attempts: o.n,
		}
		pending--
	}
	close(queue)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// EvaluateBatch scores chromosomes for one generation. Jobs that exhaust
// their retries come back as worker_failure candidates with infinite
// fitness.
func (p *Pool) EvaluateBatch(ctx context.Context, generation int, chromosomes []model.Chromosome) ([]model.Candidate, error) {
	jobs := make([]Job, len(chromosomes))
	for i, c := range chromosomes {
		jobs[i] = Job{Index: i, Chromosome: c, Generation: generation}
	}
	results, err := p.Execute(ctx, jobs)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candidate, len(results))
	for i, res := range results {
		if res.Err != nil {
			out[i] = FailedCandidate(jobs[i])
			continue
		}
		out[i] = res.Candidate
	}
	return out, nil
}

// FailedCandidate is the placeholder scored for a job no worker completed.
func FailedCandidate(job Job) model.Candidate {
	return model.Candidate{
		Chromosome: job.Chromosome,
		Fitness:    model.Score(math.Inf(1)),
		DeltaC:     1,
		DeltaAlpha: 1,
		DeltaG:     1,
		GEm:        job.Chromosome[model.GeneGaugeCoupling],
		Xi:         job.Chromosome[model.GeneGravityCoupling],
		Rejection:  model.RejectionWorkerFailure,
		Generation: job.Generation,
	}
}

func (p *Pool) run(ctx context.Context, w *worker, job Job) (model.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return model.Candidate{}, err
	}
	w.mu.Lock()
	failed := w.failed
	w.mu.Unlock()
	if failed {
		return model.Candidate{}, fmt.Errorf("worker %d exceeded %d restarts", w.id, p.cfg.Restart.MaxRestarts)
	}
	if w.evaluator == nil {
		if err := p.spawn(ctx, w); err != nil {
			return model.Candidate{}, err
		}
	}

	jobCtx := ctx
	cancel := func() {}
	if p.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
	}
	defer cancel()

	type reply struct {
		candidate model.Candidate
		err       error
	}
	done := make(chan reply, 1)
	evaluator := w.evaluator
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("evaluator panic: %v", r)}
			}
		}()
		candidate, err := evaluator.Evaluate(jobCtx, job)
		done <- reply{candidate: candidate, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			p.retire(w, r.err)
			return model.Candidate{}, r.err
		}
		w.mu.Lock()
		w.completed++
		w.mu.Unlock()
		w.backoff = 0
		return r.candidate, nil
	case <-jobCtx.Done():
		err := jobCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", ErrJobTimeout, p.cfg.JobTimeout)
		}
		// The evaluator may still be busy with this job; it is abandoned.
		p.retire(w, err)
		return model.Candidate{}, err
	}
}

func (p *Pool) spawn(ctx context.Context, w *worker) error {
	if w.backoff > 0 {
		timer := time.NewTimer(w.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	evaluator, err := p.cfg.Factory(w.id)
	if err != nil {
		p.retire(w, fmt.Errorf("start worker %d: %w", w.id, err))
		return err
	}
	w.evaluator = evaluator
	return nil
}

// retire drops the slot's evaluator after a failure so the next job on this
// slot gets a fresh one.
func (p *Pool) retire(w *worker, cause error) {
	if w.evaluator != nil {
		closeEvaluator(w.evaluator)
		w.evaluator = nil
	}
	policy := p.cfg.Restart
	if w.backoff == 0 {
		w.backoff = policy.InitialBackoff
	} else {
		w.backoff = min(time.Duration(float64(w.backoff)*policy.BackoffFactor), policy.MaxBackoff)
	}

	w.mu.Lock()
	w.restarts++
	w.lastErr = cause
	restarts := w.restarts
	if policy.MaxRestarts > 0 && restarts > policy.MaxRestarts {
		w.failed = true
	}
	failed := w.failed
	w.mu.Unlock()

	if failed {
		p.logger.Error("worker permanently failed", "worker", w.id, "restarts", restarts, "err", cause)
	} else {
		p.logger.Debug("worker restarting", "worker", w.id, "restarts", restarts, "err", cause)
	}
	if p.cfg.Hooks.OnWorkerRestart != nil {
		p.cfg.Hooks.OnWorkerRestart(w.id, cause, restarts)
	}
}

func (p *Pool) Status() []WorkerStatus {
	out := make([]WorkerStatus, 0, len(p.workers))
	for _, w := range p.workers {
		w.mu.Lock()
		status := WorkerStatus{
			ID:        w.id,
			Restarts:  w.restarts,
			Completed: w.completed,
			Failed:    w.failed,
		}
		if w.lastErr != nil {
			status.LastError = w.lastErr.Error()
		}
		w.mu.Unlock()
		out = append(out, status)
	}
	return out
}

// Close releases every evaluator. Later Execute calls fail with ErrClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.execMu.Lock()
	defer p.execMu.Unlock()
	var errs []error
	for _, w := range p.workers {
		if w.evaluator == nil {
			continue
		}
		if err := closeEvaluator(w.evaluator); err != nil {
			errs = append(errs, err)
		}
		w.evaluator = nil
	}
	return errors.Join(errs...)
}

func closeEvaluator(e Evaluator) error {
	closer, ok := e.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
