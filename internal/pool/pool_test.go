package pool

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lagsearch/internal/model"
	"lagsearch/internal/physics"
)

func testChromosomes(n int) []model.Chromosome {
	out := make([]model.Chromosome, n)
	for i := range out {
		out[i] = physics.ExactChromosome(physics.DefaultTargets(), 1+float64(i)/10, 2)
	}
	return out
}

func fastRestart() RestartPolicy {
	return RestartPolicy{InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

type funcEvaluator func(ctx context.Context, job Job) (model.Candidate, error)

func (f funcEvaluator) Evaluate(ctx context.Context, job Job) (model.Candidate, error) {
	return f(ctx, job)
}

func TestPoolMatchesSerialEvaluation(t *testing.T) {
	scorer := physics.NewEvaluator(physics.DefaultToleranceSchedule(), 0)
	p, err := New(Config{Workers: 4, Factory: InProcessFactory(scorer)})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Close()

	chromosomes := testChromosomes(17)
	got, err := p.EvaluateBatch(context.Background(), 3, chromosomes)
	if err != nil {
		t.Fatalf("evaluate batch: %v", err)
	}
	if len(got) != len(chromosomes) {
		t.Fatalf("expected %d candidates, got %d", len(chromosomes), len(got))
	}
	for i, c := range chromosomes {
		want := scorer.Evaluate(c, 3)
		if got[i].Fitness != want.Fitness || !got[i].Chromosome.Identical(c) {
			t.Fatalf("candidate %d: got fitness %v chromosome %v, want %v %v", i, got[i].Fitness, got[i].Chromosome, want.Fitness, c)
		}
	}
}

func TestPoolRecoversFromPanicAndRebuildsEvaluator(t *testing.T) {
	var builds atomic.Int32
	var panicked atomic.Bool
	scorer := physics.NewEvaluator(physics.DefaultToleranceSchedule(), 0)
	factory := func(int) (Evaluator, error) {
		builds.Add(1)
		return funcEvaluator(func(ctx context.Context, job Job) (model.Candidate, error) {
			if job.Index == 2 && panicked.CompareAndSwap(false, true) {
				panic("boom")
			}
			return scorer.Evaluate(job.Chromosome, job.Generation), nil
		}), nil
	}

	var restarts atomic.Int32
	p, err := New(Config{
		Workers: 2,
		Factory: factory,
		Retries: 1,
		Restart: fastRestart(),
		Hooks: Hooks{OnWorkerRestart: func(int, error, int) {
			restarts.Add(1)
		}},
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	results, err := p.Execute(context.Background(), jobsFor(testChromosomes(6)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("job %d failed: %v", res.Index, res.Err)
		}
	}
	if results[2].Attempts != 2 {
		t.Fatalf("expected panicking job to take 2 attempts, got %d", results[2].Attempts)
	}
	if restarts.Load() != 1 {
		t.Fatalf("expected one restart, got %d", restarts.Load())
	}
	if builds.Load() != 3 {
		t.Fatalf("expected 3 evaluator builds, got %d", builds.Load())
	}
	total := 0
	for _, s := range p.Status() {
		total += s.Restarts
	}
	if total != 1 {
		t.Fatalf("expected status to report one restart, got %d", total)
	}
}

func TestPoolReportsWorkerFailureAfterRetries(t *testing.T) {
	boom := errors.New("evaluator down")
	var calls atomic.Int32
	p, err := New(Config{
		Workers: 3,
		Retries: 2,
		Restart: fastRestart(),
		Factory: func(int) (Evaluator, error) {
			return funcEvaluator(func(context.Context, Job) (model.Candidate, error) {
				calls.Add(1)
				return model.Candidate{}, boom
			}), nil
		},
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	chromosomes := testChromosomes(4)
	candidates, err := p.EvaluateBatch(context.Background(), 7, chromosomes)
	if err != nil {
		t.Fatalf("a failed job must not fail the batch: %v", err)
	}
	for i, c := range candidates {
		if c.Rejection != model.RejectionWorkerFailure {
			t.Fatalf("candidate %d: expected worker_failure, got %q", i, c.Rejection)
		}
		if !math.IsInf(c.Fitness.Float(), 1) {
			t.Fatalf("candidate %d: expected +Inf fitness, got %v", i, c.Fitness)
		}
		if !c.Chromosome.Identical(chromosomes[i]) || c.Generation != 7 {
			t.Fatalf("candidate %d lost its job identity", i)
		}
	}
	if calls.Load() != 12 {
		t.Fatalf("expected 3 attempts per job, got %d calls", calls.Load())
	}

	results, err := p.Execute(context.Background(), jobsFor(chromosomes[:1]))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !errors.Is(results[0].Err, ErrWorkerFailure) || !errors.Is(results[0].Err, boom) {
		t.Fatalf("expected wrapped worker failure, got %v", results[0].Err)
	}
}

func TestPoolJobTimeoutAbandonsHungEvaluator(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	var hung atomic.Bool
	scorer := physics.NewEvaluator(physics.DefaultToleranceSchedule(), 0)
	p, err := New(Config{
		Workers:    1,
		Retries:    1,
		JobTimeout: 20 * time.Millisecond,
		Restart:    fastRestart(),
		Factory: func(int) (Evaluator, error) {
			return funcEvaluator(func(ctx context.Context, job Job) (model.Candidate, error) {
				if hung.CompareAndSwap(false, true) {
					<-release
				}
				return scorer.Evaluate(job.Chromosome, job.Generation), nil
			}), nil
		},
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	var failures []error
	var mu sync.Mutex
	p.cfg.Hooks.OnJobFailure = func(_ Job, err error, _ int) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}

	results, err := p.Execute(context.Background(), jobsFor(testChromosomes(2)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("job %d failed: %v", res.Index, res.Err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 || !errors.Is(failures[0], ErrJobTimeout) {
		t.Fatalf("expected one timeout failure, got %v", failures)
	}
}

func TestPoolMaxRestartsMarksWorkerFailed(t *testing.T) {
	p, err := New(Config{
		Workers: 1,
		Retries: 5,
		Restart: RestartPolicy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxRestarts: 2},
		Factory: func(int) (Evaluator, error) {
			return nil, errors.New("cannot start")
		},
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	results, err := p.Execute(context.Background(), jobsFor(testChromosomes(1)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !errors.Is(results[0].Err, ErrWorkerFailure) {
		t.Fatalf("expected worker failure, got %v", results[0].Err)
	}
	status := p.Status()
	if !status[0].Failed || status[0].Restarts != 3 {
		t.Fatalf("expected failed worker after 3 restarts, got %+v", status[0])
	}
}

func TestPoolCanceledContext(t *testing.T) {
	scorer := physics.NewEvaluator(physics.DefaultToleranceSchedule(), 0)
	p, err := New(Config{Workers: 2, Factory: InProcessFactory(scorer)})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.EvaluateBatch(ctx, 0, testChromosomes(3)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestPoolClosed(t *testing.T) {
	scorer := physics.NewEvaluator(physics.DefaultToleranceSchedule(), 0)
	p, err := New(Config{Factory: InProcessFactory(scorer)})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if p.Size() != 1 {
		t.Fatalf("expected default of one worker, got %d", p.Size())
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Execute(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected missing factory error")
	}
	factory := InProcessFactory(physics.NewEvaluator(physics.DefaultToleranceSchedule(), 0))
	if _, err := New(Config{Factory: factory, Retries: -1}); err == nil {
		t.Fatal("expected negative retries error")
	}
	if _, err := New(Config{Factory: factory, JobTimeout: -time.Second}); err == nil {
		t.Fatal("expected negative timeout error")
	}
}

func jobsFor(chromosomes []model.Chromosome) []Job {
	jobs := make([]Job, len(chromosomes))
	for i, c := range chromosomes {
		jobs[i] = Job{Index: i, Chromosome: c}
	}
	return jobs
}
