package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lagsearch/internal/evo"
	"lagsearch/internal/model"
	"lagsearch/internal/physics"
	"lagsearch/internal/pool"
	"lagsearch/internal/pubsub"
	"lagsearch/internal/storage"
)

var (
	ErrAlreadyRunning = errors.New("run already active")
	ErrNotRunning     = errors.New("run not active")
	ErrNotInitialized = errors.New("manager is not initialized")
)

type Config struct {
	Store  storage.Store
	Logger *slog.Logger
}

// Manager owns the active runs. Every run is reached through the *Run handle
// returned by Start; there is no process-wide current run.
type Manager struct {
	store  storage.Store
	logger *slog.Logger

	mu      sync.RWMutex
	started bool
	runs    map[string]*Run
}

type StartConfig struct {
	RunID      string
	Parameters evo.RunParameters
	Targets    physics.Targets
	// ContinueRunID resumes from the population persisted by an earlier run.
	ContinueRunID string
	// Precise scores with the big.Float evaluator. Precision zero picks the
	// precision from the generation.
	Precise   bool
	Precision uint
	// WorkerCommand runs each worker slot as a subprocess speaking the
	// line-JSON worker protocol. Empty means in-process workers.
	WorkerCommand []string
	// Evaluator replaces the worker pool when set.
	Evaluator evo.BatchEvaluator
	Initial   []model.Chromosome
	// SubscriberBuffer sizes subscriptions made through Run.Subscribe when
	// the caller passes zero.
	SubscriberBuffer int
}

func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  cfg.Store,
		logger: logger,
		runs:   make(map[string]*Run),
	}
}

func (m *Manager) Init(ctx context.Context) error {
	if m.store == nil {
		return fmt.Errorf("store is required")
	}
	if err := m.store.Init(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

// Reset clears persisted state. It refuses while runs are active.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.RLock()
	started := m.started
	active := len(m.runs)
	m.mu.RUnlock()
	if !started {
		return ErrNotInitialized
	}
	if active > 0 {
		return fmt.Errorf("%w: %d runs", ErrAlreadyRunning, active)
	}
	return m.store.Reset(ctx)
}

func (m *Manager) Store() storage.Store {
	return m.store
}

// Start validates the configuration, builds the evaluator and launches the
// run in its own goroutine. ctx bounds the run's lifetime.
func (m *Manager) Start(ctx context.Context, cfg StartConfig) (*Run, error) {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		return nil, ErrNotInitialized
	}

	params := cfg.Parameters.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	targets := cfg.Targets
	if targets == (physics.Targets{}) {
		targets = physics.DefaultTargets()
	}

	runID := strings.TrimSpace(cfg.RunID)
	if runID == "" {
		runID = NewRunID()
	}

	resume, initial, err := m.resumeFrom(ctx, cfg.ContinueRunID, params)
	if err != nil {
		return nil, err
	}
	if initial == nil && len(cfg.Initial) > 0 {
		initial = cfg.Initial
	}
	initialGeneration := 0
	if resume != nil {
		initialGeneration = resume.Generation
		params.MaxGenerations += resume.Generation
	}

	run := &Run{
		id:                runID,
		continuedFrom:     strings.TrimSpace(cfg.ContinueRunID),
		initialGeneration: initialGeneration,
		params:            params,
		targets:           targets,
		control:           make(chan evo.MonitorCommand, 16),
		hub:               pubsub.NewHub[evo.Snapshot](),
		done:              make(chan struct{}),
		buffer:            cfg.SubscriberBuffer,
		startedAt:         time.Now().UTC(),
	}
	if err := m.register(run); err != nil {
		return nil, err
	}

	evaluator := cfg.Evaluator
	var workers *pool.Pool
	if evaluator == nil {
		workers, err = m.newPool(cfg, params, targets)
		if err != nil {
			m.unregister(runID)
			return nil, err
		}
		evaluator = workers
	}

	engine, err := evo.NewEngine(evo.EngineConfig{
		RunID:      runID,
		Parameters: params,
		Evaluator:  evaluator,
		Targets:    targets,
		Publisher:  run.hub,
		Control:    run.control,
		Logger:     m.logger,
		Initial:    initial,
		Resume:     resume,
	})
	if err != nil {
		m.unregister(runID)
		if workers != nil {
			_ = workers.Close()
		}
		return nil, err
	}
	if err := m.saveRunRecord(ctx, run, model.StatusRunning, nil, time.Time{}); err != nil {
		m.unregister(runID)
		if workers != nil {
			_ = workers.Close()
		}
		return nil, fmt.Errorf("save run %s: %w", runID, err)
	}

	m.logger.Info("run registered",
		"run_id", runID,
		"continued_from", run.continuedFrom,
		"workers", params.Workers,
		"precise", cfg.Precise,
		"subprocess", len(cfg.WorkerCommand) > 0,
	)
	go m.execute(ctx, run, engine, workers)
	return run, nil
}

func (m *Manager) execute(ctx context.Context, run *Run, engine *evo.Engine, workers *pool.Pool) {
	result, runErr := engine.Run(ctx)
	finishedAt := time.Now().UTC()

	top := topCandidates(result.FinalPopulation, run.params.TopK)
	persistErr := m.persist(context.WithoutCancel(ctx), run, result, top, finishedAt)
	if persistErr != nil {
		m.logger.Error("persist run failed", "run_id", run.id, "err", persistErr)
	}
	if workers != nil {
		if err := workers.Close(); err != nil {
			m.logger.Warn("close worker pool", "run_id", run.id, "err", err)
		}
	}

	m.unregister(run.id)
	run.finish(RunResult{
		RunID:             run.id,
		ContinuedFrom:     run.continuedFrom,
		InitialGeneration: run.initialGeneration,
		Parameters:        run.params,
		Targets:           run.targets,
		Result:            result,
		TopCandidates:     top,
		StartedAt:         run.startedAt,
		FinishedAt:        finishedAt,
	}, errors.Join(runErr, persistErr))
	run.hub.Close()
}

// persist stores everything a finished run leaves behind, including the
// population it can be continued from.
func (m *Manager) persist(ctx context.Context, run *Run, result evo.RunResult, top []model.TopCandidateRecord, finishedAt time.Time) error {
	generation := run.initialGeneration + len(result.BestByGeneration)
	population := model.PopulationRecord{
		VersionedRecord:   storage.Versioned(),
		ID:                run.id,
		Generation:        generation,
		StagnationCounter: result.FinalState.StagnationCounter,
		UltraModeActive:   result.FinalState.UltraModeActive,
		UltraModeEnabled:  result.FinalState.UltraModeEnabled,
		Chromosomes:       result.Population,
		BestEver:          result.FinalState.BestEver,
	}
	if err := m.store.SavePopulation(ctx, population); err != nil {
		return fmt.Errorf("save population: %w", err)
	}
	if err := m.store.SaveFitnessHistory(ctx, run.id, result.BestByGeneration); err != nil {
		return fmt.Errorf("save fitness history: %w", err)
	}
	if err := m.store.SaveGenerationDiagnostics(ctx, run.id, result.GenerationDiagnostics); err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	if err := m.store.SaveTopCandidates(ctx, run.id, top); err != nil {
		return fmt.Errorf("save top candidates: %w", err)
	}
	status := result.FinalState.Status
	if status != model.StatusCompleted {
		status = model.StatusStopped
	}
	return m.saveRunRecord(ctx, run, status, &result, finishedAt)
}

func (m *Manager) saveRunRecord(ctx context.Context, run *Run, status string, result *evo.RunResult, finishedAt time.Time) error {
	params, err := json.Marshal(run.params)
	if err != nil {
		return err
	}
	record := model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              run.id,
		Status:          status,
		Parameters:      params,
		ContinuedFrom:   run.continuedFrom,
		Generations:     run.initialGeneration,
		BestFitness:     model.Score(inf),
		StartedAt:       run.startedAt,
		FinishedAt:      finishedAt,
	}
	if result != nil {
		record.Generations += len(result.BestByGeneration)
		record.UltraModeActive = result.FinalState.UltraModeActive
		if best := result.FinalState.BestEver; best != nil {
			record.BestFitness = best.Fitness
		}
	}
	return m.store.SaveRun(ctx, record)
}

// resumeFrom loads the population and counters persisted by runID. A run
// that had completed restarts its stagnation count.
func (m *Manager) resumeFrom(ctx context.Context, runID string, params evo.RunParameters) (*evo.ResumeState, []model.Chromosome, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, nil, nil
	}
	if _, active := m.Get(runID); active {
		return nil, nil, fmt.Errorf("%w: cannot continue %s while it runs", ErrAlreadyRunning, runID)
	}
	population, ok, err := m.store.GetPopulation(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("population not found for run %s", runID)
	}
	if len(population.Chromosomes) != params.PopulationSize {
		return nil, nil, fmt.Errorf("%w: run %s has population %d, parameters ask for %d",
			evo.ErrInvalidParameters, runID, len(population.Chromosomes), params.PopulationSize)
	}
	stagnation := population.StagnationCounter
	if stagnation >= params.ConvergenceGenerations {
		stagnation = 0
	}
	return &evo.ResumeState{
		Generation:        population.Generation,
		StagnationCounter: stagnation,
		UltraModeActive:   population.UltraModeActive,
		UltraModeEnabled:  population.UltraModeEnabled,
		BestEver:          population.BestEver,
	}, population.Chromosomes, nil
}

func (m *Manager) newPool(cfg StartConfig, params evo.RunParameters, targets physics.Targets) (*pool.Pool, error) {
	var factory pool.Factory
	if len(cfg.WorkerCommand) > 0 {
		factory = pool.ProcessFactory(pool.ProcessConfig{
			Command: cfg.WorkerCommand[0],
			Args:    cfg.WorkerCommand[1:],
			Logger:  m.logger,
		})
	} else {
		factory = pool.InProcessFactory(scorerFor(cfg, params, targets))
	}
	return pool.New(pool.Config{
		Workers:    params.Workers,
		Factory:    factory,
		JobTimeout: time.Duration(params.JobTimeoutMillis) * time.Millisecond,
		Retries:    params.JobRetries,
		Logger:     m.logger,
	})
}

func scorerFor(cfg StartConfig, params evo.RunParameters, targets physics.Targets) physics.Scorer {
	if cfg.Precise {
		precise := physics.NewPreciseEvaluator(params.Tolerance, params.EleganceWeight, cfg.Precision)
		precise.Targets = targets
		return precise
	}
	evaluator := physics.NewEvaluator(params.Tolerance, params.EleganceWeight)
	evaluator.Targets = targets
	return evaluator
}

// Get returns the handle of an active run.
func (m *Manager) Get(runID string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	return run, ok
}

// Active returns the ids of active runs, sorted.
func (m *Manager) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.runs))
	for id := range m.runs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StopAll asks every active run to stop without waiting for it.
func (m *Manager) StopAll() {
	m.mu.RLock()
	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	m.mu.RUnlock()
	for _, run := range runs {
		select {
		case run.control <- evo.MonitorCommand{Kind: evo.CommandStop}:
		default:
			m.logger.Warn("run control channel is full", "run_id", run.id)
		}
	}
}

func (m *Manager) register(run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, run.id)
	}
	m.runs[run.id] = run
	return nil
}

func (m *Manager) unregister(runID string) {
	m.mu.Lock()
	delete(m.runs, runID)
	m.mu.Unlock()
}

// NewRunID returns a short random run id.
func NewRunID() string {
	return "run-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func topCandidates(ranked []model.Candidate, k int) []model.TopCandidateRecord {
	k = min(k, len(ranked))
	out := make([]model.TopCandidateRecord, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, model.TopCandidateRecord{
			VersionedRecord: storage.Versioned(),
			Rank:            i + 1,
			Candidate:       ranked[i],
		})
	}
	return out
}
