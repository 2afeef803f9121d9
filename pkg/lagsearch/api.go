package lagsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lagsearch/internal/evo"
	"lagsearch/internal/model"
	"lagsearch/internal/physics"
	"lagsearch/internal/platform"
	"lagsearch/internal/stats"
	"lagsearch/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "lagsearch.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store     storage.Store
	storeKind string
	manager   *platform.Manager
	logger    *slog.Logger

	artifactsDir string
	exportsDir   string

	mu          sync.Mutex
	initialized bool
	// handles holds the single handle of each run started by this client.
	handles map[string]*RunHandle
}

type RunRequest struct {
	RunID      string
	Parameters evo.RunParameters
	// ContinueRunID resumes from the final population of an earlier run.
	ContinueRunID string
	Precise       bool
	Precision     uint
	WorkerCommand []string
}

type RunSummary struct {
	RunID            string
	ContinuedFrom    string
	ArtifactsDir     string
	Status           string
	Generations      int
	BestByGeneration []model.Score
	FinalBestFitness model.Score
	UltraModeActive  bool
	Best             *model.Candidate
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	ContinuedFrom    string
	CreatedAtUTC     string
	Status           string
	Seed             int64
	Population       int
	Generations      int
	UltraModeActive  bool
	FinalBestFitness model.Score
}

// RunRef names a run either by id or as the most recent entry of the run
// index.
type RunRef struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
	// IncludeArtifacts also copies the run artifacts into the export
	// directory.
	IncludeArtifacts bool
}

type ExportSummary struct {
	RunID      string
	Directory  string
	Candidates int
}

type EvaluateRequest struct {
	Coefficients []float64
	Generation   int
	Precise      bool
	Precision    uint
	// Tolerance overrides the default warmup schedule when set.
	Tolerance      *physics.ToleranceSchedule
	EleganceWeight float64
}

type VerifyRequest struct {
	Coefficients []float64
	Generation   int
	Precision    uint
	// MaxDiff is the agreement bound. Zero uses
	// physics.DefaultAgreementTolerance.
	MaxDiff float64
}

type VerifyResult struct {
	Agreement physics.Agreement
	MaxDiff   float64
	Agrees    bool
}

type SummaryRequest struct {
	RunIDs []string
	// Latest summarizes the most recent runs of the index when RunIDs is
	// empty.
	Latest      int
	FitnessGoal *float64
	EvalLimit   *int
	// Name, when set, writes the summary under the artifacts directory.
	Name string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		storeKind:    storeKind,
		manager:      platform.NewManager(platform.Config{Store: store, Logger: logger}),
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		handles:      make(map[string]*RunHandle),
	}, nil
}

// Close stops every active run and releases the store.
func (c *Client) Close() error {
	c.manager.StopAll()
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureInit(ctx)
}

// Reset clears persisted state. Artifact directories are left alone.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.ensureInit(ctx); err != nil {
		return err
	}
	return c.manager.Reset(ctx)
}

// Start launches a run and returns at once. The run lives until it
// completes, is stopped, or ctx ends.
func (c *Client) Start(ctx context.Context, req RunRequest) (*RunHandle, error) {
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}
	run, err := c.manager.Start(ctx, platform.StartConfig{
		RunID:         req.RunID,
		Parameters:    req.Parameters,
		ContinueRunID: req.ContinueRunID,
		Precise:       req.Precise,
		Precision:     req.Precision,
		WorkerCommand: req.WorkerCommand,
	})
	if err != nil {
		return nil, err
	}
	handle := &RunHandle{
		run:           run,
		client:        c,
		precise:       req.Precise,
		workerCommand: strings.Join(req.WorkerCommand, " "),
	}
	c.mu.Lock()
	c.handles[run.ID()] = handle
	c.mu.Unlock()
	return handle, nil
}

// Run starts a run and blocks until it has finished and its artifacts are
// written.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	handle, err := c.Start(ctx, req)
	if err != nil {
		return RunSummary{}, err
	}
	return handle.Wait(ctx)
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:            e.RunID,
			ContinuedFrom:    e.ContinuedFrom,
			CreatedAtUTC:     e.CreatedAtUTC,
			Status:           e.Status,
			Seed:             e.Seed,
			Population:       e.PopulationSize,
			Generations:      e.Generations,
			UltraModeActive:  e.UltraModeActive,
			FinalBestFitness: e.FinalBestFitness,
		})
	}
	return out, nil
}

// Export writes export.json and candidates.csv for a finished run into a
// timestamped directory under OutDir.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	runID, err := c.resolveRunID(RunRef{RunID: req.RunID, Latest: req.Latest})
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	top, err := c.TopCandidates(ctx, RunRef{RunID: runID})
	if err != nil {
		return ExportSummary{}, err
	}
	cfg, ok, err := stats.ReadRunConfig(c.artifactsDir, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	targets := physics.DefaultTargets()
	if ok && cfg.Targets != (physics.Targets{}) {
		targets = cfg.Targets
	}

	now := time.Now().UTC()
	export := stats.ExportFromTop(now, runID, targets, top)
	if history, ok, err := stats.ReadFitnessHistory(c.artifactsDir, runID); err != nil {
		return ExportSummary{}, err
	} else if ok {
		export.Status = history.FinalStatus
		export.UltraModeActive = history.UltraModeActive
	}

	dir, err := stats.WriteExport(req.OutDir, now, export)
	if err != nil {
		return ExportSummary{}, err
	}
	if req.IncludeArtifacts {
		if _, err := stats.ExportRunArtifacts(c.artifactsDir, runID, dir); err != nil {
			return ExportSummary{}, err
		}
	}
	c.logger.Info("run exported", "run_id", runID, "dir", dir, "candidates", len(export.Candidates))
	return ExportSummary{RunID: runID, Directory: filepath.Clean(dir), Candidates: len(export.Candidates)}, nil
}

// FitnessHistory returns the best fitness per generation. The store is
// consulted first; the run artifacts cover runs persisted by another
// process with a memory store.
func (c *Client) FitnessHistory(ctx context.Context, req RunRef) ([]model.Score, error) {
	runID, err := c.resolveRef(req, "fitness history")
	if err != nil {
		return nil, err
	}
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		artifact, found, err := stats.ReadFitnessHistory(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
		}
		history = artifact.BestByGeneration
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]model.Score(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req RunRef) ([]model.GenerationDiagnostics, error) {
	runID, err := c.resolveRef(req, "diagnostics")
	if err != nil {
		return nil, err
	}
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		diagnostics, ok, err = stats.ReadGenerationDiagnostics(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
		}
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) TopCandidates(ctx context.Context, req RunRef) ([]model.TopCandidateRecord, error) {
	runID, err := c.resolveRef(req, "top candidates")
	if err != nil {
		return nil, err
	}
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}
	top, ok, err := c.store.GetTopCandidates(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		top, ok, err = stats.ReadTopCandidates(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("top candidates not found for run id: %s", runID)
		}
	}
	if req.Limit > 0 && len(top) > req.Limit {
		top = top[:req.Limit]
	}
	out := make([]model.TopCandidateRecord, len(top))
	copy(out, top)
	return out, nil
}

// Evaluate scores one coefficient vector outside of any run.
func (c *Client) Evaluate(_ context.Context, req EvaluateRequest) (model.Candidate, error) {
	schedule, err := scheduleFor(req.Tolerance)
	if err != nil {
		return model.Candidate{}, err
	}
	if !req.Precise {
		return physics.NewEvaluator(schedule, req.EleganceWeight).EvaluateCoefficients(req.Coefficients, req.Generation)
	}
	chromosome, err := model.NewChromosome(req.Coefficients)
	if err != nil {
		return model.Candidate{}, err
	}
	return physics.NewPreciseEvaluator(schedule, req.EleganceWeight, req.Precision).Evaluate(chromosome, req.Generation), nil
}

// Verify evaluates a coefficient vector on both the float64 and the
// big.Float path and reports how far they disagree.
func (c *Client) Verify(_ context.Context, req VerifyRequest) (VerifyResult, error) {
	chromosome, err := model.NewChromosome(req.Coefficients)
	if err != nil {
		return VerifyResult{}, err
	}
	maxDiff := req.MaxDiff
	if maxDiff <= 0 {
		maxDiff = physics.DefaultAgreementTolerance
	}
	schedule := physics.DefaultToleranceSchedule()
	agreement := physics.Compare(
		physics.NewEvaluator(schedule, 0),
		physics.NewPreciseEvaluator(schedule, 0, req.Precision),
		chromosome,
		req.Generation,
	)
	return VerifyResult{Agreement: agreement, MaxDiff: maxDiff, Agrees: agreement.Within(maxDiff)}, nil
}

// Summary aggregates convergence statistics over finished runs.
func (c *Client) Summary(_ context.Context, req SummaryRequest) (stats.RunSummary, string, error) {
	runIDs := req.RunIDs
	if len(runIDs) == 0 {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return stats.RunSummary{}, "", err
		}
		limit := req.Latest
		if limit <= 0 || limit > len(entries) {
			limit = len(entries)
		}
		for _, e := range entries[:limit] {
			runIDs = append(runIDs, e.RunID)
		}
	}
	if len(runIDs) == 0 {
		return stats.RunSummary{}, "", errors.New("no runs available")
	}
	summary, err := stats.SummarizeRuns(c.artifactsDir, runIDs, req.FitnessGoal, req.EvalLimit)
	if err != nil {
		return stats.RunSummary{}, "", err
	}
	if req.Name == "" {
		return summary, "", nil
	}
	path, err := stats.WriteRunSummary(c.artifactsDir, req.Name, summary)
	if err != nil {
		return stats.RunSummary{}, "", err
	}
	return summary, path, nil
}

// Active lists the ids of runs started by this client that are still
// running.
func (c *Client) Active() []string {
	return c.manager.Active()
}

// Handle returns the handle Start gave out for an active run, so every
// caller shares its settings and its one artifact write.
func (c *Client) Handle(runID string) (*RunHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle, ok := c.handles[runID]
	if !ok {
		return nil, false
	}
	if _, active := c.manager.Get(runID); !active {
		return nil, false
	}
	return handle, true
}

func (c *Client) forgetHandle(h *RunHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handles[h.ID()] == h {
		delete(c.handles, h.ID())
	}
}

func (c *Client) ensureInit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	if err := c.manager.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func (c *Client) resolveRef(req RunRef, what string) (string, error) {
	if req.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if req.RunID == "" && !req.Latest {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	return c.resolveRunID(req)
}

func (c *Client) resolveRunID(req RunRef) (string, error) {
	if req.RunID != "" && req.Latest {
		return "", errors.New("use either run id or latest")
	}
	if !req.Latest {
		return req.RunID, nil
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func scheduleFor(override *physics.ToleranceSchedule) (physics.ToleranceSchedule, error) {
	if override == nil {
		return physics.DefaultToleranceSchedule(), nil
	}
	if err := override.Validate(); err != nil {
		return physics.ToleranceSchedule{}, err
	}
	return *override, nil
}
