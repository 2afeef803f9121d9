package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"lagsearch/internal/model"
	"lagsearch/internal/physics"
)

var ErrRunCompleted = errors.New("run already completed")

// BatchEvaluator scores one generation. It returns a candidate for every
// chromosome, in order. Per-candidate failures are reported in the
// candidate's Rejection; an error means the batch as a whole was abandoned.
type BatchEvaluator interface {
	EvaluateBatch(ctx context.Context, generation int, chromosomes []model.Chromosome) ([]model.Candidate, error)
}

// ResumeState restores the counters of an earlier run.
type ResumeState struct {
	Generation        int
	StagnationCounter int
	UltraModeActive   bool
	UltraModeEnabled  bool
	BestEver          *model.Candidate
}

type EngineConfig struct {
	RunID      string
	Parameters RunParameters
	Evaluator  BatchEvaluator
	Targets    physics.Targets
	Selector   Selector
	Crossover  Crossover
	Mutation   Mutator
	Publisher  Publisher
	Control    <-chan MonitorCommand
	Logger     *slog.Logger
	// Initial replaces the seeded population when set.
	Initial []model.Chromosome
	Resume  *ResumeState
}

type individual struct {
	chromosome model.Chromosome
	candidate  *model.Candidate
}

// Engine runs the generation loop for one run. It is owned by a single
// goroutine: Step, Run and the mutating methods must not be called
// concurrently. Other goroutines talk to a running engine through the
// control channel.
type Engine struct {
	cfg         EngineConfig
	params      RunParameters
	rng         *rand.Rand
	logger      *slog.Logger
	population  []individual
	ranked      []model.Candidate
	state       RunState
	history     []model.Score
	diagnostics []model.GenerationDiagnostics
	clampHits   int
	// plateau is the best fitness at the last counted improvement.
	plateau model.Score
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	params := cfg.Parameters.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Targets == (physics.Targets{}) {
		cfg.Targets = physics.DefaultTargets()
	}
	if cfg.Selector == nil {
		selector, err := ResolveSelector(params.Selection, params)
		if err != nil {
			return nil, err
		}
		cfg.Selector = selector
	}
	if cfg.Crossover == nil {
		crossover, err := CrossoverFor(params.CrossoverMode)
		if err != nil {
			return nil, err
		}
		cfg.Crossover = crossover
	}
	if cfg.Mutation == nil {
		cfg.Mutation = GaussianMutation{
			Rate:    params.MutationRate,
			Sigma:   params.Sigma,
			Decades: params.MutationDecades,
			XiCap:   params.XiCap,
		}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		cfg:     cfg,
		params:  params,
		rng:     rand.New(rand.NewSource(params.Seed)),
		logger:  cfg.Logger.With("run_id", cfg.RunID),
		plateau: model.Score(math.Inf(1)),
		state: RunState{
			Status:           model.StatusStopped,
			UltraModeEnabled: params.UltraMode,
		},
	}
	if r := cfg.Resume; r != nil {
		if r.Generation < 0 || r.StagnationCounter < 0 {
			return nil, fmt.Errorf("%w: resume counters must be >= 0", ErrInvalidParameters)
		}
		e.state.Generation = r.Generation
		e.state.StagnationCounter = r.StagnationCounter
		e.state.UltraModeActive = r.UltraModeActive
		e.state.UltraModeEnabled = r.UltraModeEnabled || params.UltraMode || r.UltraModeActive
		if r.BestEver != nil {
			best := *r.BestEver
			e.state.BestEver = &best
			e.plateau = best.Fitness
		}
	}

	var chromosomes []model.Chromosome
	if len(cfg.Initial) > 0 {
		if len(cfg.Initial) != params.PopulationSize {
			return nil, fmt.Errorf("%w: initial population mismatch: got=%d want=%d", ErrInvalidParameters, len(cfg.Initial), params.PopulationSize)
		}
		chromosomes = append([]model.Chromosome(nil), cfg.Initial...)
	} else {
		chromosomes = SeedPopulation(e.rng, params.PopulationSize, cfg.Targets, params.SeedJitter, params.KineticJitter)
	}
	if e.state.UltraModeActive {
		SoftConvert(chromosomes)
	}
	e.population = freshPopulation(chromosomes)
	return e, nil
}

func freshPopulation(chromosomes []model.Chromosome) []individual {
	out := make([]individual, len(chromosomes))
	for i, c := range chromosomes {
		out[i] = individual{chromosome: c}
	}
	return out
}

func (e *Engine) Parameters() RunParameters {
	return e.params
}

func (e *Engine) State() RunState {
	return e.state.clone()
}

// Population returns a copy of the current chromosomes.
func (e *Engine) Population() []model.Chromosome {
	out := make([]model.Chromosome, len(e.population))
	for i, ind := range e.population {
		out[i] = ind.chromosome
	}
	return out
}

// Ranked returns the most recently ranked generation, best first.
func (e *Engine) Ranked() []model.Candidate {
	return append([]model.Candidate(nil), e.ranked...)
}

// Run drives generations until the run completes, a stop command arrives or
// ctx is cancelled. Commands are only read between generations.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	if e.state.Status == model.StatusCompleted {
		return e.result(), ErrRunCompleted
	}
	e.state.Status = model.StatusRunning
	e.logger.Info("run started",
		"generation", e.state.Generation,
		"population", e.params.PopulationSize,
		"max_generations", e.params.MaxGenerations,
		"ultra_enabled", e.state.UltraModeEnabled,
	)

	for {
		if err := ctx.Err(); err != nil {
			return e.halt(err)
		}
		stop, err := e.handleControl(ctx)
		if err != nil {
			return e.halt(err)
		}
		if stop {
			e.state.Status = model.StatusStopped
			e.publishStatus()
			e.logger.Info("run stopped", "generation", e.state.Generation)
			return e.result(), nil
		}
		if _, err := e.Step(ctx); err != nil {
			return e.halt(err)
		}
		if e.state.Status == model.StatusCompleted {
			e.logger.Info("run completed",
				"generation", e.state.Generation,
				"best_fitness", float64(e.ranked[0].Fitness),
				"stagnation", e.state.StagnationCounter,
			)
			return e.result(), nil
		}
	}
}

func (e *Engine) halt(err error) (RunResult, error) {
	e.state.Status = model.StatusStopped
	return e.result(), err
}

func (e *Engine) result() RunResult {
	return RunResult{
		BestByGeneration:      append([]model.Score(nil), e.history...),
		GenerationDiagnostics: append([]model.GenerationDiagnostics(nil), e.diagnostics...),
		FinalPopulation:       e.Ranked(),
		Population:            e.Population(),
		FinalState:            e.State(),
	}
}

// Step evaluates the current generation, ranks it, publishes a snapshot and,
// unless the run is complete, breeds the next generation.
func (e *Engine) Step(ctx context.Context) (Snapshot, error) {
	if e.state.Status == model.StatusCompleted {
		return Snapshot{}, ErrRunCompleted
	}
	if e.state.Status == model.StatusStopped {
		e.state.Status = model.StatusRunning
	}
	generation := e.state.Generation

	stats, err := e.evaluatePending(ctx, generation)
	if err != nil {
		return Snapshot{}, err
	}
	ranked := e.rank()

	if e.state.UltraModeEnabled && !e.state.UltraModeActive && UltraReady(ranked[0], e.params.UltraDigits) {
		e.activateUltra("precision threshold reached", ranked[0])
		more, err := e.evaluatePending(ctx, generation)
		if err != nil {
			return Snapshot{}, err
		}
		stats = stats.add(more)
		ranked = e.rank()
	}
	e.ranked = ranked
	e.updateStagnation(ranked[0], generation)
	e.history = append(e.history, ranked[0].Fitness)

	if e.state.StagnationCounter >= e.params.ConvergenceGenerations || generation+1 >= e.params.MaxGenerations {
		e.state.Status = model.StatusCompleted
	}

	snapshot := e.snapshot(stats)
	e.diagnostics = append(e.diagnostics, diagnosticsFor(snapshot, ranked))
	e.clampHits = 0
	e.logger.Debug("generation",
		"generation", generation,
		"best_fitness", float64(ranked[0].Fitness),
		"mean_fitness", float64(snapshot.MeanFitness),
		"stagnation", e.state.StagnationCounter,
		"throughput", snapshot.Throughput,
	)
	e.cfg.Publisher.Publish(snapshot)

	if e.state.Status != model.StatusCompleted {
		next, err := e.breed(ctx, ranked)
		if err != nil {
			return snapshot, err
		}
		e.population = next
		e.state.Generation++
	}
	if len(e.population) != e.params.PopulationSize {
		return snapshot, fmt.Errorf("population size invariant violated: got=%d want=%d", len(e.population), e.params.PopulationSize)
	}
	return snapshot, nil
}

type evalStats struct {
	evaluated int
	failures  int
	rejected  int
	elapsed   time.Duration
}

func (s evalStats) add(o evalStats) evalStats {
	return evalStats{
		evaluated: s.evaluated + o.evaluated,
		failures:  s.failures + o.failures,
		rejected:  s.rejected + o.rejected,
		elapsed:   s.elapsed + o.elapsed,
	}
}

func (s evalStats) throughput() float64 {
	if s.evaluated == 0 || s.elapsed <= 0 {
		return 0
	}
	return float64(s.evaluated) / s.elapsed.Seconds()
}

// evaluatePending scores every individual without a candidate. Results are
// committed only once the whole batch is back. Cached candidates are
// re-gated against the tolerance of this generation.
func (e *Engine) evaluatePending(ctx context.Context, generation int) (evalStats, error) {
	tol := e.params.Tolerance.At(generation)
	var (
		indexes []int
		batch   []model.Chromosome
		stats   evalStats
	)
	for i, ind := range e.population {
		if ind.candidate == nil {
			indexes = append(indexes, i)
			batch = append(batch, ind.chromosome)
			continue
		}
		cached := ind.candidate
		if !cached.Rejected() && (cached.DeltaC > tol.C || cached.DeltaG > tol.G) {
			gated := *cached
			gated.Fitness = model.Score(math.Inf(1))
			gated.Rejection = model.RejectionTolerance
			e.population[i].candidate = &gated
		}
	}
	if len(batch) == 0 {
		return stats, nil
	}

	started := time.Now()
	results, err := e.cfg.Evaluator.EvaluateBatch(ctx, generation, batch)
	if err != nil {
		return evalStats{}, fmt.Errorf("evaluate generation %d: %w", generation, err)
	}
	if len(results) != len(batch) {
		return evalStats{}, fmt.Errorf("evaluate generation %d: got %d results for %d chromosomes", generation, len(results), len(batch))
	}
	stats.elapsed = time.Since(started)
	stats.evaluated = len(batch)

	for j, candidate := range results {
		c := candidate
		if !c.Chromosome.Identical(batch[j]) && c.Rejection != model.RejectionWorkerFailure {
			e.logger.Warn("evaluator returned a foreign chromosome", "generation", generation, "index", indexes[j])
			c = model.Candidate{Chromosome: batch[j], Rejection: model.RejectionWorkerFailure}
		}
		if c.Rejection == model.RejectionWorkerFailure {
			c.Chromosome = batch[j]
			c.Fitness = model.Score(math.Inf(1))
			c.Generation = generation
		}
		switch c.Rejection {
		case model.RejectionWorkerFailure:
			stats.failures++
		case model.RejectionTolerance, model.RejectionDegenerate:
			stats.rejected++
		}
		e.population[indexes[j]].candidate = &c
	}
	if stats.failures > 0 {
		e.logger.Warn("worker failures penalized", "generation", generation, "failures", stats.failures)
	}
	return stats, nil
}

func (e *Engine) rank() []model.Candidate {
	ranked := make([]model.Candidate, len(e.population))
	for i, ind := range e.population {
		ranked[i] = *ind.candidate
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return model.Less(ranked[i], ranked[j])
	})
	return ranked
}

// updateStagnation counts generations whose best does not beat the plateau
// by more than ConvergenceThreshold relative to it. Counting starts once the
// tolerance schedule has settled, so a run never converges on a candidate
// only the warmup bounds accept.
func (e *Engine) updateStagnation(best model.Candidate, generation int) {
	if prev := e.state.BestEver; prev == nil || model.Less(best, *prev) {
		b := best
		e.state.BestEver = &b
	}
	if !e.params.Tolerance.Settled(generation) {
		e.state.StagnationCounter = 0
		e.plateau = model.Score(math.Inf(1))
		return
	}
	if best.Fitness.IsFinite() && float64(best.Fitness) < float64(e.plateau)*(1-e.params.ConvergenceThreshold) {
		e.plateau = best.Fitness
		e.state.StagnationCounter = 0
		return
	}
	e.state.StagnationCounter++
}

func (e *Engine) breed(ctx context.Context, ranked []model.Candidate) ([]individual, error) {
	size := e.params.PopulationSize
	next := make([]individual, 0, size)
	for i := 0; i < e.params.EliteCount; i++ {
		elite := ranked[i]
		next = append(next, individual{chromosome: elite.Chromosome, candidate: &elite})
	}

	ultra := e.state.UltraModeActive
	for len(next) < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		first, err := e.cfg.Selector.PickParent(e.rng, ranked)
		if err != nil {
			return nil, err
		}
		second, err := e.cfg.Selector.PickParent(e.rng, ranked)
		if err != nil {
			return nil, err
		}

		a, b := first.Chromosome, second.Chromosome
		if e.rng.Float64() < e.params.CrossoverRate {
			a, b = Recombine(e.rng, e.cfg.Crossover, a, b, ultra)
		}
		for _, child := range []model.Chromosome{a, b} {
			if len(next) >= size {
				break
			}
			mutated, clamped := e.cfg.Mutation.Mutate(e.rng, child, ultra)
			if clamped {
				e.clampHits++
			}
			next = append(next, individual{chromosome: mutated})
		}
	}
	if e.clampHits > 0 {
		e.logger.Info("xi stability cap applied", "generation", e.state.Generation+1, "count", e.clampHits)
	}
	return next, nil
}

// activateUltra ties g_em to c3 across the population. Converted individuals
// lose their cached candidate and are scored again.
func (e *Engine) activateUltra(reason string, best model.Candidate) int {
	e.state.UltraModeEnabled = true
	e.state.UltraModeActive = true
	converted := 0
	for i := range e.population {
		c := e.population[i].chromosome
		if c.UltraCoupled() {
			continue
		}
		e.population[i] = individual{chromosome: EnforceUltra(c)}
		converted++
	}
	e.logger.Info("ultra mode activated",
		"reason", reason,
		"generation", e.state.Generation,
		"digits_alpha", best.DigitsAlpha(),
		"digits_g", best.DigitsG(),
		"converted", converted,
	)
	return converted
}

// SetUltraMode switches Ultra Mode. Enabling converts the population at once
// when the current best already meets the precision threshold; otherwise it
// changes nothing and returns ErrInvalidModeTransition. Disabling also
// disarms the automatic transition.
func (e *Engine) SetUltraMode(enabled bool) (bool, error) {
	if !enabled {
		if e.state.UltraModeActive {
			e.logger.Info("ultra mode deactivated", "generation", e.state.Generation)
		}
		e.state.UltraModeEnabled = false
		e.state.UltraModeActive = false
		return false, nil
	}
	if e.state.UltraModeActive {
		return false, nil
	}
	if len(e.ranked) == 0 {
		return false, fmt.Errorf("%w: no generation evaluated yet", ErrInvalidModeTransition)
	}
	best := e.ranked[0]
	if !UltraReady(best, e.params.UltraDigits) {
		return false, fmt.Errorf("%w: need %d digits, best has alpha=%d g=%d",
			ErrInvalidModeTransition, e.params.UltraDigits, best.DigitsAlpha(), best.DigitsG())
	}
	e.activateUltra("requested", best)
	return true, nil
}

// ForceUnconstrainedReset replaces the population with uniform random
// chromosomes. Generation, stagnation and best-ever are kept.
func (e *Engine) ForceUnconstrainedReset() {
	chromosomes := UnconstrainedPopulation(e.rng, e.params.PopulationSize, e.params.UnconstrainedRange)
	if e.state.UltraModeActive {
		SoftConvert(chromosomes)
	}
	e.population = freshPopulation(chromosomes)
	e.logger.Info("population reset",
		"generation", e.state.Generation,
		"range", e.params.UnconstrainedRange,
		"stagnation", e.state.StagnationCounter,
	)
}

func (e *Engine) handleControl(ctx context.Context) (bool, error) {
	for {
		if e.cfg.Control == nil {
			return e.state.Status == model.StatusPaused, nil
		}
		var (
			cmd MonitorCommand
			ok  bool
		)
		if e.state.Status == model.StatusPaused {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case cmd, ok = <-e.cfg.Control:
			}
		} else {
			select {
			case cmd, ok = <-e.cfg.Control:
			default:
				return false, nil
			}
		}
		if !ok {
			e.cfg.Control = nil
			continue
		}
		if e.apply(cmd) {
			return true, nil
		}
	}
}

func (e *Engine) apply(cmd MonitorCommand) bool {
	var reply CommandReply
	stop := false
	switch cmd.Kind {
	case CommandStop:
		stop = true
		e.state.Status = model.StatusStopped
	case CommandPause:
		if e.state.Status == model.StatusRunning {
			e.state.Status = model.StatusPaused
			e.logger.Info("run paused", "generation", e.state.Generation)
			e.publishStatus()
		}
	case CommandContinue:
		if e.state.Status == model.StatusPaused {
			e.state.Status = model.StatusRunning
			e.logger.Info("run continued", "generation", e.state.Generation)
			e.publishStatus()
		}
	case CommandReset:
		e.ForceUnconstrainedReset()
	case CommandUltraOn:
		reply.Converted, reply.Err = e.SetUltraMode(true)
		if reply.Err != nil {
			e.logger.Warn("ultra mode request ignored", "err", reply.Err)
		}
	case CommandUltraOff:
		_, reply.Err = e.SetUltraMode(false)
	case CommandStatus:
	default:
		reply.Err = fmt.Errorf("unknown command: %s", cmd.Kind)
	}
	reply.State = e.State()
	if cmd.Reply != nil {
		select {
		case cmd.Reply <- reply:
		default:
		}
	}
	return stop
}

func (e *Engine) publishStatus() {
	e.cfg.Publisher.Publish(e.snapshot(evalStats{}))
}

func (e *Engine) snapshot(stats evalStats) Snapshot {
	out := Snapshot{
		RunID:             e.cfg.RunID,
		Generation:        e.state.Generation,
		Status:            e.state.Status,
		UltraModeActive:   e.state.UltraModeActive,
		Throughput:        stats.throughput(),
		Evaluated:         stats.evaluated,
		Failures:          stats.failures,
		Rejected:          stats.rejected,
		ClampHits:         e.clampHits,
		StagnationCounter: e.state.StagnationCounter,
		MeanFitness:       model.Score(math.Inf(1)),
		Timestamp:         time.Now().UTC(),
	}
	if e.state.BestEver != nil {
		best := *e.state.BestEver
		out.BestEver = &best
	}
	if len(e.ranked) == 0 {
		return out
	}
	best := e.ranked[0]
	out.Best = &best
	k := min(e.params.TopK, len(e.ranked))
	out.TopK = append([]model.Candidate(nil), e.ranked[:k]...)
	out.MeanFitness = meanFinite(e.ranked)
	return out
}

func meanFinite(ranked []model.Candidate) model.Score {
	total := 0.0
	n := 0
	for _, c := range ranked {
		if c.Fitness.IsFinite() {
			total += float64(c.Fitness)
			n++
		}
	}
	if n == 0 {
		return model.Score(math.Inf(1))
	}
	return model.Score(total / float64(n))
}

func diagnosticsFor(s Snapshot, ranked []model.Candidate) model.GenerationDiagnostics {
	best := ranked[0]
	return model.GenerationDiagnostics{
		Generation:        s.Generation,
		BestFitness:       best.Fitness,
		MeanFitness:       s.MeanFitness,
		WorstFitness:      ranked[len(ranked)-1].Fitness,
		Evaluated:         s.Evaluated,
		Rejected:          s.Rejected,
		Failures:          s.Failures,
		ClampHits:         s.ClampHits,
		StagnationCounter: s.StagnationCounter,
		UltraModeActive:   s.UltraModeActive,
		Throughput:        s.Throughput,
		DigitsC:           best.DigitsC(),
		DigitsAlpha:       best.DigitsAlpha(),
		DigitsG:           best.DigitsG(),
	}
}
