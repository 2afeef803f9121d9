package lagsearch

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"time"

	"lagsearch/internal/evo"
	"lagsearch/internal/model"
	"lagsearch/internal/platform"
	"lagsearch/internal/stats"
)

// RunHandle controls one run started through a Client.
type RunHandle struct {
	run           *platform.Run
	client        *Client
	precise       bool
	workerCommand string

	once    sync.Once
	summary RunSummary
	err     error
}

func (h *RunHandle) ID() string { return h.run.ID() }

// Done is closed once the run has finished. Artifacts are written by Wait.
func (h *RunHandle) Done() <-chan struct{} { return h.run.Done() }

func (h *RunHandle) Stop(ctx context.Context) error { return h.run.Stop(ctx) }

func (h *RunHandle) Pause(ctx context.Context) error { return h.run.Pause(ctx) }

func (h *RunHandle) Continue(ctx context.Context) error { return h.run.Continue(ctx) }

func (h *RunHandle) ForceUnconstrainedReset(ctx context.Context) error {
	return h.run.ForceUnconstrainedReset(ctx)
}

func (h *RunHandle) ToggleUltraMode(ctx context.Context, enabled bool) (platform.ToggleResult, error) {
	return h.run.ToggleUltraMode(ctx, enabled)
}

func (h *RunHandle) Status(ctx context.Context) (evo.RunState, error) {
	return h.run.Status(ctx)
}

func (h *RunHandle) Latest() (evo.Snapshot, bool) {
	return h.run.Latest()
}

// Subscribe streams per-generation snapshots until the run finishes or
// cancel is called.
func (h *RunHandle) Subscribe(buffer int) (<-chan evo.Snapshot, func()) {
	return h.run.Subscribe(buffer)
}

// Wait blocks until the run finishes, then writes its artifacts and run
// index entry. Later calls return the same summary.
func (h *RunHandle) Wait(ctx context.Context) (RunSummary, error) {
	select {
	case <-ctx.Done():
		return RunSummary{}, ctx.Err()
	case <-h.run.Done():
	}
	result, runErr := h.run.Wait(context.Background())
	h.once.Do(func() {
		h.summary, h.err = h.client.writeArtifacts(result, h.precise, h.workerCommand)
		h.err = errors.Join(runErr, h.err)
		h.client.forgetHandle(h)
	})
	return h.summary, h.err
}

func (c *Client) writeArtifacts(result platform.RunResult, precise bool, workerCommand string) (RunSummary, error) {
	state := result.Result.FinalState
	if state.Status != model.StatusCompleted {
		state.Status = model.StatusStopped
	}
	finalBest := model.Score(math.Inf(1))
	if best, ok := result.Best(); ok {
		finalBest = best.Fitness
	}
	createdAt := result.StartedAt.UTC().Format(time.RFC3339Nano)

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:             result.RunID,
			ContinuedFrom:     result.ContinuedFrom,
			InitialGeneration: result.InitialGeneration,
			Parameters:        result.Parameters,
			Targets:           result.Targets,
			Precise:           precise,
			WorkerCommand:     workerCommand,
			StoreBackend:      c.storeKind,
			CreatedAtUTC:      createdAt,
		},
		History: stats.FitnessHistory{
			BestByGeneration: result.Result.BestByGeneration,
			FinalBestFitness: finalBest,
			FinalStatus:      state.Status,
			UltraModeActive:  state.UltraModeActive,
		},
		TopCandidates:         result.TopCandidates,
		GenerationDiagnostics: result.Result.GenerationDiagnostics,
	})
	if err != nil {
		return RunSummary{}, err
	}

	generations := result.InitialGeneration + len(result.Result.BestByGeneration)
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:            result.RunID,
		ContinuedFrom:    result.ContinuedFrom,
		Status:           state.Status,
		PopulationSize:   result.Parameters.PopulationSize,
		Generations:      generations,
		Seed:             result.Parameters.Seed,
		Workers:          result.Parameters.Workers,
		EliteCount:       result.Parameters.EliteCount,
		UltraModeActive:  state.UltraModeActive,
		FinalBestFitness: finalBest,
		CreatedAtUTC:     createdAt,
	}); err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{
		RunID:            result.RunID,
		ContinuedFrom:    result.ContinuedFrom,
		ArtifactsDir:     filepath.Clean(runDir),
		Status:           state.Status,
		Generations:      generations,
		BestByGeneration: append([]model.Score(nil), result.Result.BestByGeneration...),
		FinalBestFitness: finalBest,
		UltraModeActive:  state.UltraModeActive,
	}
	if best, ok := result.Best(); ok {
		summary.Best = &best
	}
	c.logger.Info("run artifacts written", "run_id", result.RunID, "dir", summary.ArtifactsDir, "status", state.Status)
	return summary, nil
}
