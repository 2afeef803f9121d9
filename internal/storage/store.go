package storage

import (
	"context"
	"errors"

	"lagsearch/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

// Store persists run records and the per-run artifacts needed to inspect or
// resume a search.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SavePopulation(ctx context.Context, population model.PopulationRecord) error
	GetPopulation(ctx context.Context, id string) (model.PopulationRecord, bool, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []model.Score) error
	GetFitnessHistory(ctx context.Context, runID string) ([]model.Score, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveTopCandidates(ctx context.Context, runID string, top []model.TopCandidateRecord) error
	GetTopCandidates(ctx context.Context, runID string) ([]model.TopCandidateRecord, bool, error)
	// Reset deletes every stored record.
	Reset(ctx context.Context) error
}
