package stats

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"lagsearch/internal/evo"
	"lagsearch/internal/model"
	"lagsearch/internal/physics"
)

func sampleArtifacts(runID string) RunArtifacts {
	params := evo.DefaultRunParameters()
	params.PopulationSize = 4
	params.EliteCount = 1
	params.Workers = 2
	targets := physics.DefaultTargets()
	best := model.Candidate{
		Chromosome: physics.ExactChromosome(targets, 1, 1),
		Fitness:    1e-9,
		Generation: 2,
	}
	return RunArtifacts{
		Config: RunConfig{
			RunID:             runID,
			InitialGeneration: 0,
			Parameters:        params,
			Targets:           targets,
			CreatedAtUTC:      "2026-02-10T10:00:00Z",
		},
		History: FitnessHistory{
			BestByGeneration: []model.Score{model.Score(math.Inf(1)), 0.5, 1e-9},
			FinalBestFitness: 1e-9,
			FinalStatus:      model.StatusCompleted,
		},
		TopCandidates: []model.TopCandidateRecord{{Rank: 1, Candidate: best}},
		GenerationDiagnostics: []model.GenerationDiagnostics{
			{Generation: 0, BestFitness: model.Score(math.Inf(1)), Evaluated: 4, Rejected: 4},
			{Generation: 1, BestFitness: 0.5, Evaluated: 4},
			{Generation: 2, BestFitness: 1e-9, Evaluated: 4},
		},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	runDir, err := WriteRunArtifacts(baseDir, sampleArtifacts(runID))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	files := []string{configFile, fitnessHistoryFile, fitnessSeriesFile, topCandidatesFile, diagnosticsFile}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	if _, err := ExportRunArtifacts(baseDir, "missing", outDir); err == nil {
		t.Fatal("expected error exporting a missing run")
	}
}

func TestReadRunArtifactsRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	artifacts := sampleArtifacts("run-rt")
	if _, err := WriteRunArtifacts(baseDir, artifacts); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	cfg, ok, err := ReadRunConfig(baseDir, "run-rt")
	if err != nil || !ok {
		t.Fatalf("read config ok=%t err=%v", ok, err)
	}
	if cfg.Parameters.PopulationSize != 4 || cfg.Targets != physics.DefaultTargets() {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	history, ok, err := ReadFitnessHistory(baseDir, "run-rt")
	if err != nil || !ok {
		t.Fatalf("read history ok=%t err=%v", ok, err)
	}
	if len(history.BestByGeneration) != 3 || !math.IsInf(history.BestByGeneration[0].Float(), 1) {
		t.Fatalf("expected infinite first generation to survive, got %+v", history.BestByGeneration)
	}
	if history.FinalStatus != model.StatusCompleted {
		t.Fatalf("unexpected final status %q", history.FinalStatus)
	}

	series, ok, err := ReadFitnessSeries(baseDir, "run-rt")
	if err != nil || !ok {
		t.Fatalf("read series ok=%t err=%v", ok, err)
	}
	if len(series) != 3 || !math.IsInf(series[0].Float(), 1) || series[2] != 1e-9 {
		t.Fatalf("unexpected series: %v", series)
	}

	top, ok, err := ReadTopCandidates(baseDir, "run-rt")
	if err != nil || !ok {
		t.Fatalf("read top ok=%t err=%v", ok, err)
	}
	if len(top) != 1 || !top[0].Candidate.Chromosome.Identical(artifacts.TopCandidates[0].Candidate.Chromosome) {
		t.Fatalf("unexpected top candidates: %+v", top)
	}

	diagnostics, ok, err := ReadGenerationDiagnostics(baseDir, "run-rt")
	if err != nil || !ok {
		t.Fatalf("read diagnostics ok=%t err=%v", ok, err)
	}
	if len(diagnostics) != 3 || diagnostics[0].Rejected != 4 {
		t.Fatalf("unexpected diagnostics: %+v", diagnostics)
	}

	if _, ok, err := ReadRunConfig(baseDir, "missing"); err != nil || ok {
		t.Fatalf("expected missing config to report ok=false, got ok=%t err=%v", ok, err)
	}
}

func TestWriteRunConfigValidatesRunID(t *testing.T) {
	baseDir := t.TempDir()
	if err := WriteRunConfig(baseDir, " ", RunConfig{}); err == nil {
		t.Fatal("expected blank run id error")
	}
	if err := WriteRunConfig(baseDir, "a", RunConfig{RunID: "b"}); err == nil {
		t.Fatal("expected run id mismatch error")
	}
	if err := WriteRunConfig(baseDir, "a", RunConfig{}); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, ok, err := ReadRunConfig(baseDir, "a")
	if err != nil || !ok || cfg.RunID != "a" {
		t.Fatalf("expected run id filled in, got %+v ok=%t err=%v", cfg, ok, err)
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	err := AppendRunIndex(baseDir, RunIndexEntry{
		RunID:            "run-1",
		Status:           model.StatusCompleted,
		PopulationSize:   8,
		Generations:      3,
		Seed:             1,
		Workers:          2,
		EliteCount:       1,
		FinalBestFitness: 0.80,
		CreatedAtUTC:     "2026-02-10T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-1: %v", err)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:            "run-2",
		Status:           model.StatusStopped,
		PopulationSize:   8,
		Generations:      3,
		Seed:             2,
		Workers:          2,
		EliteCount:       1,
		FinalBestFitness: model.Score(math.Inf(1)),
		CreatedAtUTC:     "2026-02-10T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-2" || entries[1].RunID != "run-1" {
		t.Fatalf("unexpected order: %+v", entries)
	}
	if !math.IsInf(entries[0].FinalBestFitness.Float(), 1) {
		t.Fatalf("expected infinite fitness to survive the index, got %v", entries[0].FinalBestFitness)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:            "run-1",
		ContinuedFrom:    "run-0",
		PopulationSize:   8,
		Generations:      6,
		FinalBestFitness: 0.10,
		CreatedAtUTC:     "2026-02-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("upsert run-1: %v", err)
	}

	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after upsert, got %d", len(entries))
	}
	if entries[0].RunID != "run-1" || entries[0].FinalBestFitness != 0.10 || entries[0].ContinuedFrom != "run-0" {
		t.Fatalf("unexpected upsert result: %+v", entries[0])
	}
}

func TestRunIndexEqualTimestampPrefersLaterAppend(t *testing.T) {
	baseDir := t.TempDir()
	ts := "2026-02-10T12:00:00Z"

	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-a", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-a: %v", err)
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-b", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-b: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-b" {
		t.Fatalf("expected latest appended run-b first, got %+v", entries)
	}
}

func TestListRunIndexEmpty(t *testing.T) {
	entries, err := ListRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("expected empty non-nil index, got %#v", entries)
	}
}
