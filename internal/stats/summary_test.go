package stats

import (
	"math"
	"os"
	"testing"

	"lagsearch/internal/evo"
	"lagsearch/internal/model"
)

func writeSeriesRun(t *testing.T, baseDir, runID string, series ...float64) {
	t.Helper()
	params := evo.DefaultRunParameters()
	params.PopulationSize = 10
	history := make([]model.Score, len(series))
	for i, v := range series {
		history[i] = model.Score(v)
	}
	_, err := WriteRunArtifacts(baseDir, RunArtifacts{
		Config:  RunConfig{RunID: runID, Parameters: params},
		History: FitnessHistory{BestByGeneration: history},
	})
	if err != nil {
		t.Fatalf("write %s: %v", runID, err)
	}
}

func TestSummarizeRunsAgainstGoal(t *testing.T) {
	baseDir := t.TempDir()
	inf := math.Inf(1)
	writeSeriesRun(t, baseDir, "fast", inf, 1e-3, 1e-7, 1e-8)
	writeSeriesRun(t, baseDir, "slow", inf, inf, 1e-2, 1e-4, 1e-7)
	writeSeriesRun(t, baseDir, "never", inf, 1, 0.5)

	goal := 1e-6
	summary, err := SummarizeRuns(baseDir, []string{"fast", "slow", "never"}, &goal, nil)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalRuns != 3 || summary.SuccessRuns != 2 {
		t.Fatalf("unexpected totals: %+v", summary)
	}
	if math.Abs(summary.SuccessRate-2.0/3.0) > 1e-12 {
		t.Fatalf("unexpected success rate %f", summary.SuccessRate)
	}
	if summary.Runs[0].ReachedGeneration != 3 || summary.Runs[0].Evaluations != 30 {
		t.Fatalf("unexpected fast outcome %+v", summary.Runs[0])
	}
	if summary.Runs[1].ReachedGeneration != 5 || summary.Runs[1].Evaluations != 50 {
		t.Fatalf("unexpected slow outcome %+v", summary.Runs[1])
	}
	if summary.Runs[2].Success || summary.Runs[2].FinalBest != 0.5 {
		t.Fatalf("unexpected never outcome %+v", summary.Runs[2])
	}
	if summary.AvgEvaluations != 40 || summary.StdEvaluations != 10 {
		t.Fatalf("unexpected evaluation stats avg=%f std=%f", summary.AvgEvaluations, summary.StdEvaluations)
	}
	if summary.MinEvaluations != 30 || summary.MaxEvaluations != 50 {
		t.Fatalf("unexpected min/max %f/%f", summary.MinEvaluations, summary.MaxEvaluations)
	}

	path, err := WriteRunSummary(baseDir, "", summary)
	if err != nil {
		t.Fatalf("write summary: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected summary file: %v", err)
	}
}

func TestSummarizeRunsEvaluationLimit(t *testing.T) {
	baseDir := t.TempDir()
	writeSeriesRun(t, baseDir, "late", 1, 1, 1, 1e-9)

	goal := 1e-6
	limit := 25
	summary, err := SummarizeRuns(baseDir, []string{"late"}, &goal, &limit)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.SuccessRuns != 0 || summary.Runs[0].ReachedGeneration != 3 {
		t.Fatalf("expected evaluation limit to end the run at generation 3, got %+v", summary.Runs[0])
	}
}

func TestSummarizeRunsWithoutGoalAndMissingRun(t *testing.T) {
	baseDir := t.TempDir()
	writeSeriesRun(t, baseDir, "a", 1, 0.5)

	summary, err := SummarizeRuns(baseDir, []string{"a"}, nil, nil)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.SuccessRuns != 1 || summary.Runs[0].Evaluations != 20 {
		t.Fatalf("expected goal-less run to count as success, got %+v", summary)
	}

	if _, err := SummarizeRuns(baseDir, []string{"missing"}, nil, nil); err == nil {
		t.Fatal("expected error for a missing run")
	}
}
