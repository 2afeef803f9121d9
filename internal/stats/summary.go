package stats

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-strftime"

	"lagsearch/internal/model"
)

const summariesDir = "summaries"

// RunOutcome is how one run fared against a fitness goal. Lower fitness is
// better; a run succeeds at the first generation whose best fitness is at
// or below the goal.
type RunOutcome struct {
	RunID             string      `json:"run_id"`
	Evaluations       int         `json:"evaluations"`
	Success           bool        `json:"success"`
	ReachedGeneration int         `json:"reached_generation,omitempty"`
	FinalBest         model.Score `json:"final_best"`
	Goal              float64     `json:"goal,omitempty"`
	EvalLimit         int         `json:"eval_limit,omitempty"`
}

type RunSummary struct {
	GeneratedAt      string       `json:"generated_at_utc"`
	TotalRuns        int          `json:"total_runs"`
	SuccessRuns      int          `json:"success_runs"`
	SuccessRate      float64      `json:"success_rate"`
	AvgEvaluations   float64      `json:"avg_evaluations"`
	StdEvaluations   float64      `json:"std_evaluations"`
	MinEvaluations   float64      `json:"min_evaluations"`
	MaxEvaluations   float64      `json:"max_evaluations"`
	FitnessGoal      *float64     `json:"fitness_goal,omitempty"`
	EvaluationsLimit *int         `json:"evaluations_limit,omitempty"`
	Runs             []RunOutcome `json:"runs"`
}

// SummarizeRuns compares the fitness series of several runs under baseDir.
// A nil goal counts every run as successful.
func SummarizeRuns(baseDir string, runIDs []string, fitnessGoal *float64, evalLimit *int) (RunSummary, error) {
	result := RunSummary{
		GeneratedAt:      strftime.Format(exportTimeLayout, time.Now().UTC()),
		TotalRuns:        len(runIDs),
		FitnessGoal:      cloneFloat64Ptr(fitnessGoal),
		EvaluationsLimit: cloneIntPtr(evalLimit),
		Runs:             make([]RunOutcome, 0, len(runIDs)),
	}
	successValues := make([]float64, 0, len(runIDs))
	for _, runID := range runIDs {
		cfg, ok, err := ReadRunConfig(baseDir, runID)
		if err != nil {
			return RunSummary{}, err
		}
		if !ok {
			return RunSummary{}, fmt.Errorf("run config not found for run id: %s", runID)
		}
		series, ok, err := ReadFitnessSeries(baseDir, runID)
		if err != nil {
			return RunSummary{}, err
		}
		if !ok {
			return RunSummary{}, fmt.Errorf("fitness series not found for run id: %s", runID)
		}

		run := evaluateSeries(runID, series, cfg.Parameters.PopulationSize, result.FitnessGoal, evalLimit)
		result.Runs = append(result.Runs, run)
		if run.Success {
			result.SuccessRuns++
			successValues = append(successValues, float64(run.Evaluations))
		}
	}
	if result.TotalRuns > 0 {
		result.SuccessRate = float64(result.SuccessRuns) / float64(result.TotalRuns)
	}
	if len(successValues) > 0 {
		result.AvgEvaluations, result.StdEvaluations = meanStd(successValues)
		result.MinEvaluations = successValues[0]
		result.MaxEvaluations = successValues[0]
		for _, value := range successValues[1:] {
			result.MinEvaluations = math.Min(result.MinEvaluations, value)
			result.MaxEvaluations = math.Max(result.MaxEvaluations, value)
		}
	}
	return result, nil
}

// WriteRunSummary stores the summary under baseDir/summaries/<name>.json.
func WriteRunSummary(baseDir, name string, summary RunSummary) (string, error) {
	if name == "" {
		name = "summary"
	}
	dir := filepath.Join(baseDir, summariesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".json")
	if err := writeJSON(path, summary); err != nil {
		return "", err
	}
	return path, nil
}

func evaluateSeries(runID string, series []model.Score, populationSize int, fitnessGoal *float64, evalLimit *int) RunOutcome {
	if populationSize <= 0 {
		populationSize = 1
	}
	run := RunOutcome{RunID: runID}
	if fitnessGoal != nil {
		run.Goal = *fitnessGoal
	}
	if evalLimit != nil {
		run.EvalLimit = *evalLimit
	}
	if len(series) > 0 {
		run.FinalBest = series[len(series)-1]
	}

	for generation, best := range series {
		run.Evaluations += populationSize
		run.ReachedGeneration = generation + 1
		if fitnessGoal != nil && best.IsFinite() && best.Float() <= *fitnessGoal {
			run.Success = true
			return run
		}
		if fitnessGoal != nil && evalLimit != nil && run.Evaluations > *evalLimit {
			return run
		}
	}
	run.Success = fitnessGoal == nil
	return run
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func cloneFloat64Ptr(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	value := *v
	return &value
}

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	value := *v
	return &value
}
