package stats

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lagsearch/internal/model"
	"lagsearch/internal/physics"
)

func TestWriteExportProducesJSONAndCSV(t *testing.T) {
	targets := physics.DefaultTargets()
	evaluator := physics.NewEvaluator(physics.DefaultToleranceSchedule(), 0)
	best := evaluator.Evaluate(physics.UltraChromosome(targets, 1), 12)
	rejected := evaluator.Evaluate(model.Chromosome{1, 1, 1, 1, 1, 1}, 12)

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	export := NewExport(now, "run-x", targets, []model.Candidate{best, rejected})
	export.Status = model.StatusCompleted

	dir, err := WriteExport(t.TempDir(), now, export)
	if err != nil {
		t.Fatalf("write export: %v", err)
	}
	if got := filepath.Base(dir); got != "20260304-050607-run-x" {
		t.Fatalf("unexpected export directory name %q", got)
	}

	read, ok, err := ReadExport(dir)
	if err != nil || !ok {
		t.Fatalf("read export ok=%t err=%v", ok, err)
	}
	if read.Timestamp != "2026-03-04T05:06:07Z" {
		t.Fatalf("unexpected timestamp %q", read.Timestamp)
	}
	if read.Targets != targets {
		t.Fatalf("unexpected targets %+v", read.Targets)
	}
	if len(read.Operators) != model.GeneCount || read.Operators[model.GeneGaugeCoupling].Symbol != "g_em" {
		t.Fatalf("unexpected operator catalog %+v", read.Operators)
	}
	if len(read.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(read.Candidates))
	}
	first := read.Candidates[0]
	if first.Rank != 1 || first.Generation != 12 || !first.UltraCoupled {
		t.Fatalf("unexpected first record %+v", first)
	}
	if len(first.Coefficients) != model.GeneCount || first.Coefficients[model.GeneGaugeCoupling] != first.Coefficients[model.GeneSelfInteraction] {
		t.Fatalf("unexpected coefficients %v", first.Coefficients)
	}
	if !math.IsInf(read.Candidates[1].Fitness.Float(), 1) || read.Candidates[1].Rejection == "" {
		t.Fatalf("expected rejected second record, got %+v", read.Candidates[1])
	}

	file, err := os.Open(filepath.Join(dir, exportCandidatesFile))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(candidateColumns, ",") {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[2][8] != "+Inf" {
		t.Fatalf("expected +Inf fitness column, got %q", rows[2][8])
	}
}

func TestExportFromTopKeepsStoredRanks(t *testing.T) {
	top := []model.TopCandidateRecord{
		{Rank: 3, Candidate: model.Candidate{Fitness: 0.3}},
		{Candidate: model.Candidate{Fitness: 0.4}},
	}
	export := ExportFromTop(time.Now(), "", physics.DefaultTargets(), top)
	if export.Candidates[0].Rank != 3 || export.Candidates[1].Rank != 2 {
		t.Fatalf("unexpected ranks: %+v", export.Candidates)
	}
}

func TestWriteExportWithoutCandidates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dir, err := WriteExport(t.TempDir(), now, Export{Timestamp: "t"})
	if err != nil {
		t.Fatalf("write export: %v", err)
	}
	read, ok, err := ReadExport(dir)
	if err != nil || !ok {
		t.Fatalf("read export ok=%t err=%v", ok, err)
	}
	if read.Candidates == nil || len(read.Candidates) != 0 {
		t.Fatalf("expected empty candidate list, got %#v", read.Candidates)
	}
}
