package physics

import (
	"math"
	"testing"

	"lagsearch/internal/model"
)

func referenceChromosomes() []model.Chromosome {
	targets := DefaultTargets()
	near := ExactChromosome(targets, 1, 2)
	near[model.GeneGaugeCoupling] *= 1 + 3e-7
	near[model.GeneGravityCoupling] *= 1 - 2e-6

	return []model.Chromosome{
		ExactChromosome(targets, 1, 2),
		ExactChromosome(targets, 0.75, 1.25),
		UltraChromosome(targets, 1.1),
		near,
		{-1, 1.5, 0.2, 0.05, 0.04, 0.2},
		{1, 1, -1, 1, 0.1, -0.3},
		{0, 1, 1, 1, 1, 1},
	}
}

func TestPreciseEvaluatorAgreesWithFloat64(t *testing.T) {
	for _, schedule := range []ToleranceSchedule{
		DefaultToleranceSchedule(),
		{StrictC: 1e9, StrictG: 1e9},
	} {
		fast := NewEvaluator(schedule, 0)
		for _, precision := range []uint{0, 192} {
			precise := NewPreciseEvaluator(schedule, 0, precision)
			for _, c := range referenceChromosomes() {
				for _, generation := range []int{0, 100, 1200} {
					agreement := Compare(fast, precise, c, generation)
					if !agreement.Within(DefaultAgreementTolerance) {
						t.Fatalf("disagreement for %v at generation %d (precision %d): rel=%g abs=%g fast=%q precise=%q",
							c, generation, precision,
							agreement.MaxRelativeDiff, agreement.MaxAbsoluteDiff,
							agreement.Fast.Rejection, agreement.Precise.Rejection)
					}
				}
			}
		}
	}
}

func TestPreciseEvaluatorHandlesDegenerateInputs(t *testing.T) {
	precise := NewPreciseEvaluator(DefaultToleranceSchedule(), 0, 0)
	got := precise.Evaluate(model.Chromosome{-1, 1, math.NaN(), 1, 1, 0.1}, 0)
	if got.Rejection != model.RejectionDegenerate {
		t.Fatalf("expected degenerate rejection, got %q", got.Rejection)
	}
	got = precise.Evaluate(model.Chromosome{-1, 1, 1, 1, 1, 1}, 0)
	if got.Rejection != model.RejectionDegenerate {
		t.Fatalf("expected degenerate rejection for zero stability, got %q", got.Rejection)
	}
}

func TestPrecisionForGenerationIncreases(t *testing.T) {
	if !(PrecisionForGeneration(0) < PrecisionForGeneration(600)) {
		t.Fatal("expected more precision after generation 500")
	}
	if !(PrecisionForGeneration(600) < PrecisionForGeneration(2000)) {
		t.Fatal("expected more precision after generation 1000")
	}
}

func TestOperatorCatalogOrder(t *testing.T) {
	catalog := OperatorCatalog()
	if len(catalog) != model.GeneCount {
		t.Fatalf("unexpected catalog size: %d", len(catalog))
	}
	for i, op := range catalog {
		if op.Index != i {
			t.Fatalf("operator %s at slot %d has index %d", op.Symbol, i, op.Index)
		}
	}
	if catalog[model.GeneGaugeCoupling].Symbol != "g_em" {
		t.Fatalf("unexpected gauge symbol: %s", catalog[model.GeneGaugeCoupling].Symbol)
	}
}
