package physics

import (
	"math"

	"lagsearch/internal/model"
)

// Scorer evaluates a chromosome at a generation. Implementations are pure:
// identical inputs yield identical candidates.
type Scorer interface {
	Evaluate(c model.Chromosome, generation int) model.Candidate
}

// Evaluator is the float64 fitness function used on the hot path.
type Evaluator struct {
	Targets        Targets
	Tolerance      ToleranceSchedule
	EleganceWeight float64
}

func NewEvaluator(tolerance ToleranceSchedule, eleganceWeight float64) Evaluator {
	return Evaluator{
		Targets:        DefaultTargets(),
		Tolerance:      tolerance,
		EleganceWeight: eleganceWeight,
	}
}

// EvaluateCoefficients validates an untyped coefficient list and evaluates it.
func (e Evaluator) EvaluateCoefficients(coefficients []float64, generation int) (model.Candidate, error) {
	c, err := model.NewChromosome(coefficients)
	if err != nil {
		return model.Candidate{}, err
	}
	return e.Evaluate(c, generation), nil
}

func (e Evaluator) Evaluate(c model.Chromosome, generation int) model.Candidate {
	out := model.Candidate{
		Chromosome: c,
		GEm:        c[model.GeneGaugeCoupling],
		Xi:         c[model.GeneGravityCoupling],
		Generation: generation,
	}
	if !c.Finite() {
		return Degenerate(out)
	}
	c0 := c[model.GeneKineticTime]
	c1 := c[model.GeneKineticSpace]
	c2 := c[model.GeneMass]
	c3 := c[model.GeneSelfInteraction]
	gem := c[model.GeneGaugeCoupling]
	xi := c[model.GeneGravityCoupling]

	penalty := 0.0
	if c0 == 0 {
		return Degenerate(out)
	}
	ratio := -c1 / c0
	if ratio <= 0 {
		penalty += PenaltyKineticSign
		ratio = math.Abs(ratio)
	}
	if ratio == 0 {
		return Degenerate(out)
	}
	out.CModel = e.Targets.C * math.Sqrt(ratio)

	phi0Sq := 0.0
	if c2 > 0 && c3 > 0 {
		phi0Sq = c2 / c3
		phi0 := math.Sqrt(phi0Sq)
		out.Phi0 = &phi0
	} else {
		penalty += PenaltyUnstablePotential
	}

	out.AlphaModel = gem * (1 + phi0Sq) / (4 * math.Pi)
	stability := 1 - xi*phi0Sq
	if stability == 0 {
		return Degenerate(out)
	}
	out.GModel = e.Targets.G * xi / stability

	if out.GModel < 0 {
		penalty += PenaltyNegativeG
	}
	if stability <= 0 {
		penalty += PenaltyStability
	}
	if xi < 0 {
		penalty += PenaltyNegativeXi
	}
	if !(c0 < 0 && c1 > 0) {
		penalty += PenaltyGhost
	}
	out.Penalty = penalty

	out.DeltaC = relativeError(out.CModel, e.Targets.C)
	out.DeltaAlpha = relativeError(out.AlphaModel, e.Targets.Alpha)
	out.DeltaG = relativeError(out.GModel, e.Targets.G)

	fitness := out.DeltaC + out.DeltaAlpha + out.DeltaG + penalty
	if e.EleganceWeight > 0 {
		score := ScoreElegance(c).Score
		out.Elegance = &score
		fitness += e.EleganceWeight * (1 - score)
	}
	return finish(out, fitness, e.Tolerance.At(generation))
}

// finish applies the tolerance gate and the non-finite guard shared by both
// evaluators.
func finish(out model.Candidate, fitness float64, tol Tolerance) model.Candidate {
	derived := []float64{out.CModel, out.AlphaModel, out.GModel, out.DeltaC, out.DeltaAlpha, out.DeltaG, fitness}
	for _, v := range derived {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Degenerate(out)
		}
	}
	if out.DeltaC > tol.C || out.DeltaG > tol.G {
		out.Fitness = model.Score(math.Inf(1))
		out.Rejection = model.RejectionTolerance
		return out
	}
	out.Fitness = model.Score(fitness)
	return out
}

// Degenerate marks a candidate whose derived constants cannot be computed.
func Degenerate(out model.Candidate) model.Candidate {
	out.CModel = 0
	out.AlphaModel = 0
	out.GModel = 0
	out.DeltaC = 1
	out.DeltaAlpha = 1
	out.DeltaG = 1
	out.Phi0 = nil
	out.Elegance = nil
	out.Fitness = model.Score(math.Inf(1))
	out.Rejection = model.RejectionDegenerate
	return out
}

func relativeError(value, target float64) float64 {
	return math.Abs(value-target) / target
}

// ExactChromosome returns a chromosome on the solution manifold for the
// given kinetic scale k > 0 and phi0² > 0: every derived constant equals its
// target up to float64 rounding.
func ExactChromosome(targets Targets, k, phi0Sq float64) model.Chromosome {
	c3 := C3Elegant
	return model.Chromosome{
		-k,
		k,
		c3 * phi0Sq,
		c3,
		4 * math.Pi * targets.Alpha / (1 + phi0Sq),
		1 / (1 + phi0Sq),
	}
}

// UltraPhi0Sq is the phi0² at which g_em = c3 = 1/(8π) reproduces the
// target fine-structure constant.
func UltraPhi0Sq(targets Targets) float64 {
	return 32*math.Pi*math.Pi*targets.Alpha - 1
}

// UltraChromosome is ExactChromosome at UltraPhi0Sq with g_em tied to c3.
func UltraChromosome(targets Targets, k float64) model.Chromosome {
	c := ExactChromosome(targets, k, UltraPhi0Sq(targets))
	c[model.GeneGaugeCoupling] = c[model.GeneSelfInteraction]
	return c
}
