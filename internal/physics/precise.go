package physics

import (
	"math"
	"math/big"

	"lagsearch/internal/model"
)

// PreciseEvaluator implements the Evaluator contract on big.Float. It is
// used to cross-check the float64 path, not during search.
type PreciseEvaluator struct {
	Targets        Targets
	Tolerance      ToleranceSchedule
	EleganceWeight float64
	// Precision is the mantissa size in bits. Zero selects
	// PrecisionForGeneration.
	Precision uint
}

func NewPreciseEvaluator(tolerance ToleranceSchedule, eleganceWeight float64, precision uint) PreciseEvaluator {
	return PreciseEvaluator{
		Targets:        DefaultTargets(),
		Tolerance:      tolerance,
		EleganceWeight: eleganceWeight,
		Precision:      precision,
	}
}

// PrecisionForGeneration raises the working precision as a run matures:
// roughly 19 significant digits early, 24 after generation 500 and 38 after
// generation 1000.
func PrecisionForGeneration(generation int) uint {
	switch {
	case generation < 500:
		return 64
	case generation < 1000:
		return 80
	default:
		return 128
	}
}

func (e PreciseEvaluator) precision(generation int) uint {
	if e.Precision > 0 {
		return e.Precision
	}
	return PrecisionForGeneration(generation)
}

func (e PreciseEvaluator) Evaluate(c model.Chromosome, generation int) model.Candidate {
	out := model.Candidate{
		Chromosome: c,
		GEm:        c[model.GeneGaugeCoupling],
		Xi:         c[model.GeneGravityCoupling],
		Generation: generation,
	}
	if !c.Finite() {
		return Degenerate(out)
	}
	a := arith{prec: e.precision(generation)}
	cT, alphaT, gT := a.targets(e.Targets)

	c0 := a.float(c[model.GeneKineticTime])
	c1 := a.float(c[model.GeneKineticSpace])
	c2 := a.float(c[model.GeneMass])
	c3 := a.float(c[model.GeneSelfInteraction])
	gem := a.float(c[model.GeneGaugeCoupling])
	xi := a.float(c[model.GeneGravityCoupling])

	penalty := 0.0
	if c0.Sign() == 0 {
		return Degenerate(out)
	}
	ratio := a.quo(c1, c0)
	ratio.Neg(ratio)
	if ratio.Sign() <= 0 {
		penalty += PenaltyKineticSign
		ratio.Abs(ratio)
	}
	if ratio.Sign() == 0 {
		return Degenerate(out)
	}
	cModel := a.mul(a.sqrt(ratio), cT)

	phi0Sq := a.float(0)
	if c2.Sign() > 0 && c3.Sign() > 0 {
		phi0Sq = a.quo(c2, c3)
		phi0, _ := a.sqrt(phi0Sq).Float64()
		out.Phi0 = &phi0
	} else {
		penalty += PenaltyUnstablePotential
	}

	one := a.float(1)
	alphaModel := a.quo(a.mul(gem, a.add(one, phi0Sq)), a.mul(a.float(4), a.pi()))
	stability := a.sub(one, a.mul(xi, phi0Sq))
	if stability.Sign() == 0 {
		return Degenerate(out)
	}
	gModel := a.quo(a.mul(gT, xi), stability)

	if gModel.Sign() < 0 {
		penalty += PenaltyNegativeG
	}
	if stability.Sign() <= 0 {
		penalty += PenaltyStability
	}
	if xi.Sign() < 0 {
		penalty += PenaltyNegativeXi
	}
	if !(c0.Sign() < 0 && c1.Sign() > 0) {
		penalty += PenaltyGhost
	}
	out.Penalty = penalty

	deltaC := a.relativeError(cModel, cT)
	deltaAlpha := a.relativeError(alphaModel, alphaT)
	deltaG := a.relativeError(gModel, gT)

	fitness := a.add(a.add(deltaC, deltaAlpha), a.add(deltaG, a.float(penalty)))
	if e.EleganceWeight > 0 {
		score := ScoreElegance(c).Score
		out.Elegance = &score
		fitness = a.add(fitness, a.float(e.EleganceWeight*(1-score)))
	}

	out.CModel, _ = cModel.Float64()
	out.AlphaModel, _ = alphaModel.Float64()
	out.GModel, _ = gModel.Float64()
	out.DeltaC, _ = deltaC.Float64()
	out.DeltaAlpha, _ = deltaAlpha.Float64()
	out.DeltaG, _ = deltaG.Float64()
	total, _ := fitness.Float64()
	return finish(out, total, e.Tolerance.At(generation))
}

// arith allocates every intermediate at one working precision.
type arith struct {
	prec uint
}

func (a arith) new() *big.Float {
	return new(big.Float).SetPrec(a.prec)
}

func (a arith) float(v float64) *big.Float {
	return a.new().SetFloat64(v)
}

func (a arith) parse(s string) *big.Float {
	f, _, err := big.ParseFloat(s, 10, a.prec, big.ToNearestEven)
	if err != nil {
		panic("physics: bad constant " + s)
	}
	return f
}

func (a arith) pi() *big.Float { return a.parse(piText) }

// targets parses the decimal forms when the targets are the defaults so the
// reference values carry no binary rounding.
func (a arith) targets(t Targets) (*big.Float, *big.Float, *big.Float) {
	c, alpha, g := a.float(t.C), a.float(t.Alpha), a.float(t.G)
	if t.C == CTarget {
		c = a.parse(cTargetText)
	}
	if t.Alpha == AlphaTarget {
		alpha = a.parse(alphaTargetText)
	}
	if t.G == GTarget {
		g = a.parse(gTargetText)
	}
	return c, alpha, g
}

func (a arith) add(x, y *big.Float) *big.Float { return a.new().Add(x, y) }
func (a arith) sub(x, y *big.Float) *big.Float { return a.new().Sub(x, y) }
func (a arith) mul(x, y *big.Float) *big.Float { return a.new().Mul(x, y) }
func (a arith) quo(x, y *big.Float) *big.Float { return a.new().Quo(x, y) }
func (a arith) sqrt(x *big.Float) *big.Float   { return a.new().Sqrt(x) }

func (a arith) relativeError(value, target *big.Float) *big.Float {
	d := a.sub(value, target)
	d.Abs(d)
	return a.quo(d, target)
}

// Agreement compares the float64 and arbitrary-precision evaluations of one
// chromosome.
type Agreement struct {
	Fast    model.Candidate `json:"fast"`
	Precise model.Candidate `json:"precise"`
	// MaxRelativeDiff covers the derived constants.
	MaxRelativeDiff float64 `json:"max_relative_diff"`
	// MaxAbsoluteDiff covers the relative errors and the fitness.
	MaxAbsoluteDiff float64 `json:"max_absolute_diff"`
	SameRejection   bool    `json:"same_rejection"`
}

// DefaultAgreementTolerance bounds both diffs on well-conditioned inputs.
const DefaultAgreementTolerance = 1e-12

func (a Agreement) Within(tolerance float64) bool {
	return a.SameRejection && a.MaxRelativeDiff <= tolerance && a.MaxAbsoluteDiff <= tolerance
}

func Compare(fast Evaluator, precise PreciseEvaluator, c model.Chromosome, generation int) Agreement {
	f := fast.Evaluate(c, generation)
	p := precise.Evaluate(c, generation)
	out := Agreement{Fast: f, Precise: p, SameRejection: f.Rejection == p.Rejection}

	for _, pair := range [][2]float64{
		{f.CModel, p.CModel},
		{f.AlphaModel, p.AlphaModel},
		{f.GModel, p.GModel},
	} {
		out.MaxRelativeDiff = math.Max(out.MaxRelativeDiff, relativeDiff(pair[0], pair[1]))
	}
	for _, pair := range [][2]float64{
		{f.DeltaC, p.DeltaC},
		{f.DeltaAlpha, p.DeltaAlpha},
		{f.DeltaG, p.DeltaG},
		{float64(f.Fitness), float64(p.Fitness)},
	} {
		out.MaxAbsoluteDiff = math.Max(out.MaxAbsoluteDiff, absoluteDiff(pair[0], pair[1]))
	}
	return out
}

func relativeDiff(a, b float64) float64 {
	if a == b {
		return 0
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) / scale
}

func absoluteDiff(a, b float64) float64 {
	if a == b {
		return 0
	}
	d := math.Abs(a - b)
	if math.IsNaN(d) {
		return math.Inf(1)
	}
	return d
}
