package physics

import "lagsearch/internal/model"

// CODATA-18 values the derived constants are matched against.
const (
	CTarget     = 299792458.0
	AlphaTarget = 0.007297352566405895
	GTarget     = 6.67430e-11
)

// Decimal forms used by the arbitrary-precision evaluator.
const (
	cTargetText     = "299792458"
	alphaTargetText = "0.007297352566405895"
	gTargetText     = "6.67430e-11"
	piText          = "3.14159265358979323846264338327950288419716939937510582097494459"
)

// C3Elegant is the geometric value 1/(8π) the self-interaction gene is
// rewarded for approaching.
const C3Elegant = 1 / (8 * 3.14159265358979323846264338327950288419716939937510582097494459)

// Additive stability penalties.
const (
	PenaltyNegativeG         = 100.0
	PenaltyStability         = 50.0
	PenaltyNegativeXi        = 10.0
	PenaltyUnstablePotential = 10.0
	PenaltyKineticSign       = 5.0
	PenaltyGhost             = 1.0
)

type Targets struct {
	C     float64 `json:"c"`
	Alpha float64 `json:"alpha"`
	G     float64 `json:"g"`
}

func DefaultTargets() Targets {
	return Targets{C: CTarget, Alpha: AlphaTarget, G: GTarget}
}

// Operator names one coefficient slot of the Lagrangian.
type Operator struct {
	Index  int    `json:"index"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Operators is the catalog of the six coefficient slots, in gene order.
var Operators = [model.GeneCount]Operator{
	{Index: model.GeneKineticTime, Symbol: "(∂_tφ)²", Name: "kinetic_time"},
	{Index: model.GeneKineticSpace, Symbol: "(∂_xφ)²", Name: "kinetic_space"},
	{Index: model.GeneMass, Symbol: "φ²", Name: "mass"},
	{Index: model.GeneSelfInteraction, Symbol: "(∂_tφ)²φ²", Name: "self_interaction"},
	{Index: model.GeneGaugeCoupling, Symbol: "g_em", Name: "gauge_coupling"},
	{Index: model.GeneGravityCoupling, Symbol: "ξ", Name: "gravity_coupling"},
}

// OperatorCatalog returns a copy of Operators as a slice.
func OperatorCatalog() []Operator {
	out := make([]Operator, len(Operators))
	copy(out, Operators[:])
	return out
}
