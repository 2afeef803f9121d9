package physics

import (
	"math"

	"lagsearch/internal/model"
)

// Elegance breaks down the aesthetic score of a chromosome. Score is in [0, 1].
type Elegance struct {
	Score              float64 `json:"score"`
	C3                 float64 `json:"c3"`
	CouplingSimplicity float64 `json:"coupling_simplicity"`
	RelationBonus      float64 `json:"relation_bonus"`
}

const relationWindow = 0.01

func ScoreElegance(c model.Chromosome) Elegance {
	c3 := c[model.GeneSelfInteraction]
	gem := c[model.GeneGaugeCoupling]
	xi := c[model.GeneGravityCoupling]

	c3Score := math.Max(0, 1-math.Abs(c3-C3Elegant)/C3Elegant)
	simplicity := math.Max(0, 1-(math.Abs(gem)+math.Abs(xi))/200)
	bonus := 0.0
	if math.Abs(gem-c3) < relationWindow {
		bonus += 0.25
	}
	if math.Abs(xi-c3*c3) < relationWindow {
		bonus += 0.25
	}
	return Elegance{
		Score:              0.5*c3Score + 0.3*simplicity + 0.2*bonus,
		C3:                 c3Score,
		CouplingSimplicity: simplicity,
		RelationBonus:      bonus,
	}
}
