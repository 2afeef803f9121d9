package evo

import (
	"math"
	"math/rand"

	"lagsearch/internal/model"
)

// minMutationScale keeps relative mutation alive on genes that sit at zero.
const minMutationScale = 1e-12

// xiCapMargin places a clamped ξ strictly inside the cap.
const xiCapMargin = 1e-12

// GaussianMutation perturbs each gene with probability Rate by a relative
// Gaussian step. The step width is the gene group's sigma scaled by
// 10^-u with u uniform in [0, Decades], so one operator explores several
// orders of magnitude.
type GaussianMutation struct {
	Rate    float64
	Sigma   SigmaGroups
	Decades float64
	XiCap   float64
}

func (GaussianMutation) Name() string {
	return "gaussian"
}

func (m GaussianMutation) Mutate(rng *rand.Rand, c model.Chromosome, ultra bool) (model.Chromosome, bool) {
	out := c
	for gene := range out {
		if ultra && gene == model.GeneGaugeCoupling {
			continue
		}
		if rng.Float64() >= m.Rate {
			continue
		}
		scale := math.Max(math.Abs(out[gene]), minMutationScale)
		step := rng.NormFloat64() * m.Sigma.ForGene(gene) * scale
		if m.Decades > 0 {
			step *= math.Pow(10, -rng.Float64()*m.Decades)
		}
		out[gene] += step
	}
	// Must follow the loop: c3 may have just moved.
	if ultra {
		out = EnforceUltra(out)
	}
	out, clamped := ClampXi(out, m.XiCap)
	return out, clamped
}

// ClampXi lowers ξ so that ξ·phi0² stays below limit. It is a no-op when the
// chromosome has no real VEV or limit is not positive.
func ClampXi(c model.Chromosome, limit float64) (model.Chromosome, bool) {
	if !(limit > 0) {
		return c, false
	}
	c2 := c[model.GeneMass]
	c3 := c[model.GeneSelfInteraction]
	if !(c2 > 0 && c3 > 0) {
		return c, false
	}
	phi0Sq := c2 / c3
	if math.IsInf(phi0Sq, 0) || !(c[model.GeneGravityCoupling]*phi0Sq >= limit) {
		return c, false
	}
	c[model.GeneGravityCoupling] = limit / phi0Sq * (1 - xiCapMargin)
	return c, true
}
