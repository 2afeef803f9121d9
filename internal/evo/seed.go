package evo

import (
	"math"
	"math/rand"

	"lagsearch/internal/model"
	"lagsearch/internal/physics"
)

// Seeding ranges around the solution manifold.
const (
	seedKineticMin  = 0.5
	seedKineticMax  = 2.0
	seedC3Spread    = 0.25
	seedPhi0SqMin   = 1.0
	seedPhi0SqRange = 2.0
)

// SeedPopulation draws n chromosomes on the solution manifold and perturbs
// them. The kinetic pair is set so the light speed is exact up to
// kineticJitter; g_em and ξ are solved for the drawn VEV so α and G match;
// every other gene then gets a relative Gaussian jitter of seedJitter.
func SeedPopulation(rng *rand.Rand, n int, targets physics.Targets, seedJitter, kineticJitter float64) []model.Chromosome {
	out := make([]model.Chromosome, n)
	for i := range out {
		k := seedKineticMin + (seedKineticMax-seedKineticMin)*rng.Float64()
		c3 := physics.C3Elegant * (1 + seedC3Spread*(2*rng.Float64()-1))
		phi0Sq := seedPhi0SqMin + seedPhi0SqRange*rng.Float64()

		c := model.Chromosome{
			-k,
			k * (1 + kineticJitter*rng.NormFloat64()),
			c3 * phi0Sq,
			c3,
			4 * math.Pi * targets.Alpha / (1 + phi0Sq),
			1 / (1 + phi0Sq),
		}
		for gene := model.GeneMass; gene < model.GeneCount; gene++ {
			c[gene] *= 1 + seedJitter*rng.NormFloat64()
		}
		out[i] = c
	}
	return out
}

// UnconstrainedPopulation draws every gene uniformly from [-r, r].
func UnconstrainedPopulation(rng *rand.Rand, n int, r float64) []model.Chromosome {
	out := make([]model.Chromosome, n)
	for i := range out {
		for gene := range out[i] {
			out[i][gene] = r * (2*rng.Float64() - 1)
		}
	}
	return out
}
