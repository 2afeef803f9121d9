package evo

import (
	"math/rand"

	"lagsearch/internal/model"
)

// Mutator perturbs one chromosome. When ultra is set the returned chromosome
// must satisfy g_em == c3. clamped reports that the ξ stability cap fired.
type Mutator interface {
	Name() string
	Mutate(rng *rand.Rand, c model.Chromosome, ultra bool) (out model.Chromosome, clamped bool)
}

// Crossover recombines two parents into two children.
type Crossover interface {
	Name() string
	Cross(rng *rand.Rand, a, b model.Chromosome) (model.Chromosome, model.Chromosome)
}

// Recombine applies x and then ties g_em to c3 on both children when ultra
// is set.
func Recombine(rng *rand.Rand, x Crossover, a, b model.Chromosome, ultra bool) (model.Chromosome, model.Chromosome) {
	childA, childB := x.Cross(rng, a, b)
	if ultra {
		childA = EnforceUltra(childA)
		childB = EnforceUltra(childB)
	}
	return childA, childB
}
