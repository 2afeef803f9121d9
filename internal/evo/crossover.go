package evo

import (
	"math/rand"

	"lagsearch/internal/model"
)

// geneGroups partitions the chromosome for operators that act per group.
var geneGroups = [][]int{
	{model.GeneKineticTime, model.GeneKineticSpace},
	{model.GeneMass, model.GeneSelfInteraction},
	{model.GeneGaugeCoupling},
	{model.GeneGravityCoupling},
}

// BlendCrossover draws one mixing weight per gene group and returns the
// mirrored pair of arithmetic blends.
type BlendCrossover struct{}

func (BlendCrossover) Name() string {
	return string(CrossoverBlend)
}

func (BlendCrossover) Cross(rng *rand.Rand, a, b model.Chromosome) (model.Chromosome, model.Chromosome) {
	var childA, childB model.Chromosome
	for _, group := range geneGroups {
		lambda := rng.Float64()
		for _, gene := range group {
			childA[gene] = lambda*a[gene] + (1-lambda)*b[gene]
			childB[gene] = (1-lambda)*a[gene] + lambda*b[gene]
		}
	}
	return childA, childB
}

// UniformCrossover swaps each gene between the parents with probability 1/2.
type UniformCrossover struct{}

func (UniformCrossover) Name() string {
	return string(CrossoverUniform)
}

func (UniformCrossover) Cross(rng *rand.Rand, a, b model.Chromosome) (model.Chromosome, model.Chromosome) {
	childA, childB := a, b
	for gene := range childA {
		if rng.Float64() < 0.5 {
			childA[gene], childB[gene] = childB[gene], childA[gene]
		}
	}
	return childA, childB
}

func CrossoverFor(mode CrossoverMode) (Crossover, error) {
	if mode == "" {
		mode = CrossoverBlend
	}
	return ResolveCrossover(string(mode))
}
