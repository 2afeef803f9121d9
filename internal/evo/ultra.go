package evo

import (
	"errors"

	"lagsearch/internal/model"
)

var ErrInvalidModeTransition = errors.New("ultra mode precision threshold not reached")

// EnforceUltra ties g_em to c3.
func EnforceUltra(c model.Chromosome) model.Chromosome {
	c[model.GeneGaugeCoupling] = c[model.GeneSelfInteraction]
	return c
}

// SoftConvert ties g_em to c3 on every chromosome in place and reports how
// many changed. Calling it twice changes nothing the second time.
func SoftConvert(population []model.Chromosome) int {
	changed := 0
	for i := range population {
		if population[i].UltraCoupled() {
			continue
		}
		population[i] = EnforceUltra(population[i])
		changed++
	}
	return changed
}

// UltraReady reports whether c matches both α and G to at least digits
// decimal digits.
func UltraReady(c model.Candidate, digits int) bool {
	if c.Rejected() || !c.Fitness.IsFinite() {
		return false
	}
	return c.DigitsAlpha() >= digits && c.DigitsG() >= digits
}
