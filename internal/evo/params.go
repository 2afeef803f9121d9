package evo

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"lagsearch/internal/model"
	"lagsearch/internal/physics"
)

var ErrInvalidParameters = errors.New("invalid run parameters")

type CrossoverMode string

const (
	CrossoverBlend   CrossoverMode = "blend"
	CrossoverUniform CrossoverMode = "uniform"
)

// SigmaGroups holds the relative Gaussian mutation width per gene group.
type SigmaGroups struct {
	Kinetic   float64 `json:"kinetic"`
	Potential float64 `json:"potential"`
	Gauge     float64 `json:"gauge"`
	Gravity   float64 `json:"gravity"`
}

func (s SigmaGroups) ForGene(gene int) float64 {
	switch gene {
	case model.GeneKineticTime, model.GeneKineticSpace:
		return s.Kinetic
	case model.GeneMass, model.GeneSelfInteraction:
		return s.Potential
	case model.GeneGaugeCoupling:
		return s.Gauge
	default:
		return s.Gravity
	}
}

type RunParameters struct {
	PopulationSize         int                       `json:"population_size"`
	EliteCount             int                       `json:"elite_count"`
	TournamentSize         int                       `json:"tournament_size"`
	CrossoverRate          float64                   `json:"crossover_rate"`
	CrossoverMode          CrossoverMode             `json:"crossover_mode"`
	Selection              string                    `json:"selection"`
	MutationRate           float64                   `json:"mutation_rate"`
	Sigma                  SigmaGroups               `json:"sigma"`
	MutationDecades        float64                   `json:"mutation_decades"`
	MaxGenerations         int                       `json:"max_generations"`
	ConvergenceThreshold   float64                   `json:"convergence_threshold"`
	ConvergenceGenerations int                       `json:"convergence_generations"`
	Tolerance              physics.ToleranceSchedule `json:"tolerance"`
	Workers                int                       `json:"workers"`
	JobTimeoutMillis       int64                     `json:"job_timeout_ms"`
	JobRetries             int                       `json:"job_retries"`
	UltraMode              bool                      `json:"ultra_mode"`
	UltraDigits            int                       `json:"ultra_digits"`
	SeedJitter             float64                   `json:"seed_jitter"`
	KineticJitter          float64                   `json:"kinetic_jitter"`
	UnconstrainedRange     float64                   `json:"unconstrained_range"`
	XiCap                  float64                   `json:"xi_cap"`
	TopK                   int                       `json:"top_k"`
	EleganceWeight         float64                   `json:"elegance_weight"`
	Seed                   int64                     `json:"seed"`
}

func DefaultRunParameters() RunParameters {
	return RunParameters{
		PopulationSize:         100,
		EliteCount:             5,
		TournamentSize:         3,
		CrossoverRate:          0.7,
		CrossoverMode:          CrossoverBlend,
		Selection:              SelectionTournament,
		MutationRate:           0.3,
		Sigma:                  SigmaGroups{Kinetic: 1e-7, Potential: 1e-3, Gauge: 1e-3, Gravity: 1e-3},
		MutationDecades:        6,
		MaxGenerations:         500,
		ConvergenceThreshold:   1e-9,
		ConvergenceGenerations: 50,
		Tolerance:              physics.DefaultToleranceSchedule(),
		Workers:                runtime.NumCPU(),
		JobRetries:             1,
		UltraDigits:            5,
		SeedJitter:             1e-3,
		KineticJitter:          1e-9,
		UnconstrainedRange:     1,
		XiCap:                  0.9,
		TopK:                   5,
		Seed:                   1,
	}
}

// WithDefaults fills fields whose zero value is never meaningful.
func (p RunParameters) WithDefaults() RunParameters {
	d := DefaultRunParameters()
	if p.PopulationSize == 0 {
		p.PopulationSize = d.PopulationSize
	}
	if p.EliteCount == 0 {
		p.EliteCount = min(d.EliteCount, p.PopulationSize)
	}
	if p.TournamentSize == 0 {
		p.TournamentSize = d.TournamentSize
	}
	if p.CrossoverMode == "" {
		p.CrossoverMode = d.CrossoverMode
	}
	if p.Selection == "" {
		p.Selection = d.Selection
	}
	if p.Sigma == (SigmaGroups{}) {
		p.Sigma = d.Sigma
	}
	if p.MaxGenerations == 0 {
		p.MaxGenerations = d.MaxGenerations
	}
	if p.ConvergenceGenerations == 0 {
		p.ConvergenceGenerations = d.ConvergenceGenerations
	}
	if p.Tolerance == (physics.ToleranceSchedule{}) {
		p.Tolerance = d.Tolerance
	}
	if p.Workers == 0 {
		p.Workers = d.Workers
	}
	if p.UltraDigits == 0 {
		p.UltraDigits = d.UltraDigits
	}
	if p.UnconstrainedRange == 0 {
		p.UnconstrainedRange = d.UnconstrainedRange
	}
	if p.XiCap == 0 {
		p.XiCap = d.XiCap
	}
	if p.TopK == 0 {
		p.TopK = d.TopK
	}
	return p
}

func (p RunParameters) Validate() error {
	fail := func(field, reason string) error {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, &model.ValidationError{Field: field, Reason: reason})
	}
	switch {
	case p.PopulationSize < 2:
		return fail("population_size", "must be >= 2")
	case p.EliteCount < 1 || p.EliteCount > p.PopulationSize:
		return fail("elite_count", "must be in [1, population_size]")
	case p.TournamentSize < 1:
		return fail("tournament_size", "must be >= 1")
	case !inUnit(p.CrossoverRate):
		return fail("crossover_rate", "must be in [0, 1]")
	case !inUnit(p.MutationRate):
		return fail("mutation_rate", "must be in [0, 1]")
	case !nonNegative(p.Sigma.Kinetic) || !nonNegative(p.Sigma.Potential) || !nonNegative(p.Sigma.Gauge) || !nonNegative(p.Sigma.Gravity):
		return fail("sigma", "must be >= 0")
	case !nonNegative(p.MutationDecades):
		return fail("mutation_decades", "must be >= 0")
	case p.MaxGenerations < 1:
		return fail("max_generations", "must be >= 1")
	case !(p.ConvergenceThreshold >= 0 && p.ConvergenceThreshold < 1):
		return fail("convergence_threshold", "must be in [0, 1)")
	case p.ConvergenceGenerations < 1:
		return fail("convergence_generations", "must be >= 1")
	case p.Workers < 1:
		return fail("workers", "must be >= 1")
	case p.JobTimeoutMillis < 0:
		return fail("job_timeout_ms", "must be >= 0")
	case p.JobRetries < 0:
		return fail("job_retries", "must be >= 0")
	case p.UltraDigits < 1 || p.UltraDigits > model.MaxDigits:
		return fail("ultra_digits", fmt.Sprintf("must be in [1, %d]", model.MaxDigits))
	case !nonNegative(p.SeedJitter) || !nonNegative(p.KineticJitter):
		return fail("seed_jitter", "must be >= 0")
	case !(p.UnconstrainedRange > 0) || math.IsInf(p.UnconstrainedRange, 0):
		return fail("unconstrained_range", "must be > 0")
	case !(p.XiCap > 0) || p.XiCap > 1:
		return fail("xi_cap", "must be in (0, 1]")
	case p.TopK < 1:
		return fail("top_k", "must be >= 1")
	case !nonNegative(p.EleganceWeight):
		return fail("elegance_weight", "must be >= 0")
	}
	if _, err := CrossoverFor(p.CrossoverMode); err != nil {
		return fail("crossover_mode", err.Error())
	}
	if _, err := ResolveSelector(p.Selection, p); err != nil {
		return fail("selection", err.Error())
	}
	if err := p.Tolerance.Validate(); err != nil {
		return fail("tolerance", err.Error())
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
