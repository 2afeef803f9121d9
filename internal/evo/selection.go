package evo

import (
	"fmt"
	"math/rand"

	"lagsearch/internal/model"
)

// Selector chooses parents from candidates ranked by ascending fitness.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, ranked []model.Candidate) (model.Candidate, error)
}

// EliteSelector picks uniformly from the top Count candidates.
type EliteSelector struct {
	Count int
}

func (EliteSelector) Name() string {
	return "elite"
}

func (s EliteSelector) PickParent(rng *rand.Rand, ranked []model.Candidate) (model.Candidate, error) {
	if rng == nil {
		return model.Candidate{}, fmt.Errorf("random source is required")
	}
	if s.Count <= 0 || s.Count > len(ranked) {
		return model.Candidate{}, fmt.Errorf("invalid elite count: %d", s.Count)
	}
	return ranked[rng.Intn(s.Count)], nil
}

// TournamentSelector samples Size candidates with replacement and keeps the
// one with the lowest fitness. Ties keep the earliest draw.
type TournamentSelector struct {
	Size int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, ranked []model.Candidate) (model.Candidate, error) {
	if rng == nil {
		return model.Candidate{}, fmt.Errorf("random source is required")
	}
	if len(ranked) == 0 {
		return model.Candidate{}, fmt.Errorf("no candidates to select from")
	}
	size := s.Size
	if size <= 0 {
		size = 3
	}

	best := ranked[rng.Intn(len(ranked))]
	for i := 1; i < size; i++ {
		candidate := ranked[rng.Intn(len(ranked))]
		if model.Less(candidate, best) {
			best = candidate
		}
	}
	return best, nil
}
