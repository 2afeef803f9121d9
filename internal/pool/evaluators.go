package pool

import (
	"context"

	"lagsearch/internal/model"
	"lagsearch/internal/physics"
)

// InProcess scores jobs on the calling goroutine with a physics scorer.
type InProcess struct {
	Scorer physics.Scorer
}

func (e InProcess) Evaluate(ctx context.Context, job Job) (model.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return model.Candidate{}, err
	}
	return e.Scorer.Evaluate(job.Chromosome, job.Generation), nil
}

// InProcessFactory shares one scorer across all slots. physics evaluators
// hold no mutable state, so sharing is safe.
func InProcessFactory(scorer physics.Scorer) Factory {
	return func(int) (Evaluator, error) {
		return InProcess{Scorer: scorer}, nil
	}
}
