package storage

import (
	"errors"
	"math"
	"testing"

	"lagsearch/internal/model"
)

func TestDecodeRunRejectsVersionMismatch(t *testing.T) {
	payload, err := EncodeRun(model.RunRecord{ID: "r"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRun(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestTopCandidatesCodecKeepsInfiniteFitness(t *testing.T) {
	records := []model.TopCandidateRecord{{
		VersionedRecord: Versioned(),
		Rank:            1,
		Candidate:       model.Candidate{Fitness: model.Score(math.Inf(1)), Rejection: model.RejectionTolerance},
	}}
	payload, err := EncodeTopCandidates(records)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeTopCandidates(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !math.IsInf(decoded[0].Candidate.Fitness.Float(), 1) || decoded[0].Candidate.Rejection != model.RejectionTolerance {
		t.Fatalf("unexpected decoded record: %+v", decoded[0])
	}
}

func TestDecodePopulationRejectsGarbage(t *testing.T) {
	if _, err := DecodePopulation([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}
