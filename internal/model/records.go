package model

import (
	"encoding/json"
	"time"
)

// Run lifecycle states.
const (
	StatusStopped   = "stopped"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

type RunRecord struct {
	VersionedRecord
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	ContinuedFrom   string          `json:"continued_from,omitempty"`
	Generations     int             `json:"generations"`
	BestFitness     Score           `json:"best_fitness"`
	UltraModeActive bool            `json:"ultra_mode_active"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
}

// PopulationRecord is the persisted population a run can be resumed from.
type PopulationRecord struct {
	VersionedRecord
	ID                string       `json:"id"`
	Generation        int          `json:"generation"`
	StagnationCounter int          `json:"stagnation_counter"`
	UltraModeActive   bool         `json:"ultra_mode_active"`
	UltraModeEnabled  bool         `json:"ultra_mode_enabled"`
	Chromosomes       []Chromosome `json:"chromosomes"`
	BestEver          *Candidate   `json:"best_ever,omitempty"`
}

type GenerationDiagnostics struct {
	Generation        int     `json:"generation"`
	BestFitness       Score   `json:"best_fitness"`
	MeanFitness       Score   `json:"mean_fitness"`
	WorstFitness      Score   `json:"worst_fitness"`
	Evaluated         int     `json:"evaluated"`
	Rejected          int     `json:"rejected"`
	Failures          int     `json:"failures"`
	ClampHits         int     `json:"clamp_hits"`
	StagnationCounter int     `json:"stagnation_counter"`
	UltraModeActive   bool    `json:"ultra_mode_active"`
	Throughput        float64 `json:"throughput"`
	DigitsC           int     `json:"digits_c"`
	DigitsAlpha       int     `json:"digits_alpha"`
	DigitsG           int     `json:"digits_g"`
}

type TopCandidateRecord struct {
	VersionedRecord
	Rank      int       `json:"rank"`
	Candidate Candidate `json:"candidate"`
}
