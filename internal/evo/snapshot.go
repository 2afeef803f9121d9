package evo

import (
	"time"

	"lagsearch/internal/model"
)

// Snapshot is the per-generation status the engine publishes. It is the only
// view of a run that leaves the engine.
type Snapshot struct {
	RunID             string            `json:"run_id"`
	Generation        int               `json:"generation"`
	Status            string            `json:"status"`
	UltraModeActive   bool              `json:"ultra_mode_active"`
	Best              *model.Candidate  `json:"best,omitempty"`
	BestEver          *model.Candidate  `json:"best_ever,omitempty"`
	TopK              []model.Candidate `json:"top_k,omitempty"`
	Throughput        float64           `json:"throughput"`
	Evaluated         int               `json:"evaluated"`
	Failures          int               `json:"failures"`
	Rejected          int               `json:"rejected"`
	ClampHits         int               `json:"clamp_hits"`
	StagnationCounter int               `json:"stagnation_counter"`
	MeanFitness       model.Score       `json:"mean_fitness"`
	Timestamp         time.Time         `json:"timestamp"`
}

// Publisher receives snapshots. Publish must not block the engine.
type Publisher interface {
	Publish(Snapshot)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Snapshot) {}

// RunState is the engine's mutable run bookkeeping, exposed only as copies.
type RunState struct {
	Generation        int              `json:"generation"`
	BestEver          *model.Candidate `json:"best_ever,omitempty"`
	StagnationCounter int              `json:"stagnation_counter"`
	UltraModeActive   bool             `json:"ultra_mode_active"`
	UltraModeEnabled  bool             `json:"ultra_mode_enabled"`
	Status            string           `json:"status"`
}

func (s RunState) clone() RunState {
	if s.BestEver != nil {
		best := *s.BestEver
		s.BestEver = &best
	}
	return s
}

type RunResult struct {
	BestByGeneration      []model.Score
	GenerationDiagnostics []model.GenerationDiagnostics
	FinalPopulation       []model.Candidate
	// Population is the population the run would continue from.
	Population []model.Chromosome
	FinalState RunState
}

// CommandKind enumerates the control requests a running engine accepts
// between generations.
type CommandKind string

const (
	CommandStop     CommandKind = "stop"
	CommandPause    CommandKind = "pause"
	CommandContinue CommandKind = "continue"
	CommandReset    CommandKind = "reset"
	CommandUltraOn  CommandKind = "ultra_on"
	CommandUltraOff CommandKind = "ultra_off"
	CommandStatus   CommandKind = "status"
)

type MonitorCommand struct {
	Kind CommandKind
	// Reply, when set, receives exactly one CommandReply. It should be
	// buffered.
	Reply chan CommandReply
}

type CommandReply struct {
	State RunState
	// Converted is set when an ultra-on request converted the population.
	Converted bool
	Err       error
}
