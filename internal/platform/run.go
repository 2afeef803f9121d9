package platform

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"lagsearch/internal/evo"
	"lagsearch/internal/model"
	"lagsearch/internal/physics"
	"lagsearch/internal/pubsub"
)

var inf = math.Inf(1)

const defaultSubscriberBuffer = 16

// RunResult is what a finished run leaves behind.
type RunResult struct {
	RunID             string
	ContinuedFrom     string
	InitialGeneration int
	Parameters        evo.RunParameters
	Targets           physics.Targets
	Result            evo.RunResult
	TopCandidates     []model.TopCandidateRecord
	StartedAt         time.Time
	FinishedAt        time.Time
}

// Best returns the best candidate ever seen, if any generation was scored.
func (r RunResult) Best() (model.Candidate, bool) {
	if r.Result.FinalState.BestEver == nil {
		return model.Candidate{}, false
	}
	return *r.Result.FinalState.BestEver, true
}

// ToggleResult reports an Ultra Mode request. A refused request is not an
// error: Applied is false and Message explains why.
type ToggleResult struct {
	Requested bool
	Applied   bool
	Converted bool
	Message   string
	State     evo.RunState
}

// Run is the handle of one run. Commands reach the engine between
// generations; a command sent to a finished run fails with ErrNotRunning.
type Run struct {
	id                string
	continuedFrom     string
	initialGeneration int
	params            evo.RunParameters
	targets           physics.Targets
	control           chan evo.MonitorCommand
	hub               *pubsub.Hub[evo.Snapshot]
	done              chan struct{}
	buffer            int
	startedAt         time.Time

	mu     sync.RWMutex
	result RunResult
	err    error
}

func (r *Run) ID() string { return r.id }

func (r *Run) ContinuedFrom() string { return r.continuedFrom }

func (r *Run) Parameters() evo.RunParameters { return r.params }

// Done is closed once the run has finished and its results are persisted.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Stop(ctx context.Context) error {
	_, err := r.send(ctx, evo.CommandStop)
	return err
}

func (r *Run) Pause(ctx context.Context) error {
	_, err := r.send(ctx, evo.CommandPause)
	return err
}

func (r *Run) Continue(ctx context.Context) error {
	_, err := r.send(ctx, evo.CommandContinue)
	return err
}

// ForceUnconstrainedReset replaces the population with uniform random
// chromosomes before the next generation.
func (r *Run) ForceUnconstrainedReset(ctx context.Context) error {
	_, err := r.send(ctx, evo.CommandReset)
	return err
}

func (r *Run) ToggleUltraMode(ctx context.Context, enabled bool) (ToggleResult, error) {
	kind := evo.CommandUltraOff
	if enabled {
		kind = evo.CommandUltraOn
	}
	reply, err := r.send(ctx, kind)
	if err != nil {
		return ToggleResult{Requested: enabled}, err
	}
	out := ToggleResult{
		Requested: enabled,
		Converted: reply.Converted,
		State:     reply.State,
	}
	switch {
	case errors.Is(reply.Err, evo.ErrInvalidModeTransition):
		out.Message = reply.Err.Error()
	case reply.Err != nil:
		return out, reply.Err
	default:
		out.Applied = reply.State.UltraModeActive == enabled
		switch {
		case !enabled:
			out.Message = "ultra mode disabled"
		case reply.Converted:
			out.Message = "ultra mode activated"
		default:
			out.Message = "ultra mode already active"
		}
	}
	return out, nil
}

// Status asks the engine for its state. On a finished run it returns the
// final state.
func (r *Run) Status(ctx context.Context) (evo.RunState, error) {
	select {
	case <-r.done:
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.result.Result.FinalState, nil
	default:
	}
	reply, err := r.send(ctx, evo.CommandStatus)
	if errors.Is(err, ErrNotRunning) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.result.Result.FinalState, nil
	}
	if err != nil {
		return evo.RunState{}, err
	}
	return reply.State, nil
}

// Latest returns the most recent published snapshot without waiting for the
// engine.
func (r *Run) Latest() (evo.Snapshot, bool) {
	return r.hub.Last()
}

// Subscribe streams snapshots. The latest snapshot, if any, is delivered
// first. The channel closes when the run finishes or cancel is called.
func (r *Run) Subscribe(buffer int) (<-chan evo.Snapshot, func()) {
	if buffer <= 0 {
		buffer = r.buffer
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := r.hub.Subscribe(buffer, true)
	return sub.C(), sub.Cancel
}

// Wait blocks until the run has finished or ctx ends.
func (r *Run) Wait(ctx context.Context) (RunResult, error) {
	select {
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	case <-r.done:
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result, r.err
}

func (r *Run) send(ctx context.Context, kind evo.CommandKind) (evo.CommandReply, error) {
	reply := make(chan evo.CommandReply, 1)
	select {
	case <-r.done:
		return evo.CommandReply{}, fmt.Errorf("%w: %s", ErrNotRunning, r.id)
	default:
	}
	select {
	case r.control <- evo.MonitorCommand{Kind: kind, Reply: reply}:
	case <-r.done:
		return evo.CommandReply{}, fmt.Errorf("%w: %s", ErrNotRunning, r.id)
	case <-ctx.Done():
		return evo.CommandReply{}, ctx.Err()
	}
	select {
	case out := <-reply:
		return out, nil
	case <-r.done:
		// The engine may have answered just before exiting.
		select {
		case out := <-reply:
			return out, nil
		default:
		}
		return evo.CommandReply{}, fmt.Errorf("%w: %s", ErrNotRunning, r.id)
	case <-ctx.Done():
		return evo.CommandReply{}, ctx.Err()
	}
}

func (r *Run) finish(result RunResult, err error) {
	r.mu.Lock()
	r.result = result
	r.err = err
	r.mu.Unlock()
	close(r.done)
}
