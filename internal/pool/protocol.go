package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"lagsearch/internal/model"
	"lagsearch/internal/physics"
)

// Worker protocol commands. Requests and responses are one JSON object per
// line.
const (
	CommandEvaluate = "evaluate"
	CommandPing     = "ping"
)

type Request struct {
	Command      string    `json:"command"`
	Coefficients []float64 `json:"coefficients,omitempty"`
	Generation   int       `json:"generation"`
}

type Response struct {
	Status    string           `json:"status,omitempty"`
	Candidate *model.Candidate `json:"candidate,omitempty"`
	Error     string           `json:"error,omitempty"`
	Precision uint             `json:"precision,omitempty"`
}

const statusReady = "ready"

// ScorerForGeneration picks the scorer for a request. Serve uses it so a
// high-precision worker can raise its precision as a run progresses.
type ScorerForGeneration func(generation int) physics.Scorer

type ServeOptions struct {
	Scorer ScorerForGeneration
	// Precision is reported in ping replies. Zero means float64.
	Precision func(generation int) uint
}

// Serve answers requests from r on w until r is exhausted or ctx ends.
// Malformed requests get an error response; they do not stop the loop.
func Serve(ctx context.Context, r io.Reader, w io.Writer, opts ServeOptions) error {
	if opts.Scorer == nil {
		return fmt.Errorf("serve: scorer is required")
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	out := bufio.NewWriter(w)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := handleRequest(line, opts)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("flush response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	return nil
}

func handleRequest(line []byte, opts ServeOptions) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Error: fmt.Sprintf("decode request: %v", err)}
	}
	switch req.Command {
	case CommandPing:
		resp := Response{Status: statusReady}
		if opts.Precision != nil {
			resp.Precision = opts.Precision(req.Generation)
		}
		return resp
	case CommandEvaluate:
		c, err := model.NewChromosome(req.Coefficients)
		if err != nil {
			return Response{Error: err.Error()}
		}
		candidate := opts.Scorer(req.Generation).Evaluate(c, req.Generation)
		return Response{Candidate: &candidate}
	default:
		return Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}
