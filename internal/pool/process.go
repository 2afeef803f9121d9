package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"lagsearch/internal/model"
	"lagsearch/internal/physics"
)

var ErrProcessExited = errors.New("worker process exited")

type ProcessConfig struct {
	Command string
	Args    []string
	// Env is appended to the parent environment.
	Env []string
	// StartTimeout bounds the ready handshake.
	StartTimeout time.Duration
	Logger       *slog.Logger
}

// Process scores jobs in a child process speaking the line-JSON worker
// protocol. Any I/O failure kills the child; the pool then builds a new one.
type Process struct {
	cfg    ProcessConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	closeOnce sync.Once
	closeErr  error
}

func StartProcess(cfg ProcessConfig) (*Process, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("worker command is required")
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", cfg.Command, err)
	}

	p := &Process{
		cfg:    cfg,
		logger: cfg.Logger,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartTimeout)
	defer cancel()
	resp, err := p.roundTrip(ctx, Request{Command: CommandPing})
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("worker handshake: %w", err)
	}
	if resp.Status != statusReady {
		_ = p.Close()
		return nil, fmt.Errorf("worker handshake: unexpected status %q", resp.Status)
	}
	p.logger.Debug("worker process ready", "pid", cmd.Process.Pid, "precision", resp.Precision)
	return p, nil
}

// ProcessFactory starts one child per worker slot.
func ProcessFactory(cfg ProcessConfig) Factory {
	return func(int) (Evaluator, error) {
		return StartProcess(cfg)
	}
}

func (p *Process) Evaluate(ctx context.Context, job Job) (model.Candidate, error) {
	if !job.Chromosome.Finite() {
		// JSON has no NaN or Inf, so these never reach the worker.
		return physics.Degenerate(model.Candidate{
			Chromosome: job.Chromosome,
			GEm:        job.Chromosome[model.GeneGaugeCoupling],
			Xi:         job.Chromosome[model.GeneGravityCoupling],
			Generation: job.Generation,
		}), nil
	}
	resp, err := p.roundTrip(ctx, Request{
		Command:      CommandEvaluate,
		Coefficients: job.Chromosome.Slice(),
		Generation:   job.Generation,
	})
	if err != nil {
		return model.Candidate{}, err
	}
	if resp.Error != "" {
		return model.Candidate{}, fmt.Errorf("worker error: %s", resp.Error)
	}
	if resp.Candidate == nil {
		return model.Candidate{}, fmt.Errorf("worker response has no candidate")
	}
	return *resp.Candidate, nil
}

func (p *Process) roundTrip(ctx context.Context, req Request) (Response, error) {
	line, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')
	if _, err := p.stdin.Write(line); err != nil {
		_ = p.Close()
		return Response{}, fmt.Errorf("%w: write: %v", ErrProcessExited, err)
	}

	type reply struct {
		line []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		b, err := p.stdout.ReadBytes('\n')
		done <- reply{line: b, err: err}
	}()

	select {
	case <-ctx.Done():
		// Killing the child unblocks the reader.
		_ = p.Close()
		return Response{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			_ = p.Close()
			return Response{}, fmt.Errorf("%w: read: %v", ErrProcessExited, r.err)
		}
		var resp Response
		if err := json.Unmarshal(r.line, &resp); err != nil {
			return Response{}, fmt.Errorf("decode response: %w", err)
		}
		return resp, nil
	}
}

// Close kills the child and reaps it.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.closeErr = err
		}
	})
	return p.closeErr
}
