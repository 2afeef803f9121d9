package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lagsearch/internal/model"
	"lagsearch/internal/physics"
	"lagsearch/internal/pool"
	"lagsearch/internal/stats"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workdir := t.TempDir()
	if err := os.Chdir(workdir); err != nil {
		t.Fatalf("chdir tempdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})
	return workdir
}

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	copied := make(chan []byte, 1)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		copied <- buf.Bytes()
	}()
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout
	out := <-copied
	_ = r.Close()
	return string(out), runErr
}

func withStdin(t *testing.T, text string) {
	t.Helper()
	orig := stdin
	stdin = strings.NewReader(text)
	t.Cleanup(func() { stdin = orig })
}

func exactCoefficients() string {
	return formatCoefficients(physics.ExactChromosome(physics.DefaultTargets(), 1, 2))
}

func TestRunCommandMemoryCreatesArtifacts(t *testing.T) {
	chdirTemp(t)
	ctx := context.Background()

	out, err := captureStdout(func() error {
		return run(ctx, []string{
			"run",
			"--store", "memory",
			"--run-id", "cli-a",
			"--pop", "8",
			"--gens", "2",
			"--elite", "2",
			"--seed", "11",
			"--workers", "2",
			"--log-level", "error",
		})
	})
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	for _, want := range []string{"run started run_id=cli-a", "run finished run_id=cli-a status=completed", "artifacts_dir=runs/cli-a"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	entries, err := stats.ListRunIndex("runs")
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != "cli-a" || entries[0].Generations != 2 {
		t.Fatalf("unexpected run index %+v", entries)
	}
	for _, file := range []string{"config.json", "fitness_history.json", "top_candidates.json", "generation_diagnostics.json"} {
		if _, err := os.Stat(filepath.Join("runs", "cli-a", file)); err != nil {
			t.Fatalf("expected artifact %s: %v", file, err)
		}
	}

	// A fresh memory store reads back through the artifacts directory.
	fitness, err := captureStdout(func() error {
		return run(ctx, []string{"fitness", "--store", "memory", "--latest"})
	})
	if err != nil {
		t.Fatalf("fitness command: %v", err)
	}
	if strings.Count(fitness, "best_fitness=") != 2 {
		t.Fatalf("expected two generations of fitness, got:\n%s", fitness)
	}

	topJSON, err := captureStdout(func() error {
		return run(ctx, []string{"top", "--store", "memory", "--run-id", "cli-a", "--limit", "2", "--json"})
	})
	if err != nil {
		t.Fatalf("top command: %v", err)
	}
	var top []model.TopCandidateRecord
	if err := json.Unmarshal([]byte(topJSON), &top); err != nil {
		t.Fatalf("decode top candidates: %v\n%s", err, topJSON)
	}
	if len(top) != 2 || top[0].Rank != 1 {
		t.Fatalf("unexpected top candidates %+v", top)
	}

	diagnostics, err := captureStdout(func() error {
		return run(ctx, []string{"diagnostics", "--store", "memory", "--latest"})
	})
	if err != nil {
		t.Fatalf("diagnostics command: %v", err)
	}
	if !strings.Contains(diagnostics, "throughput=") {
		t.Fatalf("unexpected diagnostics output:\n%s", diagnostics)
	}

	exported, err := captureStdout(func() error {
		return run(ctx, []string{"export", "--store", "memory", "--latest", "--artifacts-copy"})
	})
	if err != nil {
		t.Fatalf("export command: %v", err)
	}
	if !strings.Contains(exported, "exported run_id=cli-a") {
		t.Fatalf("unexpected export output:\n%s", exported)
	}
	matches, err := filepath.Glob(filepath.Join("exports", "*-cli-a", "export.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one export.json, got %v err=%v", matches, err)
	}

	runs, err := captureStdout(func() error {
		return run(ctx, []string{"runs", "--store", "memory"})
	})
	if err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if !strings.Contains(runs, "run_id=cli-a") || !strings.Contains(runs, "status=completed") {
		t.Fatalf("unexpected runs output:\n%s", runs)
	}

	summary, err := captureStdout(func() error {
		return run(ctx, []string{"summary", "--store", "memory", "--name", "all"})
	})
	if err != nil {
		t.Fatalf("summary command: %v", err)
	}
	if !strings.Contains(summary, "runs=1") {
		t.Fatalf("unexpected summary output:\n%s", summary)
	}
	if _, err := os.Stat(filepath.Join("runs", "summaries", "all.json")); err != nil {
		t.Fatalf("expected summary file: %v", err)
	}
}

func TestRunCommandInteractiveStop(t *testing.T) {
	chdirTemp(t)
	withStdin(t, "status\nbogus\nultra on\nstop\n")

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"run",
			"--store", "memory",
			"--run-id", "cli-live",
			"--pop", "8",
			"--elite", "2",
			"--gens", "1000000",
			"--convergence-gens", "1000000",
			"--workers", "1",
			"--interactive",
			"--quiet",
			"--log-level", "error",
		})
	})
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	for _, want := range []string{"status=", "error: unknown command \"bogus\"", "stop requested", "status=stopped"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRunCommandConfigWithFlagOverride(t *testing.T) {
	chdirTemp(t)
	config := map[string]any{
		"run_id":          "from-config",
		"population_size": 6,
		"elite_count":     1,
		"max_generations": 5,
		"workers":         1,
		"seed":            4,
	}
	data, err := json.Marshal(config)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile("run.json", data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"run", "--store", "memory", "--config", "run.json", "--gens", "1", "--quiet", "--log-level", "error"})
	})
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	if !strings.Contains(out, "run started run_id=from-config pop=6 gens=1 seed=4") {
		t.Fatalf("expected config values with flag override, got:\n%s", out)
	}
}

func TestEvaluateCommandEmitsCandidateJSON(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"evaluate", "--generation", "20", "--coeffs", exactCoefficients()})
	})
	if err != nil {
		t.Fatalf("evaluate command: %v", err)
	}
	var candidate model.Candidate
	if err := json.Unmarshal([]byte(out), &candidate); err != nil {
		t.Fatalf("decode candidate: %v\n%s", err, out)
	}
	if candidate.Rejected() || candidate.Generation != 20 {
		t.Fatalf("unexpected candidate %+v", candidate)
	}

	if err := run(context.Background(), []string{"evaluate", "1", "2", "3"}); err == nil {
		t.Fatal("expected error for a short coefficient list")
	}
}

func TestVerifyCommandReportsAgreement(t *testing.T) {
	args := append([]string{"verify", "--generation", "1200", "--"}, strings.Split(exactCoefficients(), ",")...)
	out, err := captureStdout(func() error {
		return run(context.Background(), args)
	})
	if err != nil {
		t.Fatalf("verify command: %v", err)
	}
	if !strings.Contains(out, "agrees=true") {
		t.Fatalf("unexpected verify output:\n%s", out)
	}
}

func TestWorkerCommandServesProtocol(t *testing.T) {
	coefficients := physics.ExactChromosome(physics.DefaultTargets(), 1, 2)
	evaluate, err := json.Marshal(pool.Request{Command: pool.CommandEvaluate, Coefficients: coefficients[:], Generation: 600})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	withStdin(t, `{"command":"ping","generation":600}`+"\n"+string(evaluate)+"\n"+`{"command":"evaluate","coefficients":[1]}`+"\n")

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"worker"})
	})
	if err != nil {
		t.Fatalf("worker command: %v", err)
	}
	var responses []pool.Response
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var resp pool.Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", scanner.Text(), err)
		}
		responses = append(responses, resp)
	}
	if len(responses) != 3 {
		t.Fatalf("expected 3 responses, got %d:\n%s", len(responses), out)
	}
	if responses[0].Status != "ready" || responses[0].Precision != 80 {
		t.Fatalf("unexpected ping reply %+v", responses[0])
	}
	if responses[1].Candidate == nil || responses[1].Candidate.Generation != 600 {
		t.Fatalf("unexpected evaluate reply %+v", responses[1])
	}
	if responses[2].Error == "" {
		t.Fatalf("expected error reply for a short coefficient list, got %+v", responses[2])
	}
}

func TestRunRejectsUnknownAndMissingCommands(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "usage: lagsearchctl") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := run(context.Background(), []string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if err := run(context.Background(), []string{"fitness", "--run-id", "x", "--latest"}); err == nil {
		t.Fatal("expected error for run id and latest together")
	}
	if err := run(context.Background(), []string{"top", "--store", "memory"}); err == nil {
		t.Fatal("expected error without run id or latest")
	}
}
