package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"lagsearch/internal/evo"
)

func TestLoadRunRequestFromConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_config.json")
	payload := map[string]any{
		"run_id":          "cfg-run",
		"continue_run_id": "earlier",
		"precise":         true,
		"precision":       96,
		"worker_command":  []any{"lagsearchctl", "worker", "--fast"},
		"population_size": 40,
		"elite_count":     4,
		"crossover_mode":  "uniform",
		"selection":       "elite",
		"max_generations": 250,
		"sigma":           map[string]any{"gauge": 0.01},
		"tolerance": map[string]any{
			"warmup_generations": 3,
			"strict_eps_c":       1e-7,
		},
		"ultra_mode":     true,
		"ultra_digits":   4,
		"job_timeout_ms": 1500,
		"seed":           99,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	req, err := loadRunRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load run request: %v", err)
	}
	if req.RunID != "cfg-run" || req.ContinueRunID != "earlier" || !req.Precise || req.Precision != 96 {
		t.Fatalf("unexpected request fields: %+v", req)
	}
	if len(req.WorkerCommand) != 3 || req.WorkerCommand[2] != "--fast" {
		t.Fatalf("unexpected worker command %v", req.WorkerCommand)
	}
	p := req.Parameters
	if p.PopulationSize != 40 || p.EliteCount != 4 || p.CrossoverMode != evo.CrossoverUniform || p.Selection != "elite" {
		t.Fatalf("unexpected parameters: %+v", p)
	}
	if p.MaxGenerations != 250 || !p.UltraMode || p.UltraDigits != 4 || p.JobTimeoutMillis != 1500 || p.Seed != 99 {
		t.Fatalf("unexpected parameters: %+v", p)
	}
	defaults := evo.DefaultRunParameters()
	if p.Sigma.Gauge != 0.01 || p.Sigma.Kinetic != defaults.Sigma.Kinetic {
		t.Fatalf("expected sigma overlay on defaults, got %+v", p.Sigma)
	}
	if p.Tolerance.WarmupGenerations != 3 || p.Tolerance.StrictC != 1e-7 || p.Tolerance.StrictG != defaults.Tolerance.StrictG {
		t.Fatalf("expected tolerance overlay on defaults, got %+v", p.Tolerance)
	}
	if p.MutationRate != defaults.MutationRate {
		t.Fatalf("expected untouched default mutation rate, got %f", p.MutationRate)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected valid parameters: %v", err)
	}
}

func TestOverrideFromFlagsOnlyTouchesSetFlags(t *testing.T) {
	req, err := loadOrDefaultRunRequest("")
	if err != nil {
		t.Fatalf("default request: %v", err)
	}
	values := map[string]any{
		"pop":        12,
		"gens":       7,
		"seed":       int64(5),
		"precision":  uint(128),
		"worker-cmd": "lagsearchctl worker",
		"ultra":      true,
	}
	set := map[string]bool{"pop": true, "seed": true, "worker-cmd": true}
	if err := overrideFromFlags(&req, set, values); err != nil {
		t.Fatalf("override: %v", err)
	}
	defaults := evo.DefaultRunParameters()
	if req.Parameters.PopulationSize != 12 || req.Parameters.Seed != 5 {
		t.Fatalf("expected set flags to apply, got %+v", req.Parameters)
	}
	if req.Parameters.MaxGenerations != defaults.MaxGenerations || req.Parameters.UltraMode || req.Precision != 0 {
		t.Fatalf("expected unset flags to be ignored, got %+v", req)
	}
	if len(req.WorkerCommand) != 2 || req.WorkerCommand[1] != "worker" {
		t.Fatalf("unexpected worker command %v", req.WorkerCommand)
	}
}

func TestLoadOrDefaultRunRequestErrors(t *testing.T) {
	if _, err := loadOrDefaultRunRequest(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadOrDefaultRunRequest(bad); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestParseCoefficients(t *testing.T) {
	got, err := parseCoefficients("-1, 1 0.5\t0.04,0.01,0.33")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []float64{-1, 1, 0.5, 0.04, 0.01, 0.33}
	if len(got) != len(want) {
		t.Fatalf("unexpected coefficients %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("coefficient %d: got %g want %g", i, got[i], want[i])
		}
	}
	if _, err := parseCoefficients("1,x"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := coefficientsFrom("", []string{"1", "2"}); err == nil {
		t.Fatal("expected count error")
	}
}
