package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"lagsearch/internal/evo"
	"lagsearch/pkg/lagsearch"
)

// loadRunRequestFromConfig overlays a JSON run config on the default run
// parameters. Keys follow the parameter JSON names; unknown keys are ignored.
func loadRunRequestFromConfig(path string) (lagsearch.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lagsearch.RunRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return lagsearch.RunRequest{}, err
	}

	req := lagsearch.RunRequest{Parameters: evo.DefaultRunParameters()}
	p := &req.Parameters
	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asString(raw["continue_run_id"]); ok {
		req.ContinueRunID = v
	}
	if v, ok := asBool(raw["precise"]); ok {
		req.Precise = v
	}
	if v, ok := asInt(raw["precision"]); ok && v > 0 {
		req.Precision = uint(v)
	}
	switch cmd := raw["worker_command"].(type) {
	case string:
		req.WorkerCommand = strings.Fields(cmd)
	case []any:
		for _, part := range cmd {
			if s, ok := asString(part); ok {
				req.WorkerCommand = append(req.WorkerCommand, s)
			}
		}
	}

	if v, ok := asInt(raw["population_size"]); ok {
		p.PopulationSize = v
	}
	if v, ok := asInt(raw["elite_count"]); ok {
		p.EliteCount = v
	}
	if v, ok := asInt(raw["tournament_size"]); ok {
		p.TournamentSize = v
	}
	if v, ok := asFloat64(raw["crossover_rate"]); ok {
		p.CrossoverRate = v
	}
	if v, ok := asString(raw["crossover_mode"]); ok {
		p.CrossoverMode = evo.CrossoverMode(v)
	}
	if v, ok := asString(raw["selection"]); ok {
		p.Selection = v
	}
	if v, ok := asFloat64(raw["mutation_rate"]); ok {
		p.MutationRate = v
	}
	if sigma, ok := raw["sigma"].(map[string]any); ok {
		if v, ok := asFloat64(sigma["kinetic"]); ok {
			p.Sigma.Kinetic = v
		}
		if v, ok := asFloat64(sigma["potential"]); ok {
			p.Sigma.Potential = v
		}
		if v, ok := asFloat64(sigma["gauge"]); ok {
			p.Sigma.Gauge = v
		}
		if v, ok := asFloat64(sigma["gravity"]); ok {
			p.Sigma.Gravity = v
		}
	}
	if v, ok := asFloat64(raw["mutation_decades"]); ok {
		p.MutationDecades = v
	}
	if v, ok := asInt(raw["max_generations"]); ok {
		p.MaxGenerations = v
	}
	if v, ok := asFloat64(raw["convergence_threshold"]); ok {
		p.ConvergenceThreshold = v
	}
	if v, ok := asInt(raw["convergence_generations"]); ok {
		p.ConvergenceGenerations = v
	}
	if tol, ok := raw["tolerance"].(map[string]any); ok {
		if v, ok := asInt(tol["warmup_generations"]); ok {
			p.Tolerance.WarmupGenerations = v
		}
		if v, ok := asFloat64(tol["warmup_eps_c"]); ok {
			p.Tolerance.WarmupC = v
		}
		if v, ok := asFloat64(tol["warmup_eps_g"]); ok {
			p.Tolerance.WarmupG = v
		}
		if v, ok := asFloat64(tol["strict_eps_c"]); ok {
			p.Tolerance.StrictC = v
		}
		if v, ok := asFloat64(tol["strict_eps_g"]); ok {
			p.Tolerance.StrictG = v
		}
		if v, ok := asInt(tol["ramp_generations"]); ok {
			p.Tolerance.RampGenerations = v
		}
	}
	if v, ok := asInt(raw["workers"]); ok {
		p.Workers = v
	}
	if v, ok := asInt64(raw["job_timeout_ms"]); ok {
		p.JobTimeoutMillis = v
	}
	if v, ok := asInt(raw["job_retries"]); ok {
		p.JobRetries = v
	}
	if v, ok := asBool(raw["ultra_mode"]); ok {
		p.UltraMode = v
	}
	if v, ok := asInt(raw["ultra_digits"]); ok {
		p.UltraDigits = v
	}
	if v, ok := asFloat64(raw["seed_jitter"]); ok {
		p.SeedJitter = v
	}
	if v, ok := asFloat64(raw["kinetic_jitter"]); ok {
		p.KineticJitter = v
	}
	if v, ok := asFloat64(raw["unconstrained_range"]); ok {
		p.UnconstrainedRange = v
	}
	if v, ok := asFloat64(raw["xi_cap"]); ok {
		p.XiCap = v
	}
	if v, ok := asInt(raw["top_k"]); ok {
		p.TopK = v
	}
	if v, ok := asFloat64(raw["elegance_weight"]); ok {
		p.EleganceWeight = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		p.Seed = v
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// overrideFromFlags applies the flags the user set explicitly on top of the
// request loaded from a config file.
func overrideFromFlags(req *lagsearch.RunRequest, set map[string]bool, flagValue map[string]any) error {
	p := &req.Parameters
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "continue":
			req.ContinueRunID = v.(string)
		case "precise":
			req.Precise = v.(bool)
		case "precision":
			req.Precision = v.(uint)
		case "worker-cmd":
			req.WorkerCommand = strings.Fields(v.(string))
		case "pop":
			p.PopulationSize = v.(int)
		case "gens":
			p.MaxGenerations = v.(int)
		case "elite":
			p.EliteCount = v.(int)
		case "tournament":
			p.TournamentSize = v.(int)
		case "crossover-rate":
			p.CrossoverRate = v.(float64)
		case "crossover":
			p.CrossoverMode = evo.CrossoverMode(v.(string))
		case "selection":
			p.Selection = v.(string)
		case "mutation-rate":
			p.MutationRate = v.(float64)
		case "convergence-threshold":
			p.ConvergenceThreshold = v.(float64)
		case "convergence-gens":
			p.ConvergenceGenerations = v.(int)
		case "workers":
			p.Workers = v.(int)
		case "job-timeout-ms":
			p.JobTimeoutMillis = v.(int64)
		case "retries":
			p.JobRetries = v.(int)
		case "ultra":
			p.UltraMode = v.(bool)
		case "ultra-digits":
			p.UltraDigits = v.(int)
		case "top-k":
			p.TopK = v.(int)
		case "elegance-weight":
			p.EleganceWeight = v.(float64)
		case "seed":
			p.Seed = v.(int64)
		default:
			return fmt.Errorf("unsupported override flag: %s", name)
		}
	}
	return nil
}

func loadOrDefaultRunRequest(configPath string) (lagsearch.RunRequest, error) {
	if configPath == "" {
		return lagsearch.RunRequest{Parameters: evo.DefaultRunParameters()}, nil
	}
	req, err := loadRunRequestFromConfig(configPath)
	if err != nil {
		return lagsearch.RunRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

// parseCoefficients reads "c0,c1,c2,c3,g_em,xi" or the same values separated
// by whitespace.
func parseCoefficients(text string) ([]float64, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("parse coefficient %q: %w", field, err)
		}
		out = append(out, v)
	}
	return out, nil
}
