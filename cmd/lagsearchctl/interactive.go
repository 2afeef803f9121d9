package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"lagsearch/internal/evo"
	"lagsearch/internal/platform"
)

// runController is the part of a run handle the interactive console drives.
type runController interface {
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Continue(ctx context.Context) error
	ForceUnconstrainedReset(ctx context.Context) error
	ToggleUltraMode(ctx context.Context, enabled bool) (platform.ToggleResult, error)
	Status(ctx context.Context) (evo.RunState, error)
}

const consoleHelp = "commands: stop | pause | continue | reset | ultra on | ultra off | status"

// applyCommand executes one console line and returns the text to print.
// stop reports true once a stop request was accepted.
func applyCommand(ctx context.Context, run runController, line string) (string, bool, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return "", false, nil
	}
	switch fields[0] {
	case "stop", "quit", "exit":
		if err := run.Stop(ctx); err != nil {
			return "", false, err
		}
		return "stop requested", true, nil
	case "pause":
		return "paused", false, run.Pause(ctx)
	case "continue", "resume":
		return "continued", false, run.Continue(ctx)
	case "reset":
		return "population reset to unconstrained random", false, run.ForceUnconstrainedReset(ctx)
	case "ultra":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return "", false, fmt.Errorf("usage: ultra on|off")
		}
		result, err := run.ToggleUltraMode(ctx, fields[1] == "on")
		if err != nil {
			return "", false, err
		}
		if !result.Applied {
			return "warning: " + result.Message, false, nil
		}
		return result.Message, false, nil
	case "status":
		state, err := run.Status(ctx)
		if err != nil {
			return "", false, err
		}
		return formatState(state), false, nil
	case "help", "?":
		return consoleHelp, false, nil
	default:
		return "", false, fmt.Errorf("unknown command %q (%s)", fields[0], consoleHelp)
	}
}

// serveConsole reads commands from in until it is exhausted, ctx ends or a
// stop is accepted. Command errors are reported on out and do not end the
// console.
func serveConsole(ctx context.Context, run runController, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, stop, err := applyCommand(ctx, run, scanner.Text())
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if msg != "" {
			fmt.Fprintln(out, msg)
		}
		if stop {
			return nil
		}
	}
	return scanner.Err()
}

func formatState(state evo.RunState) string {
	best := "none"
	if state.BestEver != nil {
		best = fmt.Sprintf("%.6g", state.BestEver.Fitness.Float())
	}
	return fmt.Sprintf("status=%s generation=%s best_ever=%s stagnation=%d ultra_active=%t ultra_enabled=%t",
		state.Status,
		humanize.Comma(int64(state.Generation)),
		best,
		state.StagnationCounter,
		state.UltraModeActive,
		state.UltraModeEnabled,
	)
}

func formatSnapshot(s evo.Snapshot) string {
	best := "none"
	digits := ""
	if s.Best != nil {
		best = fmt.Sprintf("%.6g", s.Best.Fitness.Float())
		digits = fmt.Sprintf(" digits=%d/%d/%d", s.Best.DigitsC(), s.Best.DigitsAlpha(), s.Best.DigitsG())
	}
	return fmt.Sprintf("generation=%s best_fitness=%s%s mean=%.4g rejected=%d failures=%d ultra=%t throughput=%s",
		humanize.Comma(int64(s.Generation)),
		best,
		digits,
		s.MeanFitness.Float(),
		s.Rejected,
		s.Failures,
		s.UltraModeActive,
		humanize.SIWithDigits(s.Throughput, 2, "eval/s"),
	)
}
