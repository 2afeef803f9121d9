package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"lagsearch/internal/evo"
	"lagsearch/internal/model"
	"lagsearch/internal/physics"
	"lagsearch/internal/pool"
	"lagsearch/internal/storage"
	"lagsearch/pkg/lagsearch"
)

const (
	artifactsDir = "runs"
	exportsDir   = "exports"
	defaultDB    = "lagsearch.db"
)

// stdin feeds the interactive console and the worker loop.
var stdin io.Reader = os.Stdin

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "fitness":
		return runFitness(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "top":
		return runTop(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "verify":
		return runVerify(ctx, args[1:])
	case "summary":
		return runSummary(ctx, args[1:])
	case "worker":
		return runWorker(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type clientFlags struct {
	storeKind    *string
	dbPath       *string
	artifactsDir *string
	exportsDir   *string
	logLevel     *string
}

func addClientFlags(fs *flag.FlagSet) *clientFlags {
	return &clientFlags{
		storeKind:    fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:       fs.String("db-path", defaultDB, "sqlite database path"),
		artifactsDir: fs.String("artifacts", artifactsDir, "run artifacts directory"),
		exportsDir:   fs.String("exports", exportsDir, "export output directory"),
		logLevel:     fs.String("log-level", "info", "log level: debug|info|warn|error"),
	}
}

func (f *clientFlags) open() (*lagsearch.Client, *slog.Logger, error) {
	logger, err := newLogger(*f.logLevel, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	client, err := lagsearch.New(lagsearch.Options{
		StoreKind:    *f.storeKind,
		DBPath:       *f.dbPath,
		ArtifactsDir: *f.artifactsDir,
		ExportsDir:   *f.exportsDir,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, logger, nil
}

func newLogger(level string, w *os.File) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05",
		NoColor:    !isatty.IsTerminal(w.Fd()),
	}))
	slog.SetDefault(logger)
	return logger, nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *cf.storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *cf.storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	defaults := evo.DefaultRunParameters()
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	continueID := fs.String("continue", "", "continue from the final population of this run id")
	population := fs.Int("pop", defaults.PopulationSize, "population size")
	generations := fs.Int("gens", defaults.MaxGenerations, "maximum generation count")
	elite := fs.Int("elite", defaults.EliteCount, "elite count carried over unchanged")
	tournament := fs.Int("tournament", defaults.TournamentSize, "tournament size")
	crossoverRate := fs.Float64("crossover-rate", defaults.CrossoverRate, "crossover probability")
	crossover := fs.String("crossover", string(defaults.CrossoverMode), "crossover operator: blend|uniform")
	selection := fs.String("selection", defaults.Selection, "parent selection: tournament|elite")
	mutationRate := fs.Float64("mutation-rate", defaults.MutationRate, "per-gene mutation probability")
	convergenceThreshold := fs.Float64("convergence-threshold", defaults.ConvergenceThreshold, "minimum relative best-fitness improvement that resets stagnation")
	convergenceGens := fs.Int("convergence-gens", defaults.ConvergenceGenerations, "stagnant generations before convergence")
	workers := fs.Int("workers", defaults.Workers, "evaluation worker count")
	jobTimeout := fs.Int64("job-timeout-ms", defaults.JobTimeoutMillis, "per-evaluation timeout in milliseconds (0 disables)")
	retries := fs.Int("retries", defaults.JobRetries, "retries per failed evaluation")
	ultra := fs.Bool("ultra", defaults.UltraMode, "enable ultra mode (g_em = c3)")
	ultraDigits := fs.Int("ultra-digits", defaults.UltraDigits, "matching digits that auto-activate ultra mode")
	topK := fs.Int("top-k", defaults.TopK, "candidates kept per snapshot and export")
	eleganceWeight := fs.Float64("elegance-weight", defaults.EleganceWeight, "weight of the elegance term in fitness")
	seed := fs.Int64("seed", defaults.Seed, "rng seed")
	precise := fs.Bool("precise", false, "score with the arbitrary-precision evaluator")
	precision := fs.Uint("precision", 0, "big.Float mantissa bits (0 picks by generation)")
	workerCmd := fs.String("worker-cmd", "", "run evaluations in subprocesses started with this command")
	interactive := fs.Bool("interactive", false, "read control commands from stdin")
	quiet := fs.Bool("quiet", false, "do not print per-generation snapshots")
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultRunRequest(*configPath)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&req, setFlags, map[string]any{
		"run-id":                *runID,
		"continue":              *continueID,
		"pop":                   *population,
		"gens":                  *generations,
		"elite":                 *elite,
		"tournament":            *tournament,
		"crossover-rate":        *crossoverRate,
		"crossover":             *crossover,
		"selection":             *selection,
		"mutation-rate":         *mutationRate,
		"convergence-threshold": *convergenceThreshold,
		"convergence-gens":      *convergenceGens,
		"workers":               *workers,
		"job-timeout-ms":        *jobTimeout,
		"retries":               *retries,
		"ultra":                 *ultra,
		"ultra-digits":          *ultraDigits,
		"top-k":                 *topK,
		"elegance-weight":       *eleganceWeight,
		"seed":                  *seed,
		"precise":               *precise,
		"precision":             *precision,
		"worker-cmd":            *workerCmd,
	}); err != nil {
		return err
	}

	client, logger, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	handle, err := client.Start(runCtx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run started run_id=%s pop=%d gens=%d seed=%d workers=%d\n",
		handle.ID(), req.Parameters.PopulationSize, req.Parameters.MaxGenerations, req.Parameters.Seed, req.Parameters.Workers)

	// The first interrupt asks the engine to stop at the next generation
	// boundary; a second one cancels the run outright.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		interrupts := 0
		for {
			select {
			case <-handle.Done():
				return
			case <-signals:
				interrupts++
				if interrupts > 1 {
					logger.Warn("second interrupt, cancelling run", "run_id", handle.ID())
					cancel()
					return
				}
				logger.Info("interrupt received, stopping after the current generation", "run_id", handle.ID())
				if err := handle.Stop(context.Background()); err != nil {
					logger.Warn("stop request failed", "run_id", handle.ID(), "err", err)
				}
			}
		}
	}()

	snapshots, unsubscribe := handle.Subscribe(0)
	defer unsubscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for s := range snapshots {
			if !*quiet {
				fmt.Println(formatSnapshot(s))
			}
		}
	}()

	if *interactive {
		fmt.Println(consoleHelp)
		go func() {
			if err := serveConsole(runCtx, handle, stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("console closed", "err", err)
			}
		}()
	}

	summary, err := handle.Wait(ctx)
	<-printed
	if err != nil {
		return err
	}

	fmt.Printf("run finished run_id=%s status=%s generations=%s ultra=%t\n",
		summary.RunID, summary.Status, humanize.Comma(int64(summary.Generations)), summary.UltraModeActive)
	if summary.ContinuedFrom != "" {
		fmt.Printf("continued_from=%s\n", summary.ContinuedFrom)
	}
	fmt.Printf("final_best_fitness=%.6g\n", summary.FinalBestFitness.Float())
	if summary.Best != nil {
		fmt.Printf("best_coefficients=%s\n", formatCoefficients(summary.Best.Chromosome))
		fmt.Printf("digits c=%d alpha=%d g=%d\n", summary.Best.DigitsC(), summary.Best.DigitsAlpha(), summary.Best.DigitsG())
	}
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, lagsearch.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs")
		return nil
	}
	for _, item := range items {
		line := fmt.Sprintf("run_id=%s created_at=%s status=%s seed=%d pop=%d generations=%s ultra=%t final_best=%.6g",
			item.RunID,
			item.CreatedAtUTC,
			item.Status,
			item.Seed,
			item.Population,
			humanize.Comma(int64(item.Generations)),
			item.UltraModeActive,
			item.FinalBestFitness.Float(),
		)
		if item.ContinuedFrom != "" {
			line += " continued_from=" + item.ContinuedFrom
		}
		fmt.Println(line)
	}
	return nil
}

func runFitness(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show fitness history for the most recent run from run index")
	limit := fs.Int("limit", 50, "max generations to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit fitness history as JSON")
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkRunRef(*runID, *latest, "fitness"); err != nil {
		return err
	}

	client, _, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.FitnessHistory(ctx, lagsearch.RunRef{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no fitness history")
		return nil
	}
	if *jsonOut {
		return writeJSON(history)
	}
	for i, best := range history {
		fmt.Printf("generation=%d best_fitness=%.6g\n", i, best.Float())
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show diagnostics for the most recent run from run index")
	limit := fs.Int("limit", 50, "max generations to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkRunRef(*runID, *latest, "diagnostics"); err != nil {
		return err
	}

	client, _, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, lagsearch.RunRef{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if len(diagnostics) == 0 {
		fmt.Println("no diagnostics")
		return nil
	}
	if *jsonOut {
		return writeJSON(diagnostics)
	}
	for _, d := range diagnostics {
		fmt.Printf("generation=%d best=%.6g mean=%.6g worst=%.6g evaluated=%d rejected=%d failures=%d clamp_hits=%d stagnation=%d ultra=%t digits=%d/%d/%d throughput=%s\n",
			d.Generation,
			d.BestFitness.Float(),
			d.MeanFitness.Float(),
			d.WorstFitness.Float(),
			d.Evaluated,
			d.Rejected,
			d.Failures,
			d.ClampHits,
			d.StagnationCounter,
			d.UltraModeActive,
			d.DigitsC,
			d.DigitsAlpha,
			d.DigitsG,
			humanize.SIWithDigits(d.Throughput, 2, "eval/s"),
		)
	}
	return nil
}

func runTop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show top candidates for the most recent run from run index")
	limit := fs.Int("limit", 5, "max candidates to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit top candidates as JSON")
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkRunRef(*runID, *latest, "top"); err != nil {
		return err
	}

	client, _, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	top, err := client.TopCandidates(ctx, lagsearch.RunRef{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Println("no top candidates")
		return nil
	}
	if *jsonOut {
		return writeJSON(top)
	}
	for _, record := range top {
		c := record.Candidate
		line := fmt.Sprintf("rank=%d generation=%d fitness=%.6g digits=%d/%d/%d coefficients=%s",
			record.Rank, c.Generation, c.Fitness.Float(), c.DigitsC(), c.DigitsAlpha(), c.DigitsG(), formatCoefficients(c.Chromosome))
		if c.Rejected() {
			line += " rejection=" + string(c.Rejection)
		}
		fmt.Println(line)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", "", "export output directory (defaults to -exports)")
	withArtifacts := fs.Bool("artifacts-copy", false, "also copy the run artifacts into the export directory")
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkRunRef(*runID, *latest, "export"); err != nil {
		return err
	}

	client, _, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, lagsearch.ExportRequest{
		RunID:            *runID,
		Latest:           *latest,
		OutDir:           *outDir,
		IncludeArtifacts: *withArtifacts,
	})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s candidates=%d to=%s\n", exported.RunID, exported.Candidates, exported.Directory)
	return nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	coeffs := fs.String("coeffs", "", "coefficients c0,c1,c2,c3,g_em,xi (or pass them as arguments)")
	generation := fs.Int("generation", 0, "generation used to pick the tolerance and precision")
	precise := fs.Bool("precise", false, "use the arbitrary-precision evaluator")
	precision := fs.Uint("precision", 0, "big.Float mantissa bits (0 picks by generation)")
	eleganceWeight := fs.Float64("elegance-weight", 0, "weight of the elegance term in fitness")
	if err := fs.Parse(args); err != nil {
		return err
	}
	coefficients, err := coefficientsFrom(*coeffs, fs.Args())
	if err != nil {
		return err
	}

	client, err := lagsearch.New(lagsearch.Options{StoreKind: storage.BackendMemory})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	candidate, err := client.Evaluate(ctx, lagsearch.EvaluateRequest{
		Coefficients:   coefficients,
		Generation:     *generation,
		Precise:        *precise,
		Precision:      *precision,
		EleganceWeight: *eleganceWeight,
	})
	if err != nil {
		return err
	}
	return writeJSON(candidate)
}

func runVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	coeffs := fs.String("coeffs", "", "coefficients c0,c1,c2,c3,g_em,xi (or pass them as arguments)")
	generation := fs.Int("generation", 0, "generation used to pick the tolerance and precision")
	precision := fs.Uint("precision", 0, "big.Float mantissa bits (0 picks by generation)")
	maxDiff := fs.Float64("max-diff", physics.DefaultAgreementTolerance, "largest accepted disagreement")
	if err := fs.Parse(args); err != nil {
		return err
	}
	coefficients, err := coefficientsFrom(*coeffs, fs.Args())
	if err != nil {
		return err
	}

	client, err := lagsearch.New(lagsearch.Options{StoreKind: storage.BackendMemory})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Verify(ctx, lagsearch.VerifyRequest{
		Coefficients: coefficients,
		Generation:   *generation,
		Precision:    *precision,
		MaxDiff:      *maxDiff,
	})
	if err != nil {
		return err
	}
	a := result.Agreement
	fmt.Printf("agrees=%t max_relative_diff=%.3g max_absolute_diff=%.3g same_rejection=%t\n",
		result.Agrees, a.MaxRelativeDiff, a.MaxAbsoluteDiff, a.SameRejection)
	fmt.Printf("fast_fitness=%.17g precise_fitness=%.17g\n", a.Fast.Fitness.Float(), a.Precise.Fitness.Float())
	if !result.Agrees {
		return fmt.Errorf("evaluators disagree beyond %g", result.MaxDiff)
	}
	return nil
}

func runSummary(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	runIDs := fs.String("run-ids", "", "comma-separated run ids (defaults to the run index)")
	latest := fs.Int("latest", 0, "summarize only the most recent N indexed runs")
	goal := fs.Float64("goal", 0, "best fitness at or below which a run counts as solved")
	evalLimit := fs.Int("eval-limit", 0, "evaluation budget per run")
	name := fs.String("name", "", "write the summary as summaries/<name>.json under the artifacts directory")
	jsonOut := fs.Bool("json", false, "emit the summary as JSON")
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req := lagsearch.SummaryRequest{Latest: *latest, Name: *name}
	for _, id := range strings.Split(*runIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			req.RunIDs = append(req.RunIDs, id)
		}
	}
	if setFlags["goal"] {
		req.FitnessGoal = goal
	}
	if setFlags["eval-limit"] {
		req.EvalLimit = evalLimit
	}

	client, _, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, path, err := client.Summary(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summary)
	}
	fmt.Printf("runs=%d solved=%d success_rate=%.3f\n", summary.TotalRuns, summary.SuccessRuns, summary.SuccessRate)
	fmt.Printf("evaluations avg=%s std=%s min=%s max=%s\n",
		humanize.FormatFloat("#,###.#", summary.AvgEvaluations),
		humanize.FormatFloat("#,###.#", summary.StdEvaluations),
		humanize.FormatFloat("#,###.", summary.MinEvaluations),
		humanize.FormatFloat("#,###.", summary.MaxEvaluations),
	)
	for _, outcome := range summary.Runs {
		fmt.Printf("run_id=%s solved=%t generation=%d evaluations=%s final_best=%.6g\n",
			outcome.RunID, outcome.Success, outcome.ReachedGeneration, humanize.Comma(int64(outcome.Evaluations)), outcome.FinalBest.Float())
	}
	if path != "" {
		fmt.Printf("summary_path=%s\n", filepath.Clean(path))
	}
	return nil
}

// runWorker serves the line-JSON worker protocol on stdin/stdout. Run
// parameters from -config supply the tolerance schedule and elegance weight.
func runWorker(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	fast := fs.Bool("fast", false, "score with float64 instead of big.Float")
	precision := fs.Uint("precision", 0, "big.Float mantissa bits (0 picks by generation)")
	logLevel := fs.String("log-level", "warn", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger, err := newLogger(*logLevel, os.Stderr)
	if err != nil {
		return err
	}
	req, err := loadOrDefaultRunRequest(*configPath)
	if err != nil {
		return err
	}
	params := req.Parameters.WithDefaults()
	if err := params.Tolerance.Validate(); err != nil {
		return err
	}

	opts := pool.ServeOptions{}
	if *fast {
		scorer := physics.NewEvaluator(params.Tolerance, params.EleganceWeight)
		opts.Scorer = func(int) physics.Scorer { return scorer }
	} else {
		scorer := physics.NewPreciseEvaluator(params.Tolerance, params.EleganceWeight, *precision)
		opts.Scorer = func(int) physics.Scorer { return scorer }
		opts.Precision = func(generation int) uint {
			if *precision > 0 {
				return *precision
			}
			return physics.PrecisionForGeneration(generation)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Debug("worker serving", "pid", os.Getpid(), "fast", *fast)
	return pool.Serve(ctx, stdin, os.Stdout, opts)
}

func checkRunRef(runID string, latest bool, command string) error {
	if runID != "" && latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if runID == "" && !latest {
		return fmt.Errorf("%s requires --run-id or --latest", command)
	}
	return nil
}

func coefficientsFrom(flagValue string, positional []string) ([]float64, error) {
	text := flagValue
	if text == "" {
		text = strings.Join(positional, " ")
	}
	coefficients, err := parseCoefficients(text)
	if err != nil {
		return nil, err
	}
	if len(coefficients) != model.GeneCount {
		return nil, fmt.Errorf("expected %d coefficients (c0 c1 c2 c3 g_em xi), got %d", model.GeneCount, len(coefficients))
	}
	return coefficients, nil
}

func formatCoefficients(c model.Chromosome) string {
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = fmt.Sprintf("%.17g", v)
	}
	return strings.Join(parts, ",")
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: lagsearchctl <init|reset|run|runs|fitness|diagnostics|top|export|evaluate|verify|summary|worker> [flags]", msg)
}
