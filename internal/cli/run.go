package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/quizload/internal/config"
	"github.com/wesleyorama2/quizload/internal/logging"
	"github.com/wesleyorama2/quizload/internal/performance/engine"
	"github.com/wesleyorama2/quizload/internal/performance/metrics"
	"github.com/wesleyorama2/quizload/internal/performance/output"
)

// runOptions holds the values of the run command flags.
type runOptions struct {
	configFile string
	name       string
	host       string
	users      int
	spawnRate  float64
	duration   time.Duration
	waitMin    time.Duration
	waitMax    time.Duration
	seed       uint64
	timeout    time.Duration

	maxErrorRate float64
	maxP95       time.Duration
	metricsAddr  string

	jsonOutput bool
	outputPath string
	quiet      bool
	noColor    bool
	interval   time.Duration

	verbose   bool
	logLevel  string
	logFormat string
	logFile   string
}

func newRunCmd() *cobra.Command {
	return newRunCmdWithOptions(&runOptions{})
}

// newRunCmdWithOptions binds the run flags to opts.
func newRunCmdWithOptions(opts *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test against the quiz gateway",
		Long: `Spawn simulated users against the quiz gateway and report per-action
latency and failures.

Flags override values from the configuration file.

  quizload run --host http://localhost:3000 --users 50 --spawn-rate 5 --duration 5m
  quizload run --config load.yaml --max-error-rate 0.01 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	f.StringVar(&opts.name, "name", "", "Run name shown in the report")
	f.StringVar(&opts.host, "host", "", "Base URL of the quiz gateway")
	f.IntVarP(&opts.users, "users", "u", config.DefaultUsers, "Number of concurrent users")
	f.Float64VarP(&opts.spawnRate, "spawn-rate", "r", config.DefaultSpawnRate, "Users started per second")
	f.DurationVarP(&opts.duration, "duration", "d", 0, "Run duration (0 runs until interrupted)")
	f.DurationVar(&opts.waitMin, "wait-min", time.Second, "Minimum wait between actions")
	f.DurationVar(&opts.waitMax, "wait-max", 3*time.Second, "Maximum wait between actions")
	f.Uint64Var(&opts.seed, "seed", 0, "Random seed for reproducible runs (0 for random)")
	f.DurationVarP(&opts.timeout, "timeout", "t", config.DefaultTimeout, "HTTP request timeout")
	f.Float64Var(&opts.maxErrorRate, "max-error-rate", 0, "Fail the run when the error rate exceeds this fraction")
	f.DurationVar(&opts.maxP95, "max-p95", 0, "Fail the run when the p95 latency exceeds this duration")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9646)")
	f.BoolVar(&opts.jsonOutput, "json", false, "Write the result as JSON to stdout")
	f.StringVarP(&opts.outputPath, "output", "o", "", "Write the result as JSON to this file")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Disable live progress output, show only pass/fail")
	f.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	f.DurationVar(&opts.interval, "interval", time.Second, "Progress update interval")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	f.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "console", "Log format (console, json)")
	f.StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of stderr")

	return cmd
}

// buildConfig loads the configuration file, if any, and applies the flags
// the user set explicitly on top of it.
func buildConfig(cmd *cobra.Command, opts *runOptions) (*config.Config, error) {
	cfg := &config.Config{}
	if opts.configFile != "" {
		loaded, err := config.LoadConfig(opts.configFile)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("name") {
		cfg.Name = opts.name
	}
	if flags.Changed("host") {
		cfg.Host = opts.host
	}
	if flags.Changed("users") {
		cfg.Users = opts.users
	}
	if flags.Changed("spawn-rate") {
		cfg.SpawnRate = opts.spawnRate
	}
	if flags.Changed("duration") {
		cfg.Duration = config.Duration(opts.duration)
	}
	if flags.Changed("wait-min") {
		cfg.WaitMin = config.Duration(opts.waitMin)
	}
	if flags.Changed("wait-max") {
		cfg.WaitMax = config.Duration(opts.waitMax)
	}
	// A single wait flag fills the missing bound from the flag default,
	// keeping min <= max.
	if flags.Changed("wait-min") && !flags.Changed("wait-max") && cfg.WaitMax == 0 {
		cfg.WaitMax = config.Duration(maxDuration(opts.waitMin, opts.waitMax))
	}
	if flags.Changed("wait-max") && !flags.Changed("wait-min") && cfg.WaitMin == 0 {
		cfg.WaitMin = config.Duration(minDuration(opts.waitMin, opts.waitMax))
	}
	if flags.Changed("seed") {
		cfg.Seed = opts.seed
	}
	if flags.Changed("timeout") {
		cfg.HTTP.Timeout = config.Duration(opts.timeout)
	}
	if flags.Changed("max-error-rate") {
		if cfg.Thresholds == nil {
			cfg.Thresholds = &config.ThresholdsConfig{}
		}
		cfg.Thresholds.MaxErrorRate = config.FloatPtr(opts.maxErrorRate)
	}
	if flags.Changed("max-p95") {
		if cfg.Thresholds == nil {
			cfg.Thresholds = &config.ThresholdsConfig{}
		}
		cfg.Thresholds.MaxP95 = config.Duration(opts.maxP95)
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}

	return cfg, nil
}

// newLogger builds the run logger. Logs go to stderr so stdout stays
// reserved for the report.
func newLogger(opts *runOptions, stderr io.Writer) (*zap.Logger, error) {
	level := opts.logLevel
	if opts.verbose {
		level = "debug"
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = opts.logFormat
	if opts.logFile != "" {
		logCfg.Output = opts.logFile
	} else {
		logCfg.Writer = stderr
	}
	return logging.New(logCfg)
}

// runLoad runs the load test
func runLoad(cmd *cobra.Command, opts *runOptions) error {
	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	cfg, err := buildConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger, err := newLogger(opts, stderr)
	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var exporter *metrics.PrometheusExporter
	if cfg.Metrics.Addr != "" {
		exporter = metrics.NewPrometheusExporter(metrics.PrometheusExporterConfig{
			Addr: cfg.Metrics.Addr,
			Path: cfg.Metrics.Path,
		})
	}

	eng, err := engine.NewEngine(cfg, engine.Options{Logger: logger, Exporter: exporter})
	if err != nil {
		return err
	}
	cfg = eng.GetConfig()

	if exporter != nil {
		if err := exporter.Start(); err != nil {
			return fmt.Errorf("error starting metrics exporter: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := exporter.Stop(shutdownCtx); err != nil {
				logger.Warn("metrics exporter shutdown failed", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("url", exporter.URL()))
	}

	// With --json the human report moves to stderr so stdout stays parseable.
	consoleWriter := stdout
	if opts.jsonOutput {
		consoleWriter = stderr
	}
	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:       cfg.Name,
		RunID:          eng.RunID(),
		Host:           cfg.Host,
		TotalDuration:  time.Duration(cfg.Duration),
		UpdateInterval: opts.interval,
		Writer:         consoleWriter,
		Quiet:          opts.quiet,
		NoColors:       opts.noColor,
	})
	console.PrintHeader(cfg.Users, cfg.SpawnRate)

	type runOutcome struct {
		result *engine.TestResult
		err    error
	}
	done := make(chan runOutcome, 1)
	go func() {
		result, err := eng.Run(ctx)
		done <- runOutcome{result: result, err: err}
	}()
	go watchSignals(ctx, sigCh, eng, cancel, logger)

	ticker := time.NewTicker(console.UpdateInterval())
	defer ticker.Stop()

	var outcome runOutcome
progressLoop:
	for {
		select {
		case outcome = <-done:
			break progressLoop
		case <-ticker.C:
			if !eng.IsRunning() {
				continue
			}
			stats := output.StatsFromMetrics(eng.GetMetrics(), eng.GetProgress(), time.Duration(cfg.Duration), cfg.Users)
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}

	if outcome.result == nil {
		return fmt.Errorf("error running test: %w", outcome.err)
	}
	result := outcome.result

	console.PrintSummary(result)

	if opts.jsonOutput {
		if err := output.WriteJSON(stdout, result); err != nil {
			return err
		}
	}
	if opts.outputPath != "" {
		if err := output.WriteJSONFile(opts.outputPath, result); err != nil {
			return err
		}
		logger.Info("result written", zap.String("path", opts.outputPath))
	}

	if outcome.err != nil {
		return fmt.Errorf("error running test: %w", outcome.err)
	}
	if !result.Passed {
		return ErrRunFailed
	}
	return nil
}

// runStopper is the part of the engine driven by interrupts.
type runStopper interface {
	IsRunning() bool
	Stop(ctx context.Context) error
}

// watchSignals stops the run on the first signal and lets it finish its
// summary. A second signal, or one that arrives before the run started,
// cancels ctx outright.
func watchSignals(ctx context.Context, sigCh <-chan os.Signal, eng runStopper, cancel context.CancelFunc, logger *zap.Logger) {
	stopping := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if stopping || !eng.IsRunning() {
				logger.Warn("aborting run", zap.String("signal", sig.String()))
				cancel()
				return
			}
			stopping = true
			logger.Warn("stopping run, interrupt again to abort", zap.String("signal", sig.String()))
			go func() {
				if err := eng.Stop(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("graceful stop failed", zap.Error(err))
				}
			}()
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
