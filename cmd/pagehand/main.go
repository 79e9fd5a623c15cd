// Package main provides the pagehand command: it runs YAML task files, or a
// single act, extract or observe, against a real browser.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/x/term"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/entrhq/pagehand/pkg/browser"
	"github.com/entrhq/pagehand/pkg/config"
	"github.com/entrhq/pagehand/pkg/logging"
	"github.com/entrhq/pagehand/pkg/metrics"
	"github.com/entrhq/pagehand/pkg/pagehand"
	"github.com/entrhq/pagehand/pkg/runner"
	"github.com/entrhq/pagehand/pkg/types"
)

const (
	version      = "0.1.0"
	defaultModel = "gpt-4o"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Tasks    []string
	Parallel int

	URL     string
	Act     string
	Extract string
	Schema  string
	Observe string

	Model      string
	BaseURL    string
	APIKey     string
	ConfigFile string

	Headless    bool
	headlessSet bool
	Browser     string

	Output      string
	Quiet       bool
	Verbose     bool
	MetricsAddr string
	Copy        bool
	NoTUI       bool
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("Pagehand v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\n\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cancel, cli); err != nil {
		cancel()
		log.Printf("Execution failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}
	var tasks string

	flag.StringVar(&tasks, "task", "", "Comma-separated task files (YAML)")
	flag.IntVar(&cli.Parallel, "parallel", 1, "Task files run at the same time")
	flag.StringVar(&cli.URL, "url", "", "Page to open for a one-shot operation")
	flag.StringVar(&cli.Act, "act", "", "Action to perform on -url")
	flag.StringVar(&cli.Extract, "extract", "", "Data to extract from -url")
	flag.StringVar(&cli.Schema, "schema", "", "JSON schema shaping -extract")
	flag.StringVar(&cli.Observe, "observe", "", "Elements to find on -url")
	flag.StringVar(&cli.Model, "model", defaultModel, "LLM model to use")
	flag.StringVar(&cli.BaseURL, "base-url", "", "OpenAI API base URL (or set OPENAI_BASE_URL env var)")
	flag.StringVar(&cli.APIKey, "api-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	flag.StringVar(&cli.ConfigFile, "config", "", "Configuration file (default ~/.pagehand/config.json)")
	flag.BoolVar(&cli.Headless, "headless", true, "Run the browser without a window")
	flag.StringVar(&cli.Browser, "browser", "", "Browser engine: chromium, firefox or webkit")
	flag.StringVar(&cli.Output, "output", "", "Artifact directory (overrides the task files)")
	flag.BoolVar(&cli.Quiet, "quiet", false, "Only print errors and the summary")
	flag.BoolVar(&cli.Verbose, "verbose", false, "Print engine stages")
	flag.StringVar(&cli.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.BoolVar(&cli.Copy, "copy", false, "Copy the results to the clipboard")
	flag.BoolVar(&cli.NoTUI, "no-tui", false, "Disable the live progress view")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Pagehand - natural language browser automation\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pagehand [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pagehand -url https://news.ycombinator.com -extract \"the top story title\"\n")
		fmt.Fprintf(os.Stderr, "  pagehand -url https://example.com -act \"click the more information link\"\n")
		fmt.Fprintf(os.Stderr, "  pagehand -task checkout.yaml -verbose\n")
		fmt.Fprintf(os.Stderr, "  pagehand -task a.yaml,b.yaml -parallel 2 -metrics-addr :9090\n")
	}

	flag.Parse()
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "headless" {
			cli.headlessSet = true
		}
	})
	for _, t := range strings.Split(tasks, ",") {
		if t = strings.TrimSpace(t); t != "" {
			cli.Tasks = append(cli.Tasks, t)
		}
	}
	return cli
}

//nolint:gocyclo
func run(ctx context.Context, cancel context.CancelFunc, cli *CLIConfig) error {
	tasks, err := loadTasks(cli)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	if initErr := config.Initialize(cli.ConfigFile); initErr != nil {
		return fmt.Errorf("failed to initialize configuration: %w", initErr)
	}

	logger, logErr := logging.NewLogger("pagehand")
	if logErr != nil {
		log.Printf("Warning: logging to stderr: %v", logErr)
	}
	defer logger.Close()

	provider, err := config.BuildProvider(cli.Model, cli.BaseURL, cli.APIKey, defaultModel)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(metrics.DefaultNamespace, registry)
	if cli.MetricsAddr != "" {
		stop, serveErr := serveMetrics(cli.MetricsAddr, registry, logger)
		if serveErr != nil {
			return serveErr
		}
		defer stop()
	}

	bopts := browserOptions(cli)
	sessions := browser.NewSessionManager(logger.With("browser"))
	if len(tasks) > browser.DefaultMaxSessions {
		sessions.SetMaxSessions(len(tasks))
	}
	if initErr := sessions.Initialize(bopts.BrowserType); initErr != nil {
		return fmt.Errorf("failed to start playwright: %w", initErr)
	}
	defer func() {
		if shutdownErr := sessions.Shutdown(); shutdownErr != nil {
			logger.Warnf("Browser shutdown: %v", shutdownErr)
		}
	}()

	level := consoleLevel(cli, tasks)
	var progress *runner.Progress
	if useTUI(cli, tasks, level) {
		progress = runner.NewProgress(os.Stdout, displayName(tasks[0]), cancel)
	}

	runners := make([]*runner.Runner, len(tasks))
	for i, task := range tasks {
		opts := []runner.Option{runner.WithLogger(logger.With("runner"))}
		if dir := artifactDir(cli.Output, i, len(tasks)); dir != "" {
			opts = append(opts, runner.WithArtifactDir(dir))
		}
		if progress != nil {
			opts = append(opts, runner.WithConsole(runner.Quiet()), runner.WithReporter(progress), runner.WithEventSink(progress.Sink()))
		} else {
			opts = append(opts, runner.WithConsole(runner.NewConsole(level)))
		}
		r, newErr := runner.New(task, opts...)
		if newErr != nil {
			return fmt.Errorf("task %d: %w", i+1, newErr)
		}
		runners[i] = r
	}

	open := func(ctx context.Context, index int, events types.EventSink) (runner.Hand, func() error, error) {
		name := fmt.Sprintf("task-%d", index+1)
		hand, _, openErr := pagehand.Open(sessions, name, bopts,
			pagehand.WithProvider(provider),
			pagehand.WithMetrics(collector),
			pagehand.WithLogger(logger.With("engine:"+name)),
			pagehand.WithEventSink(events),
		)
		if openErr != nil {
			return nil, nil, openErr
		}
		release := func() error {
			return errors.Join(hand.Close(), sessions.CloseSession(name))
		}
		return hand, release, nil
	}

	if progress != nil {
		progress.Start()
	}
	summaries, runErr := runner.RunAll(ctx, runners, cli.Parallel, open)
	if progress != nil {
		if stopErr := progress.Stop(); stopErr != nil {
			logger.Warnf("%v", stopErr)
		}
		console := runner.NewConsole(level)
		for _, s := range summaries {
			if s != nil {
				console.Summary(s)
			}
		}
	}

	if outErr := printResults(os.Stdout, summaries, term.IsTerminal(os.Stdout.Fd()), cli.Copy); outErr != nil {
		logger.Warnf("Failed to print results: %v", outErr)
	}
	return runErr
}

// loadTasks reads the task files, or builds a one-shot task from the flags.
func loadTasks(cli *CLIConfig) ([]*runner.Config, error) {
	if len(cli.Tasks) > 0 {
		tasks := make([]*runner.Config, 0, len(cli.Tasks))
		for _, path := range cli.Tasks {
			task, err := runner.LoadConfig(path)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if task.Task == "" {
				task.Task = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			applyVerbosity(cli, task)
			tasks = append(tasks, task)
		}
		return tasks, nil
	}

	task, err := oneShotTask(cli)
	if err != nil {
		return nil, err
	}
	applyVerbosity(cli, task)
	return []*runner.Config{task}, nil
}

func oneShotTask(cli *CLIConfig) (*runner.Config, error) {
	if cli.URL == "" {
		return nil, errors.New("either -task or -url is required")
	}
	task := runner.DefaultConfig()
	task.URL = cli.URL
	task.Artifacts.Enabled = cli.Output != ""

	if cli.Act != "" {
		task.Steps = append(task.Steps, runner.Step{Act: cli.Act})
	}
	if cli.Extract != "" {
		step := runner.Step{Extract: cli.Extract}
		if cli.Schema != "" {
			if err := json.Unmarshal([]byte(cli.Schema), &step.Schema); err != nil {
				return nil, fmt.Errorf("invalid -schema: %w", err)
			}
		}
		task.Steps = append(task.Steps, step)
	}
	if cli.Observe != "" {
		task.Steps = append(task.Steps, runner.Step{Observe: cli.Observe})
	}
	if len(task.Steps) == 0 {
		return nil, errors.New("-url needs -act, -extract or -observe")
	}
	task.Task = task.Steps[0].Label()
	return task, nil
}

func applyVerbosity(cli *CLIConfig, task *runner.Config) {
	switch {
	case cli.Quiet:
		task.Logging.Verbosity = "quiet"
	case cli.Verbose:
		task.Logging.Verbosity = "verbose"
	}
}

func consoleLevel(cli *CLIConfig, tasks []*runner.Config) runner.LogLevel {
	switch {
	case cli.Quiet:
		return runner.LogLevelQuiet
	case cli.Verbose:
		return runner.LogLevelVerbose
	case len(tasks) > 0:
		return runner.ParseLogLevel(tasks[0].Logging.Verbosity)
	}
	return runner.LogLevelNormal
}

// useTUI reports whether the live view replaces console progress. It is
// used for a single task on an interactive terminal.
func useTUI(cli *CLIConfig, tasks []*runner.Config, level runner.LogLevel) bool {
	return !cli.NoTUI && len(tasks) == 1 && level == runner.LogLevelNormal && term.IsTerminal(os.Stdout.Fd())
}

func displayName(task *runner.Config) string {
	if task.Task != "" {
		return task.Task
	}
	return task.URL
}

// artifactDir returns the -output directory of task index, or "" to keep
// the task's own setting.
func artifactDir(output string, index, total int) string {
	if output == "" {
		return ""
	}
	if total == 1 {
		return output
	}
	return filepath.Join(output, fmt.Sprintf("task-%d", index+1))
}

func browserOptions(cli *CLIConfig) browser.SessionOptions {
	opts := browser.SessionOptions{
		BrowserType: cli.Browser,
		Headless:    cli.Headless,
	}
	if b := config.GetBrowser(); b != nil {
		if opts.BrowserType == "" {
			opts.BrowserType = b.GetBrowserType()
		}
		if !cli.headlessSet {
			opts.Headless = b.IsHeadless()
		}
		w, h := b.GetViewport()
		opts.Viewport = &browser.Viewport{Width: w, Height: h}
		opts.Timeout = float64(b.GetNavigationTimeoutMs())
	}
	if opts.BrowserType == "" {
		opts.BrowserType = browser.Chromium
	}
	return opts
}

// printResults prints the extract and observe outputs as JSON and copies
// them to the clipboard when asked.
func printResults(w io.Writer, summaries []*runner.ExecutionSummary, color, copyToClipboard bool) error {
	data, err := resultsJSON(summaries)
	if err != nil || data == nil {
		return err
	}
	if err := highlightJSON(w, data, color); err != nil {
		return err
	}
	if copyToClipboard {
		if err := clipboard.WriteAll(string(data)); err != nil {
			return fmt.Errorf("failed to copy results: %w", err)
		}
	}
	return nil
}
