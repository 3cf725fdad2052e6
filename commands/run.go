package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgeline/forge/engine"
	"github.com/forgeline/forge/pipeline"
	"github.com/forgeline/forge/storage"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/schollz/progressbar/v3"
)

type Run struct {
	Pipeline   string        `arg:""                     help:"Path to pipeline definition file"                              type:"existingfile"`
	Workers    int           `default:"1"                help:"Maximum number of independent steps to run in parallel"`
	Force      bool          `help:"Re-execute every step, ignoring artifact probes"`
	Timeout    time.Duration `help:"Timeout for the whole run, will cause abort if exceeded"`
	Storage    string        `default:"sqlite://forge.db" help:"Run-history storage DSN (empty to disable)"`
	RunID      string        `help:"Unique run ID (auto-generated if not provided)"`
	ReportJSON string        `help:"Write a machine-readable report to this path"                    name:"report-json"  type:"path"`
	NoProgress bool          `help:"Disable the step progress bar"`
}

func (c *Run) Run(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	runID := c.RunID
	if runID == "" {
		runID = gonanoid.Must()
	}

	logger = logger.WithGroup("runner").With(
		"pipeline", c.Pipeline,
		"runID", runID,
	)

	definition, err := pipeline.Load(c.Pipeline)
	if err != nil {
		return configError(err)
	}

	graph, err := definition.Graph()
	if err != nil {
		return configError(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if c.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		logger.Debug("execution.canceled", "signal", sig)
		cancel()
	}()

	var store storage.Driver

	if c.Storage != "" {
		initStorage, found := storage.GetFromDSN(c.Storage)
		if !found {
			return fmt.Errorf("could not get storage driver: %w", errors.ErrUnsupported)
		}

		store, err = initStorage(c.Storage, definition.Config.Name, logger)
		if err != nil {
			return fmt.Errorf("could not create storage client: %w", err)
		}
		defer func() { _ = store.Close() }()
	}

	var onStepDone func(engine.StepResult)

	if !c.NoProgress {
		bar := progressbar.NewOptions(len(graph.Steps()),
			progressbar.OptionSetDescription(definition.Config.Name),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)

		onStepDone = func(result engine.StepResult) {
			_ = bar.Add(1)
		}
	}

	runner := engine.NewRunner(graph, logger, engine.RunnerOptions{
		Workers:       c.Workers,
		Force:         c.Force,
		RunID:         runID,
		Store:         store,
		Globals:       definition.Config.Env,
		OutputLimitKB: definition.Config.OutputLimitKB,
		OnStepDone:    onStepDone,
	})

	report := runner.Run(ctx)

	err = report.WriteText(os.Stdout)
	if err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}

	if c.ReportJSON != "" {
		file, err := os.Create(c.ReportJSON)
		if err != nil {
			return fmt.Errorf("could not create report file: %w", err)
		}
		defer func() { _ = file.Close() }()

		err = report.WriteJSON(file)
		if err != nil {
			return fmt.Errorf("could not write report file: %w", err)
		}
	}

	if code := report.ExitCode(); code != engine.ExitOK {
		return &ExitError{Code: code, Message: "pipeline finished with failures"}
	}

	return nil
}

// configError wraps a pipeline-definition error with the
// invalid-configuration exit code.
func configError(err error) error {
	return &ExitError{
		Code:    engine.ExitInvalidPipeline,
		Message: err.Error(),
	}
}
