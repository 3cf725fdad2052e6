package engine

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/forgeline/forge/storage"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RunnerOptions configures one pipeline run.
type RunnerOptions struct {
	// Workers bounds how many independent steps may run in parallel.
	// Zero or negative means sequential.
	Workers int
	// Force re-executes every step, ignoring artifact probes.
	Force bool
	// RunID identifies this run in logs and storage. Auto-generated when
	// empty.
	RunID string
	// Store, when non-nil, records step statuses for later reporting.
	// Failures to persist are logged, never propagated.
	Store storage.Driver
	// Globals is the pipeline-wide environment overlay.
	Globals map[string]string
	// Inherited is the base process environment. Defaults to os.Environ().
	Inherited []string
	// OutputLimitKB bounds retained output per stream per step.
	OutputLimitKB int
	// OnStepDone is called after each step reaches a terminal state, in
	// completion order. Used by the CLI for progress display.
	OnStepDone func(StepResult)
}

// Runner drives the dependency graph: it dispatches ready steps to a
// bounded worker pool, records results, and propagates aborts to the
// dependents of failed steps. All run-state writes go through a single
// mutex and a single completion channel, so one step's completion is
// linearized before the next scheduling decision.
type Runner struct {
	graph    *Graph
	logger   *slog.Logger
	opts     RunnerOptions
	probe    *Probe
	executor *Executor
	composer *Composer

	mu       sync.Mutex
	statuses map[string]Status
	results  map[string]*StepResult
}

func NewRunner(graph *Graph, logger *slog.Logger, opts RunnerOptions) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	if opts.RunID == "" {
		opts.RunID = gonanoid.Must()
	}

	if opts.Inherited == nil {
		opts.Inherited = os.Environ()
	}

	logger = logger.WithGroup("run").With("runID", opts.RunID)

	statuses := make(map[string]Status, len(graph.Steps()))
	for _, step := range graph.Steps() {
		statuses[step.Name] = StatusPending
	}

	return &Runner{
		graph:    graph,
		logger:   logger,
		opts:     opts,
		probe:    NewProbe(logger),
		executor: NewExecutor(logger, opts.OutputLimitKB),
		composer: NewComposer(opts.Inherited, opts.Globals),
		statuses: statuses,
		results:  make(map[string]*StepResult),
	}
}

// Run executes the pipeline to completion and returns the report. It is
// terminal when no step remains pending: cancellation stops new dispatch,
// lets in-flight processes terminate, and aborts the rest.
func (r *Runner) Run(ctx context.Context) *Report {
	startedAt := time.Now()

	r.logger.Info("run.start", "steps", len(r.graph.Steps()), "workers", r.opts.Workers, "force", r.opts.Force)

	completions := make(chan StepResult)
	inflight := 0

	for {
		if ctx.Err() == nil {
			for inflight < r.opts.Workers {
				step := r.nextReady()
				if step == nil {
					break
				}

				r.setStatus(step.Name, StatusRunning)

				inflight++

				go func() {
					completions <- r.runStep(ctx, step)
				}()
			}
		}

		if inflight == 0 {
			break
		}

		result := <-completions
		inflight--

		r.record(result)
	}

	r.abortRemaining(ctx)

	report := r.buildReport(startedAt, ctx.Err() != nil)

	r.persistRun(ctx, report)

	r.logger.Info("run.done",
		"elapsed", report.Duration,
		"exitCode", report.ExitCode(),
		"counts", report.Counts(),
	)

	return report
}

// nextReady returns the first pending step, in declaration order, whose
// dependencies have all reached a success-like state.
func (r *Runner) nextReady() *Step {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, step := range r.graph.Steps() {
		if r.statuses[step.Name] != StatusPending {
			continue
		}

		ready := true

		for _, need := range step.Needs {
			if !r.statuses[need].IsSuccessLike() {
				ready = false

				break
			}
		}

		if ready {
			return step
		}
	}

	return nil
}

// runStep performs the full lifecycle of one step: guard expression,
// artifact probe, environment composition, and bounded retries.
func (r *Runner) runStep(ctx context.Context, step *Step) StepResult {
	logger := r.logger.With("step", step.Name)

	if step.When != nil {
		matched, err := r.evalWhen(step)
		if err != nil {
			logger.Error("step.when.error", "err", err)

			return StepResult{
				Name:      step.Name,
				Status:    StatusFailed,
				Reason:    ReasonSpawn,
				ExitCode:  -1,
				Error:     err.Error(),
				StartedAt: time.Now(),
				Fatal:     step.Fatal,
			}
		}

		if !matched {
			logger.Info("step.skip.condition")

			return StepResult{
				Name:      step.Name,
				Status:    StatusSkipped,
				Skip:      SkipCondition,
				StartedAt: time.Now(),
			}
		}
	}

	if !r.opts.Force && r.probe.Present(step) {
		logger.Info("step.skip.artifact_present")

		return StepResult{
			Name:      step.Name,
			Status:    StatusSkipped,
			Skip:      SkipArtifactPresent,
			StartedAt: time.Now(),
		}
	}

	env := r.composer.Compose(step, r.prefixesFor(step))

	attempts := step.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var result StepResult

	for attempt := 1; attempt <= attempts; attempt++ {
		r.persistStep(ctx, step.Name, map[string]any{"status": string(StatusRunning), "attempt": attempt})

		result = r.executor.Execute(ctx, step, env)
		result.Attempts = attempt
		result.Fatal = step.Fatal

		if result.Status != StatusFailed || attempt == attempts {
			break
		}

		logger.Warn("step.retry", "attempt", attempt, "maxAttempts", attempts)
	}

	return result
}

// evalWhen evaluates the step's guard expression against the run context.
func (r *Runner) evalWhen(step *Step) (bool, error) {
	env := make(map[string]string, len(r.opts.Globals))
	for key, value := range r.opts.Globals {
		env[key] = value
	}

	output, err := expr.Run(step.When, WhenContext{
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		Force:    r.opts.Force,
		Env:      env,
	})
	if err != nil {
		return false, err //nolint: wrapcheck
	}

	matched, ok := output.(bool)

	return ok && matched, nil
}

// prefixesFor collects install prefixes of the step's transitive
// dependencies that finished success-like, in declaration order. Using
// declaration order keeps the composed search paths independent of
// completion order.
func (r *Runner) prefixesFor(step *Step) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prefixes []string

	for _, need := range r.graph.TransitiveNeeds(step.Name) {
		needStep := r.graph.Step(need)
		if needStep.InstallPrefix == "" {
			continue
		}

		if r.statuses[need].IsSuccessLike() {
			prefixes = append(prefixes, needStep.InstallPrefix)
		}
	}

	return prefixes
}

// record stores a completed result and aborts any dependents that can no
// longer run. This is the only write path for terminal states reached via
// execution.
func (r *Runner) record(result StepResult) {
	r.mu.Lock()
	r.statuses[result.Name] = result.Status
	r.results[result.Name] = &result
	r.mu.Unlock()

	r.persistResult(result)

	if r.opts.OnStepDone != nil {
		r.opts.OnStepDone(result)
	}

	if result.Status == StatusFailed || result.Status == StatusAborted {
		r.abortDependents(result.Name)
	}
}

// abortDependents marks every still-pending transitive dependent of name
// as aborted. Independent branches are unaffected and keep scheduling.
func (r *Runner) abortDependents(name string) {
	step := r.graph.Step(name)

	for _, dependent := range r.graph.TransitiveDependents(name) {
		r.mu.Lock()

		if r.statuses[dependent] != StatusPending {
			r.mu.Unlock()

			continue
		}

		r.statuses[dependent] = StatusAborted
		result := StepResult{
			Name:      dependent,
			Status:    StatusAborted,
			Reason:    ReasonDependency,
			Error:     "dependency " + name + " did not succeed",
			StartedAt: time.Now(),
		}
		r.results[dependent] = &result
		r.mu.Unlock()

		r.logger.Warn("step.abort.dependency", "step", dependent, "dependency", name, "fatal", step.Fatal)

		r.persistResult(result)

		if r.opts.OnStepDone != nil {
			r.opts.OnStepDone(result)
		}
	}
}

// abortRemaining handles steps never dispatched, which only happens when
// the run context was canceled before they became ready.
func (r *Runner) abortRemaining(ctx context.Context) {
	for _, step := range r.graph.Steps() {
		r.mu.Lock()

		if r.statuses[step.Name].IsTerminal() {
			r.mu.Unlock()

			continue
		}

		r.statuses[step.Name] = StatusAborted
		reason := ReasonDependency
		message := "never became ready"

		if ctx.Err() != nil {
			reason = ReasonCanceled
			message = ctx.Err().Error()
		}

		result := StepResult{
			Name:      step.Name,
			Status:    StatusAborted,
			Reason:    reason,
			Error:     message,
			StartedAt: time.Now(),
		}
		r.results[step.Name] = &result
		r.mu.Unlock()

		r.logger.Warn("step.abort.remaining", "step", step.Name, "reason", reason)

		r.persistResult(result)

		if r.opts.OnStepDone != nil {
			r.opts.OnStepDone(result)
		}
	}
}

func (r *Runner) setStatus(name string, status Status) {
	r.mu.Lock()
	r.statuses[name] = status
	r.mu.Unlock()
}

func (r *Runner) buildReport(startedAt time.Time, canceled bool) *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]StepResult, 0, len(r.graph.Steps()))

	for _, step := range r.graph.Steps() {
		if result := r.results[step.Name]; result != nil {
			results = append(results, *result)
		}
	}

	return &Report{
		RunID:     r.opts.RunID,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Canceled:  canceled,
		Results:   results,
	}
}

func (r *Runner) persistResult(result StepResult) {
	r.persistStep(context.Background(), result.Name, map[string]any{
		"status":     string(result.Status),
		"code":       result.ExitCode,
		"reason":     string(result.Reason),
		"stdout":     result.Stdout,
		"stderr":     result.Stderr,
		"attempts":   result.Attempts,
		"started_at": result.StartedAt.UTC().Format(time.RFC3339),
		"elapsed":    formatElapsed(result.Duration),
	})
}

// persistStep writes step status for later reporting. Errors are logged
// but never propagated: a run must not fail because history could not be
// recorded.
func (r *Runner) persistStep(ctx context.Context, name string, payload map[string]any) {
	if r.opts.Store == nil {
		return
	}

	key := "runs/" + r.opts.RunID + "/steps/" + name

	err := r.opts.Store.Set(context.WithoutCancel(ctx), key, payload)
	if err != nil {
		r.logger.Error("step.status.persist.error", "key", key, "err", err)
	}
}

func (r *Runner) persistRun(ctx context.Context, report *Report) {
	if r.opts.Store == nil {
		return
	}

	counts := report.Counts()

	status := "succeeded"

	switch {
	case report.Canceled:
		status = "canceled"
	case report.ExitCode() != ExitOK:
		status = "failed"
	}

	err := r.opts.Store.Set(context.WithoutCancel(ctx), "runs/"+r.opts.RunID, map[string]any{
		"status":     status,
		"started_at": report.StartedAt.UTC().Format(time.RFC3339),
		"elapsed":    formatElapsed(report.Duration),
		"exit_code":  report.ExitCode(),
		"canceled":   report.Canceled,
		"succeeded":  counts[StatusSucceeded],
		"failed":     counts[StatusFailed],
		"skipped":    counts[StatusSkipped],
		"aborted":    counts[StatusAborted],
	})
	if err != nil {
		r.logger.Error("run.status.persist.error", "err", err)
	}
}
