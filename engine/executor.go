package engine

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultOutputLimitKB bounds how much of each output stream is retained
// per step.
const DefaultOutputLimitKB = 64

// Executor runs one step's external command with a composed environment
// and classifies the outcome. Whatever the process does to the filesystem
// is outside the engine's control; only the exit code and captured output
// are observed.
type Executor struct {
	logger      *slog.Logger
	outputLimit int
}

func NewExecutor(logger *slog.Logger, outputLimitKB int) *Executor {
	if outputLimitKB <= 0 {
		outputLimitKB = DefaultOutputLimitKB
	}

	return &Executor{
		logger:      logger.WithGroup("executor"),
		outputLimit: outputLimitKB * 1024,
	}
}

// Execute runs the step once and returns its result. The caller handles
// retry policy; a single call is always a single attempt.
func (e *Executor) Execute(ctx context.Context, step *Step, env Environment) StepResult {
	logger := e.logger.With("step", step.Name)

	result := StepResult{
		Name:      step.Name,
		StartedAt: time.Now(),
		Attempts:  1,
	}

	stepCtx := ctx

	if step.Timeout > 0 {
		var cancel context.CancelFunc

		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	//nolint:gosec
	command := exec.CommandContext(stepCtx, step.Command.Path, step.Command.Args...)
	command.Dir = step.Dir
	command.Env = env.Slice()

	stdout := newTailWriter(e.outputLimit)
	stderr := newTailWriter(e.outputLimit)
	command.Stdout = stdout
	command.Stderr = stderr

	logger.Info("step.exec.start", "command", append([]string{step.Command.Path}, step.Command.Args...), "dir", step.Dir)

	err := command.Run()

	result.Duration = time.Since(result.StartedAt)
	result.DurationMS = result.Duration.Milliseconds()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	switch {
	case err == nil:
		result.Status = StatusSucceeded
		result.ExitCode = 0

		logger.Info("step.exec.done", "elapsed", result.Duration)
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.Status = StatusFailed
		result.Reason = ReasonTimeout
		result.ExitCode = -1
		result.Error = "timed out after " + step.Timeout.String()

		logger.Warn("step.exec.timeout", "timeout", step.Timeout)
	case ctx.Err() != nil:
		result.Status = StatusAborted
		result.Reason = ReasonCanceled
		result.ExitCode = -1
		result.Error = ctx.Err().Error()

		logger.Warn("step.exec.canceled")
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Status = StatusFailed
			result.Reason = ReasonExit
			result.ExitCode = exitErr.ExitCode()

			logger.Warn("step.exec.failed", "exitCode", result.ExitCode)
		} else {
			result.Status = StatusFailed
			result.Reason = ReasonSpawn
			result.ExitCode = -1
			result.Error = err.Error()

			logger.Error("step.exec.spawn_error", "err", err)
		}
	}

	return result
}
