package engine

import (
	"time"

	"github.com/expr-lang/expr/vm"
)

// Status represents the scheduling state of a pipeline step.
type Status string

const (
	// StatusPending indicates the step has unmet dependencies or has not
	// been dispatched yet.
	StatusPending Status = "pending"
	// StatusRunning indicates the step's process is currently executing.
	StatusRunning Status = "running"
	// StatusSucceeded indicates the step's process exited zero.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the step exhausted its attempts without success.
	StatusFailed Status = "failed"
	// StatusSkipped indicates the step's artifact was already present or its
	// guard expression evaluated to false.
	StatusSkipped Status = "skipped"
	// StatusAborted indicates a dependency failed (or the run was canceled)
	// before the step could execute.
	StatusAborted Status = "aborted"
)

// IsTerminal returns true once a step can no longer change state this run.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusAborted:
		return true
	default:
		return false
	}
}

// IsSuccessLike returns true for states that satisfy a dependent's ordering
// constraint. A skipped step counts: its artifact is already in place.
func (s Status) IsSuccessLike() bool {
	return s == StatusSucceeded || s == StatusSkipped
}

// Command is the external process a step invokes.
type Command struct {
	Path string
	Args []string
}

// Artifact declares a filesystem output that proves a step's work is done.
// Path may be a doublestar glob, in which case at least one match is
// required and SHA256 must be empty.
type Artifact struct {
	Path   string
	SHA256 string
}

// Step is one unit of orchestrated work. Steps are defined at
// pipeline-construction time and never mutated afterwards.
type Step struct {
	Name          string
	Needs         []string
	Command       Command
	Dir           string
	Env           map[string]string
	Artifacts     []Artifact
	InstallPrefix string
	Attempts      int
	Fatal         bool
	Timeout       time.Duration
	// When is an optional compiled guard expression. A false result skips
	// the step without running its command.
	When *vm.Program
}

// WhenContext is the scope a step guard expression evaluates against.
// Guards are compiled against this type at pipeline-construction time and
// evaluated against it per run.
type WhenContext struct {
	Platform string            `expr:"platform"`
	Arch     string            `expr:"arch"`
	Force    bool              `expr:"force"`
	Env      map[string]string `expr:"env"`
}

// FailureReason classifies why a step did not succeed.
type FailureReason string

const (
	ReasonExit       FailureReason = "exit"
	ReasonSpawn      FailureReason = "spawn"
	ReasonTimeout    FailureReason = "timeout"
	ReasonCanceled   FailureReason = "canceled"
	ReasonDependency FailureReason = "dependency"
)

// SkipReason classifies why a step was skipped without running.
type SkipReason string

const (
	SkipArtifactPresent SkipReason = "artifact-present"
	SkipCondition       SkipReason = "condition"
)

// StepResult is the immutable outcome of a step's final attempt.
type StepResult struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Reason     FailureReason `json:"reason,omitempty"`
	Skip       SkipReason    `json:"skip,omitempty"`
	Error      string        `json:"error,omitempty"`
	Fatal      bool          `json:"fatal,omitempty"`
	Attempts   int           `json:"attempts"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}
