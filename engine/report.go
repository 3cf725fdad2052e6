package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Suggested process exit codes for a run.
const (
	ExitOK              = 0
	ExitStepFailure     = 1
	ExitFatalFailure    = 2
	ExitInvalidPipeline = 3
)

// Report aggregates the outcomes of one pipeline run.
type Report struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"-"`
	Canceled  bool          `json:"canceled,omitempty"`
	Results   []StepResult  `json:"steps"`
}

// Counts returns how many steps finished in each status.
func (r *Report) Counts() map[Status]int {
	return lo.CountValuesBy(r.Results, func(result StepResult) Status {
		return result.Status
	})
}

// FirstFatal returns the first fatal step failure in declaration order,
// or nil when the run had none.
func (r *Report) FirstFatal() *StepResult {
	for i := range r.Results {
		if r.Results[i].Status == StatusFailed && r.Results[i].Fatal {
			return &r.Results[i]
		}
	}

	return nil
}

// ExitCode suggests the process exit status: 0 when every step succeeded
// or was skipped, 2 when a fatal failure aborted dependents, 1 for
// non-fatal failures or an incomplete (canceled) run.
func (r *Report) ExitCode() int {
	failed := false
	incomplete := false

	for _, result := range r.Results {
		switch result.Status {
		case StatusFailed:
			if result.Fatal {
				return ExitFatalFailure
			}

			failed = true
		case StatusAborted:
			incomplete = true
		}
	}

	if failed || incomplete {
		return ExitStepFailure
	}

	return ExitOK
}

// WriteText renders the human-readable run report: one line per step,
// then diagnostics for anything that did not succeed.
func (r *Report) WriteText(writer io.Writer) error {
	counts := r.Counts()

	_, err := fmt.Fprintf(writer, "run %s: %d succeeded, %d skipped, %d failed, %d aborted in %s\n",
		r.RunID,
		counts[StatusSucceeded],
		counts[StatusSkipped],
		counts[StatusFailed],
		counts[StatusAborted],
		formatElapsed(r.Duration),
	)
	if err != nil {
		return fmt.Errorf("could not write summary: %w", err)
	}

	for _, result := range r.Results {
		line := fmt.Sprintf("  %-9s %s", result.Status, result.Name)

		switch {
		case result.Status == StatusSkipped && result.Skip != "":
			line += fmt.Sprintf(" (%s)", result.Skip)
		case result.Duration > 0:
			line += fmt.Sprintf(" (%s)", formatElapsed(result.Duration))
		}

		_, err = fmt.Fprintln(writer, line)
		if err != nil {
			return fmt.Errorf("could not write step line: %w", err)
		}
	}

	for _, result := range r.Results {
		if result.Status != StatusFailed {
			continue
		}

		_, err = fmt.Fprintf(writer, "\nstep %s failed (%s, exit code %d, %d attempts)\n",
			result.Name, result.Reason, result.ExitCode, result.Attempts)
		if err != nil {
			return fmt.Errorf("could not write failure header: %w", err)
		}

		if result.Error != "" {
			_, err = fmt.Fprintf(writer, "  error: %s\n", result.Error)
			if err != nil {
				return fmt.Errorf("could not write failure error: %w", err)
			}
		}

		err = writeStream(writer, "stdout", result.Stdout)
		if err != nil {
			return err
		}

		err = writeStream(writer, "stderr", result.Stderr)
		if err != nil {
			return err
		}
	}

	if r.Canceled {
		_, err = fmt.Fprintln(writer, "\nrun canceled; completed artifacts were left in place")
		if err != nil {
			return fmt.Errorf("could not write cancellation note: %w", err)
		}
	}

	return nil
}

func writeStream(writer io.Writer, name, content string) error {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return nil
	}

	_, err := fmt.Fprintf(writer, "  %s:\n", name)
	if err != nil {
		return fmt.Errorf("could not write stream header: %w", err)
	}

	for _, line := range strings.Split(content, "\n") {
		_, err = fmt.Fprintf(writer, "    %s\n", line)
		if err != nil {
			return fmt.Errorf("could not write stream line: %w", err)
		}
	}

	return nil
}

// WriteJSON renders the machine-readable report for downstream tooling.
func (r *Report) WriteJSON(writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	err := encoder.Encode(r)
	if err != nil {
		return fmt.Errorf("could not encode report: %w", err)
	}

	return nil
}

// formatElapsed returns a human-readable elapsed time string, e.g. "1h 2m 3s".
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}

	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}

	return fmt.Sprintf("%ds", s)
}
