package commands

import "fmt"

// ExitError carries a specific process exit code out of a command.
// main inspects it with errors.As and exits with the code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return fmt.Sprintf("exit code %d", e.Code)
}
