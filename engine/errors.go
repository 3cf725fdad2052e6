package engine

import "errors"

// Configuration errors abort pipeline construction; no step ever runs.
var (
	ErrDuplicateStep     = errors.New("duplicate step name")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrSelfDependency    = errors.New("step depends on itself")
	ErrCycle             = errors.New("dependency cycle")
	ErrNoSteps           = errors.New("pipeline has no steps")
)

// IsConfigError reports whether err is a pipeline-definition error, as
// opposed to a runtime execution failure.
func IsConfigError(err error) bool {
	for _, target := range []error{
		ErrDuplicateStep,
		ErrUnknownDependency,
		ErrSelfDependency,
		ErrCycle,
		ErrNoSteps,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
