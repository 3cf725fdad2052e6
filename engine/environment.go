package engine

import (
	"path/filepath"
	"sort"
	"strings"
)

// Environment is an immutable mapping of variable name to value. Each
// composition produces a fresh map; nothing is mutated in place.
type Environment map[string]string

// Slice renders the environment in the form os/exec expects, sorted by
// key so compositions are reproducible.
func (e Environment) Slice() []string {
	pairs := make([]string, 0, len(e))
	for key, value := range e {
		pairs = append(pairs, key+"="+value)
	}

	sort.Strings(pairs)

	return pairs
}

// searchPathVars maps each search-path variable to the subdirectory of an
// install prefix that feeds it.
var searchPathVars = map[string]string{
	"PATH":            "bin",
	"LD_LIBRARY_PATH": "lib",
	"LIBRARY_PATH":    "lib",
	"CPATH":           "include",
	"PKG_CONFIG_PATH": filepath.Join("lib", "pkgconfig"),
}

// Composer builds per-step environments by layering, lowest precedence
// first: the inherited process environment, the pipeline-global overlay,
// search paths derived from install prefixes of the step's succeeded
// dependencies, and the step's own overlay.
type Composer struct {
	inherited map[string]string
	globals   map[string]string
}

// NewComposer captures the inherited environment (typically os.Environ())
// and the pipeline-global overlay.
func NewComposer(inherited []string, globals map[string]string) *Composer {
	parsed := make(map[string]string, len(inherited))

	for _, pair := range inherited {
		key, value, found := strings.Cut(pair, "=")
		if found {
			parsed[key] = value
		}
	}

	return &Composer{
		inherited: parsed,
		globals:   globals,
	}
}

// Compose returns a fresh Environment for one step invocation. prefixes
// are the install prefixes of the step's (transitively) satisfied
// dependencies, in declaration order, so the result does not depend on
// completion order.
func (c *Composer) Compose(step *Step, prefixes []string) Environment {
	env := make(Environment, len(c.inherited)+len(c.globals)+len(step.Env))

	for key, value := range c.inherited {
		env[key] = value
	}

	for key, value := range c.globals {
		env[key] = value
	}

	for variable, subdir := range searchPathVars {
		entries := make([]string, 0, len(prefixes)+1)

		for _, prefix := range prefixes {
			entries = append(entries, filepath.Join(prefix, subdir))
		}

		if existing := env[variable]; existing != "" {
			entries = append(entries, existing)
		}

		if len(entries) > 0 {
			env[variable] = strings.Join(entries, string(filepath.ListSeparator))
		}
	}

	for key, value := range step.Env {
		env[key] = value
	}

	return env
}
