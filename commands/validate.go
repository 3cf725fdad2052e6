package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/forgeline/forge/pipeline"
)

type Validate struct {
	Pipeline string `arg:"" help:"Path to pipeline definition file" type:"existingfile"`
}

func (c *Validate) Run(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	definition, err := pipeline.Load(c.Pipeline)
	if err != nil {
		return configError(err)
	}

	graph, err := definition.Graph()
	if err != nil {
		return configError(err)
	}

	logger.Debug("pipeline.valid", "name", definition.Config.Name, "steps", len(graph.Steps()))

	fmt.Fprintf(os.Stdout, "pipeline %s: %d steps\n", definition.Config.Name, len(graph.Steps()))

	for _, name := range graph.TopologicalOrder() {
		step := graph.Step(name)

		line := "  " + name
		if len(step.Needs) > 0 {
			line += " (needs " + strings.Join(step.Needs, ", ") + ")"
		}

		fmt.Fprintln(os.Stdout, line)
	}

	return nil
}
