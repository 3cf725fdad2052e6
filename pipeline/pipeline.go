// Package pipeline loads declarative YAML pipeline definitions and
// compiles them into the engine's step model.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/expr-lang/expr"
	"github.com/forgeline/forge/engine"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// ErrInvalidPipeline marks every pipeline-definition error, so callers
// can map them to the invalid-configuration exit code.
var ErrInvalidPipeline = errors.New("invalid pipeline")

// Pipeline is a validated pipeline definition.
type Pipeline struct {
	Config Config
}

// Load reads, strictly unmarshals, and validates a pipeline file.
func Load(filename string) (*Pipeline, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read pipeline: %w", err)
	}

	return Parse(contents)
}

// Parse unmarshals and validates a pipeline definition.
func Parse(contents []byte) (*Pipeline, error) {
	var config Config

	err := yaml.UnmarshalWithOptions(contents, &config, yaml.Strict())
	if err != nil {
		return nil, fmt.Errorf("%w: could not unmarshal: %w", ErrInvalidPipeline, err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = validate.Struct(config)
	if err != nil {
		return nil, fmt.Errorf("%w: could not validate: %w", ErrInvalidPipeline, err)
	}

	return &Pipeline{Config: config}, nil
}

// Compile translates the definition into engine steps: durations parsed,
// guard expressions compiled, defaults applied (steps are fatal unless
// declared otherwise, and run once unless attempts says more).
func (p *Pipeline) Compile() ([]*engine.Step, error) {
	steps := make([]*engine.Step, 0, len(p.Config.Steps))

	for _, config := range p.Config.Steps {
		step := &engine.Step{
			Name: config.Name,
			Needs: append([]string(nil), config.Needs...),
			Command: engine.Command{
				Path: config.Run.Path,
				Args: append([]string(nil), config.Run.Args...),
			},
			Dir:           config.Dir,
			Env:           config.Env,
			InstallPrefix: config.InstallPrefix,
			Attempts:      config.Attempts,
			Fatal:         config.Fatal == nil || *config.Fatal,
		}

		for _, artifact := range config.Artifacts {
			step.Artifacts = append(step.Artifacts, engine.Artifact{
				Path:   artifact.Path,
				SHA256: artifact.SHA256,
			})
		}

		if config.Timeout != "" {
			timeout, err := time.ParseDuration(config.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%w: step %q: could not parse timeout: %w", ErrInvalidPipeline, config.Name, err)
			}

			step.Timeout = timeout
		}

		if config.When != "" {
			program, err := expr.Compile(config.When, expr.Env(engine.WhenContext{}), expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("%w: step %q: could not compile when expression: %w", ErrInvalidPipeline, config.Name, err)
			}

			step.When = program
		}

		steps = append(steps, step)
	}

	return steps, nil
}

// Graph compiles the definition and constructs the validated dependency
// graph. Graph construction errors (cycles, unknown dependencies,
// duplicates) are configuration errors.
func (p *Pipeline) Graph() (*engine.Graph, error) {
	steps, err := p.Compile()
	if err != nil {
		return nil, err
	}

	graph, err := engine.NewGraph(steps)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPipeline, err)
	}

	return graph, nil
}
