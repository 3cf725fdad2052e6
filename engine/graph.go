package engine

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Graph is the validated dependency graph of a pipeline. Construction
// rejects duplicate names, references to undeclared steps, and cycles;
// a graph that constructs successfully is guaranteed acyclic.
type Graph struct {
	steps      []*Step
	index      map[string]int
	dependents map[string][]string
}

// NewGraph validates the step set and builds the graph. Declaration order
// is preserved and used for deterministic scheduling.
func NewGraph(steps []*Step) (*Graph, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}

	graph := &Graph{
		steps:      steps,
		index:      make(map[string]int, len(steps)),
		dependents: make(map[string][]string),
	}

	for position, step := range steps {
		if _, exists := graph.index[step.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStep, step.Name)
		}

		graph.index[step.Name] = position
	}

	for _, step := range steps {
		for _, need := range step.Needs {
			if need == step.Name {
				return nil, fmt.Errorf("%w: %q", ErrSelfDependency, step.Name)
			}

			if _, exists := graph.index[need]; !exists {
				return nil, fmt.Errorf("%w: step %q needs %q", ErrUnknownDependency, step.Name, need)
			}

			graph.dependents[need] = append(graph.dependents[need], step.Name)
		}
	}

	if err := graph.detectCycles(); err != nil {
		return nil, err
	}

	return graph, nil
}

// detectCycles runs a depth-first search over dependency edges with the
// classic temporary/permanent marking scheme.
func (g *Graph) detectCycles() error {
	permanent := make(map[string]bool, len(g.steps))
	temporary := make(map[string]bool)

	var visit func(step *Step) error
	visit = func(step *Step) error {
		if permanent[step.Name] {
			return nil
		}

		if temporary[step.Name] {
			return fmt.Errorf("%w: involving step %q", ErrCycle, step.Name)
		}

		temporary[step.Name] = true

		for _, need := range step.Needs {
			if err := visit(g.steps[g.index[need]]); err != nil {
				return err
			}
		}

		delete(temporary, step.Name)
		permanent[step.Name] = true

		return nil
	}

	for _, step := range g.steps {
		if err := visit(step); err != nil {
			return err
		}
	}

	return nil
}

// Steps returns all steps in declaration order.
func (g *Graph) Steps() []*Step {
	return g.steps
}

// Step returns the step with the given name, or nil.
func (g *Graph) Step(name string) *Step {
	position, exists := g.index[name]
	if !exists {
		return nil
	}

	return g.steps[position]
}

// Names returns all step names in declaration order.
func (g *Graph) Names() []string {
	return lo.Map(g.steps, func(step *Step, _ int) string {
		return step.Name
	})
}

// Dependents returns the names of steps that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	return g.dependents[name]
}

// TransitiveDependents returns every step that depends on name, directly
// or through intermediates, sorted by declaration order.
func (g *Graph) TransitiveDependents(name string) []string {
	seen := make(map[string]bool)

	var walk func(name string)
	walk = func(name string) {
		for _, dependent := range g.dependents[name] {
			if !seen[dependent] {
				seen[dependent] = true
				walk(dependent)
			}
		}
	}
	walk(name)

	names := lo.Keys(seen)
	sort.Slice(names, func(i, j int) bool {
		return g.index[names[i]] < g.index[names[j]]
	})

	return names
}

// TransitiveNeeds returns every step that name depends on, directly or
// through intermediates, sorted by declaration order.
func (g *Graph) TransitiveNeeds(name string) []string {
	seen := make(map[string]bool)

	var walk func(name string)
	walk = func(name string) {
		step := g.Step(name)
		if step == nil {
			return
		}

		for _, need := range step.Needs {
			if !seen[need] {
				seen[need] = true
				walk(need)
			}
		}
	}
	walk(name)

	names := lo.Keys(seen)
	sort.Slice(names, func(i, j int) bool {
		return g.index[names[i]] < g.index[names[j]]
	})

	return names
}

// TopologicalOrder returns a valid execution order: dependencies first,
// declaration order among unordered steps. Used by `forge validate` to
// print the plan.
func (g *Graph) TopologicalOrder() []string {
	indegree := make(map[string]int, len(g.steps))
	for _, step := range g.steps {
		indegree[step.Name] = len(step.Needs)
	}

	var order []string

	remaining := len(g.steps)
	for remaining > 0 {
		for _, step := range g.steps {
			if indegree[step.Name] == 0 {
				order = append(order, step.Name)
				indegree[step.Name] = -1
				remaining--

				for _, dependent := range g.dependents[step.Name] {
					indegree[dependent]--
				}
			}
		}
	}

	return order
}
