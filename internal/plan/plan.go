// Package plan orders a work order's steps for execution.
//
// The planner topologically sorts the step dependency graph. Ties
// among independent steps are broken by declaration order, so planning
// the same work order twice always yields the same sequence.
package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agenda-podcast/Platform/internal/ident"
	"github.com/agenda-podcast/Platform/internal/workorder"
)

// ErrCyclicDependency reports a dependency cycle among steps.
var ErrCyclicDependency = errors.New("cyclic dependency")

// ErrUnknownDependency reports a declared dependency that is not a
// step of the work order.
var ErrUnknownDependency = errors.New("unknown dependency")

// CycleError carries the cycle path for diagnostics.
type CycleError struct {
	Path []string // e.g. ["a", "b", "a"]
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Path, " → "))
}

func (e *CycleError) Unwrap() error { return ErrCyclicDependency }

// Order returns the execution order for the enabled steps of a work
// order: a step never precedes any step it depends on.
//
// Dependencies come from two sources: the step's own depends_on list,
// and the static dependency declarations of its module resolved via
// moduleDeps (module canonical key → declared dependency module ids).
// A module-level dependency binds only when some step of the order
// runs that module; a module dependency with no matching step is not
// an error (the module might be satisfied from a release or assets).
func Order(wo *workorder.WorkOrder, moduleDeps map[string][]string) ([]*workorder.Step, error) {
	var steps []*workorder.Step
	for i := range wo.Steps {
		if wo.Steps[i].IsEnabled() {
			steps = append(steps, &wo.Steps[i])
		}
	}

	byKey := make(map[string]*workorder.Step, len(steps))
	stepByModule := make(map[string][]string) // module key → step keys, declaration order
	declIndex := make(map[string]int, len(steps))
	for i, s := range steps {
		key := ident.CanonicalKey(s.ID)
		byKey[key] = s
		declIndex[key] = i
		mk := ident.CanonicalKey(s.Module)
		stepByModule[mk] = append(stepByModule[mk], key)
	}

	// deps[step] = set of step keys it waits for.
	deps := make(map[string]map[string]bool, len(steps))
	for _, s := range steps {
		key := ident.CanonicalKey(s.ID)
		deps[key] = map[string]bool{}
		for _, d := range s.DependsOn {
			dk := ident.CanonicalKey(d)
			if _, ok := byKey[dk]; !ok {
				return nil, fmt.Errorf("step %s: %w: %q", s.ID, ErrUnknownDependency, d)
			}
			if dk != key {
				deps[key][dk] = true
			}
		}
		for _, dm := range moduleDeps[ident.CanonicalKey(s.Module)] {
			for _, dk := range stepByModule[ident.CanonicalKey(dm)] {
				if dk != key {
					deps[key][dk] = true
				}
			}
		}
	}

	// Kahn's algorithm with a declaration-order frontier. Instead of a
	// heap we rescan the pending list in declaration order; step counts
	// are small and the scan keeps ties stable.
	ordered := make([]*workorder.Step, 0, len(steps))
	done := make(map[string]bool, len(steps))
	for len(ordered) < len(steps) {
		progressed := false
		for _, s := range steps {
			key := ident.CanonicalKey(s.ID)
			if done[key] {
				continue
			}
			ready := true
			for dk := range deps[key] {
				if !done[dk] {
					ready = false
					break
				}
			}
			if ready {
				done[key] = true
				ordered = append(ordered, s)
				progressed = true
			}
		}
		if !progressed {
			return nil, &CycleError{Path: cyclePath(steps, deps, done)}
		}
	}
	return ordered, nil
}

// cyclePath reconstructs one cycle among the unfinished steps by
// walking dependency edges until a node repeats.
func cyclePath(steps []*workorder.Step, deps map[string]map[string]bool, done map[string]bool) []string {
	remaining := map[string]bool{}
	var start string
	for _, s := range steps {
		key := ident.CanonicalKey(s.ID)
		if !done[key] {
			remaining[key] = true
			if start == "" {
				start = key
			}
		}
	}
	if start == "" {
		return nil
	}

	seen := map[string]int{}
	path := []string{start}
	seen[start] = 0
	cur := start
	for {
		next := ""
		// Deterministic edge choice: lowest key wins.
		for dk := range deps[cur] {
			if remaining[dk] && (next == "" || dk < next) {
				next = dk
			}
		}
		if next == "" {
			return path
		}
		if at, ok := seen[next]; ok {
			return append(path[at:], next)
		}
		seen[next] = len(path)
		path = append(path, next)
		cur = next
	}
}
