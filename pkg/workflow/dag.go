package workflow

import (
	"sort"
	"strings"

	"github.com/nicholaskb/semant/pkg/errors"
)

// validateDAG checks the dependency graph: every step id unique, every
// dependency resolvable, and no cycles (Kahn's algorithm).
func validateDAG(steps []Step) error {
	byID := make(map[string]Step, len(steps))
	for _, s := range steps {
		if err := validateStep(s); err != nil {
			return err
		}
		if _, dup := byID[s.ID]; dup {
			return errors.New(errors.CodeValidation, "duplicate step id", nil).
				WithContext("step", s.ID)
		}
		byID[s.ID] = s
	}

	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)
	for _, s := range steps {
		indegree[s.ID] += 0
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return errors.New(errors.CodeCyclicDependency, "step depends on itself", nil).
					WithContext("step", s.ID)
			}
			if _, ok := byID[dep]; !ok {
				return errors.New(errors.CodeValidation, "unknown dependency id", nil).
					WithContext("step", s.ID).
					WithContext("dependency", dep)
			}
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	resolved := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		resolved++
		for _, id := range dependents[cur] {
			indegree[id]--
			if indegree[id] == 0 {
				queue = append(queue, id)
			}
		}
	}

	if resolved != len(steps) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return errors.New(errors.CodeCyclicDependency, "dependency cycle detected", nil).
			WithContext("steps", strings.Join(stuck, ","))
	}
	return nil
}
