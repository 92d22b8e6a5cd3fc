package swarm

import (
	"github.com/mtzanidakis/vibe/internal/agent"
)

// BuildLevels groups tasks into execution levels. A task lands in the
// first level after all of its dependencies; within a level tasks keep
// their plan order. Tasks that can never be scheduled yield a
// *CycleError naming them.
func BuildLevels(tasks []agent.TaskAssignment) ([][]string, error) {
	scheduled := make(map[string]bool, len(tasks))
	remaining := make([]agent.TaskAssignment, len(tasks))
	copy(remaining, tasks)

	var levels [][]string
	for len(remaining) > 0 {
		var level []string
		var next []agent.TaskAssignment
		for _, t := range remaining {
			if ready(t, scheduled) {
				level = append(level, t.ID)
			} else {
				next = append(next, t)
			}
		}
		if len(level) == 0 {
			stuck := make([]string, len(next))
			for i, t := range next {
				stuck[i] = t.ID
			}
			return nil, &CycleError{Stuck: stuck}
		}
		// Mark after the pass so a level never contains a task and its
		// dependency.
		for _, id := range level {
			scheduled[id] = true
		}
		levels = append(levels, level)
		remaining = next
	}
	return levels, nil
}

func ready(t agent.TaskAssignment, scheduled map[string]bool) bool {
	for _, dep := range t.Dependencies {
		if !scheduled[dep] {
			return false
		}
	}
	return true
}
