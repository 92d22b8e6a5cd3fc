// Package agent holds the routing and planning data model shared by the
// router, the coordinator and the bus.
package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Agent is a named specialist. Agents are immutable once loaded.
type Agent struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Tools        []string `json:"tools"`
	Instructions string   `json:"instructions,omitempty"`
}

// HasTool reports whether the agent declares the named tool
// (case-insensitive).
func (a *Agent) HasTool(name string) bool {
	for _, t := range a.Tools {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

type ExecutionStrategy string

const (
	StrategySequential ExecutionStrategy = "sequential"
	StrategyParallel   ExecutionStrategy = "parallel"
	StrategyMixed      ExecutionStrategy = "mixed"
)

func (s ExecutionStrategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyMixed:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority maps free-form priority text to a Priority, defaulting to
// medium.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow
	case "high", "critical", "urgent":
		return PriorityHigh
	}
	return PriorityMedium
}

// TaskAssignment is one subtask of a supervisor plan.
type TaskAssignment struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Agent        string   `json:"agent"`
	Dependencies []string `json:"dependencies,omitempty"`
	Priority     Priority `json:"priority"`
}

// SupervisorPlan is a multi-agent decomposition of one request.
type SupervisorPlan struct {
	Supervisor string            `json:"supervisor"`
	Tasks      []TaskAssignment  `json:"tasks"`
	Strategy   ExecutionStrategy `json:"execution_strategy"`
}

var ErrEmptyPlan = errors.New("plan has no tasks")

// Validate checks structural invariants: at least one task, unique ids
// and dependencies that reference tasks of the same plan. Cycles are
// detected when the plan is leveled.
func (p *SupervisorPlan) Validate() error {
	if len(p.Tasks) == 0 {
		return ErrEmptyPlan
	}
	if !p.Strategy.Valid() {
		return fmt.Errorf("unknown execution strategy %q", p.Strategy)
	}
	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return errors.New("task with empty id")
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		ids[t.ID] = true
	}
	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	return nil
}

// StrategyFor derives the execution strategy of a task list: sequential
// for a single task, parallel when no task has dependencies, mixed
// otherwise.
func StrategyFor(tasks []TaskAssignment) ExecutionStrategy {
	if len(tasks) == 1 {
		return StrategySequential
	}
	for _, t := range tasks {
		if len(t.Dependencies) > 0 {
			return StrategyMixed
		}
	}
	return StrategyParallel
}
