package swarm

import (
	"fmt"
	"strings"
	"time"

	"github.com/mtzanidakis/vibe/internal/agent"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Run statuses as stored in plan runs.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Task is the runtime state of one TaskAssignment. It belongs to a single
// ExecutePlan call.
type Task struct {
	agent.TaskAssignment
	Level       int
	Status      TaskStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Output      string
	Error       string
}

// TaskResult is the settled outcome of a task.
type TaskResult struct {
	TaskID      string        `json:"task_id"`
	Agent       string        `json:"agent"`
	Status      TaskStatus    `json:"status"`
	Output      string        `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

func (r TaskResult) Success() bool {
	return r.Status == StatusCompleted
}

// CycleError reports tasks whose dependencies can never be satisfied.
type CycleError struct {
	Stuck []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among tasks: %s", strings.Join(e.Stuck, ", "))
}

// ExecutionError aborts a non-parallel plan after a level with failed
// tasks, or a plan whose context ended between levels. Results holds every
// task that settled before the abort.
type ExecutionError struct {
	Level   int
	Failed  []string
	Results map[string]TaskResult
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plan aborted before level %d: %v", e.Level, e.Err)
	}
	return fmt.Sprintf("level %d failed: %s", e.Level, strings.Join(e.Failed, ", "))
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
