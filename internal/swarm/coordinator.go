// Package swarm executes supervisor plans level by level.
package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/vibe/internal/agent"
	"github.com/mtzanidakis/vibe/internal/bus"
	"github.com/mtzanidakis/vibe/internal/collab"
	"github.com/mtzanidakis/vibe/internal/events"
	"github.com/mtzanidakis/vibe/internal/llm"
	"github.com/mtzanidakis/vibe/internal/store"
)

// Directory resolves agents by name.
type Directory interface {
	GetAgentByName(name string) (*agent.Agent, error)
}

// RunStore records plan runs and their tasks.
type RunStore interface {
	SavePlanRun(r *store.PlanRun) error
	FinishPlanRun(id, status, errText string) error
	SaveTaskRecord(r *store.TaskRecord) error
}

// Coordinator runs plans. It holds no per-run state, so one instance can
// serve concurrent sessions.
type Coordinator struct {
	bus    *bus.Bus
	dir    Directory
	gen    llm.Generator
	events events.Publisher
	store  RunStore

	mu          sync.RWMutex
	taskTimeout time.Duration
}

type Option func(*Coordinator)

func WithEvents(p events.Publisher) Option {
	return func(c *Coordinator) { c.events = p }
}

func WithStore(s RunStore) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithTaskTimeout bounds every task. Zero means no bound beyond the
// caller's context.
func WithTaskTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.taskTimeout = d }
}

func NewCoordinator(b *bus.Bus, dir Directory, gen llm.Generator, opts ...Option) *Coordinator {
	c := &Coordinator{bus: b, dir: dir, gen: gen}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) SetTaskTimeout(d time.Duration) {
	c.mu.Lock()
	c.taskTimeout = d
	c.mu.Unlock()
}

func (c *Coordinator) timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.taskTimeout
}

// ExecutePlan runs plan under a new run id. See ExecuteRun.
func (c *Coordinator) ExecutePlan(ctx context.Context, plan *agent.SupervisorPlan, sessionID, originalMessage string) (map[string]TaskResult, error) {
	return c.ExecuteRun(ctx, uuid.New().String(), plan, sessionID, originalMessage)
}

// ExecuteRun validates and levels the plan, then runs it level by level.
// Tasks of a level run concurrently and all settle before the next level
// starts. When a level has failures and the strategy is not parallel the
// run stops with an *ExecutionError carrying the settled results. A cycle
// is reported as *CycleError before anything runs.
func (c *Coordinator) ExecuteRun(ctx context.Context, runID string, plan *agent.SupervisorPlan, sessionID, originalMessage string) (map[string]TaskResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	levels, err := BuildLevels(plan.Tasks)
	if err != nil {
		return nil, err
	}

	r := c.newRun(runID, plan, sessionID, originalMessage, levels)
	defer r.supervisor.Destroy()

	slog.Info("starting plan",
		"run", runID,
		"session", sessionID,
		"tasks", len(plan.Tasks),
		"levels", len(levels),
		"strategy", plan.Strategy,
	)
	r.saveRun()
	r.emit(events.PlanStarted{Supervisor: plan.Supervisor, Strategy: string(plan.Strategy), Levels: levels})

	runErr := r.execute(ctx)

	results := r.results()
	status, errText := RunCompleted, ""
	if runErr != nil {
		status, errText = RunFailed, runErr.Error()
	}
	completed, failed := r.counts()
	r.finishRun(status, errText)
	r.emit(events.PlanFinished{Status: status, Completed: completed, Failed: failed, Error: errText})
	slog.Info("plan finished", "run", runID, "status", status, "completed", completed, "failed", failed)

	if runErr != nil {
		var execErr *ExecutionError
		if errors.As(runErr, &execErr) {
			execErr.Results = results
		}
		return results, runErr
	}
	return results, nil
}

// run is the state of one ExecuteRun call.
type run struct {
	c          *Coordinator
	id         string
	sessionID  string
	request    string
	plan       *agent.SupervisorPlan
	levels     [][]string
	supervisor *collab.Facade

	mu    sync.Mutex
	tasks map[string]*Task
}

func (c *Coordinator) newRun(id string, plan *agent.SupervisorPlan, sessionID, request string, levels [][]string) *run {
	r := &run{
		c:         c,
		id:        id,
		sessionID: sessionID,
		request:   request,
		plan:      plan,
		levels:    levels,
		tasks:     make(map[string]*Task, len(plan.Tasks)),
	}
	levelOf := make(map[string]int, len(plan.Tasks))
	for i, level := range levels {
		for _, id := range level {
			levelOf[id] = i
		}
	}
	for _, t := range plan.Tasks {
		r.tasks[t.ID] = &Task{TaskAssignment: t, Level: levelOf[t.ID], Status: StatusPending}
	}
	supervisor := plan.Supervisor
	if supervisor == "" {
		supervisor = "supervisor"
	}
	r.supervisor = collab.New(c.bus, supervisor, sessionID)
	return r
}

func (r *run) execute(ctx context.Context) error {
	for i, level := range r.levels {
		if err := ctx.Err(); err != nil {
			slog.Info("plan cancelled", "run", r.id, "level", i)
			return &ExecutionError{Level: i, Err: err}
		}

		slog.Info("executing level", "run", r.id, "level", i, "tasks", level)
		var wg sync.WaitGroup
		for _, id := range level {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				r.runTask(ctx, id)
			}(id)
		}
		wg.Wait()

		failed := r.failedIn(level)
		r.emit(events.LevelCompleted{Level: i, Tasks: level, Failed: failed})
		slog.Info("level completed", "run", r.id, "level", i, "failed", len(failed))

		if len(failed) > 0 && r.plan.Strategy != agent.StrategyParallel {
			return &ExecutionError{Level: i, Failed: failed}
		}
	}
	return nil
}

func (r *run) runTask(ctx context.Context, id string) {
	task := r.start(id)
	r.emit(events.TaskAssigned{TaskID: id, Agent: task.Agent, Description: task.Description, Level: task.Level})
	r.saveTask(id)
	r.progress()

	if _, err := r.supervisor.AssignTask(task.Agent, task.TaskAssignment, r.request); err != nil {
		slog.Warn("publish task assignment failed", "run", r.id, "task", id, "error", err)
	}

	output, err := r.perform(ctx, task)

	res := r.settle(id, output, err)
	if err != nil {
		slog.Warn("task failed", "run", r.id, "task", id, "agent", task.Agent, "error", err)
	}
	r.emit(events.TaskCompleted{
		TaskID:     id,
		Agent:      task.Agent,
		Success:    res.Success(),
		Output:     res.Output,
		Error:      res.Error,
		DurationMS: res.Duration.Milliseconds(),
	})
	r.saveTask(id)
	r.progress()
}

// perform does the agent's work for one task and reports through the
// agent's facade.
func (r *run) perform(ctx context.Context, task Task) (string, error) {
	a, err := r.c.dir.GetAgentByName(task.Agent)
	if err != nil {
		return "", err
	}

	f := collab.New(r.c.bus, a.Name, r.sessionID)
	defer f.Destroy()

	if _, err := f.UpdateStatus([]string{r.supervisor.Agent()}, bus.StatusUpdate{
		TaskID: task.ID,
		Status: bus.StatusWorking,
	}); err != nil {
		slog.Warn("publish status update failed", "task", task.ID, "error", err)
	}
	r.emit(events.StatusUpdated{TaskID: task.ID, Agent: a.Name, Status: string(bus.StatusWorking)})

	if d := r.c.timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	var messages []llm.Message
	if a.Instructions != "" {
		messages = append(messages, llm.System(a.Instructions))
	}
	messages = append(messages, llm.User(r.prompt(task)))

	resp, genErr := r.c.gen.Generate(ctx, messages)
	result := bus.TaskResult{TaskID: task.ID, DurationMS: time.Since(start).Milliseconds()}
	if genErr == nil && ctx.Err() != nil {
		genErr = ctx.Err()
	}
	if genErr != nil {
		result.Error = genErr.Error()
	} else {
		result.Success = true
		result.Output = resp.Content
	}
	if _, err := f.SendResult(r.supervisor.Agent(), result); err != nil {
		slog.Warn("publish task result failed", "task", task.ID, "error", err)
	}

	if genErr != nil {
		return "", fmt.Errorf("generate: %w", genErr)
	}
	return resp.Content, nil
}

// prompt is the user turn for a task: the original request, the subtask
// and the outputs of completed dependencies.
func (r *run) prompt(task Task) string {
	var sb strings.Builder
	sb.WriteString("## Original Request\n\n")
	sb.WriteString(r.request)
	sb.WriteString("\n\n## Your Task\n\n")
	sb.WriteString(task.Description)
	sb.WriteString("\n")

	if len(task.Dependencies) == 0 {
		return sb.String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	header := false
	for _, dep := range task.Dependencies {
		t := r.tasks[dep]
		if t == nil || t.Status != StatusCompleted || t.Output == "" {
			continue
		}
		if !header {
			sb.WriteString("\n## Context from Previous Tasks\n\n")
			header = true
		}
		fmt.Fprintf(&sb, "### %s (%s)\n\n%s\n\n", t.Description, t.Agent, t.Output)
	}
	return sb.String()
}

func (r *run) start(id string) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[id]
	t.Status = StatusRunning
	t.StartedAt = time.Now()
	return *t
}

func (r *run) settle(id, output string, err error) TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[id]
	t.CompletedAt = time.Now()
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
	} else {
		t.Status = StatusCompleted
		t.Output = output
	}
	return resultOf(t)
}

func resultOf(t *Task) TaskResult {
	return TaskResult{
		TaskID:      t.ID,
		Agent:       t.Agent,
		Status:      t.Status,
		Output:      t.Output,
		Error:       t.Error,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Duration:    t.CompletedAt.Sub(t.StartedAt),
	}
}

func (r *run) failedIn(level []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var failed []string
	for _, id := range level {
		if r.tasks[id].Status == StatusFailed {
			failed = append(failed, id)
		}
	}
	return failed
}

// results returns every settled task.
func (r *run) results() map[string]TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]TaskResult)
	for id, t := range r.tasks {
		if t.Status == StatusCompleted || t.Status == StatusFailed {
			out[id] = resultOf(t)
		}
	}
	return out
}

func (r *run) counts() (completed, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		switch t.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	return completed, failed
}

// snapshot counts task states. Callers hold r.mu.
func (r *run) snapshot() events.Progress {
	p := events.Progress{Total: len(r.tasks)}
	for _, t := range r.tasks {
		switch t.Status {
		case StatusRunning:
			p.Running++
		case StatusCompleted:
			p.Completed++
		case StatusFailed:
			p.Failed++
		}
	}
	if p.Total > 0 {
		p.Percent = float64(p.Completed+p.Failed) / float64(p.Total) * 100
	}
	return p
}

// progress emits a snapshot. The lock is held while publishing so
// snapshots reach observers in the order they were taken.
func (r *run) progress() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(r.snapshot())
}

func (r *run) emit(data events.Data) {
	if r.c.events == nil {
		return
	}
	r.c.events.Publish(events.Event{
		SessionID: r.sessionID,
		RunID:     r.id,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (r *run) saveRun() {
	if r.c.store == nil {
		return
	}
	tasks, _ := json.Marshal(r.plan.Tasks)
	levels, _ := json.Marshal(r.levels)
	err := r.c.store.SavePlanRun(&store.PlanRun{
		ID:         r.id,
		SessionID:  r.sessionID,
		Request:    r.request,
		Supervisor: r.plan.Supervisor,
		Strategy:   string(r.plan.Strategy),
		Status:     RunRunning,
		Tasks:      tasks,
		Levels:     levels,
	})
	if err != nil {
		slog.Warn("save plan run failed", "run", r.id, "error", err)
	}
}

func (r *run) finishRun(status, errText string) {
	if r.c.store == nil {
		return
	}
	if err := r.c.store.FinishPlanRun(r.id, status, errText); err != nil {
		slog.Warn("finish plan run failed", "run", r.id, "error", err)
	}
}

func (r *run) saveTask(id string) {
	if r.c.store == nil {
		return
	}
	r.mu.Lock()
	t := *r.tasks[id]
	r.mu.Unlock()

	rec := &store.TaskRecord{
		RunID:       r.id,
		TaskID:      t.ID,
		SessionID:   r.sessionID,
		Agent:       t.Agent,
		Description: t.Description,
		Status:      string(t.Status),
		Output:      t.Output,
		Error:       t.Error,
	}
	if !t.StartedAt.IsZero() {
		rec.StartedAt = &t.StartedAt
	}
	if !t.CompletedAt.IsZero() {
		rec.CompletedAt = &t.CompletedAt
	}
	if err := r.c.store.SaveTaskRecord(rec); err != nil {
		slog.Warn("save task record failed", "run", r.id, "task", id, "error", err)
	}
}
