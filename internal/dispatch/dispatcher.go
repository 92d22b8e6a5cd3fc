// Package dispatch turns inbound user messages into routed, executed plans,
// one at a time per session.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/vibe/internal/agent"
	"github.com/mtzanidakis/vibe/internal/llm"
	"github.com/mtzanidakis/vibe/internal/router"
	"github.com/mtzanidakis/vibe/internal/swarm"
)

var ErrEmptyMessage = errors.New("empty message")

// AgentLister provides the agents available for routing.
type AgentLister interface {
	ListAgents() []agent.Agent
}

type Request struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type Response struct {
	RunID         string                      `json:"run_id"`
	SessionID     string                      `json:"session_id"`
	Route         *router.Result              `json:"route,omitempty"`
	Plan          *agent.SupervisorPlan       `json:"plan,omitempty"`
	Results       map[string]swarm.TaskResult `json:"results,omitempty"`
	Output        string                      `json:"output,omitempty"`
	ContextSwitch bool                        `json:"context_switch,omitempty"`
	Error         string                      `json:"error,omitempty"`

	err error
}

type job struct {
	ctx   context.Context
	runID string
	req   Request
	done  chan *Response
}

type Dispatcher struct {
	router   *router.Router
	coord    *swarm.Coordinator
	agents   AgentLister
	sessions *SessionTracker

	mu     sync.Mutex
	queues map[string]*SessionQueue
}

func New(r *router.Router, c *swarm.Coordinator, agents AgentLister) *Dispatcher {
	return &Dispatcher{
		router:   r,
		coord:    c,
		agents:   agents,
		sessions: NewSessionTracker(),
		queues:   make(map[string]*SessionQueue),
	}
}

func (d *Dispatcher) Sessions() *SessionTracker {
	return d.sessions
}

func normalize(req *Request) error {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return ErrEmptyMessage
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	return nil
}

// Route only routes the message, using the session's history.
func (d *Dispatcher) Route(ctx context.Context, req Request) (*router.Result, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}
	return d.router.Route(ctx, req.Message, d.history(req.SessionID), d.agents.ListAgents())
}

// Handle routes and executes req and waits for the outcome. Requests of
// the same session run one after another in arrival order.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (*Response, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}
	j := &job{ctx: ctx, runID: uuid.New().String(), req: req, done: make(chan *Response, 1)}
	d.enqueue(j)

	select {
	case resp := <-j.done:
		return resp, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit queues req and returns its run id without waiting. The run
// outlives ctx's cancellation.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (string, string, error) {
	if err := normalize(&req); err != nil {
		return "", "", err
	}
	j := &job{ctx: context.WithoutCancel(ctx), runID: uuid.New().String(), req: req, done: make(chan *Response, 1)}
	d.enqueue(j)
	return j.runID, req.SessionID, nil
}

func (d *Dispatcher) enqueue(j *job) {
	go d.processQueue(d.push(j))
}

// push appends j to its session's queue. Lookup and append happen under
// d.mu, so PruneSessions never drops a queue that has just received work.
func (d *Dispatcher) push(j *job) *SessionQueue {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[j.req.SessionID]
	if !ok {
		q = NewSessionQueue(j.req.SessionID)
		d.queues[j.req.SessionID] = q
	}
	q.Enqueue(j)
	return q
}

func (d *Dispatcher) processQueue(q *SessionQueue) {
	if !q.TryLock() {
		return // Already processing
	}
	for {
		j, ok := q.Dequeue()
		if !ok {
			if q.UnlockIfEmpty() {
				return
			}
			continue
		}
		j.done <- d.execute(j)
	}
}

// PruneSessions forgets sessions idle for longer than idle, skipping those
// with queued or running requests. It returns how many were removed.
func (d *Dispatcher) PruneSessions(idle time.Duration) int {
	removed := 0
	for _, id := range d.sessions.ListIdle(idle) {
		d.mu.Lock()
		if q, ok := d.queues[id]; ok {
			if !q.Idle() {
				d.mu.Unlock()
				continue
			}
			delete(d.queues, id)
		}
		d.mu.Unlock()
		d.sessions.Remove(id)
		removed++
	}
	return removed
}

func (d *Dispatcher) history(sessionID string) []llm.Message {
	if s := d.sessions.Get(sessionID); s != nil {
		return s.History
	}
	return nil
}

func (d *Dispatcher) execute(j *job) *Response {
	ctx, req := j.ctx, j.req
	resp := &Response{RunID: j.runID, SessionID: req.SessionID}
	start := time.Now()

	session := d.sessions.Get(req.SessionID)
	var history []llm.Message
	if session != nil {
		history = session.History
	}

	res, err := d.router.Route(ctx, req.Message, history, d.agents.ListAgents())
	if err != nil {
		resp.fail(fmt.Errorf("route: %w", err))
		return resp
	}
	resp.Route = res

	plan := res.Plan
	if res.Mode == router.ModeSingle {
		if res.Message == "" {
			resp.fail(ErrEmptyMessage)
			return resp
		}
		if session != nil && session.CurrentAgent != "" && session.CurrentAgent != res.Agent.Name {
			if current, ok := d.agent(session.CurrentAgent); ok {
				resp.ContextSwitch = d.router.DetectContextSwitch(res.Message, current)
			}
		}
		plan = singlePlan(res.Agent.Name, res.Message)
	}
	resp.Plan = plan

	results, err := d.coord.ExecuteRun(ctx, j.runID, plan, req.SessionID, res.Message)
	resp.Results = results
	resp.Output = output(plan, results)
	if err != nil {
		resp.fail(err)
	}

	current := ""
	if res.Agent != nil {
		current = res.Agent.Name
	}
	d.sessions.Record(req.SessionID, j.runID, current, req.Message, resp.Output)

	slog.Info("request handled",
		"session", req.SessionID,
		"run", j.runID,
		"mode", res.Mode,
		"stage", res.Stage,
		"tasks", len(plan.Tasks),
		"duration", time.Since(start),
		"error", resp.Error,
	)
	return resp
}

func (r *Response) fail(err error) {
	r.err = err
	r.Error = err.Error()
}

func (d *Dispatcher) agent(name string) (agent.Agent, bool) {
	for _, a := range d.agents.ListAgents() {
		if a.Name == name {
			return a, true
		}
	}
	return agent.Agent{}, false
}

func singlePlan(agentName, message string) *agent.SupervisorPlan {
	tasks := []agent.TaskAssignment{{
		ID:          "task-1",
		Description: message,
		Agent:       agentName,
		Priority:    agent.PriorityMedium,
	}}
	return &agent.SupervisorPlan{Supervisor: agentName, Tasks: tasks, Strategy: agent.StrategyFor(tasks)}
}

// output joins the successful task outputs in plan order. A single task's
// output is returned as is.
func output(plan *agent.SupervisorPlan, results map[string]swarm.TaskResult) string {
	if len(plan.Tasks) == 1 {
		return results[plan.Tasks[0].ID].Output
	}
	var sb strings.Builder
	for _, t := range plan.Tasks {
		r, ok := results[t.ID]
		if !ok || !r.Success() {
			continue
		}
		fmt.Fprintf(&sb, "## %s (%s)\n\n%s\n\n", t.Description, t.Agent, r.Output)
	}
	return strings.TrimSpace(sb.String())
}
