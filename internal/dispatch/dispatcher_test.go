package dispatch

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mtzanidakis/vibe/internal/bus"
	"github.com/mtzanidakis/vibe/internal/config"
	"github.com/mtzanidakis/vibe/internal/llm"
	"github.com/mtzanidakis/vibe/internal/registry"
	"github.com/mtzanidakis/vibe/internal/router"
	"github.com/mtzanidakis/vibe/internal/swarm"
)

var defs = []config.AgentDefinition{
	{Name: "Writer", Description: "writes blog articles and content pieces", Tools: []string{"Write"}},
	{Name: "Coder", Description: "builds and debugs software", Tools: []string{"Bash"}},
}

const planJSON = `{"tasks": [
	{"description": "outline the post", "assigned_to": "Writer"},
	{"description": "build the demo", "assigned_to": "Coder", "dependencies": ["outline the post"]}
]}`

// fakeModel answers routing prompts with low confidence, decomposition
// prompts with planJSON and task prompts with "done: <task>".
func fakeModel(taskDelay time.Duration, inflight, peak *atomic.Int32) llm.Generator {
	return llm.GeneratorFunc(func(_ context.Context, messages []llm.Message) (*llm.Response, error) {
		system := messages[0].Content
		switch {
		case strings.Contains(system, "message router"):
			return &llm.Response{Content: `{"agentIndex": 0, "confidence": 0.2, "reasoning": "unsure"}`}, nil
		case strings.Contains(system, "supervisor of a team"):
			return &llm.Response{Content: planJSON}, nil
		case strings.Contains(system, "You classify"):
			return &llm.Response{Content: `{"complexity": "SIMPLE", "confidence": 0.9, "reasoning": "small"}`}, nil
		}
		if inflight != nil {
			n := inflight.Add(1)
			defer inflight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
		}
		time.Sleep(taskDelay)
		prompt := messages[len(messages)-1].Content
		_, rest, _ := strings.Cut(prompt, "## Your Task\n\n")
		desc, _, _ := strings.Cut(rest, "\n")
		return &llm.Response{Content: "done: " + desc}, nil
	})
}

func newTestDispatcher(t *testing.T, gen llm.Generator) *Dispatcher {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	reg := registry.New(nil, defs)
	rtr := router.New(gen, config.RouterConfig{KeywordThreshold: 0.9, SemanticThreshold: 0.8, HistoryTurns: 3})
	coord := swarm.NewCoordinator(b, reg, gen)
	return New(rtr, coord, reg)
}

func handle(t *testing.T, d *Dispatcher, req Request) *Response {
	t.Helper()
	resp, err := d.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle %q: %v", req.Message, err)
	}
	return resp
}

func TestHandleSingleAgent(t *testing.T) {
	d := newTestDispatcher(t, fakeModel(0, nil, nil))

	resp := handle(t, d, Request{SessionID: "s1", Message: "please write a blog article about cats"})
	if resp.Route.Mode != router.ModeSingle {
		t.Errorf("expected single mode, got %s", resp.Route.Mode)
	}
	if resp.Output != "done: please write a blog article about cats" {
		t.Errorf("unexpected output %q", resp.Output)
	}
	if len(resp.Plan.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(resp.Plan.Tasks))
	}
	if resp.Plan.Tasks[0].Agent != "Writer" {
		t.Errorf("expected Writer, got %s", resp.Plan.Tasks[0].Agent)
	}
	if resp.RunID == "" {
		t.Error("expected a run id")
	}

	s := d.Sessions().Get("s1")
	if s == nil {
		t.Fatal("expected session s1")
	}
	if s.CurrentAgent != "Writer" {
		t.Errorf("expected current agent Writer, got %s", s.CurrentAgent)
	}
	if s.LastRun != resp.RunID {
		t.Errorf("expected last run %s, got %s", resp.RunID, s.LastRun)
	}
	if len(s.History) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(s.History))
	}
	if s.History[1].Role != llm.RoleAssistant {
		t.Errorf("expected assistant turn, got %s", s.History[1].Role)
	}
}

func TestHandleSupervisorPlan(t *testing.T) {
	d := newTestDispatcher(t, fakeModel(0, nil, nil))

	resp := handle(t, d, Request{Message: "Build a demo app and a blog post about it end to end"})
	if resp.SessionID == "" {
		t.Error("expected a generated session id")
	}
	if resp.Route.Mode != router.ModeSupervisor {
		t.Errorf("expected supervisor mode, got %s", resp.Route.Mode)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	outline := strings.Index(resp.Output, "done: outline the post")
	build := strings.Index(resp.Output, "done: build the demo")
	if outline < 0 || build < 0 {
		t.Fatalf("expected both task outputs, got %q", resp.Output)
	}
	if outline > build {
		t.Errorf("expected outline before build, got %q", resp.Output)
	}
}

func TestHandleEmptyMessage(t *testing.T) {
	d := newTestDispatcher(t, fakeModel(0, nil, nil))

	if _, err := d.Handle(context.Background(), Request{SessionID: "s1", Message: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}

	resp, err := d.Handle(context.Background(), Request{SessionID: "s1", Message: "@Coder"})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if resp.Error != ErrEmptyMessage.Error() {
		t.Errorf("expected response error %q, got %q", ErrEmptyMessage, resp.Error)
	}
}

func TestHandleKeepsTypedErrors(t *testing.T) {
	cyclic := llm.GeneratorFunc(func(_ context.Context, messages []llm.Message) (*llm.Response, error) {
		system := messages[0].Content
		switch {
		case strings.Contains(system, "message router"):
			return &llm.Response{Content: `{"agentIndex": 0, "confidence": 0.2, "reasoning": "unsure"}`}, nil
		case strings.Contains(system, "supervisor of a team"):
			return &llm.Response{Content: `{"tasks": [
				{"description": "a", "assigned_to": "Writer", "dependencies": ["b"]},
				{"description": "b", "assigned_to": "Coder", "dependencies": ["a"]}
			]}`}, nil
		}
		return nil, errors.New("model down")
	})
	d := newTestDispatcher(t, cyclic)

	resp, err := d.Handle(context.Background(), Request{SessionID: "s1", Message: "Build a tiny tool from scratch"})
	var cycle *swarm.CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected *swarm.CycleError, got %v", err)
	}
	if !slices.Equal(cycle.Stuck, []string{"task-1", "task-2"}) {
		t.Errorf("expected stuck [task-1 task-2], got %v", cycle.Stuck)
	}
	if !strings.Contains(resp.Error, "dependency cycle") {
		t.Errorf("expected cycle in response error, got %q", resp.Error)
	}

	resp, err = d.Handle(context.Background(), Request{SessionID: "s2", Message: "@Writer write a haiku"})
	var execErr *swarm.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *swarm.ExecutionError, got %v", err)
	}
	if !slices.Equal(execErr.Failed, []string{"task-1"}) {
		t.Errorf("expected failed [task-1], got %v", execErr.Failed)
	}
	if resp.Error != err.Error() {
		t.Errorf("expected response error %q, got %q", err.Error(), resp.Error)
	}
}

func TestHandleSerializesSession(t *testing.T) {
	var inflight, peak atomic.Int32
	d := newTestDispatcher(t, fakeModel(20*time.Millisecond, &inflight, &peak))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Handle(context.Background(), Request{SessionID: "same", Message: "@Writer write a haiku"}); err != nil {
				t.Errorf("handle: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p != 1 {
		t.Errorf("expected one request at a time, got peak %d", p)
	}
	if runs := d.Sessions().Get("same").Runs; runs != 4 {
		t.Errorf("expected 4 runs, got %d", runs)
	}
}

func TestSubmitRunsInBackground(t *testing.T) {
	d := newTestDispatcher(t, fakeModel(0, nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	runID, sessionID, err := d.Submit(ctx, Request{Message: "@Writer write a haiku"})
	cancel()
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if runID == "" {
		t.Fatal("expected a run id")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if s := d.Sessions().Get(sessionID); s != nil && s.LastRun == runID {
			if got := s.History[1].Content; got != "done: write a haiku" {
				t.Errorf("expected 'done: write a haiku', got %q", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("submitted run never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleDetectsContextSwitch(t *testing.T) {
	d := newTestDispatcher(t, fakeModel(0, nil, nil))

	handle(t, d, Request{SessionID: "s1", Message: "please write a blog article about cats"})
	resp := handle(t, d, Request{SessionID: "s1", Message: "@Coder fix the database bug"})
	if !resp.ContextSwitch {
		t.Error("expected a context switch")
	}
	if got := d.Sessions().Get("s1").CurrentAgent; got != "Coder" {
		t.Errorf("expected current agent Coder, got %s", got)
	}
}

func TestRouteOnly(t *testing.T) {
	d := newTestDispatcher(t, fakeModel(0, nil, nil))

	res, err := d.Route(context.Background(), Request{Message: "please write a blog article about cats"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Agent.Name != "Writer" {
		t.Errorf("expected Writer, got %s", res.Agent.Name)
	}
	if d.Sessions().Get("s1") != nil {
		t.Error("expected routing alone not to create a session")
	}
}
