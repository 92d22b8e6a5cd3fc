package registry

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/mtzanidakis/vibe/internal/config"
	"github.com/mtzanidakis/vibe/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := New(s, []config.AgentDefinition{
		{Name: "Writer", Description: "writes blog articles", Tools: []string{"Write"}},
		{Name: "coder", Description: "code specialist", Instructions: "Write Go."},
	})
	return reg, s
}

func TestSync(t *testing.T) {
	reg, s := newTestRegistry(t)
	if err := reg.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	agents, err := s.ListAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].Name != "Writer" || agents[1].Name != "coder" {
		t.Errorf("expected config order Writer, coder; got %s, %s", agents[0].Name, agents[1].Name)
	}
}

func TestSyncDeletesStale(t *testing.T) {
	reg, s := newTestRegistry(t)
	if err := s.SaveAgent(&store.Agent{Name: "stale"}); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	if err := reg.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	stale, err := s.GetAgent("stale")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if stale != nil {
		t.Error("expected stale agent to be deleted")
	}
}

func TestGetAgentByName(t *testing.T) {
	reg, _ := newTestRegistry(t)

	a, err := reg.GetAgentByName("coder")
	if err != nil {
		t.Fatalf("get coder: %v", err)
	}
	if a.Instructions != "Write Go." {
		t.Errorf("expected instructions 'Write Go.', got %q", a.Instructions)
	}

	// Falls back to case-insensitive match
	a, err = reg.GetAgentByName("writer")
	if err != nil {
		t.Fatalf("get writer: %v", err)
	}
	if a.Name != "Writer" {
		t.Errorf("expected Writer, got %s", a.Name)
	}

	if _, err := reg.GetAgentByName("nobody"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestExactMatchWinsOverCaseInsensitive(t *testing.T) {
	reg := New(nil, []config.AgentDefinition{
		{Name: "Ops", Description: "first"},
		{Name: "ops", Description: "second"},
	})

	a, err := reg.GetAgentByName("ops")
	if err != nil {
		t.Fatalf("get ops: %v", err)
	}
	if a.Description != "second" {
		t.Errorf("expected the exact match, got %q", a.Description)
	}
}

func TestListAgentsReturnsCopy(t *testing.T) {
	reg, _ := newTestRegistry(t)

	list := reg.ListAgents()
	list[0].Name = "mutated"

	if got := reg.ListAgents()[0].Name; got != "Writer" {
		t.Errorf("expected registry unchanged, got %s", got)
	}
}

func TestReload(t *testing.T) {
	reg, s := newTestRegistry(t)
	if err := reg.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if err := reg.Reload([]config.AgentDefinition{{Name: "designer", Description: "ui"}}); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if n := len(reg.ListAgents()); n != 1 {
		t.Errorf("expected 1 agent in memory, got %d", n)
	}
	agents, err := s.ListAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "designer" {
		t.Errorf("expected only designer stored, got %+v", agents)
	}
}
