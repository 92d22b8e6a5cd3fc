package config

import (
	"slices"
	"testing"
	"time"
)

func TestDiff_NoChanges(t *testing.T) {
	cfg := &Config{
		Agents: []AgentDefinition{{Name: "bot", Description: "test bot"}},
		Router: RouterConfig{KeywordThreshold: 0.9},
	}
	d := Diff(cfg, cfg)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
	if len(d.NonReloadable) != 0 {
		t.Errorf("expected no non-reloadable changes, got %v", d.NonReloadable)
	}
}

func TestDiff_Agents(t *testing.T) {
	old := &Config{Agents: []AgentDefinition{
		{Name: "bot", Description: "test"},
		{Name: "gone", Description: "old bot"},
	}}
	new := &Config{Agents: []AgentDefinition{
		{Name: "bot", Description: "changed"},
		{Name: "bot2", Description: "new bot"},
	}}

	d := Diff(old, new)
	if !slices.Equal(d.AgentsAdded, []string{"bot2"}) {
		t.Errorf("expected bot2 added, got %v", d.AgentsAdded)
	}
	if !slices.Equal(d.AgentsRemoved, []string{"gone"}) {
		t.Errorf("expected gone removed, got %v", d.AgentsRemoved)
	}
	if !slices.Equal(d.AgentsChanged, []string{"bot"}) {
		t.Errorf("expected bot changed, got %v", d.AgentsChanged)
	}
	if d.AgentsReordered {
		t.Error("expected no reorder")
	}
	if !d.HasChanges() {
		t.Error("expected changes")
	}
}

func TestDiff_AgentsReordered(t *testing.T) {
	old := &Config{Agents: []AgentDefinition{{Name: "a"}, {Name: "b"}}}
	new := &Config{Agents: []AgentDefinition{{Name: "b"}, {Name: "a"}}}

	d := Diff(old, new)
	if !d.AgentsReordered {
		t.Error("expected reorder to be detected")
	}
	if !d.HasChanges() {
		t.Error("expected changes")
	}
}

func TestDiff_RouterAndCoordinator(t *testing.T) {
	old := &Config{Coordinator: CoordinatorConfig{TaskTimeout: time.Minute}}
	new := &Config{
		Router:      RouterConfig{SemanticThreshold: 0.7},
		Coordinator: CoordinatorConfig{TaskTimeout: 2 * time.Minute},
	}

	d := Diff(old, new)
	if !d.RouterChanged || d.NewRouter.SemanticThreshold != 0.7 {
		t.Errorf("expected router change to 0.7, got %v %+v", d.RouterChanged, d.NewRouter)
	}
	if !d.CoordinatorChanged || d.NewCoordinator.TaskTimeout != 2*time.Minute {
		t.Errorf("expected coordinator change to 2m, got %v %+v", d.CoordinatorChanged, d.NewCoordinator)
	}
}

func TestDiff_NonReloadable(t *testing.T) {
	old := &Config{Web: WebConfig{Port: 8080}, LLM: LLMConfig{Model: "a"}}
	new := &Config{Web: WebConfig{Port: 9090}, LLM: LLMConfig{Model: "b"}}

	d := Diff(old, new)
	if d.HasChanges() {
		t.Error("expected no reloadable changes")
	}
	got := slices.Clone(d.NonReloadable)
	slices.Sort(got)
	if !slices.Equal(got, []string{"llm", "web.port"}) {
		t.Errorf("expected llm and web.port, got %v", d.NonReloadable)
	}
}
