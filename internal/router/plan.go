package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/vibe/internal/agent"
	"github.com/mtzanidakis/vibe/internal/llm"
	"github.com/mtzanidakis/vibe/internal/swarm"
)

var supervisorRoles = []string{"supervisor", "coordinator", "manager", "orchestrator", "team lead"}

// pickSupervisor returns the first agent whose name or description
// mentions a coordinating role, or the first agent.
func pickSupervisor(agents []agent.Agent) agent.Agent {
	for _, a := range agents {
		text := strings.ToLower(a.Name + " " + a.Description)
		for _, role := range supervisorRoles {
			if strings.Contains(text, role) {
				return a
			}
		}
	}
	return agents[0]
}

type decomposedTask struct {
	Description  string   `json:"description"`
	AssignedTo   string   `json:"assigned_to"`
	Dependencies []string `json:"dependencies"`
	Priority     string   `json:"priority"`
}

type decomposition struct {
	Tasks []decomposedTask `json:"tasks"`
}

func (d *decomposition) Validate() error {
	if len(d.Tasks) == 0 {
		return agent.ErrEmptyPlan
	}
	for i, t := range d.Tasks {
		if strings.TrimSpace(t.Description) == "" {
			return fmt.Errorf("task %d has no description", i+1)
		}
	}
	return nil
}

// buildPlan decomposes message into a supervisor plan. A generation or
// parsing failure yields a single task covering the whole request; a
// dependency cycle is returned as *swarm.CycleError.
func (r *Router) buildPlan(ctx context.Context, message string, agents []agent.Agent) (*agent.SupervisorPlan, error) {
	supervisor := pickSupervisor(agents)
	plan, err := r.decompose(ctx, message, agents)
	if err != nil {
		var cycle *swarm.CycleError
		if errors.As(err, &cycle) {
			return nil, fmt.Errorf("decompose: %w", err)
		}
		slog.Warn("task decomposition failed, using single task", "error", err)
		plan = fallbackPlan(message, agents)
	}
	plan.Supervisor = supervisor.Name
	return plan, nil
}

func fallbackPlan(message string, agents []agent.Agent) *agent.SupervisorPlan {
	tasks := []agent.TaskAssignment{{
		ID:          taskID(0),
		Description: message,
		Agent:       agents[0].Name,
		Priority:    agent.PriorityMedium,
	}}
	return &agent.SupervisorPlan{Tasks: tasks, Strategy: agent.StrategyFor(tasks)}
}

func (r *Router) decompose(ctx context.Context, message string, agents []agent.Agent) (*agent.SupervisorPlan, error) {
	if r.gen == nil {
		return nil, errors.New("no text generator configured")
	}
	resp, err := r.gen.Generate(ctx, []llm.Message{
		llm.System(decomposePrompt(agents)),
		llm.User(message),
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	var d decomposition
	if err := llm.Decode(resp.Content, &d); err != nil {
		return nil, err
	}

	tasks := make([]agent.TaskAssignment, len(d.Tasks))
	byDesc := make(map[string]string, len(d.Tasks))
	for i, t := range d.Tasks {
		id := taskID(i)
		tasks[i] = agent.TaskAssignment{
			ID:          id,
			Description: strings.TrimSpace(t.Description),
			Agent:       assignee(t.AssignedTo, agents).Name,
			Priority:    agent.ParsePriority(t.Priority),
		}
		byDesc[descKey(t.Description)] = id
		byDesc[id] = id
	}
	for i, t := range d.Tasks {
		seen := make(map[string]bool)
		for _, dep := range t.Dependencies {
			id, ok := byDesc[descKey(dep)]
			if !ok || id == tasks[i].ID || seen[id] {
				slog.Debug("dropping task dependency", "task", tasks[i].ID, "dependency", dep)
				continue
			}
			seen[id] = true
			tasks[i].Dependencies = append(tasks[i].Dependencies, id)
		}
	}

	plan := &agent.SupervisorPlan{Tasks: tasks, Strategy: agent.StrategyFor(tasks)}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if _, err := swarm.BuildLevels(tasks); err != nil {
		return nil, err
	}
	return plan, nil
}

func taskID(i int) string {
	return fmt.Sprintf("task-%d", i+1)
}

func descKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// assignee maps a model-provided agent name to an agent, falling back to
// the first agent.
func assignee(name string, agents []agent.Agent) agent.Agent {
	name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "@"))
	for _, a := range agents {
		if a.Name == name {
			return a
		}
	}
	for _, a := range agents {
		if strings.EqualFold(a.Name, name) {
			return a
		}
	}
	return agents[0]
}

func decomposePrompt(agents []agent.Agent) string {
	var sb strings.Builder
	sb.WriteString("You are the supervisor of a team of specialist agents. Break the user's request into subtasks,\n")
	sb.WriteString("each handled by exactly one agent. Keep the number of subtasks small and only declare a dependency\n")
	sb.WriteString("when a subtask needs the output of another.\n\n")
	sb.WriteString("Agents:\n")
	for _, a := range agents {
		fmt.Fprintf(&sb, "- %s: %s\n", a.Name, a.Description)
	}
	sb.WriteString("\nRespond with ONLY a JSON object:\n")
	sb.WriteString(`{"tasks": [{"description": "...", "assigned_to": "<agent name>", ` +
		`"dependencies": ["<description of another task>"], "priority": "low|medium|high"}]}`)
	return sb.String()
}
