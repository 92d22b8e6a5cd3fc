package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/vibe/internal/agent"
	"github.com/mtzanidakis/vibe/internal/llm"
)

const fallbackConfidence = 0.5

type semanticAnswer struct {
	AgentIndex *int    `json:"agentIndex"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (a *semanticAnswer) Validate() error {
	if a.AgentIndex == nil {
		return errors.New("missing agentIndex")
	}
	a.Confidence = min(max(a.Confidence, 0), 1)
	return nil
}

// semanticMatch asks the model to pick an agent. It never fails: any
// error yields the first agent at confidence 0.5.
func (r *Router) semanticMatch(ctx context.Context, message string, history []llm.Message, agents []agent.Agent) Match {
	fallback := Match{Agent: agents[0], Confidence: fallbackConfidence, Reasoning: "fallback"}
	if r.gen == nil {
		return fallback
	}

	resp, err := r.gen.Generate(ctx, []llm.Message{
		llm.System(semanticPrompt(agents, history)),
		llm.User(message),
	})
	if err != nil {
		slog.Warn("semantic routing failed, using fallback", "error", err)
		return fallback
	}

	var ans semanticAnswer
	if err := llm.Decode(resp.Content, &ans); err != nil {
		slog.Warn("unparseable semantic routing answer, using fallback", "error", err)
		return fallback
	}
	idx := *ans.AgentIndex
	if idx < 0 || idx >= len(agents) {
		slog.Warn("semantic routing index out of range, using fallback", "index", idx, "agents", len(agents))
		return fallback
	}
	return Match{Agent: agents[idx], Confidence: ans.Confidence, Reasoning: ans.Reasoning}
}

func semanticPrompt(agents []agent.Agent, history []llm.Message) string {
	var sb strings.Builder
	sb.WriteString("You are a message router. Given the user's message, determine which agent should handle it.\n\n")
	sb.WriteString("Available agents:\n")
	for i, a := range agents {
		fmt.Fprintf(&sb, "%d. %s: %s", i, a.Name, a.Description)
		if len(a.Tools) > 0 {
			fmt.Fprintf(&sb, " (tools: %s)", strings.Join(a.Tools, ", "))
		}
		sb.WriteString("\n")
	}
	if len(history) > 0 {
		sb.WriteString("\nRecent conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}
	sb.WriteString("\nRespond with ONLY a JSON object: ")
	sb.WriteString(`{"agentIndex": <number from the list>, "confidence": <0.0-1.0>, "reasoning": "<short explanation>"}`)
	return sb.String()
}
