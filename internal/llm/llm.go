// Package llm is the provider-agnostic text generation capability used by
// the router, the classifier and the coordinator.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mtzanidakis/vibe/internal/config"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Generator produces a completion for a list of messages.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (*Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, messages []Message) (*Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, messages []Message) (*Response, error) {
	return f(ctx, messages)
}

// New builds the configured provider, wrapped with the configured call
// timeout.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	var (
		g   Generator
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "anthropic", "":
		g, err = NewAnthropic(cfg)
	case "openai":
		g, err = NewOpenAI(cfg)
	case "gemini":
		g, err = NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(g, cfg.Timeout), nil
}

// WithTimeout bounds every Generate call. A non-positive timeout returns g
// unchanged.
func WithTimeout(g Generator, timeout time.Duration) Generator {
	if timeout <= 0 {
		return g
	}
	return GeneratorFunc(func(ctx context.Context, messages []Message) (*Response, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return g.Generate(ctx, messages)
	})
}

// splitSystem joins all system messages into one prompt and returns the
// remaining turns in order. Providers take the system prompt separately.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
