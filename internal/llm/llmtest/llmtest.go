// Package llmtest provides Generator doubles for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/mtzanidakis/vibe/internal/llm"
)

// Mock is a testify mock Generator.
type Mock struct {
	mock.Mock
}

func (m *Mock) Generate(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	args := m.Called(ctx, messages)
	resp, _ := args.Get(0).(*llm.Response)
	return resp, args.Error(1)
}

// Reply returns a Generator that always answers text.
func Reply(text string) llm.Generator {
	return llm.GeneratorFunc(func(context.Context, []llm.Message) (*llm.Response, error) {
		return &llm.Response{Content: text}, nil
	})
}

// Fail returns a Generator that always fails with err.
func Fail(err error) llm.Generator {
	return llm.GeneratorFunc(func(context.Context, []llm.Message) (*llm.Response, error) {
		return nil, err
	})
}

// Recorder wraps a Generator and records every call.
type Recorder struct {
	Next llm.Generator

	mu    sync.Mutex
	calls [][]llm.Message
}

func (r *Recorder) Generate(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]llm.Message(nil), messages...))
	r.mu.Unlock()
	return r.Next.Generate(ctx, messages)
}

func (r *Recorder) Calls() [][]llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]llm.Message(nil), r.calls...)
}
