// Package collab gives one agent in one session typed send helpers over the
// bus and semantic callbacks for what it receives.
package collab

import (
	"sync"
	"time"

	"github.com/mtzanidakis/vibe/internal/agent"
	"github.com/mtzanidakis/vibe/internal/bus"
)

type Facade struct {
	agent     string
	sessionID string
	bus       *bus.Bus
	sub       *bus.Subscription

	mu                sync.RWMutex
	taskAssigned      []func(bus.Message, bus.TaskAssignment)
	questionReceived  []func(bus.Message, bus.Question)
	resourceRequested []func(bus.Message, bus.ResourceRequest)
	handoffReceived   []func(bus.Message, bus.Handoff)
	statusUpdated     []func(bus.Message, bus.StatusUpdate)
	taskCompleted     []func(bus.Message, bus.TaskResult)
	destroyed         bool
}

// New subscribes agentName to every message type on b. Only messages of
// sessionID reach the callbacks.
func New(b *bus.Bus, agentName, sessionID string) *Facade {
	f := &Facade{
		agent:     agentName,
		sessionID: sessionID,
		bus:       b,
	}
	f.sub = b.Subscribe(agentName, bus.AllTypes, f.dispatch)
	return f
}

func (f *Facade) Agent() string     { return f.agent }
func (f *Facade) SessionID() string { return f.sessionID }

// Destroy removes this facade's subscription and drops its callbacks.
// Other facades of the same agent keep receiving.
func (f *Facade) Destroy() {
	f.sub.Cancel()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	f.taskAssigned = nil
	f.questionReceived = nil
	f.resourceRequested = nil
	f.handoffReceived = nil
	f.statusUpdated = nil
	f.taskCompleted = nil
}

func (f *Facade) send(t bus.MessageType, recipients []string, content bus.Payload, metadata map[string]string) (string, error) {
	msg := bus.Message{
		ID:         bus.NewID(),
		SessionID:  f.sessionID,
		Type:       t,
		Sender:     f.agent,
		Recipients: recipients,
		Timestamp:  time.Now(),
		Content:    content,
		Metadata:   metadata,
	}
	if err := f.bus.Publish(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (f *Facade) AssignTask(to string, task agent.TaskAssignment, context string) (string, error) {
	return f.send(bus.TypeTaskAssignment, []string{to}, bus.TaskAssignment{
		TaskID:       task.ID,
		Description:  task.Description,
		Dependencies: task.Dependencies,
		Priority:     task.Priority,
		Context:      context,
	}, nil)
}

func (f *Facade) SendResult(to string, result bus.TaskResult) (string, error) {
	return f.send(bus.TypeTaskResult, []string{to}, result, nil)
}

func (f *Facade) UpdateStatus(to []string, update bus.StatusUpdate) (string, error) {
	return f.send(bus.TypeStatusUpdate, to, update, nil)
}

func (f *Facade) Ask(to string, q bus.Question) (string, error) {
	return f.send(bus.TypeQuestion, []string{to}, q, nil)
}

func (f *Facade) RequestResource(to string, req bus.ResourceRequest) (string, error) {
	return f.send(bus.TypeResourceRequest, []string{to}, req, nil)
}

func (f *Facade) Handoff(to string, h bus.Handoff) (string, error) {
	return f.send(bus.TypeHandoff, []string{to}, h, nil)
}

// Broadcast sends content to every agent subscribed to its type.
func (f *Facade) Broadcast(content bus.Payload) (string, error) {
	return f.send(content.MessageType(), []string{bus.Broadcast}, content, nil)
}

func (f *Facade) OnTaskAssigned(fn func(bus.Message, bus.TaskAssignment)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.destroyed {
		f.taskAssigned = append(f.taskAssigned, fn)
	}
}

func (f *Facade) OnQuestion(fn func(bus.Message, bus.Question)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.destroyed {
		f.questionReceived = append(f.questionReceived, fn)
	}
}

func (f *Facade) OnResourceRequest(fn func(bus.Message, bus.ResourceRequest)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.destroyed {
		f.resourceRequested = append(f.resourceRequested, fn)
	}
}

func (f *Facade) OnHandoff(fn func(bus.Message, bus.Handoff)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.destroyed {
		f.handoffReceived = append(f.handoffReceived, fn)
	}
}

func (f *Facade) OnStatusUpdated(fn func(bus.Message, bus.StatusUpdate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.destroyed {
		f.statusUpdated = append(f.statusUpdated, fn)
	}
}

func (f *Facade) OnTaskCompleted(fn func(bus.Message, bus.TaskResult)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.destroyed {
		f.taskCompleted = append(f.taskCompleted, fn)
	}
}

// dispatch routes an incoming message to the callbacks for its type.
// Broadcasts this agent sent itself are not echoed back.
func (f *Facade) dispatch(msg bus.Message) {
	if msg.SessionID != f.sessionID {
		return
	}
	if msg.Sender == f.agent && !msg.NamesRecipient(f.agent) {
		return
	}

	switch c := msg.Content.(type) {
	case bus.TaskAssignment:
		for _, fn := range snapshot(f, &f.taskAssigned) {
			fn(msg, c)
		}
	case bus.Question:
		for _, fn := range snapshot(f, &f.questionReceived) {
			fn(msg, c)
		}
	case bus.ResourceRequest:
		for _, fn := range snapshot(f, &f.resourceRequested) {
			fn(msg, c)
		}
	case bus.Handoff:
		for _, fn := range snapshot(f, &f.handoffReceived) {
			fn(msg, c)
		}
	case bus.StatusUpdate:
		for _, fn := range snapshot(f, &f.statusUpdated) {
			fn(msg, c)
		}
	case bus.TaskResult:
		for _, fn := range snapshot(f, &f.taskCompleted) {
			fn(msg, c)
		}
	}
}

// snapshot copies a callback list so callbacks run without the lock held
// and may register further callbacks.
func snapshot[T any](f *Facade, fns *[]T) []T {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]T(nil), *fns...)
}
