// Package events carries coordinator lifecycle events to any number of
// observers over channels.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mtzanidakis/vibe/internal/natsbus"
)

type Topic string

const (
	TopicTaskAssigned      Topic = "task_assigned"
	TopicStatusUpdated     Topic = "status_updated"
	TopicTaskCompleted     Topic = "task_completed"
	TopicExecutionProgress Topic = "execution_progress"
	TopicPlanStarted       Topic = "plan_started"
	TopicLevelCompleted    Topic = "level_completed"
	TopicPlanFinished      Topic = "plan_finished"
)

// Data is the payload of an event. Each topic has one payload type.
type Data interface {
	Topic() Topic
}

type TaskAssigned struct {
	TaskID      string `json:"task_id"`
	Agent       string `json:"agent"`
	Description string `json:"description"`
	Level       int    `json:"level"`
}

type StatusUpdated struct {
	TaskID string `json:"task_id"`
	Agent  string `json:"agent"`
	Status string `json:"status"`
}

type TaskCompleted struct {
	TaskID     string `json:"task_id"`
	Agent      string `json:"agent"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Progress is a snapshot of a run's task counters.
type Progress struct {
	Total     int     `json:"total"`
	Running   int     `json:"running"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Percent   float64 `json:"progress"`
}

type PlanStarted struct {
	Supervisor string     `json:"supervisor"`
	Strategy   string     `json:"strategy"`
	Levels     [][]string `json:"levels"`
}

type LevelCompleted struct {
	Level  int      `json:"level"`
	Tasks  []string `json:"tasks"`
	Failed []string `json:"failed,omitempty"`
}

type PlanFinished struct {
	Status    string `json:"status"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

func (TaskAssigned) Topic() Topic   { return TopicTaskAssigned }
func (StatusUpdated) Topic() Topic  { return TopicStatusUpdated }
func (TaskCompleted) Topic() Topic  { return TopicTaskCompleted }
func (Progress) Topic() Topic       { return TopicExecutionProgress }
func (PlanStarted) Topic() Topic    { return TopicPlanStarted }
func (LevelCompleted) Topic() Topic { return TopicLevelCompleted }
func (PlanFinished) Topic() Topic   { return TopicPlanFinished }

type Event struct {
	Topic     Topic     `json:"topic"`
	SessionID string    `json:"session_id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
}

// Publisher is what producers of events depend on.
type Publisher interface {
	Publish(Event)
}

// Forwarder receives a copy of every event, e.g. a NATS client.
type Forwarder interface {
	PublishJSON(subject string, v any) error
}

type subscriber struct {
	ch     chan Event
	topics map[Topic]bool
}

// Hub fans events out to channel subscribers. A subscriber whose buffer is
// full misses the event; Publish never blocks.
type Hub struct {
	mu        sync.RWMutex
	subs      map[*subscriber]struct{}
	forwarder Forwarder
	closed    bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// SetForwarder mirrors every published event to f.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forwarder = f
}

// Subscribe returns a channel of events for the given topics (all topics
// when none are given) and a cancel function that closes it.
func (h *Hub) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, max(buffer, 1))}
	if len(topics) > 0 {
		s.topics = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			s.topics[t] = true
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.ch)
			}
		})
	}
}

func (h *Hub) Publish(e Event) {
	if e.Data != nil {
		e.Topic = e.Data.Topic()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		if s.topics != nil && !s.topics[e.Topic] {
			continue
		}
		select {
		case s.ch <- e:
		default:
			slog.Warn("event subscriber full, dropping event", "topic", e.Topic, "session", e.SessionID)
		}
	}
	if h.forwarder != nil {
		if err := h.forwarder.PublishJSON(natsbus.TopicEvents(string(e.Topic), e.SessionID), e); err != nil {
			slog.Warn("forward event failed", "topic", e.Topic, "error", err)
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
	}
	h.subs = nil
}
