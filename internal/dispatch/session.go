package dispatch

import (
	"slices"
	"sync"
	"time"

	"github.com/mtzanidakis/vibe/internal/llm"
)

const maxHistory = 20

type Session struct {
	ID           string        `json:"id"`
	CurrentAgent string        `json:"current_agent,omitempty"`
	LastRun      string        `json:"last_run,omitempty"`
	Runs         int           `json:"runs"`
	StartedAt    time.Time     `json:"started_at"`
	LastActive   time.Time     `json:"last_active"`
	History      []llm.Message `json:"-"`
}

// SessionTracker keeps the conversation state routing needs per session.
type SessionTracker struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		sessions: make(map[string]*Session),
	}
}

// Get returns a copy of the session, or nil.
func (t *SessionTracker) Get(id string) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil
	}
	c := *s
	c.History = slices.Clone(s.History)
	return &c
}

// Record appends one exchange to the session, creating it if needed.
func (t *SessionTracker) Record(id, runID, agentName, userText, reply string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	s, ok := t.sessions[id]
	if !ok {
		s = &Session{ID: id, StartedAt: now}
		t.sessions[id] = s
	}
	s.LastActive = now
	s.LastRun = runID
	s.Runs++
	if agentName != "" {
		s.CurrentAgent = agentName
	}
	s.History = append(s.History,
		llm.Message{Role: llm.RoleUser, Content: userText, Timestamp: now},
	)
	if reply != "" {
		s.History = append(s.History,
			llm.Message{Role: llm.RoleAssistant, Content: reply, Timestamp: now},
		)
	}
	if len(s.History) > maxHistory {
		s.History = slices.Clone(s.History[len(s.History)-maxHistory:])
	}
}

func (t *SessionTracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

func (t *SessionTracker) List() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		c := *s
		c.History = nil
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Session) int { return b.LastActive.Compare(a.LastActive) })
	return out
}

func (t *SessionTracker) ListIdle(timeout time.Duration) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var idle []string
	now := time.Now()
	for id, s := range t.sessions {
		if now.Sub(s.LastActive) > timeout {
			idle = append(idle, id)
		}
	}
	return idle
}
