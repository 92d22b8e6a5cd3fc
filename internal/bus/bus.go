// Package bus is the process-wide publish/subscribe hub agents use to
// exchange typed messages. Delivery is synchronous; persistence is best
// effort and asynchronous.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/vibe/internal/natsbus"
	"github.com/mtzanidakis/vibe/internal/store"
)

// Persister is the durable store used for best-effort persistence and
// reload.
type Persister interface {
	SaveMessage(m *store.AgentMessage) error
	QueryMessages(f store.MessageFilter) ([]store.AgentMessage, error)
	DeleteMessages(f store.MessageFilter) (int64, error)
}

// Mirror receives a copy of every published message, e.g. a NATS client.
type Mirror interface {
	PublishJSON(subject string, v any) error
}

type Handler func(Message)

type subscription struct {
	id      uint64
	agent   string
	types   map[MessageType]bool
	handler Handler
}

type Bus struct {
	persister Persister
	mirror    Mirror
	now       func() time.Time

	mu       sync.RWMutex
	messages map[string]Message
	subs     []*subscription
	nextID   uint64
	closed   bool

	// A single writer keeps persisted upserts in publish order.
	queue   chan *store.AgentMessage
	pending inflight
	writer  sync.WaitGroup
}

const persistQueueSize = 1024

type Option func(*Bus)

func WithPersister(p Persister) Option { return func(b *Bus) { b.persister = p } }

func WithMirror(m Mirror) Option { return func(b *Bus) { b.mirror = m } }

func WithClock(now func() time.Time) Option { return func(b *Bus) { b.now = now } }

func New(opts ...Option) *Bus {
	b := &Bus{
		messages: make(map[string]Message),
		now:      time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	if b.persister != nil {
		b.queue = make(chan *store.AgentMessage, persistQueueSize)
		b.writer.Add(1)
		go b.writeLoop()
	}
	return b
}

// inflight counts queued writes. Unlike a WaitGroup it allows Add
// concurrently with Wait.
type inflight struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func (c *inflight) add(delta int) {
	c.mu.Lock()
	c.n += delta
	if c.n == 0 && c.cond != nil {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

func (c *inflight) wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cond == nil {
		c.cond = sync.NewCond(&c.mu)
	}
	for c.n > 0 {
		c.cond.Wait()
	}
}

func (b *Bus) writeLoop() {
	defer b.writer.Done()
	for rec := range b.queue {
		if err := b.persister.SaveMessage(rec); err != nil {
			slog.Warn("persist message failed", "id", rec.ID, "session", rec.SessionID, "error", err)
		}
		b.pending.add(-1)
	}
}

// NewID returns a fresh message id.
func NewID() string {
	return uuid.NewString()
}

// Publish stores msg (replacing any message with the same id), persists it
// in the background and delivers it to matching subscribers before
// returning. Missing id and timestamp are filled in.
func (b *Bus) Publish(msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	msg.Content = deref(msg.Content)
	msg.Recipients = slices.Clone(msg.Recipients)
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now()
	}

	b.mu.Lock()
	b.messages[msg.ID] = msg
	var targets []Handler
	broadcast := slices.Contains(msg.Recipients, Broadcast)
	for _, s := range b.subs {
		if !s.types[msg.Type] {
			continue
		}
		if broadcast || slices.Contains(msg.Recipients, s.agent) {
			targets = append(targets, s.handler)
		}
	}
	b.mu.Unlock()

	b.persist(msg)

	if b.mirror != nil {
		if err := b.mirror.PublishJSON(natsbus.TopicSessionMessages(msg.SessionID), msg); err != nil {
			slog.Warn("mirror message failed", "id", msg.ID, "error", err)
		}
	}

	for _, h := range targets {
		h(msg)
	}
	return nil
}

func (b *Bus) persist(msg Message) {
	if b.persister == nil {
		return
	}
	rec, err := toRecord(msg)
	if err != nil {
		slog.Warn("encode message for persistence failed", "id", msg.ID, "error", err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.pending.add(1)
	select {
	case b.queue <- rec:
	default:
		b.pending.add(-1)
		slog.Warn("persistence queue full, message kept in memory only", "id", msg.ID)
	}
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

// Cancel removes only this subscription.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		s.bus.subs = slices.DeleteFunc(s.bus.subs, func(sub *subscription) bool {
			return sub.id == s.id
		})
	})
}

// Subscribe registers handler for messages of the given types addressed to
// agent, directly or by broadcast. No types means all types.
func (b *Bus) Subscribe(agent string, types []MessageType, handler Handler) *Subscription {
	if len(types) == 0 {
		types = AllTypes
	}
	set := make(map[MessageType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, &subscription{
		id:      b.nextID,
		agent:   agent,
		types:   set,
		handler: handler,
	})
	return &Subscription{bus: b, id: b.nextID}
}

// Unsubscribe removes every subscription of agent.
func (b *Bus) Unsubscribe(agent string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool {
		return s.agent == agent
	})
}

// Subscribed reports whether agent has any subscription for t.
func (b *Bus) Subscribed(agent string, t MessageType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subscribedLocked(agent, t)
}

func (b *Bus) subscribedLocked(agent string, t MessageType) bool {
	for _, s := range b.subs {
		if s.agent == agent && s.types[t] {
			return true
		}
	}
	return false
}

func (b *Bus) Get(id string) (Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.messages[id]
	return m, ok
}

// MessagesFor returns the messages agent would receive: addressed to it
// directly or by broadcast, of a type it is subscribed to.
func (b *Bus) MessagesFor(agent string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collectLocked(func(m *Message) bool {
		return m.AddressedTo(agent) && b.subscribedLocked(agent, m.Type)
	})
}

func (b *Bus) BySession(sessionID string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collectLocked(func(m *Message) bool { return m.SessionID == sessionID })
}

func (b *Bus) ByType(t MessageType) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collectLocked(func(m *Message) bool { return m.Type == t })
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

// collectLocked returns matching messages ordered by timestamp, then id.
func (b *Bus) collectLocked(match func(*Message) bool) []Message {
	var out []Message
	for _, m := range b.messages {
		if match(&m) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, c Message) int {
		if n := a.Timestamp.Compare(c.Timestamp); n != 0 {
			return n
		}
		if a.ID < c.ID {
			return -1
		}
		if a.ID > c.ID {
			return 1
		}
		return 0
	})
	return out
}

// Cleanup removes messages older than olderThan from memory and from the
// store. It returns how many in-memory messages were dropped.
func (b *Bus) Cleanup(olderThan time.Duration) (int, error) {
	cutoff := b.now().Add(-olderThan)

	b.mu.Lock()
	removed := 0
	for id, m := range b.messages {
		if m.Timestamp.Before(cutoff) {
			delete(b.messages, id)
			removed++
		}
	}
	b.mu.Unlock()

	if b.persister == nil {
		return removed, nil
	}
	// Let in-flight writes land so they are pruned too.
	b.Flush()
	deleted, err := b.persister.DeleteMessages(store.MessageFilter{Before: cutoff})
	if err != nil {
		return removed, fmt.Errorf("cleanup store: %w", err)
	}
	slog.Info("message cleanup", "memory", removed, "store", deleted, "cutoff", cutoff)
	return removed, nil
}

// LoadSession repopulates the in-memory map with persisted messages of a
// session. Messages already in memory are left untouched. It returns the
// number of messages added.
func (b *Bus) LoadSession(sessionID string) (int, error) {
	if b.persister == nil {
		return 0, nil
	}
	recs, err := b.persister.QueryMessages(store.MessageFilter{SessionID: sessionID})
	if err != nil {
		return 0, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	added := 0
	for i := range recs {
		if _, ok := b.messages[recs[i].ID]; ok {
			continue
		}
		msg, err := fromRecord(&recs[i])
		if err != nil {
			slog.Warn("skip undecodable message", "id", recs[i].ID, "error", err)
			continue
		}
		b.messages[msg.ID] = msg
		added++
	}
	return added, nil
}

// Flush waits for pending persistence writes.
func (b *Bus) Flush() {
	b.pending.wait()
}

// Close drains pending writes and stops the writer. Messages published
// afterwards are kept in memory only.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()
	b.writer.Wait()
}

func toRecord(m Message) (*store.AgentMessage, error) {
	payload, err := json.Marshal(m.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	rec := &store.AgentMessage{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Type:       string(m.Type),
		Sender:     m.Sender,
		Recipients: m.Recipients,
		Payload:    payload,
		CreatedAt:  m.Timestamp,
	}
	if len(m.Metadata) > 0 {
		rec.Metadata, err = json.Marshal(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	return rec, nil
}

func fromRecord(rec *store.AgentMessage) (Message, error) {
	content, err := decodePayload(MessageType(rec.Type), rec.Payload)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		ID:         rec.ID,
		SessionID:  rec.SessionID,
		Type:       MessageType(rec.Type),
		Sender:     rec.Sender,
		Recipients: rec.Recipients,
		Timestamp:  rec.CreatedAt,
		Content:    content,
	}
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &msg.Metadata); err != nil {
			return Message{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return msg, nil
}
