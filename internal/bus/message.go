package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mtzanidakis/vibe/internal/agent"
)

type MessageType string

const (
	TypeTaskAssignment  MessageType = "task_assignment"
	TypeTaskResult      MessageType = "task_result"
	TypeStatusUpdate    MessageType = "status_update"
	TypeQuestion        MessageType = "question"
	TypeResourceRequest MessageType = "resource_request"
	TypeHandoff         MessageType = "handoff"
)

// AllTypes lists every message type in declaration order.
var AllTypes = []MessageType{
	TypeTaskAssignment,
	TypeTaskResult,
	TypeStatusUpdate,
	TypeQuestion,
	TypeResourceRequest,
	TypeHandoff,
}

func (t MessageType) Valid() bool {
	for _, v := range AllTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Broadcast as a recipient delivers to every agent subscribed to the
// message type.
const Broadcast = "broadcast"

// Payload is the typed content of a message. Each message type has exactly
// one payload type.
type Payload interface {
	MessageType() MessageType
}

type TaskAssignment struct {
	TaskID       string         `json:"task_id"`
	Description  string         `json:"description"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Priority     agent.Priority `json:"priority,omitempty"`
	Context      string         `json:"context,omitempty"`
}

type TaskResult struct {
	TaskID     string `json:"task_id"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusWorking   Status = "working"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type StatusUpdate struct {
	TaskID   string `json:"task_id,omitempty"`
	Status   Status `json:"status"`
	Progress int    `json:"progress,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type Question struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
	// InReplyTo is the id of the message this question is about.
	InReplyTo string `json:"in_reply_to,omitempty"`
}

type ResourceRequest struct {
	Resource string `json:"resource"`
	Reason   string `json:"reason,omitempty"`
}

type Handoff struct {
	TaskID  string `json:"task_id,omitempty"`
	Reason  string `json:"reason"`
	Context string `json:"context,omitempty"`
}

func (TaskAssignment) MessageType() MessageType  { return TypeTaskAssignment }
func (TaskResult) MessageType() MessageType      { return TypeTaskResult }
func (StatusUpdate) MessageType() MessageType    { return TypeStatusUpdate }
func (Question) MessageType() MessageType        { return TypeQuestion }
func (ResourceRequest) MessageType() MessageType { return TypeResourceRequest }
func (Handoff) MessageType() MessageType         { return TypeHandoff }

// Message is an immutable agent message. Content's dynamic type always
// matches Type.
type Message struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	Type       MessageType       `json:"type"`
	Sender     string            `json:"sender"`
	Recipients []string          `json:"recipients"`
	Timestamp  time.Time         `json:"timestamp"`
	Content    Payload           `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

var ErrNoRecipients = errors.New("message has no recipients")

func (m *Message) validate() error {
	if len(m.Recipients) == 0 {
		return ErrNoRecipients
	}
	if !m.Type.Valid() {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Content == nil {
		return fmt.Errorf("%s message without content", m.Type)
	}
	if m.Content.MessageType() != m.Type {
		return fmt.Errorf("%s message carries %s content", m.Type, m.Content.MessageType())
	}
	return nil
}

// AddressedTo reports whether name is a named recipient or the message is
// a broadcast.
func (m *Message) AddressedTo(name string) bool {
	for _, r := range m.Recipients {
		if r == name || r == Broadcast {
			return true
		}
	}
	return false
}

// NamesRecipient reports whether name is listed explicitly.
func (m *Message) NamesRecipient(name string) bool {
	for _, r := range m.Recipients {
		if r == name {
			return true
		}
	}
	return false
}

type messageJSON struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	Type       MessageType       `json:"type"`
	Sender     string            `json:"sender"`
	Recipients []string          `json:"recipients"`
	Timestamp  time.Time         `json:"timestamp"`
	Content    json.RawMessage   `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Type:       m.Type,
		Sender:     m.Sender,
		Recipients: m.Recipients,
		Timestamp:  m.Timestamp,
		Content:    content,
		Metadata:   m.Metadata,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	content, err := decodePayload(raw.Type, raw.Content)
	if err != nil {
		return err
	}
	*m = Message{
		ID:         raw.ID,
		SessionID:  raw.SessionID,
		Type:       raw.Type,
		Sender:     raw.Sender,
		Recipients: raw.Recipients,
		Timestamp:  raw.Timestamp,
		Content:    content,
		Metadata:   raw.Metadata,
	}
	return nil
}

func decodePayload(t MessageType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case TypeTaskAssignment:
		p = &TaskAssignment{}
	case TypeTaskResult:
		p = &TaskResult{}
	case TypeStatusUpdate:
		p = &StatusUpdate{}
	case TypeQuestion:
		p = &Question{}
	case TypeResourceRequest:
		p = &ResourceRequest{}
	case TypeHandoff:
		p = &Handoff{}
	default:
		return nil, fmt.Errorf("unknown message type %q", t)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s content: %w", t, err)
	}
	return deref(p), nil
}

// deref returns payloads by value so type switches on Content see the same
// types callers publish.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *TaskAssignment:
		return *v
	case *TaskResult:
		return *v
	case *StatusUpdate:
		return *v
	case *Question:
		return *v
	case *ResourceRequest:
		return *v
	case *Handoff:
		return *v
	}
	return p
}
