package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AgentMessage is the persisted form of a bus message. Payload holds the
// JSON encoded typed content.
type AgentMessage struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Type       string          `json:"type"`
	Sender     string          `json:"sender"`
	Recipients []string        `json:"recipients"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MessageFilter selects agent messages. Zero fields match everything.
type MessageFilter struct {
	SessionID string
	Type      string
	Before    time.Time
	Limit     int
}

func (f MessageFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if !f.Before.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, f.Before.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// SaveMessage upserts a message by id.
func (s *Store) SaveMessage(m *AgentMessage) error {
	recipients, err := json.Marshal(m.Recipients)
	if err != nil {
		return fmt.Errorf("marshal recipients: %w", err)
	}

	payload := []byte(m.Payload)
	sealed := false
	if s.cipher != nil && len(payload) > 0 {
		payload, err = s.cipher.Seal(payload)
		if err != nil {
			return fmt.Errorf("seal payload: %w", err)
		}
		sealed = true
	}

	var metadata *string
	if len(m.Metadata) > 0 {
		v := string(m.Metadata)
		metadata = &v
	}

	_, err = s.db.Exec(`
		INSERT INTO agent_messages (id, session_id, type, sender, recipients, payload, sealed, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			type = excluded.type,
			sender = excluded.sender,
			recipients = excluded.recipients,
			payload = excluded.payload,
			sealed = excluded.sealed,
			metadata = excluded.metadata,
			created_at = excluded.created_at`,
		m.ID, m.SessionID, m.Type, m.Sender, string(recipients), payload, sealed, metadata, m.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// QueryMessages returns matching messages in chronological order.
func (s *Store) QueryMessages(f MessageFilter) ([]AgentMessage, error) {
	where, args := f.where()
	q := `SELECT id, session_id, type, sender, recipients, payload, sealed, metadata, created_at
		FROM agent_messages` + where + ` ORDER BY created_at`
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []AgentMessage
	for rows.Next() {
		var m AgentMessage
		var recipients string
		var payload []byte
		var sealed bool
		var metadata *string
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Type, &m.Sender, &recipients, &payload, &sealed, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(recipients), &m.Recipients); err != nil {
			return nil, fmt.Errorf("decode recipients of %s: %w", m.ID, err)
		}
		if sealed {
			if s.cipher == nil {
				return nil, fmt.Errorf("message %s is encrypted and no cipher is configured", m.ID)
			}
			payload, err = s.cipher.Open(payload)
			if err != nil {
				return nil, fmt.Errorf("open payload of %s: %w", m.ID, err)
			}
		}
		m.Payload = json.RawMessage(payload)
		if metadata != nil {
			m.Metadata = json.RawMessage(*metadata)
		}
		m.CreatedAt = time.Unix(0, created)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteMessages removes matching messages and reports how many were
// deleted.
func (s *Store) DeleteMessages(f MessageFilter) (int64, error) {
	where, args := f.where()
	res, err := s.db.Exec(`DELETE FROM agent_messages`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type SessionStats struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	LastActive   time.Time `json:"last_active"`
}

func (s *Store) GetSessionStats() ([]SessionStats, error) {
	rows, err := s.db.Query(`
		SELECT session_id, COUNT(*) AS cnt, MAX(created_at) AS last_active
		FROM agent_messages
		GROUP BY session_id
		ORDER BY last_active DESC`)
	if err != nil {
		return nil, fmt.Errorf("get session stats: %w", err)
	}
	defer rows.Close()

	var stats []SessionStats
	for rows.Next() {
		var st SessionStats
		var last int64
		if err := rows.Scan(&st.SessionID, &st.MessageCount, &last); err != nil {
			return nil, fmt.Errorf("scan session stats: %w", err)
		}
		st.LastActive = time.Unix(0, last)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
