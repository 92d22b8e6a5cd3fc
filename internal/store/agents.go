package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Agent struct {
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Tools        []string  `json:"tools"`
	Instructions string    `json:"instructions,omitempty"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Store) SaveAgent(a *Agent) error {
	tools, err := json.Marshal(a.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO agents (name, description, tools, instructions, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			tools = excluded.tools,
			instructions = excluded.instructions,
			position = excluded.position,
			updated_at = CURRENT_TIMESTAMP`,
		a.Name, a.Description, string(tools), a.Instructions, a.Position)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

const agentColumns = `name, description, tools, instructions, position, created_at, updated_at`

func scanAgent(sc scanner) (*Agent, error) {
	a := &Agent{}
	var description, instructions sql.NullString
	var tools string
	if err := sc.Scan(&a.Name, &description, &tools, &instructions, &a.Position, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Description = description.String
	a.Instructions = instructions.String
	if err := json.Unmarshal([]byte(tools), &a.Tools); err != nil {
		return nil, fmt.Errorf("decode tools of %s: %w", a.Name, err)
	}
	return a, nil
}

func (s *Store) GetAgent(name string) (*Agent, error) {
	a, err := scanAgent(s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns agents in their configured order.
func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *Store) DeleteAgent(name string) error {
	_, err := s.db.Exec(`DELETE FROM agents WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

// DeleteAgentsNotIn removes agents whose name is not in keep.
func (s *Store) DeleteAgentsNotIn(keep []string) error {
	if len(keep) == 0 {
		_, err := s.db.Exec(`DELETE FROM agents`)
		return err
	}
	placeholders := strings.Repeat("?,", len(keep))
	args := make([]any, len(keep))
	for i, name := range keep {
		args[i] = name
	}
	_, err := s.db.Exec(`DELETE FROM agents WHERE name NOT IN (`+placeholders[:len(placeholders)-1]+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}
