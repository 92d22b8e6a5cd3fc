package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TaskRecord is the settled (or in-flight) state of one plan task.
type TaskRecord struct {
	RunID       string     `json:"run_id"`
	TaskID      string     `json:"task_id"`
	SessionID   string     `json:"session_id"`
	Agent       string     `json:"agent"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type TaskFilter struct {
	RunID     string
	SessionID string
	Status    string
}

func (f TaskFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func (s *Store) SaveTaskRecord(r *TaskRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO task_records (run_id, task_id, session_id, agent, description, status, output, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, task_id) DO UPDATE SET
			agent = excluded.agent,
			status = excluded.status,
			output = excluded.output,
			error = excluded.error,
			started_at = COALESCE(excluded.started_at, started_at),
			completed_at = excluded.completed_at`,
		r.RunID, r.TaskID, r.SessionID, r.Agent, r.Description, r.Status, r.Output, r.Error,
		nullTime(r.StartedAt), nullTime(r.CompletedAt))
	if err != nil {
		return fmt.Errorf("save task record: %w", err)
	}
	return nil
}

func (s *Store) QueryTaskRecords(f TaskFilter) ([]TaskRecord, error) {
	where, args := f.where()
	rows, err := s.db.Query(`
		SELECT run_id, task_id, session_id, agent, description, status, output, error, started_at, completed_at
		FROM task_records`+where+` ORDER BY run_id, task_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query task records: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var output, errText sql.NullString
		var started, completed sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.TaskID, &r.SessionID, &r.Agent, &r.Description, &r.Status,
			&output, &errText, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan task record: %w", err)
		}
		r.Output = output.String
		r.Error = errText.String
		if started.Valid {
			t := time.Unix(0, started.Int64)
			r.StartedAt = &t
		}
		if completed.Valid {
			t := time.Unix(0, completed.Int64)
			r.CompletedAt = &t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
