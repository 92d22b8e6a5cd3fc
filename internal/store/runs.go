package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PlanRun records one execution of a supervisor plan.
type PlanRun struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Request     string          `json:"request"`
	Supervisor  string          `json:"supervisor"`
	Strategy    string          `json:"strategy"`
	Status      string          `json:"status"`
	Tasks       json.RawMessage `json:"tasks"`
	Levels      json.RawMessage `json:"levels,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

const planRunColumns = `id, session_id, request, supervisor, strategy, status, tasks, levels, error, started_at, completed_at`

func scanPlanRun(sc scanner) (*PlanRun, error) {
	r := &PlanRun{}
	var levels, errText sql.NullString
	var tasks string
	var started int64
	var completed sql.NullInt64
	err := sc.Scan(&r.ID, &r.SessionID, &r.Request, &r.Supervisor, &r.Strategy, &r.Status, &tasks, &levels, &errText, &started, &completed)
	if err != nil {
		return nil, err
	}
	r.Tasks = json.RawMessage(tasks)
	if levels.Valid {
		r.Levels = json.RawMessage(levels.String)
	}
	r.Error = errText.String
	r.StartedAt = time.Unix(0, started)
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
		r.CompletedAt = &t
	}
	return r, nil
}

func (s *Store) SavePlanRun(r *PlanRun) error {
	var levels *string
	if len(r.Levels) > 0 {
		v := string(r.Levels)
		levels = &v
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO plan_runs (id, session_id, request, supervisor, strategy, status, tasks, levels, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			levels = excluded.levels,
			error = excluded.error`,
		r.ID, r.SessionID, r.Request, r.Supervisor, r.Strategy, r.Status, string(r.Tasks), levels, r.Error, r.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save plan run: %w", err)
	}
	return nil
}

// FinishPlanRun sets the terminal status of a run.
func (s *Store) FinishPlanRun(id, status, errText string) error {
	_, err := s.db.Exec(`
		UPDATE plan_runs SET status = ?, error = ?, completed_at = ?
		WHERE id = ?`, status, errText, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("finish plan run: %w", err)
	}
	return nil
}

func (s *Store) GetPlanRun(id string) (*PlanRun, error) {
	r, err := scanPlanRun(s.db.QueryRow(`SELECT `+planRunColumns+` FROM plan_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan run: %w", err)
	}
	return r, nil
}

// ListPlanRuns returns runs newest first, optionally restricted to one
// session.
func (s *Store) ListPlanRuns(sessionID string, limit int) ([]PlanRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + planRunColumns + ` FROM plan_runs`
	var args []any
	if sessionID != "" {
		q += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list plan runs: %w", err)
	}
	defer rows.Close()

	var runs []PlanRun
	for rows.Next() {
		r, err := scanPlanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeletePlanRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM task_records WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete task records: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM plan_runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete plan run: %w", err)
	}
	return tx.Commit()
}
