package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/vibe/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAgentCRUD(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveAgent(&Agent{Name: "Writer", Description: "writes", Tools: []string{"Write"}, Position: 1}); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	if err := s.SaveAgent(&Agent{Name: "Coder", Description: "codes", Position: 0}); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	got, err := s.GetAgent("Writer")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got == nil {
		t.Fatal("expected agent, got nil")
	}
	if !slices.Equal(got.Tools, []string{"Write"}) {
		t.Errorf("expected tools [Write], got %v", got.Tools)
	}

	// List, ordered by position
	agents, err := s.ListAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].Name != "Coder" {
		t.Errorf("expected Coder first, got %s", agents[0].Name)
	}

	// Update
	if err := s.SaveAgent(&Agent{Name: "Writer", Description: "edits", Position: 1}); err != nil {
		t.Fatalf("update agent: %v", err)
	}
	got, _ = s.GetAgent("Writer")
	if got.Description != "edits" {
		t.Errorf("expected description 'edits', got '%s'", got.Description)
	}

	// Delete
	if err := s.DeleteAgent("Writer"); err != nil {
		t.Fatalf("delete agent: %v", err)
	}
	got, err = s.GetAgent("Writer")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func jsonEqual(t *testing.T, want string, got []byte) {
	t.Helper()
	var a, b any
	if err := json.Unmarshal([]byte(want), &a); err != nil {
		t.Fatalf("bad expected json: %v", err)
	}
	if err := json.Unmarshal(got, &b); err != nil {
		t.Fatalf("bad json %q: %v", got, err)
	}
	wa, _ := json.Marshal(a)
	gb, _ := json.Marshal(b)
	if !bytes.Equal(wa, gb) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestMessageUpsertAndQuery(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	msg := &AgentMessage{
		ID:         "m1",
		SessionID:  "s1",
		Type:       "status_update",
		Sender:     "coder",
		Recipients: []string{"broadcast"},
		Payload:    json.RawMessage(`{"status":"working"}`),
		CreatedAt:  now,
	}
	if err := s.SaveMessage(msg); err != nil {
		t.Fatalf("save message: %v", err)
	}

	msg.Payload = json.RawMessage(`{"status":"done"}`)
	if err := s.SaveMessage(msg); err != nil {
		t.Fatalf("resave message: %v", err)
	}

	if err := s.SaveMessage(&AgentMessage{
		ID: "m2", SessionID: "s2", Type: "question", Sender: "a",
		Recipients: []string{"b"}, Payload: json.RawMessage(`{}`), CreatedAt: now,
	}); err != nil {
		t.Fatalf("save message: %v", err)
	}

	msgs, err := s.QueryMessages(MessageFilter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected the same id to overwrite, got %d messages", len(msgs))
	}
	jsonEqual(t, `{"status":"done"}`, msgs[0].Payload)
	if !slices.Equal(msgs[0].Recipients, []string{"broadcast"}) {
		t.Errorf("expected recipients [broadcast], got %v", msgs[0].Recipients)
	}
	if d := msgs[0].CreatedAt.Sub(now); d > time.Microsecond || d < -time.Microsecond {
		t.Errorf("created_at drifted by %v", d)
	}

	byType, err := s.QueryMessages(MessageFilter{Type: "question"})
	if err != nil {
		t.Fatalf("query by type: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != "m2" {
		t.Errorf("expected only m2, got %+v", byType)
	}
}

func TestDeleteMessagesBefore(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)

	for i, ts := range []time.Time{old, old, time.Now()} {
		if err := s.SaveMessage(&AgentMessage{
			ID: string(rune('a' + i)), SessionID: "s", Type: "question", Sender: "x",
			Recipients: []string{"y"}, Payload: json.RawMessage(`{}`), CreatedAt: ts,
		}); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	n, err := s.DeleteMessages(MessageFilter{Before: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("delete messages: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}

	left, err := s.QueryMessages(MessageFilter{})
	if err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(left) != 1 {
		t.Errorf("expected 1 message left, got %d", len(left))
	}
}

type reverseCipher struct{}

func (reverseCipher) Seal(p []byte) ([]byte, error) {
	out := append([]byte("sealed:"), p...)
	return bytes.ToUpper(out), nil
}

func (reverseCipher) Open(p []byte) ([]byte, error) {
	if !bytes.HasPrefix(p, []byte("SEALED:")) {
		return nil, errors.New("not sealed")
	}
	return bytes.ToLower(p[len("SEALED:"):]), nil
}

func TestMessagePayloadSealed(t *testing.T) {
	s := newTestStore(t)
	s.SetCipher(reverseCipher{})

	if err := s.SaveMessage(&AgentMessage{
		ID: "m1", SessionID: "s", Type: "task_result", Sender: "x",
		Recipients: []string{"y"}, Payload: json.RawMessage(`{"output":"hi"}`), CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("save message: %v", err)
	}

	var raw []byte
	if err := s.DB().QueryRow(`SELECT payload FROM agent_messages WHERE id = 'm1'`).Scan(&raw); err != nil {
		t.Fatalf("read raw payload: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("SEALED:")) {
		t.Errorf("expected sealed payload on disk, got %q", raw)
	}

	msgs, err := s.QueryMessages(MessageFilter{SessionID: "s"})
	if err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	jsonEqual(t, `{"output":"hi"}`, msgs[0].Payload)

	s.SetCipher(nil)
	_, err = s.QueryMessages(MessageFilter{SessionID: "s"})
	if err == nil || !strings.Contains(err.Error(), "encrypted") {
		t.Errorf("expected encrypted payload error without cipher, got %v", err)
	}
}

func TestPlanRunLifecycle(t *testing.T) {
	s := newTestStore(t)

	run := &PlanRun{
		ID:         "r1",
		SessionID:  "s1",
		Request:    "build a site",
		Supervisor: "lead",
		Strategy:   "mixed",
		Status:     "running",
		Tasks:      json.RawMessage(`[{"id":"task-1"}]`),
	}
	if err := s.SavePlanRun(run); err != nil {
		t.Fatalf("save plan run: %v", err)
	}

	now := time.Now()
	if err := s.SaveTaskRecord(&TaskRecord{
		RunID: "r1", TaskID: "task-1", SessionID: "s1", Agent: "coder",
		Description: "write code", Status: "running", StartedAt: &now,
	}); err != nil {
		t.Fatalf("save task record: %v", err)
	}
	done := now.Add(time.Second)
	if err := s.SaveTaskRecord(&TaskRecord{
		RunID: "r1", TaskID: "task-1", SessionID: "s1", Agent: "coder",
		Description: "write code", Status: "completed", Output: "ok", CompletedAt: &done,
	}); err != nil {
		t.Fatalf("update task record: %v", err)
	}

	recs, err := s.QueryTaskRecords(TaskFilter{RunID: "r1"})
	if err != nil {
		t.Fatalf("query task records: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Status != "completed" {
		t.Errorf("expected status completed, got %s", recs[0].Status)
	}
	if recs[0].StartedAt == nil {
		t.Error("expected started_at to survive the upsert")
	}
	if recs[0].CompletedAt == nil {
		t.Error("expected completed_at")
	}

	if err := s.FinishPlanRun("r1", "completed", ""); err != nil {
		t.Fatalf("finish plan run: %v", err)
	}
	got, err := s.GetPlanRun("r1")
	if err != nil {
		t.Fatalf("get plan run: %v", err)
	}
	if got == nil {
		t.Fatal("expected plan run, got nil")
	}
	if got.Status != "completed" || got.CompletedAt == nil {
		t.Errorf("expected completed run with completion time, got %s %v", got.Status, got.CompletedAt)
	}

	runs, err := s.ListPlanRuns("s1", 10)
	if err != nil {
		t.Fatalf("list plan runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}

	if err := s.DeletePlanRun("r1"); err != nil {
		t.Fatalf("delete plan run: %v", err)
	}
	got, err = s.GetPlanRun("r1")
	if err != nil {
		t.Fatalf("get plan run: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
	recs, err = s.QueryTaskRecords(TaskFilter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("query task records: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected task records deleted with the run, got %d", len(recs))
	}
}
