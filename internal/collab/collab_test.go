package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/vibe/internal/agent"
	"github.com/mtzanidakis/vibe/internal/bus"
)

func TestTaskAssignmentRoundTrip(t *testing.T) {
	b := bus.New()
	lead := New(b, "lead", "s1")
	coder := New(b, "coder", "s1")
	defer lead.Destroy()
	defer coder.Destroy()

	var assigned []bus.TaskAssignment
	coder.OnTaskAssigned(func(msg bus.Message, ta bus.TaskAssignment) {
		assert.Equal(t, "lead", msg.Sender)
		assigned = append(assigned, ta)
		_, err := coder.SendResult(msg.Sender, bus.TaskResult{TaskID: ta.TaskID, Success: true, Output: "done"})
		assert.NoError(t, err)
	})

	var results []bus.TaskResult
	lead.OnTaskCompleted(func(_ bus.Message, r bus.TaskResult) {
		results = append(results, r)
	})

	id, err := lead.AssignTask("coder", agent.TaskAssignment{
		ID: "task-1", Description: "write the api", Priority: agent.PriorityHigh,
	}, "build a shop")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, assigned, 1)
	assert.Equal(t, "write the api", assigned[0].Description)
	assert.Equal(t, "build a shop", assigned[0].Context)
	require.Len(t, results, 1)
	assert.Equal(t, "done", results[0].Output)
}

func TestCallbacksPerType(t *testing.T) {
	b := bus.New()
	a := New(b, "a", "s1")
	x := New(b, "x", "s1")

	var got []string
	x.OnQuestion(func(_ bus.Message, q bus.Question) { got = append(got, "question:"+q.Question) })
	x.OnResourceRequest(func(_ bus.Message, r bus.ResourceRequest) { got = append(got, "resource:"+r.Resource) })
	x.OnHandoff(func(_ bus.Message, h bus.Handoff) { got = append(got, "handoff:"+h.Reason) })
	x.OnStatusUpdated(func(_ bus.Message, s bus.StatusUpdate) { got = append(got, "status:"+string(s.Status)) })

	_, err := a.Ask("x", bus.Question{Question: "which db?"})
	require.NoError(t, err)
	_, err = a.RequestResource("x", bus.ResourceRequest{Resource: "schema.sql"})
	require.NoError(t, err)
	_, err = a.Handoff("x", bus.Handoff{Reason: "needs design"})
	require.NoError(t, err)
	_, err = a.UpdateStatus([]string{"x"}, bus.StatusUpdate{Status: bus.StatusWorking})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"question:which db?",
		"resource:schema.sql",
		"handoff:needs design",
		"status:working",
	}, got)
}

func TestIgnoresOtherSessions(t *testing.T) {
	b := bus.New()
	mine := New(b, "coder", "s1")
	sender := New(b, "lead", "s2")

	called := false
	mine.OnQuestion(func(bus.Message, bus.Question) { called = true })

	_, err := sender.Ask("coder", bus.Question{Question: "?"})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestBroadcast(t *testing.T) {
	b := bus.New()
	lead := New(b, "lead", "s1")
	a := New(b, "a", "s1")
	c := New(b, "c", "s1")

	var seen []string
	a.OnStatusUpdated(func(bus.Message, bus.StatusUpdate) { seen = append(seen, "a") })
	c.OnStatusUpdated(func(bus.Message, bus.StatusUpdate) { seen = append(seen, "c") })
	lead.OnStatusUpdated(func(bus.Message, bus.StatusUpdate) { seen = append(seen, "lead") })

	_, err := lead.Broadcast(bus.StatusUpdate{Status: bus.StatusBlocked})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "c"}, seen, "sender does not hear its own broadcast")
}

func TestDestroyReleasesOnlyOwnSubscription(t *testing.T) {
	b := bus.New()
	first := New(b, "coder", "s1")
	second := New(b, "coder", "s2")
	lead1 := New(b, "lead", "s1")
	lead2 := New(b, "lead", "s2")

	var firstCalls, secondCalls int
	first.OnQuestion(func(bus.Message, bus.Question) { firstCalls++ })
	second.OnQuestion(func(bus.Message, bus.Question) { secondCalls++ })

	first.Destroy()
	first.OnQuestion(func(bus.Message, bus.Question) { firstCalls++ })

	_, err := lead1.Ask("coder", bus.Question{Question: "?"})
	require.NoError(t, err)
	_, err = lead2.Ask("coder", bus.Question{Question: "?"})
	require.NoError(t, err)

	assert.Zero(t, firstCalls)
	assert.Equal(t, 1, secondCalls)
	assert.True(t, b.Subscribed("coder", bus.TypeQuestion))

	second.Destroy()
	assert.False(t, b.Subscribed("coder", bus.TypeQuestion))
}

func TestSendWithoutRecipientFails(t *testing.T) {
	f := New(bus.New(), "a", "s1")
	_, err := f.UpdateStatus(nil, bus.StatusUpdate{Status: bus.StatusWorking})
	assert.ErrorIs(t, err, bus.ErrNoRecipients)
}
