package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicIsDerivedFromData(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(4)
	defer cancel()

	h.Publish(Event{SessionID: "s1", Data: Progress{Total: 2, Completed: 1, Percent: 50}})

	e := <-ch
	assert.Equal(t, TopicExecutionProgress, e.Topic)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, 50.0, e.Data.(Progress).Percent)
}

func TestTopicFilter(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(4, TopicTaskCompleted)
	defer cancel()

	h.Publish(Event{Data: TaskAssigned{TaskID: "task-1"}})
	h.Publish(Event{Data: TaskCompleted{TaskID: "task-1", Success: true}})

	e := <-ch
	assert.Equal(t, TopicTaskCompleted, e.Topic)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %s", extra.Topic)
	default:
	}
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(Event{Data: Progress{Completed: i}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	h.Publish(Event{Data: Progress{}})
}

func TestCloseClosesSubscribers(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	h.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := h.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

type fakeForwarder struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeForwarder) PublishJSON(subject string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

func TestForwarder(t *testing.T) {
	h := NewHub()
	f := &fakeForwarder{}
	h.SetForwarder(f)

	h.Publish(Event{SessionID: "s1", Data: PlanFinished{Status: "completed"}})

	require.Len(t, f.subjects, 1)
	assert.Equal(t, "events.plan_finished.s1", f.subjects[0])
}
