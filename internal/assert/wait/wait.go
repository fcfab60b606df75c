// Package wait provides event-stream assertions for tests: blocking
// until projected watch events matching a filter have been observed.
package wait

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/kode4food/vigil/pkg/api"
	"github.com/kode4food/vigil/pkg/events"
	"github.com/kode4food/vigil/pkg/util"
)

type (
	Wait struct {
		t        *testing.T
		consumer topic.Consumer[*timebox.Event]
		timeout  time.Duration
	}

	Predicate[T any] func(T) bool

	EventFilter Predicate[*timebox.Event]

	stepEvent struct {
		StepID api.StepID `json:"step_id"`
	}

	edgeEvent struct {
		EdgeID api.EdgeID `json:"edge_id"`
	}
)

const DefaultTimeout = time.Second * 5

func On(t *testing.T, consumer topic.Consumer[*timebox.Event]) *Wait {
	return &Wait{
		t:        t,
		consumer: consumer,
		timeout:  DefaultTimeout,
	}
}

func (w *Wait) WithTimeout(timeout time.Duration) *Wait {
	res := *w
	res.timeout = timeout
	return &res
}

// ForEvents waits for matching events from the consumer
func (w *Wait) ForEvents(count int, filter EventFilter) {
	w.t.Helper()

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()

	for seen := 0; seen < count; {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				w.t.Fatalf(
					"event consumer closed before receiving %d events", count,
				)
			}
			if !filter(ev) {
				continue
			}
			seen++
		case <-deadline.C:
			w.t.Fatalf("timeout waiting for %d events", count)
		}
	}
}

// ForEvent waits for a single matching event
func (w *Wait) ForEvent(filter EventFilter) {
	w.ForEvents(1, filter)
}

// And composes event filters and returns true when all match
func And(filters ...EventFilter) EventFilter {
	return func(ev *timebox.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

// Type creates a filter for a single event type
func Type(eventType api.EventType) EventFilter {
	return Types(eventType)
}

// Types creates a filter for the given event types
func Types(eventTypes ...api.EventType) EventFilter {
	if len(eventTypes) == 0 {
		return func(*timebox.Event) bool { return false }
	}
	lookup := make(util.Set[timebox.EventType], len(eventTypes))
	for _, et := range eventTypes {
		lookup.Add(timebox.EventType(et))
	}
	return func(ev *timebox.Event) bool {
		return lookup.Contains(ev.Type)
	}
}

// Execution matches watch events for the given execution id
func Execution(id api.ExecutionID) EventFilter {
	return func(ev *timebox.Event) bool {
		return events.IsWatchEvent(ev) &&
			string(ev.AggregateID[1]) == string(id)
	}
}

// Terminal matches terminal events for the given execution id
func Terminal(id api.ExecutionID) EventFilter {
	return And(
		Execution(id),
		Types(
			api.EventTypeExecutionCompleted,
			api.EventTypeExecutionFailed,
			api.EventTypeExecutionCancelled,
		),
	)
}

// StepCompleted matches step completion events for the given steps
func StepCompleted(ids ...api.StepID) EventFilter {
	return And(Type(api.EventTypeStepCompleted), Steps(ids...))
}

// Steps matches events for the provided step ids
func Steps(ids ...api.StepID) EventFilter {
	expected := make(util.Set[api.StepID], len(ids))
	for _, id := range ids {
		expected.Add(id)
	}
	return Unmarshal(func(data stepEvent) bool {
		if expected.Contains(data.StepID) {
			expected.Remove(data.StepID)
			return true
		}
		return false
	})
}

// FeedbackCompleted matches feedback completion events for an edge
func FeedbackCompleted(id api.EdgeID) EventFilter {
	return And(
		Type(api.EventTypeFeedbackCompleted),
		Unmarshal(func(data edgeEvent) bool {
			return data.EdgeID == id
		}),
	)
}

// Unmarshal creates a filter that unmarshals event data and applies pred
func Unmarshal[T any](pred Predicate[T]) EventFilter {
	return func(ev *timebox.Event) bool {
		var data T
		if json.Unmarshal(ev.Data, &data) != nil {
			return false
		}
		return pred(data)
	}
}
