// Package events projects the engine's execution event stream into
// watch state aggregates.
package events

import (
	"github.com/kode4food/timebox"

	"github.com/kode4food/vigil/pkg/api"
)

// MakeAppliers converts a map keyed by api event types into the applier
// set timebox expects
func MakeAppliers[T any](
	app map[api.EventType]timebox.Applier[T],
) timebox.Appliers[T] {
	res := map[timebox.EventType]timebox.Applier[T]{}
	for et, fn := range app {
		res[timebox.EventType(et)] = fn
	}
	return res
}

// Raise raises an event through the aggregator
func Raise[T, E any](
	ag *timebox.Aggregator[T], eventType api.EventType, event E,
) error {
	return timebox.Raise(ag, timebox.EventType(eventType), event)
}
