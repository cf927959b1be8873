package run

import "github.com/veridict/veridict/internal/event"

// ProgressFunc receives best-effort progress updates for a running
// pipeline. percent is 0..100 within the named stage.
type ProgressFunc func(stage string, percent float64, message string)

// SubscribeProgress wires fn to the bus's stage lifecycle events. It
// returns the subscription ids so a caller can detach the observer.
func SubscribeProgress(bus *event.Bus, fn ProgressFunc) []string {
	ids := make([]string, 0, 4)

	ids = append(ids, bus.Subscribe("stage.started", func(e event.Event) {
		if ev, ok := e.(event.StageStartedEvent); ok {
			fn(ev.Stage, 0, "started")
		}
	}))
	ids = append(ids, bus.Subscribe("stage.progress", func(e event.Event) {
		if ev, ok := e.(event.StageProgressEvent); ok {
			fn(ev.Stage, ev.Percent, ev.Message)
		}
	}))
	ids = append(ids, bus.Subscribe("stage.completed", func(e event.Event) {
		if ev, ok := e.(event.StageCompletedEvent); ok {
			fn(ev.Stage, 100, "completed")
		}
	}))
	ids = append(ids, bus.Subscribe("stage.failed", func(e event.Event) {
		if ev, ok := e.(event.StageFailedEvent); ok {
			fn(ev.Stage, 100, "failed: "+ev.Err)
		}
	}))
	return ids
}

// Unsubscribe detaches a previously attached progress observer.
func Unsubscribe(bus *event.Bus, ids []string) {
	for _, id := range ids {
		bus.Unsubscribe(id)
	}
}
