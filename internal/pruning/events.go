package pruning

import (
	"time"

	"github.com/google/uuid"

	"github.com/tosin2013/documcp-sub005/internal/logging"
)

// EventType identifies a maintenance lifecycle event.
type EventType string

const (
	EventPruningStarted   EventType = "pruningStarted"
	EventPruningCompleted EventType = "pruningCompleted"
	EventPruningFailed    EventType = "pruningFailed"
)

// Event is emitted at each stage of a maintenance run.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	RunID      string          `json:"runId"`
	Timestamp  time.Time       `json:"timestamp"`
	Candidates CandidateCounts `json:"candidates"`
	Result     *Result         `json:"result,omitempty"`
	Err        string          `json:"error,omitempty"`
}

// Subscribe registers a listener for maintenance events and returns an
// unsubscribe func. Listeners run synchronously on the engine goroutine,
// so they should be quick.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.subscribers, id)
	}
}

func (e *Engine) emit(ev Event) {
	ev.ID = uuid.NewString()
	ev.Timestamp = e.now()

	e.subMu.Lock()
	fns := make([]func(Event), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	logging.PruningDebug("event %s run=%.8s", ev.Type, ev.RunID)
	for _, fn := range fns {
		fn(ev)
	}
}
