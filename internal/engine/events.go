package engine

import (
	"time"

	"github.com/talgya/evosim/internal/stats"
)

// EventKind names a scheduler notification.
type EventKind string

const (
	EventGenerationStarted EventKind = "generation_started"
	EventGenerationStopped EventKind = "generation_stopped"
	EventStats             EventKind = "stats"
)

// Event is delivered to subscribers in publish order. Seq is strictly
// increasing across runs.
type Event struct {
	Seq   uint64          `json:"seq"`
	Kind  EventKind       `json:"kind"`
	RunID string          `json:"run_id,omitempty"`
	Time  time.Time       `json:"time"`
	Stats *stats.Snapshot `json:"stats,omitempty"`
}

// Subscribe registers a listener. Events are dropped for a listener whose
// buffer is full so a slow consumer cannot stall the simulation.
func (e *Engine) Subscribe(buffer int) (int, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribeLocked(buffer)
}

// SubscribeWithCatchUp registers a listener and returns the latest stats
// event, if any, taken under the same lock. Every event later delivered on
// the channel is newer than the catch-up event.
func (e *Engine) SubscribeWithCatchUp(buffer int) (int, <-chan Event, *Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ch := e.subscribeLocked(buffer)
	if e.latest == nil {
		return id, ch, nil
	}
	snap := e.latest.Clone()
	return id, ch, &Event{
		Seq:   e.latestSeq,
		Kind:  EventStats,
		RunID: snap.RunID,
		Time:  snap.PublishedAt,
		Stats: &snap,
	}
}

func (e *Engine) subscribeLocked(buffer int) (int, <-chan Event) {
	if buffer < 1 {
		buffer = 1
	}
	id := e.nextSub
	e.nextSub++
	ch := make(chan Event, buffer)
	e.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (e *Engine) Unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(ch)
	}
}

// broadcastLocked stamps ev and fans it out. Caller holds e.mu.
func (e *Engine) broadcastLocked(ev Event) {
	e.seq++
	ev.Seq = e.seq
	ev.Time = time.Now()
	for _, ch := range e.subs {
		out := ev
		if ev.Stats != nil {
			s := ev.Stats.Clone()
			out.Stats = &s
		}
		select {
		case ch <- out:
		default:
			e.Metrics.droppedEvent()
		}
	}
}
