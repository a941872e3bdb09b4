package metrics

import "time"

// Event is a single recorded measurement.
type Event struct {
	Name  string
	Time  time.Time
	Value float64
	Tags  map[string]string
}

type Observer interface {
	RecordEvent(ev Event)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(Event) {}

// Count records a counter increment tagged with a session id.
func Count(obs Observer, name, sessionID string, n float64) {
	if obs == nil {
		return
	}
	obs.RecordEvent(Event{
		Name:  name,
		Time:  time.Now(),
		Value: n,
		Tags:  map[string]string{"session_id": sessionID},
	})
}

// Counter names recorded by the reassembly and broadcast path.
const (
	CounterChunksReady    = "chunks_ready"
	CounterChunksStale    = "chunks_stale"
	CounterForcedAdvances = "forced_advances"
	CounterChunksSkipped  = "chunks_skipped"
	CounterDeliveries     = "deliveries"
	CounterDeliveryErrors = "delivery_errors"
	CounterInboxOverflow  = "inbox_overflow"
	CounterMediaDiscarded = "media_discarded"
	CounterResultsPartial = "results_partial"
	CounterResultsFinal   = "results_final"
)
