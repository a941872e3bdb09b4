// Package reorder reassembles a sequence-numbered chunk stream that may
// arrive out of order or with permanent gaps. The buffer tracks a watermark
// (the last sequence number handed downstream), parks future chunks in a
// pending map, and bounds memory with a forced-advance recovery policy: once
// the pending set reaches the configured threshold, the watermark jumps to
// the minimum pending sequence number and the gap is skipped for good.
package reorder

import (
	"log/slog"

	"github.com/telescribe/telescribe/pkg/metrics"
)

// DefaultThreshold is the pending-set size that triggers a forced advance.
const DefaultThreshold = 25

// Chunk is a sequence-numbered audio payload. Immutable once created.
type Chunk struct {
	Seq     uint64
	Payload []byte
}

type Config struct {
	Threshold int
	SessionID string
	Logger    *slog.Logger
	Observer  metrics.Observer
}

// Buffer holds chunks that arrived ahead of the watermark. Not safe for
// concurrent use; the owning session serializes all ingestion.
type Buffer struct {
	threshold int
	sessionID string
	logger    *slog.Logger
	obs       metrics.Observer

	watermark uint64
	primed    bool
	pending   map[uint64][]byte
}

func New(cfg Config) *Buffer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoopObserver{}
	}
	return &Buffer{
		threshold: cfg.Threshold,
		sessionID: cfg.SessionID,
		logger:    cfg.Logger,
		obs:       cfg.Observer,
		pending:   make(map[uint64][]byte),
	}
}

// Watermark returns the last sequence number handed downstream. The second
// return is false until the first chunk has been ingested.
func (b *Buffer) Watermark() (uint64, bool) {
	return b.watermark, b.primed
}

// PendingLen returns the number of parked out-of-order chunks.
func (b *Buffer) PendingLen() int {
	return len(b.pending)
}

// Reset drops all state, returning the buffer to its unprimed condition.
func (b *Buffer) Reset() {
	b.primed = false
	b.watermark = 0
	b.pending = make(map[uint64][]byte)
}

// Ingest accepts one chunk and returns the chunks that became ready for
// downstream processing, in strictly ascending sequence order. Stale chunks
// (at or below the watermark) are dropped. Chunks beyond the next expected
// sequence are parked until the gap fills or the forced-advance threshold
// is hit.
func (b *Buffer) Ingest(seq uint64, payload []byte) []Chunk {
	var ready []Chunk
	switch {
	case !b.primed:
		b.primed = true
		b.watermark = seq
		ready = append(ready, Chunk{Seq: seq, Payload: payload})

	case seq <= b.watermark:
		b.logger.Debug("stale chunk dropped",
			slog.Uint64("seq", seq),
			slog.Uint64("watermark", b.watermark))
		metrics.Count(b.obs, metrics.CounterChunksStale, b.sessionID, 1)

	case seq == b.watermark+1:
		b.watermark = seq
		ready = append(ready, Chunk{Seq: seq, Payload: payload})
		ready = b.drain(ready)

	default:
		b.pending[seq] = payload
	}

	if len(b.pending) >= b.threshold {
		ready = b.forceAdvance(ready)
	}
	if len(ready) > 0 {
		metrics.Count(b.obs, metrics.CounterChunksReady, b.sessionID, float64(len(ready)))
	}
	return ready
}

// drain pulls contiguous chunks out of pending, advancing the watermark
// until the next gap.
func (b *Buffer) drain(ready []Chunk) []Chunk {
	for {
		next := b.watermark + 1
		payload, ok := b.pending[next]
		if !ok {
			return ready
		}
		delete(b.pending, next)
		b.watermark = next
		ready = append(ready, Chunk{Seq: next, Payload: payload})
	}
}

// forceAdvance recovers from a presumed-lost gap. Superseded stragglers are
// purged first; the watermark then jumps to the minimum remaining pending
// sequence number, not to whichever chunk happened to trip the threshold.
func (b *Buffer) forceAdvance(ready []Chunk) []Chunk {
	var min uint64
	found := false
	for seq := range b.pending {
		if seq <= b.watermark {
			delete(b.pending, seq)
			continue
		}
		if !found || seq < min {
			min = seq
			found = true
		}
	}
	if !found {
		b.logger.Debug("forced advance found only stale chunks",
			slog.Uint64("watermark", b.watermark))
		return ready
	}

	skipped := min - b.watermark - 1
	b.logger.Warn("forced advance past lost chunks",
		slog.Uint64("watermark", b.watermark),
		slog.Uint64("resume_seq", min),
		slog.Uint64("skipped", skipped),
		slog.Int("pending", len(b.pending)))
	metrics.Count(b.obs, metrics.CounterForcedAdvances, b.sessionID, 1)
	metrics.Count(b.obs, metrics.CounterChunksSkipped, b.sessionID, float64(skipped))

	payload := b.pending[min]
	delete(b.pending, min)
	b.watermark = min
	ready = append(ready, Chunk{Seq: min, Payload: payload})
	return b.drain(ready)
}
