// Package broadcast fans transcription text out to subscriber connections
// on named channels. Subscriber sets are the only state shared across
// sessions; one mutex guards membership, and delivery is best-effort with
// failures isolated per subscriber.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/telescribe/telescribe/pkg/errorsx"
	"github.com/telescribe/telescribe/pkg/metrics"
)

// Channel is a named broadcast topic with its own subscriber set and
// independent dedup state.
type Channel string

const (
	// ChannelLive carries every deduplicated transcription result.
	ChannelLive Channel = "live"
	// ChannelScamDetect carries periodic full-transcript snapshots.
	ChannelScamDetect Channel = "scam"
)

// Channels lists every routable channel.
var Channels = []Channel{ChannelLive, ChannelScamDetect}

// ParseChannel validates a subscription request's channel name.
func ParseChannel(name string) (Channel, error) {
	for _, ch := range Channels {
		if string(ch) == name {
			return ch, nil
		}
	}
	return "", fmt.Errorf("unexpected channel %q, supported values are %q and %q", name, ChannelLive, ChannelScamDetect)
}

// Deliverer pushes one text message to one subscriber connection.
type Deliverer interface {
	Deliver(ctx context.Context, connectionID, text string) error
}

type RouterConfig struct {
	Deliverer Deliverer
	Logger    *slog.Logger
	Observer  metrics.Observer
}

// Router maintains connection and per-channel subscriber sets and
// dispatches text results. Consecutive identical texts on a channel are
// sent once.
type Router struct {
	deliverer Deliverer
	logger    *slog.Logger
	obs       metrics.Observer

	mu          sync.Mutex
	connections map[string]struct{}
	subscribers map[Channel]map[string]struct{}
	lastSent    map[Channel]string
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoopObserver{}
	}
	subs := make(map[Channel]map[string]struct{}, len(Channels))
	for _, ch := range Channels {
		subs[ch] = make(map[string]struct{})
	}
	return &Router{
		deliverer:   cfg.Deliverer,
		logger:      cfg.Logger,
		obs:         cfg.Observer,
		connections: make(map[string]struct{}),
		subscribers: subs,
		lastSent:    make(map[Channel]string),
	}
}

// Connect registers a new subscriber connection.
func (r *Router) Connect(connectionID string) {
	r.mu.Lock()
	r.connections[connectionID] = struct{}{}
	r.mu.Unlock()
	r.logger.Debug("client connected", slog.String("connection_id", connectionID))
}

// Disconnect purges a connection from every channel.
func (r *Router) Disconnect(connectionID string) {
	r.mu.Lock()
	delete(r.connections, connectionID)
	for _, set := range r.subscribers {
		delete(set, connectionID)
	}
	r.mu.Unlock()
	r.logger.Debug("client disconnected", slog.String("connection_id", connectionID))
}

// Subscribe binds a connection to a channel. Unknown channels are rejected.
func (r *Router) Subscribe(channel Channel, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subscribers[channel]
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	r.connections[connectionID] = struct{}{}
	set[connectionID] = struct{}{}
	return nil
}

// SubscriberCount reports channel membership, mainly for tests and logs.
func (r *Router) SubscriberCount(channel Channel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers[channel])
}

// ConnectionCount reports the number of registered connections.
func (r *Router) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// Dispatch delivers text to every subscriber of a channel, unless it equals
// the previous text sent there. Individual delivery failures are logged and
// do not affect remaining subscribers.
func (r *Router) Dispatch(ctx context.Context, channel Channel, text string) {
	r.mu.Lock()
	if last, ok := r.lastSent[channel]; ok && last == text {
		r.mu.Unlock()
		return
	}
	r.lastSent[channel] = text
	targets := r.snapshotLocked(r.subscribers[channel])
	r.mu.Unlock()

	r.send(ctx, channel, targets, text)
}

// Broadcast delivers text to every registered connection regardless of
// channel membership. No dedup applies.
func (r *Router) Broadcast(ctx context.Context, text string) {
	r.mu.Lock()
	targets := r.snapshotLocked(r.connections)
	r.mu.Unlock()
	r.send(ctx, "", targets, text)
}

// ResetChannel clears a channel's dedup state, used on session teardown so
// the next call starts fresh.
func (r *Router) ResetChannel(channel Channel) {
	r.mu.Lock()
	delete(r.lastSent, channel)
	r.mu.Unlock()
}

func (r *Router) snapshotLocked(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (r *Router) send(ctx context.Context, channel Channel, targets []string, text string) {
	if r.deliverer == nil {
		return
	}
	for _, id := range targets {
		if err := r.deliverer.Deliver(ctx, id, text); err != nil {
			r.logger.Error("delivery failed",
				slog.String("connection_id", id),
				slog.String("channel", string(channel)),
				slog.String("reason_code", string(errorsx.ReasonDeliverySend)),
				slog.String("error", err.Error()))
			metrics.Count(r.obs, metrics.CounterDeliveryErrors, id, 1)
			continue
		}
		metrics.Count(r.obs, metrics.CounterDeliveries, id, 1)
	}
}
