// Package session ties one call's reassembly, transcription, and broadcast
// decisions together. All per-session state is owned by a single processing
// loop pulling from an inbound queue; nothing here is shared across calls
// except the broadcast router's subscriber sets.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/telescribe/telescribe/pkg/audio"
	"github.com/telescribe/telescribe/pkg/broadcast"
	"github.com/telescribe/telescribe/pkg/media"
	"github.com/telescribe/telescribe/pkg/metrics"
	"github.com/telescribe/telescribe/pkg/recognizer"
	"github.com/telescribe/telescribe/pkg/reorder"
	"github.com/telescribe/telescribe/pkg/transcribe"
)

// Terminator asks the transport layer to tear down the connection carrying
// the inbound stream, used when a session cannot proceed.
type Terminator interface {
	Kill(ctx context.Context, connectionID string) error
}

const (
	defaultScamInterval = 100
	defaultInboxSize    = 256
	defaultTargetRate   = 16000
	progressInterval    = 1000
)

type Config struct {
	ID           string
	ConnectionID string
	Factory      recognizer.Factory
	Router       *broadcast.Router
	Terminator   Terminator
	Logger       *slog.Logger
	Observer     metrics.Observer

	ReorderThreshold int
	TargetRate       int
	// ScamInterval is how many media events pass between full-transcript
	// snapshots on the scam channel.
	ScamInterval int
	InboxSize    int
	Language     string
}

// Session owns one call's reorder buffer, transcription pipeline, and
// recognizer handle. Created on "connected", destroyed on "stop".
type Session struct {
	id     string
	connID string
	cfg    Config
	logger *slog.Logger
	obs    metrics.Observer
	router *broadcast.Router

	inbox chan media.Event

	mu    sync.Mutex
	state State

	// Everything below is touched only by the processing loop.
	buf           *reorder.Buffer
	pipe          *transcribe.Pipeline
	rec           recognizer.Recognizer
	dec           *audio.Decoder
	streamID      string
	mediaCount    uint64
	lastBroadcast string
}

func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoopObserver{}
	}
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = defaultTargetRate
	}
	if cfg.ScamInterval <= 0 {
		cfg.ScamInterval = defaultScamInterval
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	logger := cfg.Logger.With(slog.String("session_id", cfg.ID))
	return &Session{
		id:     cfg.ID,
		connID: cfg.ConnectionID,
		cfg:    cfg,
		logger: logger,
		obs:    cfg.Observer,
		router: cfg.Router,
		inbox:  make(chan media.Event, cfg.InboxSize),
		state:  StateIdle,
		buf: reorder.New(reorder.Config{
			Threshold: cfg.ReorderThreshold,
			SessionID: cfg.ID,
			Logger:    logger,
			Observer:  cfg.Observer,
		}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the session transcript accumulated so far.
func (s *Session) Transcript() string {
	s.mu.Lock()
	pipe := s.pipe
	s.mu.Unlock()
	if pipe == nil {
		return ""
	}
	return pipe.Transcript()
}

// Enqueue hands an inbound event to the session's processing loop without
// blocking. Overflow is dropped with a warning; per-session ordering of
// accepted events is preserved by the single inbox.
func (s *Session) Enqueue(evt media.Event) bool {
	select {
	case s.inbox <- evt:
		return true
	default:
		s.logger.Warn("session inbox full, event dropped",
			slog.String("event", string(evt.Type)))
		metrics.Count(s.obs, metrics.CounterInboxOverflow, s.id, 1)
		return false
	}
}

// Run pumps the inbox through Handle until the session stops or the context
// is done. It is the only goroutine that mutates session state.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Handle(context.Background(), media.Event{Type: media.EventStop, Reason: "shutdown"})
			return
		case evt, ok := <-s.inbox:
			if !ok {
				return
			}
			s.Handle(ctx, evt)
			if s.State() == StateStopped {
				return
			}
		}
	}
}

// Handle processes one validated inbound event. It must be called from a
// single goroutine per session; Run does this for the inbox.
func (s *Session) Handle(ctx context.Context, evt media.Event) {
	switch evt.Type {
	case media.EventConnected:
		s.handleConnected(ctx)
	case media.EventStart:
		s.handleStart(ctx, evt)
	case media.EventMedia:
		s.handleMedia(ctx, evt)
	case media.EventStop:
		s.handleStop(evt.Reason)
	}
}

func (s *Session) handleConnected(ctx context.Context) {
	if s.State() != StateIdle {
		s.logger.Warn("connected event in unexpected state",
			slog.String("state", s.State().String()))
		return
	}
	s.logger.Debug("call connected, allocating recognizer")
	rec, err := s.cfg.Factory(ctx, recognizer.Config{
		SessionID:  s.id,
		SampleRate: s.cfg.TargetRate,
		Language:   s.cfg.Language,
	})
	if err != nil {
		s.logger.Error("recognizer allocation failed", slog.String("error", err.Error()))
		s.terminate(ctx)
		s.handleStop("recognizer_unavailable")
		return
	}
	s.rec = rec
	s.mu.Lock()
	s.pipe = transcribe.New(transcribe.Config{
		Recognizer: rec,
		SessionID:  s.id,
		Logger:     s.logger,
		Observer:   s.obs,
	})
	s.mu.Unlock()
	s.buf.Reset()
	s.mediaCount = 0
	s.lastBroadcast = ""
	if s.router != nil {
		s.router.ResetChannel(broadcast.ChannelLive)
		s.router.ResetChannel(broadcast.ChannelScamDetect)
	}
	s.setState(StateConnected)
}

func (s *Session) handleStart(ctx context.Context, evt media.Event) {
	if s.State() != StateConnected {
		s.logger.Warn("start event in unexpected state",
			slog.String("state", s.State().String()))
		return
	}
	if err := evt.Format.Validate(); err != nil {
		s.logger.Error("unsupported media format, terminating connection",
			slog.String("error", err.Error()))
		s.terminate(ctx)
		s.handleStop("unsupported_format")
		return
	}
	s.streamID = evt.StreamID
	s.dec = audio.NewDecoder(evt.Format, s.cfg.TargetRate)
	s.logger.Debug("stream started",
		slog.String("stream_id", evt.StreamID),
		slog.Int("sample_rate", evt.Format.SampleRate))
}

func (s *Session) handleMedia(ctx context.Context, evt media.Event) {
	state := s.State()
	if state == StateStopped || state == StateIdle || s.rec == nil {
		s.logger.Warn("media event with no active recognizer, discarded",
			slog.Uint64("seq", evt.Seq),
			slog.String("state", state.String()))
		metrics.Count(s.obs, metrics.CounterMediaDiscarded, s.id, 1)
		return
	}
	if state == StateConnected {
		s.setState(StateStreaming)
	}
	if s.dec == nil {
		// Media before the format declaration: assume telephony defaults.
		s.dec = audio.NewDecoder(media.Format{
			Encoding:   media.EncodingMuLaw,
			Channels:   1,
			SampleRate: 8000,
		}, s.cfg.TargetRate)
	}

	for _, chunk := range s.buf.Ingest(evt.Seq, evt.Payload) {
		samples := s.dec.Decode(chunk.Payload)
		result, ok, err := s.pipe.Process(samples)
		if err != nil {
			s.logger.Error("recognizer rejected chunk",
				slog.Uint64("seq", chunk.Seq),
				slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		if result.Text == s.lastBroadcast {
			continue
		}
		s.lastBroadcast = result.Text
		if s.router != nil {
			s.router.Dispatch(ctx, broadcast.ChannelLive, result.Text)
		}
	}

	s.mediaCount++
	if s.router != nil && s.mediaCount%uint64(s.cfg.ScamInterval) == 0 {
		s.router.Dispatch(ctx, broadcast.ChannelScamDetect, s.pipe.Transcript())
	}
	if s.mediaCount%progressInterval == 0 {
		wm, _ := s.buf.Watermark()
		s.logger.Debug("media progress",
			slog.Uint64("media_count", s.mediaCount),
			slog.Uint64("watermark", wm),
			slog.Int("pending", s.buf.PendingLen()))
	}
}

func (s *Session) handleStop(reason string) {
	if s.State() == StateStopped {
		s.logger.Debug("stop on already stopped session")
		return
	}
	s.logger.Debug("stopping session", slog.String("reason", reason))
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			s.logger.Error("recognizer close failed", slog.String("error", err.Error()))
		}
		s.rec = nil
	}
	if s.pipe != nil {
		s.pipe.Reset()
	}
	s.buf.Reset()
	s.dec = nil
	s.lastBroadcast = ""
	if s.router != nil {
		s.router.ResetChannel(broadcast.ChannelLive)
		s.router.ResetChannel(broadcast.ChannelScamDetect)
	}
	s.setState(StateStopped)
}

func (s *Session) terminate(ctx context.Context) {
	if s.cfg.Terminator == nil || s.connID == "" {
		return
	}
	if err := s.cfg.Terminator.Kill(ctx, s.connID); err != nil {
		s.logger.Error("failed to kill stream connection",
			slog.String("connection_id", s.connID),
			slog.String("error", err.Error()))
	}
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	if !transitionValid(from, to) {
		s.mu.Unlock()
		s.logger.Error("state transition rejected",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		return
	}
	s.state = to
	s.mu.Unlock()
	s.logger.Debug("state transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()))
}
