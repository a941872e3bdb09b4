// Package recognizer defines the speech-recognition contract the
// transcription pipeline is built against: a stateful online decoder in the
// Kaldi/Vosk mold that consumes ordered waveform chunks and exposes the
// current partial and the last finalized utterance.
package recognizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Recognizer is an opaque stateful decoder. Calls must be serialized and
// strictly ordered; decoder state is sequence-order-sensitive.
type Recognizer interface {
	// AcceptWaveform consumes one chunk of PCM samples and reports whether
	// the current utterance was finalized by it.
	AcceptWaveform(samples []int16) (bool, error)
	// Result returns the text of the last finalized utterance.
	Result() string
	// PartialResult returns the in-progress text of the current utterance.
	PartialResult() string
	// Close releases the decoder handle.
	Close() error
}

// Config contains vendor-agnostic recognizer configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Language   string
	Settings   map[string]any
}

// Factory builds a recognizer instance for one session.
type Factory func(ctx context.Context, cfg Config) (Recognizer, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *Registry) New(ctx context.Context, provider string, cfg Config) (Recognizer, error) {
	r.mu.Lock()
	factory := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	r.mu.Unlock()
	if factory == nil {
		return nil, fmt.Errorf("recognizer provider not registered: %s", provider)
	}
	return factory(ctx, cfg)
}
