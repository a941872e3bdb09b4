// Package mock provides a scripted recognizer for tests and local runs.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/telescribe/telescribe/pkg/recognizer"
)

// Step is one scripted decoder reaction: a partial or a finalized utterance.
type Step struct {
	Text  string
	Final bool
}

type Config struct {
	Steps []Step
	// Loop restarts the script once exhausted instead of going silent.
	Loop bool
}

type Recognizer struct {
	mu      sync.Mutex
	cfg     Config
	idx     int
	partial string
	result  string
	closed  bool
}

func New(cfg Config) *Recognizer {
	return &Recognizer{cfg: cfg}
}

// Factory adapts the scripted recognizer to the provider registry.
func Factory(cfg Config) recognizer.Factory {
	return func(ctx context.Context, _ recognizer.Config) (recognizer.Recognizer, error) {
		return New(cfg), nil
	}
}

func (r *Recognizer) AcceptWaveform(samples []int16) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, errors.New("recognizer closed")
	}
	if r.idx >= len(r.cfg.Steps) {
		if !r.cfg.Loop || len(r.cfg.Steps) == 0 {
			r.partial = ""
			return false, nil
		}
		r.idx = 0
	}
	step := r.cfg.Steps[r.idx]
	r.idx++
	if step.Final {
		r.result = step.Text
		r.partial = ""
		return true, nil
	}
	r.partial = step.Text
	return false, nil
}

func (r *Recognizer) Result() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *Recognizer) PartialResult() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

var _ recognizer.Recognizer = (*Recognizer)(nil)
