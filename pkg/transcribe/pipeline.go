// Package transcribe tracks recognizer output for one session: finalized
// utterances accumulate, the in-progress partial is replaced as the decoder
// refines it.
package transcribe

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/telescribe/telescribe/pkg/errorsx"
	"github.com/telescribe/telescribe/pkg/metrics"
	"github.com/telescribe/telescribe/pkg/recognizer"
)

// Result is one transcription outcome for a processed chunk.
type Result struct {
	Text  string
	Final bool
}

type Config struct {
	Recognizer recognizer.Recognizer
	SessionID  string
	Logger     *slog.Logger
	Observer   metrics.Observer
}

// Pipeline feeds ordered audio into the recognizer and maintains the
// session transcript. Chunks must arrive in the order the reorder buffer
// produced them; decoder state is order-sensitive.
type Pipeline struct {
	mu         sync.Mutex
	rec        recognizer.Recognizer
	sessionID  string
	logger     *slog.Logger
	obs        metrics.Observer
	finalized  strings.Builder
	inProgress string
}

func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoopObserver{}
	}
	return &Pipeline{
		rec:       cfg.Recognizer,
		sessionID: cfg.SessionID,
		logger:    cfg.Logger,
		obs:       cfg.Observer,
	}
}

// Process feeds one ready chunk of PCM to the recognizer. The boolean is
// false when no speech was detected yet; empty-text results never surface.
func (p *Pipeline) Process(samples []int16) (Result, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	final, err := p.rec.AcceptWaveform(samples)
	if err != nil {
		return Result{}, false, errorsx.Wrap(err, errorsx.ReasonRecognizerAccept)
	}

	if final {
		text := p.rec.Result()
		p.inProgress = ""
		if text == "" {
			return Result{}, false, nil
		}
		p.finalized.WriteString(text)
		p.finalized.WriteString("\n")
		metrics.Count(p.obs, metrics.CounterResultsFinal, p.sessionID, 1)
		return Result{Text: text, Final: true}, true, nil
	}

	text := p.rec.PartialResult()
	if text == "" {
		return Result{}, false, nil
	}
	p.inProgress = text
	metrics.Count(p.obs, metrics.CounterResultsPartial, p.sessionID, 1)
	return Result{Text: text}, true, nil
}

// Transcript returns the finalized utterances plus the current partial,
// the snapshot the scam-detection channel consumes.
func (p *Pipeline) Transcript() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalized.String() + p.inProgress
}

// FinalizedText returns only the completed, newline-joined utterances.
func (p *Pipeline) FinalizedText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalized.String()
}

// InProgress returns the current partial, replaced on each interim result.
func (p *Pipeline) InProgress() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inProgress
}

// Reset clears all accumulated text.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalized.Reset()
	p.inProgress = ""
}
