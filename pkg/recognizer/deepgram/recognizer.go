// Package deepgram adapts the Deepgram streaming websocket client to the
// blocking AcceptWaveform/Result/PartialResult recognizer contract. Audio is
// streamed through a pipe to the SDK; the callback records interim and
// finalized transcripts, and AcceptWaveform reports whether a finalized
// utterance arrived since the last Result drain.
package deepgram

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/telescribe/telescribe/pkg/errorsx"
	"github.com/telescribe/telescribe/pkg/logging"
	"github.com/telescribe/telescribe/pkg/recognizer"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	SessionID  string
}

type Recognizer struct {
	cfg        Config
	logger     *slog.Logger
	dgClient   *client.WSCallback
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	results *resultState
}

func New(ctx context.Context, cfg Config) (*Recognizer, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	logger := logging.NewComponentLogger(slog.Default(), "deepgram_recognizer")
	r := &Recognizer{
		cfg:     cfg,
		logger:  logger,
		results: &resultState{},
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.pipeReader, r.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          cfg.Model,
		Language:       cfg.Language,
		Encoding:       "linear16",
		SampleRate:     cfg.SampleRate,
		InterimResults: true,
		SmartFormat:    true,
	}

	logger.Info("initializing deepgram connection",
		slog.String("session_id", cfg.SessionID),
		slog.String("model", cfg.Model),
		slog.Int("sample_rate", cfg.SampleRate))

	cb := &callback{logger: logger, sessionID: cfg.SessionID, results: r.results}
	dgClient, err := client.NewWSUsingCallback(ctx, cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		r.cancel()
		return nil, errorsx.Wrap(err, errorsx.ReasonRecognizerStart)
	}
	r.dgClient = dgClient

	if connected := r.dgClient.Connect(); !connected {
		r.cancel()
		return nil, errorsx.Wrap(fmt.Errorf("deepgram connection failed"), errorsx.ReasonRecognizerStart)
	}

	go func() {
		if err := r.dgClient.Stream(r.pipeReader); err != nil && ctx.Err() == nil {
			logger.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("session_id", cfg.SessionID))
		}
	}()
	return r, nil
}

// Factory adapts the Deepgram recognizer to the provider registry. The
// settings map carries api_key/model/language overrides.
func Factory(apiKey, model, language string) recognizer.Factory {
	return func(ctx context.Context, cfg recognizer.Config) (recognizer.Recognizer, error) {
		return New(ctx, Config{
			APIKey:     apiKey,
			Model:      model,
			Language:   language,
			SampleRate: cfg.SampleRate,
			SessionID:  cfg.SessionID,
		})
	}
}

func (r *Recognizer) AcceptWaveform(samples []int16) (bool, error) {
	if r.pipeWriter == nil {
		return false, errorsx.Wrap(fmt.Errorf("not started"), errorsx.ReasonRecognizerAccept)
	}
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	if _, err := r.pipeWriter.Write(buf); err != nil {
		return false, errorsx.Wrap(err, errorsx.ReasonRecognizerAccept)
	}
	return r.results.hasFinal(), nil
}

func (r *Recognizer) Result() string {
	return r.results.takeFinal()
}

func (r *Recognizer) PartialResult() string {
	return r.results.interim()
}

func (r *Recognizer) Close() error {
	r.logger.Info("closing deepgram connection",
		slog.String("session_id", r.cfg.SessionID))
	if r.cancel != nil {
		r.cancel()
	}
	if r.pipeWriter != nil {
		_ = r.pipeWriter.Close()
	}
	if r.dgClient != nil {
		r.dgClient.Stop()
	}
	return nil
}

var _ recognizer.Recognizer = (*Recognizer)(nil)
