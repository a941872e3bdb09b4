package deepgram

import (
	"log/slog"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

// resultState carries transcripts from the SDK callback goroutine to the
// session goroutine polling the recognizer.
type resultState struct {
	mu      sync.Mutex
	partial string
	finals  []string
}

func (s *resultState) setPartial(text string) {
	s.mu.Lock()
	s.partial = text
	s.mu.Unlock()
}

func (s *resultState) pushFinal(text string) {
	s.mu.Lock()
	s.finals = append(s.finals, text)
	s.partial = ""
	s.mu.Unlock()
}

func (s *resultState) hasFinal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finals) > 0
}

func (s *resultState) takeFinal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.finals) == 0 {
		return ""
	}
	text := s.finals[0]
	s.finals = s.finals[1:]
	return text
}

func (s *resultState) interim() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

type callback struct {
	logger     *slog.Logger
	sessionID  string
	results    *resultState
	metaLogged bool
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.logger.Info("deepgram_connection_opened",
		slog.String("session_id", c.sessionID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	if mr.IsFinal || mr.SpeechFinal {
		c.results.pushFinal(transcript)
	} else {
		c.results.setPartial(transcript)
	}
	c.logger.Debug("transcript_received",
		slog.String("session_id", c.sessionID),
		slog.Bool("is_final", mr.IsFinal || mr.SpeechFinal))
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.metaLogged {
		c.metaLogged = true
		c.logger.Info("deepgram_metadata_received",
			slog.String("session_id", c.sessionID),
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.logger.Debug("speech_started_event",
		slog.String("session_id", c.sessionID))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.logger.Debug("utterance_end_event",
		slog.String("session_id", c.sessionID))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.logger.Info("deepgram_connection_closed",
		slog.String("session_id", c.sessionID))
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Error("deepgram_error",
		slog.String("session_id", c.sessionID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.logger.Debug("deepgram_unhandled_event",
		slog.String("session_id", c.sessionID))
	return nil
}
