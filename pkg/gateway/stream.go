package gateway

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/telescribe/telescribe/pkg/errorsx"
	"github.com/telescribe/telescribe/pkg/media"
)

// handleVoice answers the inbound-call webhook with TwiML connecting the
// call's audio to the stream websocket.
func (g *Gateway) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if g.cfg.AuthToken != "" && !g.validateTwilioRequest(r) {
		g.logger.Warn("voice webhook rejected",
			slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	twiml := `<Response><Connect><Stream url="` + g.websocketURL(r) + `"/></Connect></Response>`
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

// handleStream hosts one call's media websocket. Each connection gets its
// own session; the stream's JSON events flow straight into its inbox.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	if g.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	g.registerStream(connID, conn)
	defer g.unregisterStream(connID)

	sess, _ := g.sessions.GetOrCreate(connID)
	g.logger.Info("stream connected", slog.String("connection_id", connID))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		evt, err := media.ParseEvent(msg)
		if err != nil {
			if err == media.ErrUnknownEvent {
				continue
			}
			g.logger.Warn("malformed stream event dropped",
				slog.String("connection_id", connID),
				slog.String("reason_code", string(errorsx.Reason(err))),
				slog.String("error", err.Error()))
			continue
		}
		sess.Enqueue(evt)
		if evt.Type == media.EventStop {
			return
		}
	}
	sess.Enqueue(media.Event{Type: media.EventStop, Reason: "transport_closed"})
}

func (g *Gateway) websocketURL(r *http.Request) string {
	if g.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(g.cfg.PublicURL) + g.cfg.StreamPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(g.cfg.ServerAddr, ":")
	}
	return "wss://" + host + g.cfg.StreamPath
}

func (g *Gateway) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(g.cfg.AuthToken)
	return validator.ValidateBody(g.requestURL(r), body, signature)
}

func (g *Gateway) requestURL(r *http.Request) string {
	if g.cfg.PublicURL != "" {
		return strings.TrimRight(g.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(g.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
