package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/telescribe/telescribe/pkg/broadcast"
	"github.com/telescribe/telescribe/pkg/errorsx"
	"github.com/telescribe/telescribe/pkg/media"
)

// proxyRequest is the body an API Gateway websocket integration forwards
// for each custom route: the caller's connection id, the stage metadata
// needed to post back, and the raw client message.
type proxyRequest struct {
	ConnectionID string `json:"connectionId"`
	DomainName   string `json:"domainName"`
	Stage        string `json:"stage"`
	Payload      string `json:"payload"`
}

func (g *Gateway) decodeProxy(w http.ResponseWriter, r *http.Request) (proxyRequest, bool) {
	var req proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request body"}`, http.StatusBadRequest)
		return req, false
	}
	if req.ConnectionID == "" {
		http.Error(w, `{"error":"connectionId required"}`, http.StatusBadRequest)
		return req, false
	}
	if g.binder != nil {
		g.binder.Bind(req.DomainName, req.Stage)
	}
	return req, true
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, ok := g.decodeProxy(w, r)
	if !ok {
		return
	}
	g.router.Connect(req.ConnectionID)
	g.logger.Debug("connection opened", slog.String("connection_id", req.ConnectionID))
	writeOK(w)
}

func (g *Gateway) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, ok := g.decodeProxy(w, r)
	if !ok {
		return
	}
	g.router.Disconnect(req.ConnectionID)
	if sess, found := g.sessions.Get(req.ConnectionID); found {
		sess.Enqueue(media.Event{Type: media.EventStop, Reason: "disconnected"})
	}
	g.logger.Debug("connection closed", slog.String("connection_id", req.ConnectionID))
	writeOK(w)
}

func (g *Gateway) handleSub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, ok := g.decodeProxy(w, r)
	if !ok {
		return
	}
	ch, err := broadcast.ParseChannel(req.Payload)
	if err != nil {
		http.Error(w, `{"error":"unknown channel"}`, http.StatusBadRequest)
		return
	}
	if err := g.router.Subscribe(ch, req.ConnectionID); err != nil {
		http.Error(w, `{"error":"unknown channel"}`, http.StatusBadRequest)
		return
	}
	g.logger.Debug("subscribed",
		slog.String("connection_id", req.ConnectionID),
		slog.String("channel", string(ch)))
	writeOK(w)
}

func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, ok := g.decodeProxy(w, r)
	if !ok {
		return
	}
	g.router.Broadcast(r.Context(), req.Payload)
	writeOK(w)
}

// handleDefault receives every websocket message that matched no custom
// route, which is where the Twilio stream events land.
func (g *Gateway) handleDefault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, ok := g.decodeProxy(w, r)
	if !ok {
		return
	}
	evt, err := media.ParseEvent([]byte(req.Payload))
	if err != nil {
		if errors.Is(err, media.ErrUnknownEvent) {
			g.logger.Debug("unrecognized message on default route",
				slog.String("connection_id", req.ConnectionID))
		} else {
			g.logger.Warn("malformed stream event dropped",
				slog.String("connection_id", req.ConnectionID),
				slog.String("reason_code", string(errorsx.Reason(err))),
				slog.String("error", err.Error()))
		}
		writeOK(w)
		return
	}
	if evt.Type == media.EventConnected {
		sess, created := g.sessions.GetOrCreate(req.ConnectionID)
		if created {
			g.logger.Info("call session started",
				slog.String("connection_id", req.ConnectionID))
		}
		sess.Enqueue(evt)
		writeOK(w)
		return
	}
	sess, found := g.sessions.Get(req.ConnectionID)
	if !found {
		g.logger.Warn("stream event for unknown session",
			slog.String("connection_id", req.ConnectionID),
			slog.String("event", string(evt.Type)))
		writeOK(w)
		return
	}
	sess.Enqueue(evt)
	writeOK(w)
}
