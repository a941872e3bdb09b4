package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/telescribe/telescribe/pkg/broadcast"
	"github.com/telescribe/telescribe/pkg/recognizer/mock"
	"github.com/telescribe/telescribe/pkg/session"
)

type captureDeliverer struct {
	mu   sync.Mutex
	sent []string
}

func (d *captureDeliverer) Deliver(_ context.Context, _, text string) error {
	d.mu.Lock()
	d.sent = append(d.sent, text)
	d.mu.Unlock()
	return nil
}

func (d *captureDeliverer) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent))
	copy(out, d.sent)
	return out
}

type captureBinder struct {
	mu     sync.Mutex
	domain string
	stage  string
}

func (b *captureBinder) Bind(domainName, stage string) {
	b.mu.Lock()
	b.domain = domainName
	b.stage = stage
	b.mu.Unlock()
}

func newTestGateway(deliverer broadcast.Deliverer, binder Binder) (*Gateway, *broadcast.Router, *session.Manager) {
	router := broadcast.NewRouter(broadcast.RouterConfig{Deliverer: deliverer})
	g := New(Config{}, Options{
		Router: router,
		Hub:    NewHub(nil),
		Binder: binder,
	})
	mgr := session.NewManager(func(id string) *session.Session {
		return session.New(session.Config{
			ID:      id,
			Factory: mock.Factory(mock.Config{Steps: []mock.Step{{Text: "hi"}}, Loop: true}),
			Router:  router,
		})
	}, nil)
	g.SetSessionManager(mgr)
	return g, router, mgr
}

func proxyBody(t *testing.T, connID, payload string) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(map[string]string{
		"connectionId": connID,
		"domainName":   "api.example.com",
		"stage":        "prod",
		"payload":      payload,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(b)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleConnectRegistersConnection(t *testing.T) {
	binder := &captureBinder{}
	g, router, _ := newTestGateway(&captureDeliverer{}, binder)

	req := httptest.NewRequest(http.MethodPost, "/connect", proxyBody(t, "conn-1", ""))
	w := httptest.NewRecorder()
	g.handleConnect(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if router.ConnectionCount() != 1 {
		t.Fatalf("expected 1 connection, got %d", router.ConnectionCount())
	}
	if binder.domain != "api.example.com" || binder.stage != "prod" {
		t.Fatalf("expected binder to learn endpoint, got %q %q", binder.domain, binder.stage)
	}
}

func TestHandleConnectMissingID(t *testing.T) {
	g, _, _ := newTestGateway(&captureDeliverer{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/connect", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	g.handleConnect(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleSubUnknownChannel(t *testing.T) {
	g, _, _ := newTestGateway(&captureDeliverer{}, nil)
	req := httptest.NewRequest(http.MethodPut, "/sub", proxyBody(t, "conn-1", "weather"))
	w := httptest.NewRecorder()
	g.handleSub(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown channel, got %d", w.Code)
	}
}

func TestHandleSubThenDispatch(t *testing.T) {
	d := &captureDeliverer{}
	g, router, _ := newTestGateway(d, nil)

	req := httptest.NewRequest(http.MethodPut, "/sub", proxyBody(t, "conn-1", "live"))
	w := httptest.NewRecorder()
	g.handleSub(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	router.Dispatch(context.Background(), broadcast.ChannelLive, "text")
	got := d.texts()
	if len(got) != 1 || got[0] != "text" {
		t.Fatalf("expected dispatched text, got %v", got)
	}
}

func TestHandleSendBroadcasts(t *testing.T) {
	d := &captureDeliverer{}
	g, router, _ := newTestGateway(d, nil)
	router.Connect("c1")
	router.Connect("c2")

	req := httptest.NewRequest(http.MethodPut, "/send", proxyBody(t, "c1", "announcement"))
	w := httptest.NewRecorder()
	g.handleSend(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(d.texts()) != 2 {
		t.Fatalf("expected broadcast to both connections, got %v", d.texts())
	}
}

func TestHandleDefaultRunsFullCall(t *testing.T) {
	d := &captureDeliverer{}
	g, router, mgr := newTestGateway(d, nil)
	defer mgr.Shutdown()
	_ = router.Subscribe(broadcast.ChannelLive, "watcher")

	post := func(payload string) {
		t.Helper()
		req := httptest.NewRequest(http.MethodPut, "/default", proxyBody(t, "conn-1", payload))
		w := httptest.NewRecorder()
		g.handleDefault(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}

	post(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)
	if mgr.Len() != 1 {
		t.Fatalf("expected session created, got %d", mgr.Len())
	}
	post(`{"event":"start","start":{"streamSid":"MZ1","mediaFormat":{"encoding":"audio/x-mulaw","channels":1,"sampleRate":8000}}}`)
	audio := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xFF})
	post(`{"event":"media","sequenceNumber":"1","media":{"payload":"` + audio + `"}}`)

	waitFor(t, "transcript delivery", func() bool {
		return len(d.texts()) == 1
	})
	if d.texts()[0] != "hi" {
		t.Fatalf("expected %q, got %v", "hi", d.texts())
	}

	post(`{"event":"stop","stop":{"reason":"completed"}}`)
	waitFor(t, "session removal", func() bool { return mgr.Len() == 0 })
}

func TestHandleDefaultDropsMalformedEvents(t *testing.T) {
	g, _, mgr := newTestGateway(&captureDeliverer{}, nil)
	defer mgr.Shutdown()

	req := httptest.NewRequest(http.MethodPut, "/default",
		proxyBody(t, "conn-1", `{"event":"media","sequenceNumber":"abc","media":{"payload":"AAAA"}}`))
	w := httptest.NewRecorder()
	g.handleDefault(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for dropped event, got %d", w.Code)
	}
	if mgr.Len() != 0 {
		t.Fatalf("expected no session for malformed event, got %d", mgr.Len())
	}
}

func TestHandleDisconnectStopsSession(t *testing.T) {
	g, router, mgr := newTestGateway(&captureDeliverer{}, nil)
	defer mgr.Shutdown()
	router.Connect("conn-1")

	req := httptest.NewRequest(http.MethodPut, "/default",
		proxyBody(t, "conn-1", `{"event":"connected","protocol":"Call","version":"1.0.0"}`))
	g.handleDefault(httptest.NewRecorder(), req)
	if mgr.Len() != 1 {
		t.Fatalf("expected session created")
	}

	req = httptest.NewRequest(http.MethodPost, "/disconnect", proxyBody(t, "conn-1", ""))
	w := httptest.NewRecorder()
	g.handleDisconnect(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if router.ConnectionCount() != 0 {
		t.Fatalf("expected connection purged")
	}
	waitFor(t, "session removal", func() bool { return mgr.Len() == 0 })
}

func TestHandleVoiceSignatureValidation(t *testing.T) {
	g, _, _ := newTestGateway(&captureDeliverer{}, nil)
	g.cfg.AuthToken = "token"
	g.cfg.PublicURL = "https://example.com"

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("From", "+123")
	body := form.Encode()

	req := httptest.NewRequest(http.MethodPost, "https://example.com/voice", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	params := map[string]string{"CallSid": "CA123", "From": "+123"}
	req.Header.Set("X-Twilio-Signature", computeSignature("token", g.requestURL(req), params))

	w := httptest.NewRecorder()
	g.handleVoice(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `<Connect><Stream url="wss://example.com/stream"/></Connect>`) {
		t.Fatalf("unexpected TwiML: %s", w.Body.String())
	}

	reqInvalid := httptest.NewRequest(http.MethodPost, "https://example.com/voice", strings.NewReader(body))
	reqInvalid.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	reqInvalid.Header.Set("X-Twilio-Signature", "invalid")
	wInvalid := httptest.NewRecorder()
	g.handleVoice(wInvalid, reqInvalid)
	if wInvalid.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", wInvalid.Code)
	}
}

func TestStreamWebsocketFullCall(t *testing.T) {
	d := &captureDeliverer{}
	g, router, mgr := newTestGateway(d, nil)
	defer mgr.Shutdown()
	_ = router.Subscribe(broadcast.ChannelLive, "watcher")

	srv := httptest.NewServer(http.HandlerFunc(g.handleStream))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	send := func(msg string) {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	send(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)
	send(`{"event":"start","start":{"streamSid":"MZ1","mediaFormat":{"encoding":"audio/x-mulaw","channels":1,"sampleRate":8000}}}`)
	audio := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xFF})
	send(`{"event":"media","sequenceNumber":"1","media":{"payload":"` + audio + `"}}`)

	waitFor(t, "transcript delivery", func() bool {
		return len(d.texts()) == 1
	})

	send(`{"event":"stop","stop":{"reason":"completed"}}`)
	waitFor(t, "session removal", func() bool { return mgr.Len() == 0 })
}

func TestClientWebsocketSubscribe(t *testing.T) {
	hub := NewHub(nil)
	router := broadcast.NewRouter(broadcast.RouterConfig{Deliverer: hub})
	g := New(Config{}, Options{Router: router, Hub: hub})

	srv := httptest.NewServer(http.HandlerFunc(g.handleClient))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","channel":"live"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, ack, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if string(ack) != `{"subscribed":"live"}` {
		t.Fatalf("unexpected ack %s", ack)
	}

	waitFor(t, "subscriber registered", func() bool {
		return router.SubscriberCount(broadcast.ChannelLive) == 1
	})
	router.Dispatch(context.Background(), broadcast.ChannelLive, "hello caller")

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != "hello caller" {
		t.Fatalf("expected transcript text, got %s", msg)
	}
}

func computeSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	base := url
	for _, k := range keys {
		base += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
