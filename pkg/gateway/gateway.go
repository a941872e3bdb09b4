// Package gateway exposes the HTTP and websocket surfaces that feed call
// audio in and transcript text out. Two ingestion paths share one session
// manager: API-Gateway-proxied routes mirroring the websocket custom routes,
// and a direct server hosting the Twilio media stream plus subscriber
// websockets.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/telescribe/telescribe/pkg/broadcast"
	"github.com/telescribe/telescribe/pkg/session"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	PublicURL      string   `mapstructure:"public_url"`
	AuthToken      string   `mapstructure:"auth_token"`
	VoicePath      string   `mapstructure:"voice_path"`
	StreamPath     string   `mapstructure:"stream_path"`
	ClientPath     string   `mapstructure:"client_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.StreamPath == "" {
		c.StreamPath = "/stream"
	}
	if c.ClientPath == "" {
		c.ClientPath = "/client"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Binder learns the remote delivery endpoint from proxied request metadata.
type Binder interface {
	Bind(domainName, stage string)
}

type Options struct {
	Router *broadcast.Router
	Hub    *Hub
	Binder Binder
	Logger *slog.Logger
}

type Gateway struct {
	cfg      Config
	logger   *slog.Logger
	router   *broadcast.Router
	binder   Binder
	hub      *Hub
	server   *http.Server
	upgrader websocket.Upgrader

	sessions *session.Manager

	mu      sync.Mutex
	streams map[string]*websocket.Conn

	draining atomic.Bool
}

func New(cfg Config, opts Options) *Gateway {
	cfg = cfg.withDefaults()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	g := &Gateway{
		cfg:    cfg,
		logger: opts.Logger,
		router: opts.Router,
		binder: opts.Binder,
		hub:    opts.Hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		streams: make(map[string]*websocket.Conn),
	}
	g.upgrader.CheckOrigin = g.checkOrigin
	return g
}

// SetSessionManager wires the session manager after construction; the
// manager's build function may itself reference the gateway as terminator.
func (g *Gateway) SetSessionManager(m *session.Manager) {
	g.sessions = m
}

func (g *Gateway) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", g.handleConnect)
	mux.HandleFunc("/disconnect", g.handleDisconnect)
	mux.HandleFunc("/sub", g.handleSub)
	mux.HandleFunc("/send", g.handleSend)
	mux.HandleFunc("/default", g.handleDefault)
	mux.HandleFunc(g.cfg.VoicePath, g.handleVoice)
	mux.HandleFunc(g.cfg.StreamPath, g.handleStream)
	mux.HandleFunc(g.cfg.ClientPath, g.handleClient)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/", g.handleIndex)
	g.server = &http.Server{
		Addr:              g.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = g.server.Close()
	}()
	go func() {
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway server error", slog.String("error", err.Error()))
		}
	}()
	g.logger.Info("gateway listening", slog.String("addr", g.cfg.ServerAddr))
	return nil
}

func (g *Gateway) Stop() error {
	g.draining.Store(true)
	if g.server != nil {
		_ = g.server.Close()
	}
	g.mu.Lock()
	for _, conn := range g.streams {
		_ = conn.Close()
	}
	g.streams = make(map[string]*websocket.Conn)
	g.mu.Unlock()
	if g.hub != nil {
		g.hub.Close()
	}
	return nil
}

// Kill tears down a direct-mode stream connection. Satisfies the session
// terminator contract for locally hosted streams.
func (g *Gateway) Kill(_ context.Context, connectionID string) error {
	g.mu.Lock()
	conn := g.streams[connectionID]
	delete(g.streams, connectionID)
	g.mu.Unlock()
	if conn == nil {
		return errors.New("no stream connection " + connectionID)
	}
	return conn.Close()
}

func (g *Gateway) registerStream(id string, conn *websocket.Conn) {
	g.mu.Lock()
	g.streams[id] = conn
	g.mu.Unlock()
}

func (g *Gateway) unregisterStream(id string) {
	g.mu.Lock()
	delete(g.streams, id)
	g.mu.Unlock()
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexPage))
}

const indexPage = `<!doctype html>
<html><head><title>telescribe</title></head>
<body><h1>telescribe</h1>
<p>Live call transcription relay. Subscribe on the client websocket and
pick a channel to follow.</p>
</body></html>
`

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if g.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range g.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}
