// Package server exposes the coordination engine over WebSocket and REST.
// Clients issue request frames over the socket and receive correlated
// response frames; agents bound to a connection additionally receive pushed
// event frames for their direct messages and broadcasts.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/agentcoop"
	"github.com/hupe1980/agentcoop/auth"
	"github.com/hupe1980/agentcoop/core"
	"github.com/hupe1980/agentcoop/logging"
	"github.com/hupe1980/agentcoop/metrics"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8787"

// Options configures the server.
type Options struct {
	// Addr is the listen address (default ":8787").
	Addr string

	// Authenticator guards the WebSocket upgrade and the REST API. Nil means
	// no authentication.
	Authenticator *auth.Authenticator

	// Metrics, when set, records request latency and connection churn and is
	// served at /metrics in Prometheus text format.
	Metrics *metrics.Collector

	// EnableRateLimit turns on per-client request limiting.
	EnableRateLimit bool

	// RateLimit tunes the limiter when EnableRateLimit is set.
	RateLimit RateLimiterConfig

	// EnableREST serves the /api routes alongside the socket (default true
	// via New).
	EnableREST bool

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// WithAddr overrides the listen address.
func WithAddr(addr string) func(*Options) {
	return func(o *Options) { o.Addr = addr }
}

// WithAuthenticator guards the server with the given authenticator.
func WithAuthenticator(a *auth.Authenticator) func(*Options) {
	return func(o *Options) { o.Authenticator = a }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) func(*Options) {
	return func(o *Options) { o.Metrics = m }
}

// WithRateLimit enables per-client rate limiting.
func WithRateLimit(cfg RateLimiterConfig) func(*Options) {
	return func(o *Options) {
		o.EnableRateLimit = true
		o.RateLimit = cfg
	}
}

// WithoutREST disables the /api routes.
func WithoutREST() func(*Options) {
	return func(o *Options) { o.EnableREST = false }
}

// WithLogger sets the server logger.
func WithLogger(l logging.Logger) func(*Options) {
	return func(o *Options) { o.Logger = l }
}

// Server terminates WebSocket and REST traffic against one AgentCoop
// instance.
type Server struct {
	coop    *agentcoop.AgentCoop
	opts    Options
	logger  logging.Logger
	limiter *RateLimiter

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	started  time.Time

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

// wsConn tracks one socket connection. writeMu serializes frame writes
// because event pushes race with request responses.
type wsConn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	agentID string
	unsubs  []func()
}

// New creates a server around the given coordination instance.
func New(coop *agentcoop.AgentCoop, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:       DefaultAddr,
		EnableREST: true,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{
		coop:   coop,
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns:   make(map[*wsConn]struct{}),
		started: time.Now().UTC(),
	}
	if opts.EnableRateLimit {
		s.limiter = NewRateLimiter(opts.RateLimit)
	}
	return s
}

// Handler returns the server's HTTP handler. Useful for tests and for
// embedding into an existing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		mux.HandleFunc("/metrics", s.handleMetrics)
	}
	if s.opts.EnableREST {
		s.registerRESTRoutes(mux)
	}
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// ListenAndServe starts serving and blocks until the listener fails or
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server listening", "addr", s.opts.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown closes all socket connections and stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.ws.Close()
	}
	s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// credential extracts the client credential from headers or, for socket
// upgrades where custom headers are awkward, the query string.
func credential(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	return r.URL.Query().Get("token")
}

// authenticate validates the request credential. A nil authenticator admits
// everyone with full permissions.
func (s *Server) authenticate(r *http.Request) (*auth.Context, error) {
	if s.opts.Authenticator == nil {
		return &auth.Context{
			AgentID:         "anonymous",
			Permissions:     auth.Permissions{Read: true, Write: true, Admin: true},
			AuthenticatedAt: time.Now().UTC(),
		}, nil
	}
	return s.opts.Authenticator.Authenticate(credential(r))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{id: core.NewID(), ws: ws}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordAgentConnect()
	}
	s.logger.Info("client connected", "client_id", c.id)

	go s.readLoop(c, authCtx)
}

func (s *Server) readLoop(c *wsConn, authCtx *auth.Context) {
	defer s.disconnect(c)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("read failed", "client_id", c.id, "error", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendError(c, "", CodeInvalidRequest, "malformed request frame")
			continue
		}
		if s.limiter != nil && !s.limiter.Allow(c.id) {
			s.sendError(c, req.ID, CodeRateLimited,
				fmt.Sprintf("rate limit exceeded, retry in %s", s.limiter.TimeUntilReset(c.id).Round(time.Millisecond)))
			continue
		}

		start := time.Now()
		err = s.dispatch(c, authCtx, req)
		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordRequest(req.Type, time.Since(start), err != nil)
		}
	}
}

// disconnect tears down subscriptions and marks the bound agent offline.
func (s *Server) disconnect(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	c.mu.Lock()
	agentID := c.agentID
	unsubs := c.unsubs
	c.agentID = ""
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if agentID != "" && s.coop.GetAgent(agentID) != nil {
		s.coop.Registry.UpdateStatus(agentID, core.AgentOffline)
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordAgentDisconnect()
	}
	_ = c.ws.Close()
	s.logger.Info("client disconnected", "client_id", c.id, "agent_id", agentID)
}

// bindAgent attaches the connection to an agent id and pushes the agent's
// messages as event frames. Rebinding replaces the previous subscription.
func (s *Server) bindAgent(c *wsConn, agentID string) {
	unsub := s.coop.SubscribeToMessages(agentID, func(msg core.Message) {
		s.sendEvent(c, "message.received", msg)
	})

	c.mu.Lock()
	old := c.unsubs
	c.agentID = agentID
	c.unsubs = []func(){unsub}
	c.mu.Unlock()

	for _, u := range old {
		u()
	}
}

func (s *Server) send(c *wsConn, resp Response) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(resp); err != nil {
		s.logger.Warn("write failed", "client_id", c.id, "error", err)
	}
}

func (s *Server) sendResponse(c *wsConn, requestID string, payload any) {
	s.send(c, Response{ID: core.NewID(), Type: FrameResponse, RequestID: requestID, Payload: payload})
}

func (s *Server) sendError(c *wsConn, requestID, code, message string) {
	s.send(c, Response{
		ID:        core.NewID(),
		Type:      FrameError,
		RequestID: requestID,
		Payload:   ErrorPayload{Code: code, Message: message},
	})
}

func (s *Server) sendEvent(c *wsConn, event string, payload any) {
	s.send(c, Response{ID: core.NewID(), Type: FrameEvent, Event: event, Payload: payload})
}
