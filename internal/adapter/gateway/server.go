// Package gateway exposes session runs over HTTP (server-sent events) and a
// WebSocket RPC protocol.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
	"clinicrew/internal/infra/middleware"
	"clinicrew/internal/usecase"
)

// Sessions is the part of the session registry the gateway drives.
type Sessions interface {
	GetOrCreate(ctx context.Context, id string) (usecase.Conversation, error)
	Run(ctx context.Context, id, input string) iter.Seq[domain.AgentMessage]
	RunDirectTo(ctx context.Context, id, target, subject string) iter.Seq[domain.AgentMessage]
	Reset(ctx context.Context, id string) error
	Export(ctx context.Context, id string) ([]byte, error)
	Load(ctx context.Context, id string, blob []byte) error
	Delete(ctx context.Context, id string) error
	List() []usecase.SessionInfo
}

var _ Sessions = (*usecase.SessionRegistry)(nil)

// RPCHandler handles a single RPC method call. Streaming handlers push
// event frames through call.Emit before returning the final result.
type RPCHandler func(ctx context.Context, call *Call) (any, error)

// Call is one in-flight RPC request.
type Call struct {
	Client  *ClientInfo
	ID      uint64
	Payload json.RawMessage
	emit    func(Frame)
}

// Emit sends an event frame tagged with the request id.
func (c *Call) Emit(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.emit(Frame{Type: FrameTypeEvent, ID: c.ID, Method: name, Payload: data})
}

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

// Server is the HTTP/WebSocket gateway.
type Server struct {
	sessions   Sessions
	bus        domain.EventBus // optional
	auth       Authenticator
	cfg        config.GatewayConfig
	metrics    http.Handler // optional
	metricsURL string
	logger     *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler

	clients   sync.Map // connID (uint64) -> *clientConn
	nextID    atomic.Uint64
	startTime time.Time

	httpSrv   *http.Server
	boundAddr string
	unsubAll  func()
}

// Option configures a Server.
type Option func(*Server)

// WithEvents forwards every bus event to connected WebSocket clients.
func WithEvents(bus domain.EventBus) Option { return func(s *Server) { s.bus = bus } }

// WithMetrics mounts h at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsURL = path
		s.metrics = h
	}
}

// NewServer creates a gateway server with the session RPC methods registered.
func NewServer(sessions Sessions, auth Authenticator, cfg config.GatewayConfig, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		sessions:  sessions,
		auth:      auth,
		cfg:       cfg,
		logger:    logger,
		handlers:  make(map[string]RPCHandler),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerSessionRPC()
	return s
}

// RegisterHandler adds an RPC handler for the given method name.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// Handler builds the full HTTP handler. ctx bounds the rate limiter's
// cleanup goroutine.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleUpgrade)
	s.routes(mux)
	if s.metrics != nil && s.metricsURL != "" {
		mux.Handle("GET "+s.metricsURL, s.metrics)
	}

	var h http.Handler = mux
	if s.cfg.RateLimit.Enabled {
		rl := middleware.NewRateLimiter(ctx, middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		})
		h = rl.Middleware(h)
	}
	h = middleware.SecurityHeaders(h)
	h = middleware.Recover(s.logger)(h)
	return middleware.RequestLogger(s.logger)(h)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(func(_ context.Context, event domain.Event) {
			s.broadcast(event)
		})
	}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes client connections and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})
	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) broadcast(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Method: EventBus, Payload: payload}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn("gateway: dropped event for slow client")
		}
		return true
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	clientInfo, err := s.auth.Authenticate(requestToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:   clientInfo,
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID, "client", clientInfo.Name)

	// Runs started on this connection are abandoned when it drops.
	ctx, cancel := context.WithCancel(r.Context())
	go s.writeLoop(cc)
	s.readLoop(ctx, cc)
	cancel()

	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, fmt.Errorf("%w: %s", domain.ErrRPCMethodNotFound, req.Method))
		return
	}

	call := &Call{
		Client:  cc.info,
		ID:      req.ID,
		Payload: req.Payload,
		// Streamed messages must not be dropped, so emit blocks until the
		// writer takes the frame or the connection goes away.
		emit: func(f Frame) {
			select {
			case cc.sendCh <- f:
			case <-cc.done:
			case <-ctx.Done():
			}
		},
	}
	result, err := handler(ctx, call)
	var raw json.RawMessage
	if err == nil && result != nil {
		raw, err = json.Marshal(result)
	}
	s.sendResponse(cc, req.ID, raw, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{Type: FrameTypeResponse, ID: id, Payload: result}
	if err != nil {
		resp.Error = err.Error()
	}
	select {
	case cc.sendCh <- resp:
	case <-cc.done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", id)
	}
}
