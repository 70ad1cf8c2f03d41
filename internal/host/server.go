package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zot/codata/internal/config"
	"github.com/zot/codata/internal/protocol"
	"github.com/zot/codata/internal/storage"
	"github.com/zot/codata/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool
	},
}

// hostConn is one client connection. Writes are serialized since replies
// and broadcasts come from different goroutines.
type hostConn struct {
	id      string
	framer  transport.Framer
	writeMu sync.Mutex
}

func (c *hostConn) send(env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteFrame(data)
}

// Server exposes a Handler over websocket (/ws) and, optionally, a packet
// socket. Notifications are broadcast to every connection.
type Server struct {
	cfg         *config.Config
	handler     *Handler
	notifier    *Notifier
	backend     storage.Backend
	httpServer  *http.Server
	listener    net.Listener
	socket      net.Listener
	connections map[string]*hostConn
	unsubscribe func()
	closed      bool
	mu          sync.RWMutex
}

// New assembles a host from configuration: storage backend, notifier,
// handler and server.
func New(cfg *config.Config) (*Server, error) {
	backend, err := storage.Open(cfg.Storage.Type, cfg.Storage.Path, cfg.Storage.URL)
	if err != nil {
		return nil, err
	}
	notifier := NewNotifier(cfg.Host.Debounce.Duration(), cfg)
	handler, err := NewHandler(cfg, backend, notifier)
	if err != nil {
		backend.Close()
		return nil, err
	}
	s := NewServer(cfg, handler, notifier)
	s.backend = backend
	return s, nil
}

// NewServer creates a server for handler and subscribes it to notifier.
func NewServer(cfg *config.Config, handler *Handler, notifier *Notifier) *Server {
	s := &Server{
		cfg:         cfg,
		handler:     handler,
		notifier:    notifier,
		connections: make(map[string]*hostConn),
	}
	s.unsubscribe = notifier.Subscribe(s.broadcast)
	return s
}

// Log logs a message via the config.
func (s *Server) Log(level int, format string, args ...any) {
	s.cfg.Log(level, format, args...)
}

// Handler returns the host's request handler, for in-process clients.
func (s *Server) Handler() *Handler {
	return s.handler
}

// HTTPHandler returns the routes served by the HTTP listener.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	return mux
}

// HandleWebSocket upgrades a request and serves it until it closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log(0, "WebSocket upgrade failed: %v", err)
		return
	}
	s.ServeConn(transport.NewWebSocketFramer(conn))
}

// ServeConn answers calls on f until it fails. Calls on one connection are
// answered in order.
func (s *Server) ServeConn(f transport.Framer) {
	hc := &hostConn{id: uuid.NewString(), framer: f}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f.Close()
		return
	}
	s.connections[hc.id] = hc
	s.mu.Unlock()
	s.Log(1, "Client connected: %s", hc.id)

	defer func() {
		s.mu.Lock()
		delete(s.connections, hc.id)
		s.mu.Unlock()
		f.Close()
		s.Log(1, "Client disconnected: %s", hc.id)
	}()

	for {
		data, err := f.ReadFrame()
		if err != nil {
			return
		}
		s.Log(4, "[IN] %s", data)
		reply := s.answer(data)
		if reply == nil {
			continue
		}
		if err := hc.send(reply); err != nil {
			s.Log(0, "Reply to %s failed: %v", hc.id, err)
			return
		}
	}
}

// answer handles one incoming frame and returns the reply, if any.
func (s *Server) answer(data []byte) *protocol.Envelope {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		s.Log(2, "Dropping frame: %v", err)
		return nil
	}
	if env.Type != protocol.EnvelopeCall {
		s.Log(2, "Ignoring %s envelope", env.Type)
		return nil
	}
	reqs, _, err := protocol.ParseRequests(env.Data)
	if err != nil {
		return &protocol.Envelope{Type: protocol.EnvelopeReply, ID: env.ID, Data: []byte("null"), Error: err.Error()}
	}
	resps, err := s.handler.Call(context.Background(), reqs)
	if err != nil {
		return &protocol.Envelope{Type: protocol.EnvelopeReply, ID: env.ID, Data: []byte("null"), Error: err.Error()}
	}
	reply, err := protocol.NewEnvelope(protocol.EnvelopeReply, env.ID, resps)
	if err != nil {
		return &protocol.Envelope{Type: protocol.EnvelopeReply, ID: env.ID, Data: []byte("null"), Error: err.Error()}
	}
	return reply
}

// broadcast sends a notification to every connection.
func (s *Server) broadcast(n *protocol.Request) {
	env, err := protocol.NewEnvelope(protocol.EnvelopeNotify, "", n)
	if err != nil {
		s.Log(0, "Encode notification: %v", err)
		return
	}
	s.mu.RLock()
	conns := make([]*hostConn, 0, len(s.connections))
	for _, hc := range s.connections {
		conns = append(conns, hc)
	}
	s.mu.RUnlock()

	s.Log(2, "[OUT] %s to %d connections", n.Resource, len(conns))
	for _, hc := range conns {
		if err := hc.send(env); err != nil {
			s.Log(1, "Notify %s failed: %v", hc.id, err)
		}
	}
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Start listens on the configured address and, when configured, the packet
// socket. It returns the websocket URL.
func (s *Server) Start() (string, error) {
	addr := net.JoinHostPort(s.cfg.Host.Host, fmt.Sprint(s.cfg.Host.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.HTTPHandler()}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log(0, "HTTP server error: %v", err)
		}
	}()

	if s.cfg.Host.Socket != "" {
		if err := s.listenSocket(s.cfg.Host.Socket); err != nil {
			s.httpServer.Close()
			return "", err
		}
	}

	url := "ws://" + listener.Addr().String() + "/ws"
	s.Log(0, "Host listening on %s", url)
	return url, nil
}

// SocketAddr returns the packet socket's network and address, if listening.
func (s *Server) SocketAddr() (network, address string) {
	if s.socket == nil {
		return "", ""
	}
	return s.socket.Addr().Network(), s.socket.Addr().String()
}

func (s *Server) listenSocket(socketPath string) error {
	var err error
	if runtime.GOOS == "windows" {
		s.socket, err = net.Listen("tcp", "127.0.0.1:0")
	} else {
		os.Remove(socketPath)
		s.socket, err = net.Listen("unix", socketPath)
	}
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", socketPath, err)
	}
	s.Log(1, "Packet socket listening on %s", s.socket.Addr())
	go s.acceptLoop(s.socket)
	return nil
}

func (s *Server) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.RLock()
			closed := s.closed
			s.mu.RUnlock()
			if !closed {
				s.Log(0, "Accept error: %v", err)
			}
			return
		}
		go s.ServeConn(transport.NewPacketFramer(conn))
	}
}

// Shutdown stops listening, closes every connection, flushes pending
// notifications and releases storage.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.notifier.FlushNow()
	s.unsubscribe()

	var errs []error
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(ctx))
	}
	if s.socket != nil {
		errs = append(errs, s.socket.Close())
		if s.socket.Addr().Network() == "unix" {
			os.Remove(s.cfg.Host.Socket)
		}
	}

	s.mu.Lock()
	conns := s.connections
	s.connections = make(map[string]*hostConn)
	s.mu.Unlock()
	for _, hc := range conns {
		hc.framer.Close()
	}

	s.handler.Close()
	if s.backend != nil {
		errs = append(errs, s.backend.Close())
	}
	return errors.Join(errs...)
}
