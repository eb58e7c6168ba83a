// Package transport serves the session protocol over WebSocket.
//
// Every connection becomes a session client with a UUID. Inbound text frames
// are parsed into commands and dispatched to the session; outbound events
// are queued per client and written by a dedicated goroutine, so a slow
// client never stalls the session.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/promptflux-stt/internal/session"
)

var (
	// ErrClientClosed is returned by Send after the connection has ended.
	ErrClientClosed = errors.New("transport: client closed")

	// ErrQueueFull is returned by Send when the client's outbound queue is
	// full.
	ErrQueueFull = errors.New("transport: outbound queue full")
)

// Session is the part of [session.Coordinator] the server drives.
type Session interface {
	Attach(cl session.Client)
	Detach(id string)
	Dispatch(id string, cmd session.Command)
}

// Metrics receives connection counts. *observe.Metrics satisfies it.
type Metrics interface {
	ClientConnected(ctx context.Context)
	ClientDisconnected(ctx context.Context)
}

// Option customises a [Server].
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics records connection counts to m.
func WithMetrics(m Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithQueueSize sets the per-client outbound queue length. Default: 32.
func WithQueueSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithWriteTimeout bounds a single frame write. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithOriginPatterns restricts cross-origin browser connections to the
// given host patterns. By default every origin is accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server is an [http.Handler] that upgrades requests to WebSocket session
// connections.
type Server struct {
	sess         Session
	log          *slog.Logger
	metrics      Metrics
	queueSize    int
	writeTimeout time.Duration
	origins      []string

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
	conns   sync.WaitGroup
}

// NewServer returns a server dispatching to sess.
func NewServer(sess Session, opts ...Option) *Server {
	s := &Server{
		sess:         sess,
		log:          slog.Default(),
		queueSize:    32,
		writeTimeout: 5 * time.Second,
		clients:      make(map[string]*client),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP upgrades the request and serves the connection until the peer
// disconnects or the server is closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: s.origins}
	if len(s.origins) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan session.Event, s.queueSize),
		done: make(chan struct{}),
	}
	if !s.track(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.untrack(c)

	ctx := r.Context()
	log := s.log.With("client", c.id)
	log.Info("client connected", "remote", r.RemoteAddr)
	if s.metrics != nil {
		s.metrics.ClientConnected(ctx)
		defer s.metrics.ClientDisconnected(context.WithoutCancel(ctx))
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, c, log)
	}()

	s.sess.Attach(c)
	err = s.readLoop(ctx, c)
	s.sess.Detach(c.id)
	c.close()
	<-writerDone

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Info("client disconnected")
	case errors.Is(err, context.Canceled):
		log.Info("client disconnected", "reason", "server shutdown")
	default:
		log.Info("client disconnected", "err", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) readLoop(ctx context.Context, c *client) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		s.sess.Dispatch(c.id, session.ParseCommand(data))
	}
}

func (s *Server) writeLoop(ctx context.Context, c *client, log *slog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error("encode event", "type", ev.Type, "err", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			err = c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug("write failed, closing connection", "err", err)
				c.conn.CloseNow()
				return
			}
		}
	}
}

func (s *Server) track(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	s.conns.Add(1)
	return true
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.conns.Done()
}

// Clients returns the number of open connections.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close sends a going-away close frame to every client and waits until all
// connection handlers have returned or ctx expires.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		go c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range clients {
			c.conn.CloseNow()
		}
		return ctx.Err()
	}
}

// client is one WebSocket connection seen by the session as a
// [session.Client].
type client struct {
	id        string
	conn      *websocket.Conn
	out       chan session.Event
	done      chan struct{}
	closeOnce sync.Once
}

var _ session.Client = (*client)(nil)

func (c *client) ID() string { return c.id }

// Send queues ev without blocking.
func (c *client) Send(_ context.Context, ev session.Event) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.out <- ev:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrQueueFull
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
