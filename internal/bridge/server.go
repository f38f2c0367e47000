// Package bridge connects live pages to the collector core. An in-page shim
// streams page activity over a websocket; each connection becomes a Session,
// a platform.Platform the plugins observe exactly as they would a page.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/szibis/pagewatch/internal/envinfo"
	"github.com/szibis/pagewatch/internal/logging"
	"github.com/szibis/pagewatch/internal/platform"
)

// Binder attaches collection to a new session. It runs on the session loop
// and returns the func that detaches it when the page goes away.
type Binder func(s *Session) (release func(), err error)

// Config holds the websocket endpoint settings.
type Config struct {
	// Path is where the endpoint is mounted (default: /bridge).
	Path string
	// AllowedOrigins restricts browser origins. Empty or "*" allows all.
	AllowedOrigins []string
	// ReadLimit caps a single frame in bytes.
	ReadLimit int64
	// HandshakeTimeout bounds both the upgrade and the hello message.
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval is how often the server pings. A page silent for twice
	// the interval is dropped.
	PingInterval time.Duration
	// QueueSize is the per-session task queue capacity.
	QueueSize int
}

// DefaultConfig returns the endpoint defaults.
func DefaultConfig() Config {
	return Config{
		Path:             "/bridge",
		ReadLimit:        1 << 20,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		QueueSize:        256,
	}
}

// Server accepts page connections.
type Server struct {
	cfg      Config
	bind     Binder
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*websocket.Conn]*Session
	closed   bool
	sessions sync.WaitGroup
}

// NewServer creates a server that hands every session to bind.
func NewServer(cfg Config, bind Binder) *Server {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	s := &Server{
		cfg:   cfg,
		bind:  bind,
		conns: make(map[*websocket.Conn]*Session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// Path is the mount point of the endpoint.
func (s *Server) Path() string { return s.cfg.Path }

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// Sessions returns the number of connected pages.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close disconnects every page and waits for their sessions to release.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.sessions.Wait()
}

func (s *Server) track(c *websocket.Conn, sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = sess
	s.sessions.Add(1)
	return true
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.sessions.Done()
}

// ServeHTTP upgrades the request and serves the page until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sessionsTotal.WithLabelValues("rejected").Inc()
		logging.Warn("websocket upgrade failed", logging.F(
			"component", "bridge",
			"remote", r.RemoteAddr,
			"error", err.Error(),
		))
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	hello, err := s.readHello(conn)
	if err != nil {
		sessionsTotal.WithLabelValues("rejected").Inc()
		logging.Warn("page handshake failed", logging.F(
			"component", "bridge",
			"remote", r.RemoteAddr,
			"error", err.Error(),
		))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "hello expected"),
			time.Now().Add(s.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}

	loop := platform.NewLoop(s.cfg.QueueSize)
	loop.Rebase(millis(hello.Elapsed))
	w8 := newWriter(conn, s.cfg.WriteTimeout, s.cfg.PingInterval)
	sess := newSession(envinfo.NewID(), hello, loop, w8.enqueue)

	if !s.track(conn, sess) {
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)
	sessionsTotal.WithLabelValues("opened").Inc()
	sessionsActive.Inc()
	defer sessionsActive.Dec()

	go loop.Run()
	go w8.run()

	log := logging.F("component", "bridge", "session", sess.ID(), "url", hello.URL)
	logging.Info("page connected", log)

	var release func()
	var bindErr error
	loop.Do(func() { release, bindErr = s.bind(sess) })
	if bindErr != nil {
		logging.Error("session bind failed", logging.F(
			"component", "bridge",
			"session", sess.ID(),
			"error", bindErr.Error(),
		))
	} else {
		s.readPump(conn, sess)
	}

	if release != nil {
		loop.Do(release)
	}
	loop.Close()
	loop.Wait()
	w8.stop()
	_ = conn.Close()
	logging.Info("page disconnected", log)
}

func (s *Server) readHello(conn *websocket.Conn) (Hello, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		return Hello{}, err
	}
	if m.Type != TypeHello {
		return Hello{}, fmt.Errorf("first message is %q", m.Type)
	}
	var h Hello
	if err := json.Unmarshal(m.Data, &h); err != nil {
		return Hello{}, fmt.Errorf("decode hello: %w", err)
	}
	messagesTotal.WithLabelValues(TypeHello).Inc()
	return h, nil
}

// readPump reads page messages until the connection fails and applies them
// on the session loop in arrival order.
func (s *Server) readPump(conn *websocket.Conn, sess *Session) {
	idle := 2 * s.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			var syntax *json.SyntaxError
			var typ *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typ) {
				messageErrorsTotal.WithLabelValues("malformed").Inc()
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("page read ended", logging.F(
					"component", "bridge",
					"session", sess.ID(),
					"error", err.Error(),
				))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		label := typeLabel(m.Type)
		messagesTotal.WithLabelValues(label).Inc()
		sess.loop.Post(func() {
			if err := sess.handle(m); err != nil {
				messageErrorsTotal.WithLabelValues(label).Inc()
				logging.Warn("page message rejected", logging.F(
					"component", "bridge",
					"session", sess.ID(),
					"type", m.Type,
					"error", err.Error(),
				))
			}
		})
	}
}

// ErrBackpressure is returned when the page is not draining its messages.
var ErrBackpressure = errors.New("bridge: outbound queue full")

// writer owns every write to a connection.
type writer struct {
	conn    *websocket.Conn
	timeout time.Duration
	ping    time.Duration
	queue   chan Message
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once
}

func newWriter(conn *websocket.Conn, timeout, ping time.Duration) *writer {
	return &writer{
		conn:    conn,
		timeout: timeout,
		ping:    ping,
		queue:   make(chan Message, 64),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// enqueue never blocks the session loop.
func (w *writer) enqueue(m Message) error {
	select {
	case <-w.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case w.queue <- m:
		return nil
	default:
		return ErrBackpressure
	}
}

func (w *writer) run() {
	defer close(w.exited)
	ticker := time.NewTicker(w.ping)
	defer ticker.Stop()
	for {
		select {
		case m := <-w.queue:
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
			if err := w.conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.timeout)); err != nil {
				return
			}
		case <-w.done:
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(w.timeout))
			return
		}
	}
}

func (w *writer) stop() {
	w.once.Do(func() { close(w.done) })
	<-w.exited
}
