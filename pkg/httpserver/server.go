package httpserver

import (
	"container/list"
	"context"
	"net"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	httperrors "github.com/loopwire/uhttp/pkg/errors"
	"github.com/loopwire/uhttp/pkg/logging"
	"github.com/loopwire/uhttp/pkg/metrics"
	"github.com/loopwire/uhttp/pkg/netio"
	"github.com/loopwire/uhttp/pkg/readiness"
	"github.com/loopwire/uhttp/pkg/tlsconfig"
	"go.uber.org/zap"
)

// Handler processes a fully loaded request on conn. It must call exactly one
// of conn's Respond/RespondFile/StartMultipart methods.
type Handler func(conn *Connection)

// Server accepts connections on a listener and drives their non-blocking
// state machines from a single goroutine via EventRead/EventWrite/Wait — it holds
// no lock, and must not be shared across goroutines.
type Server struct {
	listener     net.Listener
	tls          *tlsconfig.Wrapper
	cfg          Config
	handler      Handler
	eventHandler EventHandler

	selector readiness.Selector
	limiter  *rate.Limiter

	listenerFD uintptr
	byFD       map[uintptr]*Connection
	// conns is the live-connection list in accept order: front is the
	// oldest, giving FIFO overflow eviction and a deterministic scan
	// order for ReadyReaders/ReadyWriters/cleanupIdleConnections.
	conns *list.List

	// Logger, when non-nil, receives connection lifecycle and protocol
	// error events. Nil disables logging entirely.
	Logger *zap.Logger

	// Metrics, when non-nil, records connection/request counters.
	Metrics *metrics.Collector
}

// NewServer wraps an already-listening net.Listener. Pass a non-nil tls
// Wrapper to speak HTTPS; cfg zero fields fall back to DefaultConfig.
func NewServer(listener net.Listener, tlsWrapper *tlsconfig.Wrapper, cfg Config, handler Handler) (*Server, error) {
	return newServer(listener, tlsWrapper, cfg, handler, nil)
}

// NewEventServer wraps an already-listening net.Listener in event mode: the
// handler is invoked incrementally with REQUEST/HEADERS/DATA/COMPLETE/ERROR
// events (see EventType) instead of once per fully-buffered request, so it
// can stream large uploads to disk via Connection.AcceptBodyToFile.
func NewEventServer(listener net.Listener, tlsWrapper *tlsconfig.Wrapper, cfg Config, handler EventHandler) (*Server, error) {
	cfg.EventMode = true
	return newServer(listener, tlsWrapper, cfg, nil, handler)
}

func newServer(listener net.Listener, tlsWrapper *tlsconfig.Wrapper, cfg Config, handler Handler, eventHandler EventHandler) (*Server, error) {
	cfg = cfg.withDefaults()

	selector, err := readiness.NewDefault()
	if err != nil {
		return nil, err
	}

	lfd, err := extractListenerFD(listener)
	if err != nil {
		selector.Close()
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.AcceptRatePerSecond > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRatePerSecond), burst)
	}

	return &Server{
		listener:     listener,
		tls:          tlsWrapper,
		cfg:          cfg,
		handler:      handler,
		eventHandler: eventHandler,
		selector:     selector,
		limiter:      limiter,
		listenerFD:   lfd,
		byFD:         make(map[uintptr]*Connection),
		conns:        list.New(),
	}, nil
}

// extractListenerFD extracts the OS file descriptor backing l, which must
// expose syscall.Conn (true of *net.TCPListener and *net.UnixListener).
func extractListenerFD(l net.Listener) (uintptr, error) {
	sc, ok := l.(syscall.Conn)
	if !ok {
		return 0, httperrors.NewIOError("listener_fd", errUnsupportedListener{l})
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, httperrors.NewIOError("listener_fd", err)
	}
	return netio.FD(raw)
}

type errUnsupportedListener struct{ l net.Listener }

func (e errUnsupportedListener) Error() string {
	return "listener does not expose a raw file descriptor"
}

// SetTLSWrapper swaps the server's TLS wrapper in place, used by callers
// hot-reloading certificate/key files. Only affects connections accepted
// after the swap.
func (s *Server) SetTLSWrapper(w *tlsconfig.Wrapper) { s.tls = w }

// Close shuts down the listener, every live connection, and the readiness
// selector, combining whatever errors any of them return.
func (s *Server) Close() error {
	var err error
	for e := s.conns.Front(); e != nil; {
		next := e.Next()
		err = multierr.Append(err, e.Value.(*Connection).Close())
		e = next
	}
	err = multierr.Append(err, s.selector.Close())
	err = multierr.Append(err, s.listener.Close())
	return err
}

func (s *Server) removeConnection(c *Connection) {
	delete(s.byFD, c.fd)
	if c.listElem != nil {
		s.conns.Remove(c.listElem)
		c.listElem = nil
	}
	if s.Logger != nil {
		logging.ConnectionClosed(s.Logger, c.id, c.addr, "closed", c.requestsCount)
	}
	s.Metrics.ConnectionClosed()
}

// accept admits one pending connection, applying the optional accept-rate
// limiter and the MaxWaitingClients ceiling (oldest idle connection evicted
// first) before registering the new connection's fd with the selector.
func (s *Server) accept() error {
	if s.limiter != nil && !s.limiter.Allow() {
		return nil
	}
	if s.conns.Len() >= s.cfg.MaxWaitingClients {
		s.evictOldestIdle()
	}

	raw, err := s.listener.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return httperrors.NewIOError("accept", err)
	}

	secure := s.tls != nil
	conn := raw
	if secure {
		wrapped, werr := s.tls.WrapServer(context.Background(), raw)
		if werr != nil {
			raw.Close()
			return httperrors.NewIOError("tls_handshake", werr)
		}
		conn = wrapped
	}

	c, err := newConnection(s, conn, conn.RemoteAddr().String(), secure, s.cfg)
	if err != nil {
		conn.Close()
		return err
	}
	s.byFD[c.fd] = c
	c.listElem = s.conns.PushBack(c)
	if s.Logger != nil {
		logging.ConnectionAccepted(s.Logger, c.id, c.addr, secure)
	}
	s.Metrics.ConnectionAccepted()
	return nil
}

// evictOldestIdle closes the longest-accepted connection that isn't
// currently waiting for its handler to respond, walking conns front-to-back
// (oldest first) for FIFO eviction.
func (s *Server) evictOldestIdle() {
	for e := s.conns.Front(); e != nil; e = e.Next() {
		c := e.Value.(*Connection)
		if c.IsWaitingForResponse() {
			continue
		}
		s.closeWithTimeout(c)
		return
	}
}

// cleanupIdleConnections closes every connection that has exceeded its
// keep-alive timeout and is not waiting for its handler to respond.
func (s *Server) cleanupIdleConnections() {
	var timedOut []*Connection
	for e := s.conns.Front(); e != nil; e = e.Next() {
		c := e.Value.(*Connection)
		if c.IsTimedOut() && !c.IsWaitingForResponse() {
			timedOut = append(timedOut, c)
		}
	}
	for _, c := range timedOut {
		s.closeWithTimeout(c)
	}
}

// closeWithTimeout writes the "408 Request Timeout" response before closing
// c, matching the reference server's eviction/idle-sweep behavior. A
// mid-request connection (already mid-response, or without room left to
// start one) is just closed.
func (s *Server) closeWithTimeout(c *Connection) {
	if !c.responseStarted {
		c.Respond(408, "Request Timeout", nil, nil)
	}
	c.Close()
}

// EventRead advances the connection owning fd past one read-readiness
// notification, dispatching to the handler once its request is fully
// loaded.
func (s *Server) EventRead(fd uintptr) {
	if fd == s.listenerFD {
		s.accept()
		return
	}
	c, ok := s.byFD[fd]
	if !ok {
		return
	}
	if s.cfg.EventMode {
		s.dispatchEvent(c)
		return
	}
	s.dispatchRequest(c)
}

// dispatchRequest drives one connection's whole-request state machine from a
// read-readiness notification, looping over ProcessRequest/handler as long
// as a fully loaded pipelined request already sits in the receive buffer
// after the previous one resets the connection — a single read() can drain
// more than one pipelined request off the wire, and the kernel won't signal
// read-readiness again for bytes that already arrived.
func (s *Server) dispatchRequest(c *Connection) {
	for {
		loaded, err := c.ProcessRequest()
		if err != nil {
			if httperrors.GetErrorType(err) == httperrors.ErrorTypeProtocol {
				if s.Logger != nil {
					logging.ProtocolError(s.Logger, c.id, c.addr, httperrors.GetStatus(err), err.Error())
				}
			} else {
				c.Close()
			}
			return
		}
		if !loaded {
			return
		}
		s.Metrics.RequestServed()
		if s.handler != nil {
			s.handler(c)
		}
		if c.conn == nil || c.method != "" {
			return
		}
	}
}

// dispatchEvent drives one connection's event-mode state machine from a
// read-readiness notification, looping as long as buffered bytes yield
// further progress without needing another notification from the selector
// — e.g. headers and a full small body arriving together, or a pipelined
// request already sitting in the receive buffer after one is finalized.
func (s *Server) dispatchEvent(c *Connection) {
	for {
		if c.conn == nil {
			return
		}
		if !c.advanceEvent() {
			return
		}
		if c.event == EventRequest || c.event == EventComplete {
			s.Metrics.RequestServed()
		}
		if c.event == EventError && s.Logger != nil {
			logging.ProtocolError(s.Logger, c.id, c.addr, httperrors.GetStatus(c.eventErr), c.eventErr.Error())
		}
		if s.eventHandler != nil {
			s.eventHandler(c)
		}
		if c.event == EventError {
			c.Close()
			return
		}
		if c.conn == nil || c.IsWaitingForResponse() {
			return
		}
	}
}

// EventWrite advances the connection owning fd past one write-readiness
// notification, flushing buffered response data or the next file chunk.
func (s *Server) EventWrite(fd uintptr) {
	c, ok := s.byFD[fd]
	if !ok {
		return
	}
	done, err := c.TrySend()
	if err != nil {
		return
	}
	if done && c.responseStarted {
		c.finalizeSentResponse()
	}
}

// ReadyReaders returns the fds this server wants registered for
// read-readiness: the listener plus every connection not currently waiting
// on its handler.
func (s *Server) ReadyReaders() []uintptr {
	fds := make([]uintptr, 0, s.conns.Len()+1)
	fds = append(fds, s.listenerFD)
	for e := s.conns.Front(); e != nil; e = e.Next() {
		c := e.Value.(*Connection)
		if !c.IsWaitingForResponse() {
			fds = append(fds, c.fd)
		}
	}
	return fds
}

// ReadyWriters returns the fds of connections with buffered response data
// still being flushed.
func (s *Server) ReadyWriters() []uintptr {
	var fds []uintptr
	for e := s.conns.Front(); e != nil; e = e.Next() {
		c := e.Value.(*Connection)
		if c.HasDataToSend() {
			fds = append(fds, c.fd)
		}
	}
	return fds
}

// Wait blocks for one readiness round (bounded by timeout) and dispatches
// every ready fd to EventRead/EventWrite, then sweeps timed-out
// connections. Callers drive their whole server from a loop calling Wait
// repeatedly.
func (s *Server) Wait(ctx context.Context, timeout time.Duration) error {
	readReady, writeReady, err := s.selector.Select(ctx, s.ReadyReaders(), s.ReadyWriters(), timeout)
	if err != nil {
		return err
	}
	for _, fd := range readReady {
		s.EventRead(fd)
	}
	for _, fd := range writeReady {
		s.EventWrite(fd)
	}
	s.cleanupIdleConnections()
	return nil
}
