package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"smcpowerd/internal/device"
	"smcpowerd/internal/dispatch"
	"smcpowerd/internal/protocol"

	"go.uber.org/zap"
)

// State is the server lifecycle: Starting -> Listening -> Stopping ->
// Stopped. Stopped is terminal.
type State int32

const (
	StateStarting State = iota
	StateListening
	StateStopping
	StateStopped
)

// longest socket path a unix sockaddr can carry (sun_path minus NUL)
const maxSocketPath = 103

const defaultWriteTimeout = 2 * time.Second

var ErrSocketPathTooLong = errors.New("server: socket path exceeds unix sockaddr limit")

// Dispatcher turns one framed request into a tagged outcome. Implemented by
// dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(frame []byte) dispatch.Outcome
}

// reactor event union
type reactorEvent any

type connOpened struct{ c *connection }
type connFrame struct {
	c     *connection
	frame []byte
}
type connClosed struct{ c *connection }
type probe struct {
	frame []byte
	reply chan dispatch.Outcome
}

type Config struct {
	SocketPath   string
	WriteTimeout time.Duration
}

// Server accepts local clients on a unix socket and runs the request
// reactor. A single reactor goroutine owns the connection map and performs
// every dispatch and every response write; the accept loop and the
// per-connection read loops only feed it events over a single channel, so
// no two device operations ever overlap and per-connection request order is
// preserved.
type Server struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *zap.Logger
	modes      chan<- device.Status

	listener net.Listener
	events   chan reactorEvent
	done     chan struct{}
	conns    map[*connection]struct{}
	state    atomic.Int32
}

// NewServer creates a server. modes, when non-nil, receives the operating
// mode established by successful control operations and status reads;
// sends never block and are dropped when the mirror lags.
func NewServer(cfg Config, dispatcher Dispatcher, modes chan<- device.Status, logger *zap.Logger) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "server")),
		modes:      modes,
		events:     make(chan reactorEvent, 64),
		done:       make(chan struct{}),
		conns:      make(map[*connection]struct{}),
	}
}

func (s *Server) State() State {
	return State(s.state.Load())
}

// Listen binds the unix socket, removing any stale artifact left by a
// previous instance first.
func (s *Server) Listen() error {
	if len(s.cfg.SocketPath) > maxSocketPath {
		return fmt.Errorf("%w: %q", ErrSocketPathTooLong, s.cfg.SocketPath)
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("server: remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.SocketPath, err)
	}
	s.listener = listener
	s.state.Store(int32(StateListening))
	s.logger.Info("server@listening", zap.String("socket", s.cfg.SocketPath))
	return nil
}

// Serve runs the reactor until a stop request is dispatched or ctx is
// cancelled. It returns only after the listener and every connection are
// closed and the socket artifact is removed. Listen must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server: Serve called before Listen")
	}

	go s.acceptLoop()

	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("server@listening: shutdown signal received")
			return nil
		case ev := <-s.events:
			if s.handle(ev) {
				return nil
			}
		}
	}
}

// handle processes one reactor event. It reports true when the event asked
// for shutdown.
func (s *Server) handle(ev reactorEvent) bool {
	switch ev := ev.(type) {
	case connOpened:
		s.conns[ev.c] = struct{}{}
		s.logger.Debug("server@listening: client connected", zap.Int("open", len(s.conns)))
		go ev.c.readLoop(s.events, s.done)

	case connClosed:
		if _, ok := s.conns[ev.c]; ok {
			delete(s.conns, ev.c)
			ev.c.close()
			s.logger.Debug("server@listening: client gone", zap.Int("open", len(s.conns)))
		}

	case connFrame:
		out := s.dispatcher.Dispatch(ev.frame)
		data, err := protocol.EncodeResponse(out.Response)
		if err != nil {
			s.logger.Error("server@listening: response encode failed", zap.Error(err))
		} else {
			ev.c.write(data)
		}
		s.publishMode(out.Mode)
		if out.Shutdown {
			// the stop response is already on the wire path; tear down now
			return true
		}

	case probe:
		ev.reply <- s.dispatcher.Dispatch(ev.frame)
	}
	return false
}

func (s *Server) publishMode(mode device.Status) {
	if mode == "" || s.modes == nil {
		return
	}
	select {
	case s.modes <- mode:
	default:
		// the mirror is a sink; it must never hold up the protocol
	}
}

// Probe runs a status request on the reactor goroutine, serialized with
// client traffic, and returns its outcome. Used by the HTTP healthcheck.
func (s *Server) Probe(ctx context.Context) (dispatch.Outcome, error) {
	p := probe{
		frame: []byte(`{"event":"status"}`),
		reply: make(chan dispatch.Outcome, 1),
	}
	select {
	case s.events <- p:
	case <-s.done:
		return dispatch.Outcome{}, errors.New("server: stopped")
	case <-ctx.Done():
		return dispatch.Outcome{}, ctx.Err()
	}
	select {
	case out := <-p.reply:
		return out, nil
	case <-s.done:
		return dispatch.Outcome{}, errors.New("server: stopped")
	case <-ctx.Done():
		return dispatch.Outcome{}, ctx.Err()
	}
}

func (s *Server) acceptLoop() {
	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// transient accept failure (fd exhaustion and the like):
			// back off and keep accepting
			if backoff == 0 {
				backoff = 10 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Error("server@listening: accept failed, retrying",
				zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-time.After(backoff):
			case <-s.done:
				return
			}
			continue
		}
		backoff = 0
		c := newConnection(conn, s.cfg.WriteTimeout, s.logger)
		select {
		case s.events <- connOpened{c: c}:
		case <-s.done:
			c.close()
			return
		}
	}
}

// shutdown cancels every open connection, closes the listener and removes
// the socket artifact. Runs on the reactor goroutine, exactly once.
func (s *Server) shutdown() {
	if !s.state.CompareAndSwap(int32(StateListening), int32(StateStopping)) {
		return
	}
	s.logger.Info("server@stopping", zap.Int("open_connections", len(s.conns)))
	close(s.done)
	for c := range s.conns {
		c.close()
	}
	s.conns = make(map[*connection]struct{})
	_ = s.listener.Close()
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("server@stopping: socket artifact removal failed", zap.Error(err))
	}
	s.state.Store(int32(StateStopped))
	s.logger.Info("server@stopped")
}
