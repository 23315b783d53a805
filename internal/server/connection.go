package server

import (
	"errors"
	"io"
	"net"
	"time"

	"smcpowerd/internal/protocol"

	"go.uber.org/zap"
)

// connection owns one accepted client socket. The read loop runs on its own
// goroutine and only ever hands framed messages to the reactor; all
// dispatching and all response writes happen on the reactor goroutine.
type connection struct {
	conn         net.Conn
	framer       protocol.Framer
	writeTimeout time.Duration
	logger       *zap.Logger
}

func newConnection(conn net.Conn, writeTimeout time.Duration, logger *zap.Logger) *connection {
	return &connection{
		conn:         conn,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// readLoop drains the socket, feeding every received chunk through the
// framer and forwarding complete frames to the reactor. A zero-length read
// (peer closed) or a hard I/O error ends the loop with a connClosed event.
func (c *connection) readLoop(events chan<- reactorEvent, done <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, frame := range c.framer.Feed(buf[:n]) {
				select {
				case events <- connFrame{c: c, frame: frame}:
				case <-done:
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("server@conn: read error", zap.Error(err))
			}
			select {
			case events <- connClosed{c: c}:
			case <-done:
			}
			return
		}
	}
}

// write sends one framed response, best effort. If the peer's receive
// window keeps the write from completing within the deadline, the unsent
// remainder is dropped and the connection stays open; responses are not
// guaranteed delivered under backpressure. Hard errors close the socket,
// which surfaces as a connClosed event from the read loop.
func (c *connection) write(data []byte) {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	n, err := c.conn.Write(data)
	if err == nil {
		return
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.logger.Warn("server@conn: send buffer saturated, dropping response remainder",
			zap.Int("written", n), zap.Int("dropped", len(data)-n))
		return
	}
	c.logger.Debug("server@conn: write error, closing", zap.Error(err))
	_ = c.conn.Close()
}

func (c *connection) close() {
	_ = c.conn.Close()
}
