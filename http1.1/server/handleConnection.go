package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// How long a lingering close waits for the client to read the response
// before the socket is torn down.
const rstAvoidanceDelay = 500 * time.Millisecond

// conn is the per-connection state shared by every request read from it.
type conn struct {
	rwc net.Conn

	// lr caps how much of a request head may be read; it is re-armed
	// before each request and lifted once the head is parsed.
	lr *io.LimitedReader
	br *bufio.Reader
	bw *bufio.Writer

	// idle is set while waiting for the next request.
	idle atomic.Bool

	// lingerOnClose is set when unread request bytes may still be in
	// flight, which would turn a plain close into a reset.
	lingerOnClose bool
}

func newConn(rwc net.Conn) *conn {
	lr := &io.LimitedReader{R: rwc, N: maxHeaderBytes}
	return &conn{
		rwc: rwc,
		lr:  lr,
		br:  bufio.NewReader(lr),
		bw:  bufio.NewWriter(rwc),
	}
}

// handleConnection serves requests on c, which the caller has already
// registered with trackConn.
func (s *Server) handleConnection(c *conn) error {
	defer func() {
		s.trackConn(c, false)
		c.close()
	}()

	for {
		// handleRequest does the work of reading and responding
		shouldClose, err := s.handleRequest(c)
		if err != nil {
			// io.EOF is a normal way for a persistent connection to end.
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if shouldClose {
			return nil
		}
	}
}

func (c *conn) close() {
	if c.lingerOnClose {
		if cw, ok := c.rwc.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
			time.Sleep(rstAvoidanceDelay)
		}
	}
	c.rwc.Close()
}
