// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonlrpc

import "golang.org/x/xerrors"

// ConnectionState is one of {Connecting, Connected, Closed}. Closed is
// absorbing: once reached, a Connection never re-enters Connecting or
// Connected.
type ConnectionState int

const (
	// ConnectionConnecting is the initial state for a client-initiated
	// socket whose TCP handshake has not yet been observed to complete.
	ConnectionConnecting ConnectionState = iota
	// ConnectionConnected is the initial state for a server-accepted
	// socket, and the state a client socket reaches once its handshake
	// completes.
	ConnectionConnected
	// ConnectionClosed is terminal.
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionConnecting:
		return "Connecting"
	case ConnectionConnected:
		return "Connected"
	case ConnectionClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Connection is the state machine for one peer socket: it owns a handle, a
// non-blocking socket wrapped by a JSONLStream, and a ConnectionState. It
// performs no thread creation and blocks on nothing; every method returns
// promptly.
type Connection struct {
	handle  Handle
	conn    *rawConn
	stream  *JSONLStream
	state   ConnectionState
	reactor Reactor
}

// NewConnection constructs a Connection around an already non-blocking
// socket. TCP_NODELAY is requested best-effort. The caller must already
// have registered conn with reactor under handle before the first event is
// delivered -- NewConnection itself performs no registration, since
// the right interest set (read-only for an accepted connection, read+write
// for a connecting one) depends on context the caller already has.
func NewConnection(handle Handle, conn *rawConn, initial ConnectionState, reactor Reactor) *Connection {
	setNoDelay(conn)
	return &Connection{
		handle:  handle,
		conn:    conn,
		stream:  NewJSONLStream(conn),
		state:   initial,
		reactor: reactor,
	}
}

// Handle returns the registration this connection was constructed with.
func (c *Connection) Handle() Handle { return c.handle }

// State returns the connection's current ConnectionState.
func (c *Connection) State() ConnectionState { return c.state }

// QueuedBytesLen returns the outbound buffer's byte count.
func (c *Connection) QueuedBytesLen() int { return c.stream.WriteBufLen() }

// PeerAddr returns the remote address once Connected.
func (c *Connection) PeerAddr() (string, error) {
	if c.state != ConnectionConnected {
		return "", xerrors.New("jsonlrpc: connection not yet connected")
	}
	return peerAddr(c.conn)
}

// Send serializes value as one JSON line into the outbound buffer.
// It fails with errNotConnected if the connection is Closed. While
// Connecting, the value is only buffered -- no write is attempted until the
// handshake completes. Otherwise a non-blocking flush is attempted
// immediately, with the interest-toggling behaviour described on
// HandleEvent.
func (c *Connection) Send(value any) error {
	if c.state == ConnectionClosed {
		return errNotConnected
	}
	startWriting := c.stream.WriteBufLen() == 0
	if err := c.stream.QueueValue(value); err != nil {
		return err
	}
	if c.state == ConnectionConnecting {
		return nil
	}
	return c.flush(startWriting)
}

// flush attempts to drain the outbound buffer and applies the
// interest-toggling rule: startWriting records whether the buffer was
// empty immediately before the bytes now being flushed were queued (i.e.
// whether write-interest was *not* already armed). On WouldBlock with
// startWriting true, write-interest is armed for the first time. On full
// drain with startWriting false, write-interest (already armed) is
// dropped. Any other error is fatal and closes the connection.
func (c *Connection) flush(startWriting bool) error {
	err := c.stream.Flush()
	switch {
	case xerrors.Is(err, ErrWouldBlock):
		if startWriting {
			if rerr := c.reactor.Reregister(c.handle, c.conn, InterestRead|InterestWrite); rerr != nil {
				return c.fail(rerr)
			}
		}
		return nil
	case err != nil:
		return c.fail(err)
	default:
		if c.stream.WriteBufLen() == 0 && !startWriting {
			if rerr := c.reactor.Reregister(c.handle, c.conn, InterestRead); rerr != nil {
				return c.fail(rerr)
			}
		}
		return nil
	}
}

// HandleEvent is the caller's readiness dispatcher. Preconditions:
// event.Handle == c.Handle() and c.State() != ConnectionClosed; violating
// either is a caller bug, not a runtime error, so HandleEvent simply treats
// a Closed connection as a no-op rather than panicking -- background
// failures surface through state transitions, not panics.
//
// onRead is invoked repeatedly until it returns ErrWouldBlock (a non-fatal
// pause), the connection closes, or it returns a fatal error -- in which
// case the connection is closed and the error is surfaced.
func (c *Connection) HandleEvent(event Event, onRead func(*Connection) error) error {
	if c.state == ConnectionClosed {
		return nil
	}

	if c.state == ConnectionConnecting {
		completed, err := connectCompleted(c.conn)
		if err != nil {
			return c.fail(err)
		}
		if !completed {
			return nil
		}
		c.state = ConnectionConnected
	}

	if event.Writable {
		if err := c.flush(false); err != nil {
			return err
		}
		if c.state == ConnectionClosed {
			return nil
		}
	}

	if event.Readable {
		for {
			err := onRead(c)
			if err == nil {
				continue
			}
			if xerrors.Is(err, ErrWouldBlock) {
				return nil
			}
			return c.fail(err)
		}
	}

	return nil
}

// Close is idempotent: once state reaches Closed, further calls are no-ops.
// It deregisters from the reactor and shuts down both TCP directions before
// transitioning.
func (c *Connection) Close() error {
	if c.state == ConnectionClosed {
		return nil
	}
	if c.reactor != nil {
		_ = c.reactor.Deregister(c.conn)
	}
	c.conn.closeBoth()
	c.state = ConnectionClosed
	return nil
}

func (c *Connection) fail(err error) error {
	_ = c.Close()
	return err
}
