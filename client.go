// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonlrpc

// Logger is an optional sink for state transitions that would otherwise
// only be observable indirectly (a dropped connection, a protocol-error close).
// A nil Logger (the default) means silent.
type Logger interface {
	Logf(format string, args ...any)
}

// RpcClient owns a fixed server address, a fixed handle, at most one
// Connection, and a FIFO of parsed inbound responses.
type RpcClient struct {
	handle     Handle
	serverAddr string
	reactor    Reactor
	logger     Logger

	conn             *Connection
	responses        []*ResponseObject
	pendingDecodeErr error
}

// NewRpcClient constructs a client bound to handle and serverAddr. No I/O is
// performed; the connection is established lazily on first Send.
func NewRpcClient(handle Handle, serverAddr string, reactor Reactor) *RpcClient {
	return &RpcClient{handle: handle, serverAddr: serverAddr, reactor: reactor}
}

// SetLogger installs an optional Logger for otherwise-silent state
// transitions. The client logs a connection drop; dialing a new connection
// is not logged.
func (c *RpcClient) SetLogger(logger Logger) { c.logger = logger }

// Handle returns the handle this client registers its socket under.
func (c *RpcClient) Handle() Handle { return c.handle }

// ServerAddr returns the fixed address this client dials.
func (c *RpcClient) ServerAddr() string { return c.serverAddr }

// QueuedBytesLen passes through to the live Connection, or 0 if none.
func (c *RpcClient) QueuedBytesLen() int {
	if c.conn == nil {
		return 0
	}
	return c.conn.QueuedBytesLen()
}

// Connected reports whether a live Connection exists and has completed its
// handshake.
func (c *RpcClient) Connected() bool {
	return c.conn != nil && c.conn.State() == ConnectionConnected
}

// Send serializes value onto the (possibly newly dialed) connection to the
// server. If there is no live Connection, a non-blocking socket is
// opened, registered for read- and write-readiness under c.Handle() (the
// eventual connect-completion arrives as a writable event; registering read
// interest up front means no separate reregistration is needed once the
// handshake completes), wrapped as a Connecting Connection, and the response
// FIFO is cleared so that no stale response from a prior, now-dropped
// session can later be observed. Any I/O failure along the way drops the
// Connection; the caller may retry with another Send.
func (c *RpcClient) Send(value any) error {
	if c.conn == nil {
		if err := c.dial(); err != nil {
			return err
		}
	}
	if err := c.conn.Send(value); err != nil {
		if c.conn.State() == ConnectionClosed {
			c.dropConnection("send failed: %v", err)
		}
		return err
	}
	return nil
}

func (c *RpcClient) dial() error {
	raw, err := dialNonblocking(c.serverAddr)
	if err != nil {
		return err
	}
	if err := c.reactor.Register(c.handle, raw, InterestRead|InterestWrite); err != nil {
		raw.closeBoth()
		return err
	}
	c.conn = NewConnection(c.handle, raw, ConnectionConnecting, c.reactor)
	c.responses = c.responses[:0]
	return nil
}

// TryRecv pops the oldest parsed response, or returns nil if none is queued.
func (c *RpcClient) TryRecv() *ResponseObject {
	if len(c.responses) == 0 {
		return nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp
}

// HandleEvent dispatches a readiness event to the client's Connection, if
// any. Events are ignored if there is no live Connection. The read callback
// parses one framed JSON response per call and pushes it onto the response
// FIFO; a JSON decode error is a protocol fault surfaced to the caller
// without invalidating the transport, while an I/O error drops the
// Connection.
func (c *RpcClient) HandleEvent(event Event) error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.HandleEvent(event, c.readOneResponse)
	if c.conn != nil && c.conn.State() == ConnectionClosed {
		c.dropConnection("connection closed: %v", err)
	}
	if err == nil {
		err = c.pendingDecodeErr
	}
	c.pendingDecodeErr = nil
	return err
}

// readOneResponse is the Connection.HandleEvent onRead callback. A decode
// failure is a peer protocol bug, not a transport failure: it is stashed
// for HandleEvent to surface to the caller once the read loop pauses,
// rather than returned directly, since returning anything other than
// ErrWouldBlock here would make Connection treat it as fatal and close the
// transport underneath a serializer bug that shouldn't invalidate it.
func (c *RpcClient) readOneResponse(conn *Connection) error {
	line, err := conn.stream.ReadLine()
	if err != nil {
		return err
	}
	resp, err := DecodeResponse(line)
	if err != nil {
		c.pendingDecodeErr = err
		return nil
	}
	c.responses = append(c.responses, resp)
	return nil
}

func (c *RpcClient) dropConnection(format string, args ...any) {
	if c.logger != nil {
		c.logger.Logf("jsonlrpc client: "+format, args...)
	}
	c.conn = nil
	c.responses = nil
}

// Close idempotently tears down the live Connection, if any.
func (c *RpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.responses = nil
	return err
}
