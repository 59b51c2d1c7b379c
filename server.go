// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonlrpc

import "golang.org/x/xerrors"

// Decoder parses one line of wire bytes into a server's typed request
// value. RpcServer is parameterized directly over REQ using Go generics
// (see DESIGN.md for why this replaces a trait/interface-based decoder).
type Decoder[REQ any] func(line []byte) (REQ, error)

type requestEntry[REQ any] struct {
	sender  Sender
	request REQ
}

// RpcServer owns a listener bound to a caller-supplied address, the
// inclusive handle range [min, max], a cursor for the next handle to try, a
// mapping from handle to Connection, and a FIFO of (Sender, parsed request)
// pairs.
type RpcServer[REQ any] struct {
	listenerHandle Handle
	listener       *rawConn
	listenAddr     string

	min, max   Handle
	nextHandle Handle

	connections map[Handle]*Connection
	requests    []requestEntry[REQ]

	decode  Decoder[REQ]
	reactor Reactor
	logger  Logger
}

// StartRpcServer binds listenAddr (port 0 permitted for OS assignment),
// registers the listener for read-readiness under handle min, and
// initializes the handle cursor to min+1. min must be strictly less than
// max -- an empty or inverted range leaves no handle for any accepted
// connection and fails with ErrHandleRangeInvalid before any resource is
// retained (see DESIGN.md for why min==max is rejected rather than
// tolerated).
func StartRpcServer[REQ any](reactor Reactor, listenAddr string, min, max Handle, decode Decoder[REQ]) (*RpcServer[REQ], error) {
	if !(min < max) {
		return nil, ErrHandleRangeInvalid
	}
	raw, bound, err := listenNonblocking(listenAddr)
	if err != nil {
		return nil, err
	}
	if err := reactor.Register(min, raw, InterestRead); err != nil {
		raw.closeBoth()
		return nil, err
	}
	return &RpcServer[REQ]{
		listenerHandle: min,
		listener:       raw,
		listenAddr:     bound,
		min:            min,
		max:            max,
		nextHandle:     min + 1,
		connections:    make(map[Handle]*Connection),
		decode:         decode,
		reactor:        reactor,
	}, nil
}

// SetLogger installs an optional Logger for otherwise-silent state
// transitions (handle exhaustion, a failed registration of an accepted
// connection, connections closed after a protocol error). A connection
// removed after an I/O fault in HandleEvent or Reply is not logged.
func (s *RpcServer[REQ]) SetLogger(logger Logger) { s.logger = logger }

// ListenAddr returns the resolved bound address.
func (s *RpcServer[REQ]) ListenAddr() string { return s.listenAddr }

// ListenerHandle returns the handle (always equal to min) the listener is
// registered under.
func (s *RpcServer[REQ]) ListenerHandle() Handle { return s.listenerHandle }

// Connections returns the live connections at the moment of the call.
// The slice is stable only for the duration of this call -- callers must
// not retain it across further HandleEvent calls.
func (s *RpcServer[REQ]) Connections() []*Connection {
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	return conns
}

// TryRecv pops the oldest parsed (Sender, request) pair, or reports ok=false
// if none is queued.
func (s *RpcServer[REQ]) TryRecv() (sender Sender, request REQ, ok bool) {
	if len(s.requests) == 0 {
		return Sender{}, request, false
	}
	entry := s.requests[0]
	s.requests = s.requests[1:]
	return entry.sender, entry.request, true
}

// Reply looks up the connection sender routes to and delegates to
// Connection.Send. It returns false ("not delivered") without error if the
// sender's connection is gone, and removes the connection (returning false)
// if the send itself fails -- replying through a stale Sender is always a
// no-op, never a caller-visible error.
func (s *RpcServer[REQ]) Reply(sender Sender, value any) bool {
	conn, ok := s.connections[sender.handle]
	if !ok {
		return false
	}
	if err := conn.Send(value); err != nil {
		delete(s.connections, sender.handle)
		return false
	}
	return true
}

// HandleEvent dispatches event by its Handle: to the listener if it equals
// min (draining accepts in a loop until WouldBlock), to a live connection
// otherwise, or it is ignored if the handle belongs to neither. The
// returned bool reports whether the event was this server's to handle at
// all -- used by a shared event loop to also try the event against a
// client sharing the same reactor. Per-connection I/O and protocol faults
// never surface
// here: they are captured by removing the connection from the map, observed
// indirectly through Connections()/TryRecv(). A non-nil error return means
// the listener itself failed in a way accept-loop draining cannot recover
// from.
func (s *RpcServer[REQ]) HandleEvent(event Event) (bool, error) {
	if event.Handle == s.listenerHandle {
		return true, s.handleListenerEvent()
	}
	conn, ok := s.connections[event.Handle]
	if !ok {
		return false, nil
	}
	_ = conn.HandleEvent(event, s.readOneRequest)
	if conn.State() == ConnectionClosed {
		delete(s.connections, event.Handle)
	}
	return true, nil
}

func (s *RpcServer[REQ]) handleListenerEvent() error {
	for {
		raw, err := acceptNonblocking(s.listener)
		if err != nil {
			if xerrors.Is(err, ErrWouldBlock) {
				return nil
			}
			return err
		}
		setNoDelay(raw)
		handle, ok := s.allocateHandle()
		if !ok {
			if s.logger != nil {
				s.logger.Logf("jsonlrpc server: handle range saturated, dropping accepted connection")
			}
			raw.closeBoth()
			continue
		}
		if err := s.reactor.Register(handle, raw, InterestRead); err != nil {
			if s.logger != nil {
				s.logger.Logf("jsonlrpc server: registering accepted connection %d: %v", handle, err)
			}
			raw.closeBoth()
			continue
		}
		s.connections[handle] = NewConnection(handle, raw, ConnectionConnected, s.reactor)
	}
}

// allocateHandle implements the cursor allocator: the live count can
// never exceed max-min (the listener reserves min), and the cursor walks
// [min+1, max] cyclically, accepting the first candidate absent from the
// live map. O(live+1) worst case, O(1) amortized under steady state.
func (s *RpcServer[REQ]) allocateHandle() (Handle, bool) {
	capacity := s.max - s.min
	if Handle(len(s.connections)) >= capacity {
		return 0, false
	}
	start := s.nextHandle
	for {
		candidate := s.nextHandle
		s.advanceCursor()
		if _, taken := s.connections[candidate]; !taken {
			return candidate, true
		}
		if s.nextHandle == start {
			return 0, false
		}
	}
}

func (s *RpcServer[REQ]) advanceCursor() {
	s.nextHandle++
	if s.nextHandle > s.max {
		s.nextHandle = s.min + 1
	}
}

// readOneRequest is the Connection.HandleEvent onRead callback: it parses
// one framed line into REQ. A successful decode is pushed onto the
// request FIFO. A decode failure runs the three-step classification ladder
// and closes the connection itself, then returns ErrWouldBlock so
// Connection's read loop treats the already-closed connection as merely
// paused rather than additionally invoking its own error path.
func (s *RpcServer[REQ]) readOneRequest(conn *Connection) error {
	line, err := conn.stream.ReadLine()
	if err != nil {
		return err
	}
	req, derr := s.decode(line)
	if derr == nil {
		s.requests = append(s.requests, requestEntry[REQ]{sender: Sender{handle: conn.Handle()}, request: req})
		return nil
	}
	s.rejectLine(conn, line)
	return ErrWouldBlock
}

func (s *RpcServer[REQ]) rejectLine(conn *Connection, line []byte) {
	var resp *ResponseObject
	if reqObj, err := DecodeRequest(line); err == nil {
		// Well-formed request object; the failure was in decoding REQ's
		// typed params.
		resp = NewErrorResponse(reqObj.ID, NewErrorObject(CodeInvalidParams, nil))
	} else if _, err := DecodeAnyValue(line); err == nil {
		// Valid JSON, but not a request object at all.
		resp = NewErrorResponse(NullID, NewErrorObject(CodeInvalidRequest, nil))
	} else {
		// Not valid JSON.
		resp = NewErrorResponse(NullID, NewErrorObject(CodeParseError, nil))
	}
	if s.logger != nil {
		s.logger.Logf("jsonlrpc server: closing connection %d after protocol error: %s", conn.Handle(), resp.Error.Message)
	}
	_ = conn.Send(resp) // best-effort; the connection is being closed regardless
	_ = conn.Close()
}

// Close tears down every live connection and the listener itself.
func (s *RpcServer[REQ]) Close() error {
	for handle, conn := range s.connections {
		_ = conn.Close()
		delete(s.connections, handle)
	}
	_ = s.reactor.Deregister(s.listener)
	s.listener.closeBoth()
	return nil
}
