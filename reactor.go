// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonlrpc

// Handle is the opaque integer identifying a registration with the
// external reactor. Two handles are equal iff they designate the same
// registration; the server's allocator hands these out for accepted
// connections, while the listener and client handles are chosen by the
// caller.
type Handle uint64

// Interest is the set of readiness conditions a registration cares about.
type Interest uint8

const (
	// InterestRead corresponds to the reactor interest set {read}.
	InterestRead Interest = 1 << iota
	// InterestWrite is OR'd with InterestRead for {read, write}.
	InterestWrite
)

func (i Interest) readable() bool { return i&InterestRead != 0 }
func (i Interest) writable() bool { return i&InterestWrite != 0 }

// Event is one readiness notification yielded by Reactor.Poll.
type Event struct {
	Handle   Handle
	Readable bool
	Writable bool
}

// Reactor is the minimum external readiness-notification contract this
// package consumes: register/reregister/deregister a socket under a
// handle, and poll for events. This package never owns an event loop (an
// explicit non-goal) -- callers drive Poll themselves and dispatch each
// Event to RpcServer.HandleEvent / RpcClient.HandleEvent by its Handle.
//
// Implementations need not be thread-safe; nothing in this package calls a
// Reactor from more than one goroutine at a time.
type Reactor interface {
	// Register begins monitoring conn for readiness under handle.
	Register(handle Handle, conn Pollable, interests Interest) error
	// Reregister changes the interest set for an already-registered handle.
	Reregister(handle Handle, conn Pollable, interests Interest) error
	// Deregister stops monitoring conn. It is a no-op to call it for a
	// handle that was never registered or already deregistered.
	Deregister(conn Pollable) error
	// Poll blocks up to timeout (or indefinitely if timeout is negative)
	// waiting for at least one readiness event, appending whichever events
	// fired to dst and returning the extended slice.
	Poll(dst []Event, timeoutMillis int) ([]Event, error)
	// Close releases the reactor's own resources (e.g. the epoll fd).
	Close() error
}

// Pollable is the subset of a registered connection's identity a Reactor
// needs in order to register/deregister its underlying file descriptor.
// *rawConn implements it; callers supplying their own Reactor against a
// different transport can implement it for their own connection type.
type Pollable interface {
	Fd() int
}
