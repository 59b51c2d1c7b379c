// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonlrpc

import (
	"io"
	"net"

	"golang.org/x/xerrors"
)

// ErrWouldBlock classifies a non-blocking I/O operation that did not
// complete because the socket was not ready. It is never returned to a
// caller as a hard failure; it means "try again once the reactor says the
// handle is ready".
var ErrWouldBlock = xerrors.New("jsonlrpc: operation would block")

// errNotConnected is returned by Connection.Send once the connection has
// reached ConnectionClosed.
var errNotConnected = xerrors.New("jsonlrpc: not connected")

// ErrHandleRangeInvalid is returned by StartRpcServer when the configured
// handle range [min, max] leaves no room for any accepted connection.
var ErrHandleRangeInvalid = xerrors.New("jsonlrpc: handle range must satisfy min < max")

// ErrBufferTooLarge is returned when a connection's inbound buffer would
// grow past maxInboundBuffer without completing a line; the connection is
// treated as fatally broken, the same as any other I/O error.
var ErrBufferTooLarge = xerrors.New("jsonlrpc: inbound buffer exceeded limit")

// classifyIOError turns a raw syscall/net error into either ErrWouldBlock or
// a wrapped fatal error, the single place every read/write path in this
// package funnels through so Connection's state machine only ever has to
// check for one sentinel.
func classifyIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	if xerrors.Is(err, ErrWouldBlock) {
		return ErrWouldBlock
	}
	if isWouldBlock(err) {
		return ErrWouldBlock
	}
	if xerrors.Is(err, io.EOF) {
		return xerrors.Errorf("jsonlrpc: %s: %w", op, io.EOF)
	}
	var ne net.Error
	if xerrors.As(err, &ne) && ne.Timeout() {
		return ErrWouldBlock
	}
	return xerrors.Errorf("jsonlrpc: %s: %w", op, err)
}
