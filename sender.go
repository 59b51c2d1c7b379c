// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonlrpc

// Sender identifies which server-side connection produced a received
// request. It carries only the connection's handle, and is valid only
// until that connection closes -- replying through a stale Sender is a
// no-op that reports "not delivered" rather than an error.
type Sender struct {
	handle Handle
}

// Handle returns the connection handle this Sender routes to.
func (s Sender) Handle() Handle { return s.handle }
