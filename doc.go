// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jsonlrpc is a non-blocking, single-threaded JSON-RPC 2.0
// transport over TCP. It exposes two cooperating endpoints -- an
// [RpcServer] that accepts many inbound connections and an [RpcClient] that
// maintains a single outbound connection -- both driven by a
// caller-supplied [Reactor]. The package performs no thread creation, no
// locking, and no atomics: every exported method returns promptly, and the
// caller's own poll loop is the only suspension point.
//
// A minimal round trip looks like:
//
//	reactor, _ := jsonlrpc.NewEpollReactor()
//	server, _ := jsonlrpc.StartRpcServer(reactor, "127.0.0.1:0", 0, 100, decodePing)
//	client := jsonlrpc.NewRpcClient(101, server.ListenAddr(), reactor)
//	client.Send(pingRequest)
//	for {
//	    events, _ := reactor.Poll(nil, 100)
//	    for _, ev := range events {
//	        if handled, _ := server.HandleEvent(ev); !handled {
//	            client.HandleEvent(ev)
//	        }
//	    }
//	    if resp := client.TryRecv(); resp != nil {
//	        break
//	    }
//	}
//
// The reactor itself is never owned by this package: callers may substitute
// [EpollReactor] for any other register/reregister/deregister/poll
// implementation.
package jsonlrpc
