// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonlrpc

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// integrationRequest is what the server-side loop below reports to the test
// goroutine after a successful decode, so assertions never touch RpcServer
// state from outside the goroutine that owns it.
type integrationRequest struct {
	sender Sender
	method string
	id     ID
}

// runServerLoop owns server completely: it polls its own reactor, dispatches
// events, answers ping requests with "pong" inline (the same way a real
// caller's single loop would), and reports what it saw on seenCh. It returns
// once ctx is cancelled.
func runServerLoop(ctx context.Context, server *RpcServer[*RequestObject], reactor Reactor, seenCh chan<- integrationRequest) func() error {
	return func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			events, err := reactor.Poll(nil, 20)
			if err != nil {
				return err
			}
			for _, ev := range events {
				if _, err := server.HandleEvent(ev); err != nil {
					return err
				}
			}
			for {
				sender, req, ok := server.TryRecv()
				if !ok {
					break
				}
				if req.Method == "ping" {
					if resp, err := NewResultResponse(req.ID, "pong"); err == nil {
						server.Reply(sender, resp)
					}
				}
				select {
				case seenCh <- integrationRequest{sender: sender, method: req.Method, id: req.ID}:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// runClientLoop owns client completely: sendCh feeds it values to send,
// respCh reports every decoded response, and connStateCh reports every
// Connected() transition, all without any other goroutine touching client.
func runClientLoop(ctx context.Context, client *RpcClient, reactor Reactor, sendCh <-chan any, respCh chan<- *ResponseObject, connStateCh chan<- bool) func() error {
	return func() error {
		wasConnected := false
		for {
			select {
			case <-ctx.Done():
				return nil
			case v := <-sendCh:
				if err := client.Send(v); err != nil {
					// A send against a not-yet-reconnected client is reported
					// back as "not connected" rather than treated fatally.
					select {
					case connStateCh <- false:
					case <-ctx.Done():
						return nil
					}
				}
			default:
			}

			events, err := reactor.Poll(nil, 20)
			if err != nil {
				return err
			}
			for _, ev := range events {
				_ = client.HandleEvent(ev)
			}
			for {
				resp := client.TryRecv()
				if resp == nil {
					break
				}
				select {
				case respCh <- resp:
				case <-ctx.Done():
					return nil
				}
			}

			if nowConnected := client.Connected(); nowConnected != wasConnected {
				wasConnected = nowConnected
				select {
				case connStateCh <- nowConnected:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// TestIntegrationPingPongAndReconnect drives a real server and a real client,
// each on its own EpollReactor and its own goroutine, through a ping/pong
// round trip, the server going away, and the client successfully
// reconnecting to a second server bound to the same address.
func TestIntegrationPingPongAndReconnect(t *testing.T) {
	serverReactor, err := NewEpollReactor()
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	clientReactor, err := NewEpollReactor()
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer clientReactor.Close()

	server, err := StartRpcServer[*RequestObject](serverReactor, "127.0.0.1:0", 0, 99, pingDecoder)
	if err != nil {
		t.Fatalf("StartRpcServer: %v", err)
	}
	addr := server.ListenAddr()

	client := NewRpcClient(100, addr, clientReactor)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	serverCtx, cancelServer := context.WithCancel(ctx)

	sendCh := make(chan any, 4)
	respCh := make(chan *ResponseObject, 4)
	connStateCh := make(chan bool, 8)
	seenCh := make(chan integrationRequest, 4)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(runServerLoop(serverCtx, server, serverReactor, seenCh))
	g.Go(runClientLoop(gctx, client, clientReactor, sendCh, respCh, connStateCh))

	ping := &RequestObject{JSONRPC: JSONRPCVersion, Method: "ping", ID: NumberID(1)}
	sendCh <- ping

	select {
	case req := <-seenCh:
		if req.method != "ping" {
			t.Fatalf("got method %q, want ping", req.method)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the server to see the ping")
	}

	select {
	case resp := <-respCh:
		if resp.IsError() {
			t.Fatalf("got error response: %v", resp.Error)
		}
		if resp.ID.Raw() != 1.0 {
			t.Fatalf("got id %v, want 1", resp.ID.Raw())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the pong")
	}

	// Stop the first server and let the client observe the drop.
	cancelServer()
	_ = server.Close()
	serverReactor.Close()

	sendCh <- "nudge" // a bare JSON string; just needs to provoke a write that fails against the dead peer
	deadline := time.After(3 * time.Second)
waitDropped:
	for {
		select {
		case connected := <-connStateCh:
			if !connected {
				break waitDropped
			}
		case <-deadline:
			t.Fatal("timed out waiting for the client to notice the server went away")
		}
	}

	// Bring up a second server on the same address and let the client
	// reconnect to it on the next Send.
	server2Reactor, err := NewEpollReactor()
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer server2Reactor.Close()
	server2, err := StartRpcServer[*RequestObject](server2Reactor, addr, 0, 99, pingDecoder)
	if err != nil {
		t.Fatalf("StartRpcServer (second): %v", err)
	}
	defer server2.Close()
	server2Ctx, cancelServer2 := context.WithCancel(ctx)
	defer cancelServer2()
	g.Go(runServerLoop(server2Ctx, server2, server2Reactor, seenCh))

	ping2 := &RequestObject{JSONRPC: JSONRPCVersion, Method: "ping", ID: NumberID(2)}
	sendCh <- ping2

	select {
	case req := <-seenCh:
		if req.method != "ping" {
			t.Fatalf("got method %q, want ping", req.method)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the second server to see the reconnected ping")
	}
	select {
	case resp := <-respCh:
		if resp.ID.Raw() != 2.0 {
			t.Fatalf("got id %v, want 2", resp.ID.Raw())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the second pong")
	}

	cancel()
	if err := g.Wait(); err != nil {
		t.Fatalf("loop goroutines: %v", err)
	}
}

// TestIntegrationInvalidRequestClosesConnection feeds the server a value
// that JSON-encodes to something other than a request object; the server
// must reply INVALID_REQUEST and close the connection, and the client must
// surface both without its own loop goroutine returning an error.
func TestIntegrationInvalidRequestClosesConnection(t *testing.T) {
	serverReactor, err := NewEpollReactor()
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer serverReactor.Close()
	clientReactor, err := NewEpollReactor()
	if err != nil {
		t.Fatalf("NewEpollReactor: %v", err)
	}
	defer clientReactor.Close()

	server, err := StartRpcServer[*RequestObject](serverReactor, "127.0.0.1:0", 0, 99, pingDecoder)
	if err != nil {
		t.Fatalf("StartRpcServer: %v", err)
	}
	defer server.Close()

	client := NewRpcClient(100, server.ListenAddr(), clientReactor)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sendCh := make(chan any, 1)
	respCh := make(chan *ResponseObject, 4)
	connStateCh := make(chan bool, 8)
	seenCh := make(chan integrationRequest, 4)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(runServerLoop(gctx, server, serverReactor, seenCh))
	g.Go(runClientLoop(gctx, client, clientReactor, sendCh, respCh, connStateCh))

	sendCh <- "just a bare string" // valid JSON, not a request object

	select {
	case resp := <-respCh:
		if !resp.IsError() {
			t.Fatal("expected an error response")
		}
		if resp.Error.Code != CodeInvalidRequest {
			t.Fatalf("got code %d, want %d", resp.Error.Code, CodeInvalidRequest)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the INVALID_REQUEST response")
	}

	deadline := time.After(3 * time.Second)
waitClosed:
	for {
		select {
		case connected := <-connStateCh:
			if !connected {
				break waitClosed
			}
		case <-deadline:
			t.Fatal("timed out waiting for the client to observe the connection close")
		}
	}

	cancel()
	if err := g.Wait(); err != nil {
		t.Fatalf("loop goroutines: %v", err)
	}
}
