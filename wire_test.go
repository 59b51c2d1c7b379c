// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonlrpc

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeRequestRoundTrip(t *testing.T) {
	line := []byte(`{"jsonrpc":"2.0","method":"ping","id":123}`)
	req, err := DecodeRequest(line)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	want := &RequestObject{
		JSONRPC: JSONRPCVersion,
		Method:  "ping",
		ID:      NumberID(123),
	}
	if diff := cmp.Diff(want, req, cmp.AllowUnexported(ID{})); diff != "" {
		t.Fatalf("DecodeRequest mismatch (-want +got):\n%s", diff)
	}
	if req.IsNotification() {
		t.Fatal("request with an id must not be a notification")
	}
}

func TestDecodeRequestRejectsMissingMethod(t *testing.T) {
	if _, err := DecodeRequest([]byte(`{"jsonrpc":"2.0","id":1}`)); err == nil {
		t.Fatal("expected an error for a request object with no method")
	}
}

func TestDecodeRequestRejectsNonObject(t *testing.T) {
	if _, err := DecodeRequest([]byte(`"ping"`)); err == nil {
		t.Fatal("expected an error decoding a bare string as a request object")
	}
}

func TestDecodeAnyValueAcceptsNonRequestJSON(t *testing.T) {
	v, err := DecodeAnyValue([]byte(`"ping"`))
	if err != nil {
		t.Fatalf("DecodeAnyValue: %v", err)
	}
	if v != "ping" {
		t.Fatalf("got %#v, want \"ping\"", v)
	}
}

func TestDecodeAnyValueRejectsGarbage(t *testing.T) {
	if _, err := DecodeAnyValue([]byte(`not json`)); err == nil {
		t.Fatal("expected an error for non-JSON input")
	}
}

func TestResponseObjectEncodesExactlyOneOfResultOrError(t *testing.T) {
	resp, err := NewResultResponse(NumberID(123), "pong")
	if err != nil {
		t.Fatalf("NewResultResponse: %v", err)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := m["error"]; ok {
		t.Fatalf("success response must not carry an error field: %s", data)
	}
	if _, ok := m["result"]; !ok {
		t.Fatalf("success response must carry a result field: %s", data)
	}

	errResp := NewErrorResponse(NumberID(123), NewErrorObject(CodeInvalidParams, nil))
	if !errResp.IsError() {
		t.Fatal("NewErrorResponse should produce an error response")
	}
	if errResp.Error.Code != CodeInvalidParams {
		t.Fatalf("got code %d, want %d", errResp.Error.Code, CodeInvalidParams)
	}
}

func TestDecodeResponseRoundTrip(t *testing.T) {
	resp, err := NewResultResponse(NumberID(123), map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("NewResultResponse: %v", err)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if got.ID.Raw() != 123.0 {
		t.Fatalf("got id %v, want 123", got.ID.Raw())
	}
	if got.IsError() {
		t.Fatal("decoded response should not be an error")
	}
}

func TestIDJSONRoundTrip(t *testing.T) {
	for _, id := range []ID{NumberID(1), StringID("abc"), NullID} {
		data, err := json.Marshal(id)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", id, err)
		}
		var got ID
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if diff := cmp.Diff(id, got, cmp.AllowUnexported(ID{})); diff != "" {
			t.Fatalf("ID round-trip mismatch (-want +got):\n%s", diff)
		}
	}
}
