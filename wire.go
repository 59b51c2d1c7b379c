// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonlrpc

import (
	"encoding/json"
	"fmt"

	"golang.org/x/xerrors"
)

// Version is the literal "jsonrpc" version tag; this package speaks only
// JSON-RPC 2.0 , so there is exactly one valid value.
type Version string

const JSONRPCVersion Version = "2.0"

// ID is a JSON-RPC request identifier: a JSON number, a JSON string, or
// absent/null for a notification.
type ID struct {
	value any // nil, float64, or string
}

// NumberID builds a numeric request ID.
func NumberID(n float64) ID { return ID{value: n} }

// StringID builds a string request ID.
func StringID(s string) ID { return ID{value: s} }

// NullID is the zero value of ID; IsValid reports false for it.
var NullID = ID{}

// IsValid reports whether id was actually present in the wire message (as
// opposed to being the default, absent value).
func (id ID) IsValid() bool { return id.value != nil }

// Raw returns the underlying float64, string, or nil.
func (id ID) Raw() any { return id.value }

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.(type) {
	case nil, float64, string:
		id.value = v
		return nil
	default:
		return xerrors.Errorf("jsonlrpc: invalid request id type %T", v)
	}
}

func (id ID) String() string {
	if id.value == nil {
		return "null"
	}
	return fmt.Sprint(id.value)
}

// RequestObject is a JSON-RPC 2.0 request (a call if ID.IsValid(), a
// notification otherwise).
type RequestObject struct {
	JSONRPC Version         `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id,omitempty"`
}

// IsNotification reports whether this request carries no ID and therefore
// expects no response.
func (r *RequestObject) IsNotification() bool { return !r.ID.IsValid() }

// MarshalJSON omits the id member entirely for a notification, rather than
// emitting a literal "id":null -- encoding/json's omitempty has no effect on
// struct-typed fields, so RequestObject controls this itself.
func (r *RequestObject) MarshalJSON() ([]byte, error) {
	type alias struct {
		JSONRPC Version         `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
		ID      *ID             `json:"id,omitempty"`
	}
	a := alias{JSONRPC: r.JSONRPC, Method: r.Method, Params: r.Params}
	if r.ID.IsValid() {
		a.ID = &r.ID
	}
	return json.Marshal(a)
}

// ErrorObject is a JSON-RPC 2.0 error value.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonlrpc: %s (code %d)", e.Message, e.Code)
}

// NewErrorObject builds an ErrorObject for one of the standard codes in
// codes.go, filling in the canonical message.
func NewErrorObject(code int, data json.RawMessage) *ErrorObject {
	return &ErrorObject{Code: code, Message: errorMessageForCode(code), Data: data}
}

// ResponseObject is a JSON-RPC 2.0 response: exactly one of Result or Error
// is set, never both.
type ResponseObject struct {
	JSONRPC Version         `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// NewResultResponse marshals result and wraps it as a success response.
func NewResultResponse(id ID, result any) (*ResponseObject, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, xerrors.Errorf("jsonlrpc: marshaling result: %w", err)
	}
	return &ResponseObject{JSONRPC: JSONRPCVersion, ID: id, Result: raw}, nil
}

// NewErrorResponse wraps errObj as a failure response.
func NewErrorResponse(id ID, errObj *ErrorObject) *ResponseObject {
	return &ResponseObject{JSONRPC: JSONRPCVersion, ID: id, Error: errObj}
}

// IsError reports whether this response carries an error.
func (r *ResponseObject) IsError() bool { return r.Error != nil }

// wireCombined is decoded once per line and then classified, the same
// technique internal/jsonrpc2's "combined" struct and internal/jsonrpc2_v2's
// "wireCombined" use to tell a request from a response from garbage without
// committing to either shape up front.
type wireCombined struct {
	JSONRPC Version         `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	ID      ID              `json:"id,omitempty"`
}

// DecodeRequest parses line as a well-formed JSON-RPC request object.
// It is the first, most specific parse attempt in the server's three-step
// classification ladder: success here lets an INVALID_PARAMS reply
// carry the caller's original request id.
func DecodeRequest(line []byte) (*RequestObject, error) {
	var msg wireCombined
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	if msg.JSONRPC != JSONRPCVersion {
		return nil, xerrors.Errorf("jsonlrpc: unsupported jsonrpc version %q", msg.JSONRPC)
	}
	if msg.Method == "" {
		return nil, xerrors.New("jsonlrpc: missing method")
	}
	return &RequestObject{
		JSONRPC: msg.JSONRPC,
		Method:  msg.Method,
		Params:  msg.Params,
		ID:      msg.ID,
	}, nil
}

// DecodeResponse parses line as a well-formed JSON-RPC response object, the
// shape RpcClient expects to read off the wire.
func DecodeResponse(line []byte) (*ResponseObject, error) {
	var msg wireCombined
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	if msg.Result == nil && msg.Error == nil {
		return nil, xerrors.New("jsonlrpc: response has neither result nor error")
	}
	return &ResponseObject{
		JSONRPC: msg.JSONRPC,
		Result:  msg.Result,
		Error:   msg.Error,
		ID:      msg.ID,
	}, nil
}

// DecodeAnyValue parses line as any JSON value at all, the second,
// least-specific step of the server's classification ladder: it
// distinguishes "valid JSON but not a request object" (INVALID_REQUEST) from
// "not JSON at all" (PARSE_ERROR).
func DecodeAnyValue(line []byte) (any, error) {
	var v any
	if err := json.Unmarshal(line, &v); err != nil {
		return nil, err
	}
	return v, nil
}
