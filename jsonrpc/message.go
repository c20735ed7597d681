// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package jsonrpc implements the wire-level JSON-RPC 2.0 message model used
// by the mcp package: a tagged union of Request, Response, Error,
// Notification, and a synthetic Nil, together with the untagged-on-the-wire
// discrimination rules that recover the tag on decode.
package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/mcpcore/mcpcore-go/internal/jsonrpc2"
	segjson "github.com/segmentio/encoding/json"
)

// protocolVersion is the literal value the "jsonrpc" field must carry.
const protocolVersion = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ID is a JSON-RPC request identifier: either an unsigned integer or a
// string, per the JSON-RPC 2.0 spec. The zero value is not a valid ID; use
// [Int64ID] or [StringID] to construct one, and [ID.IsValid] to test.
type ID struct {
	value any // nil, int64, or string
}

// Int64ID returns an ID wrapping the unsigned integer n.
func Int64ID(n int64) ID { return ID{value: n} }

// StringID returns an ID wrapping the string s.
func StringID(s string) ID { return ID{value: s} }

// IsValid reports whether id carries a value (as opposed to the zero ID,
// which denotes "no id" for Notification/Error-without-id).
func (id ID) IsValid() bool { return id.value != nil }

// Raw returns the underlying int64 or string, or nil.
func (id ID) Raw() any { return id.value }

func (id ID) String() string {
	switch v := id.value.(type) {
	case int64:
		return fmt.Sprintf("%d", v)
	case string:
		return v
	default:
		return "<invalid>"
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.IsValid() {
		return []byte("null"), nil
	}
	return segjson.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := segjson.Unmarshal(data, &n); err == nil {
		id.value = n
		return nil
	}
	var s string
	if err := segjson.Unmarshal(data, &s); err == nil {
		id.value = s
		return nil
	}
	var null any
	if err := segjson.Unmarshal(data, &null); err == nil && null == nil {
		id.value = nil
		return nil
	}
	return fmt.Errorf("jsonrpc: id must be a string or integer, got %q", data)
}

// Message is the sealed set of wire message kinds: *Request, *Response,
// *Error, *Notification, and *Nil.
type Message interface {
	isMessage()
	MarshalJSON() ([]byte, error)
}

// Request is an outgoing or incoming JSON-RPC call that expects a Response.
type Request struct {
	ID     ID
	Method string
	Params any // json.RawMessage on decode, arbitrary value on encode
	Meta   map[string]any
}

// Response is a successful reply to a Request.
type Response struct {
	ID     ID
	Result any
}

// WireError is the JSON-RPC error object, carried either standalone (as
// *Error) or nested inside a Go error return.
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *WireError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Error is a failed reply to a Request. ID is absent (invalid) when the
// error occurred before the request's id could be determined (e.g. a parse
// error on the whole payload).
type Error struct {
	ID    ID
	Err   *WireError
}

func (e *Error) Error() string { return e.Err.Error() }

// Notification is a fire-and-forget message carrying no id.
type Notification struct {
	Method string
	Params any
	Meta   map[string]any
}

// Nil is the synthetic reply produced for a Notification; it never appears
// on the wire.
type Nil struct{}

func (*Request) isMessage()      {}
func (*Response) isMessage()     {}
func (*Error) isMessage()        {}
func (*Notification) isMessage() {}
func (*Nil) isMessage()          {}

type wireEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Meta    map[string]any  `json:"_meta,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

func (r *Request) MarshalJSON() ([]byte, error) {
	id := r.ID
	return segjson.Marshal(wireEnvelope{JSONRPC: protocolVersion, ID: &id, Method: r.Method, Params: r.Params, Meta: r.Meta})
}

func (r *Response) MarshalJSON() ([]byte, error) {
	id := r.ID
	return segjson.Marshal(wireEnvelope{JSONRPC: protocolVersion, ID: &id, Result: r.Result})
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var id *ID
	if e.ID.IsValid() {
		id = &e.ID
	}
	return segjson.Marshal(wireEnvelope{JSONRPC: protocolVersion, ID: id, Error: e.Err})
}

func (n *Notification) MarshalJSON() ([]byte, error) {
	return segjson.Marshal(wireEnvelope{JSONRPC: protocolVersion, Method: n.Method, Params: n.Params, Meta: n.Meta})
}

func (*Nil) MarshalJSON() ([]byte, error) {
	return nil, fmt.Errorf("jsonrpc: Nil must never be serialized")
}

// rawEnvelope mirrors wireEnvelope but keeps Params/Result as raw JSON so we
// can discriminate before committing to a shape, and so callers can decode
// Params/Result into their own types later.
type rawEnvelope struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      *ID                `json:"id"`
	Method  *string             `json:"method"`
	Params  segjson.RawMessage `json:"params"`
	Meta    map[string]any     `json:"_meta"`
	Result  segjson.RawMessage `json:"result"`
	Error   *WireError         `json:"error"`
}

// DecodeMessage parses data into the appropriate Message variant, using the
// key-presence discrimination rule from the wire model:
//
//	error present             -> *Error
//	result present            -> *Response
//	method present, id present    -> *Request
//	method present, id absent     -> *Notification
//	none of the above, id absent  -> *Nil (never produced by DecodeMessage)
//	otherwise                 -> INVALID_REQUEST
func DecodeMessage(data []byte) (Message, error) {
	var env rawEnvelope
	if err := jsonrpc2.StrictUnmarshal(data, &env); err != nil {
		// Fall back to lenient decode for discrimination purposes: a client
		// that sent extra fields still deserves INVALID_REQUEST, not
		// PARSE_ERROR, unless the JSON itself doesn't parse.
		if lerr := segjson.Unmarshal(data, &env); lerr != nil {
			return nil, &Error{Err: &WireError{Code: CodeParseError, Message: lerr.Error()}}
		}
		return nil, &Error{Err: &WireError{Code: CodeInvalidRequest, Message: err.Error()}}
	}
	if env.JSONRPC != "" && env.JSONRPC != protocolVersion {
		return nil, &Error{Err: &WireError{Code: CodeInvalidRequest, Message: fmt.Sprintf("jsonrpc must be %q, got %q", protocolVersion, env.JSONRPC)}}
	}

	switch {
	case env.Error != nil:
		id := ID{}
		if env.ID != nil {
			id = *env.ID
		}
		return &Error{ID: id, Err: env.Error}, nil
	case env.Result != nil:
		if env.ID == nil {
			return nil, &Error{Err: &WireError{Code: CodeInvalidRequest, Message: "response missing id"}}
		}
		var result any
		if len(env.Result) > 0 {
			result = json.RawMessage(env.Result)
		}
		return &Response{ID: *env.ID, Result: result}, nil
	case env.Method != nil && env.ID != nil:
		var params any
		if len(env.Params) > 0 {
			params = json.RawMessage(env.Params)
		}
		return &Request{ID: *env.ID, Method: *env.Method, Params: params, Meta: env.Meta}, nil
	case env.Method != nil:
		var params any
		if len(env.Params) > 0 {
			params = json.RawMessage(env.Params)
		}
		return &Notification{Method: *env.Method, Params: params, Meta: env.Meta}, nil
	default:
		return nil, &Error{Err: &WireError{Code: CodeInvalidRequest, Message: "message has none of method, result, or error"}}
	}
}

// EncodeMessage serializes msg to its wire JSON form.
func EncodeMessage(msg Message) ([]byte, error) {
	return msg.MarshalJSON()
}

