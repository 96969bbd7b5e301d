// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package jsonrpc implements the JSON-RPC 2.0 wire format used by the Model
// Context Protocol: message framing, the request/response/notification
// union, batches, and the standard and MCP-specific error codes.
//
// This package is the wire codec only. It has no notion of transports,
// sessions, or dispatch; see the mcp package for those.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     int64 = -32700
	CodeInvalidRequest int64 = -32600
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternalError  int64 = -32603
)

// MCP-specific error codes, in the reserved server-error range.
const (
	// CodeResourceNotFound indicates a requested resource URI does not
	// exist. Its Data carries {"uri": "..."}.
	CodeResourceNotFound int64 = -32002
	// CodeConnectionClosed is used locally (never sent on the wire) to fail
	// pending requests when the underlying transport is gone.
	CodeConnectionClosed int64 = -32001
	// CodeRequestTimeout is used locally when a send_request deadline
	// elapses before a response arrives. Its Data carries {"timeoutMs": n}.
	CodeRequestTimeout int64 = -32000
	// CodeRequestCancelled is used locally when a request is cancelled,
	// either by the peer or by the calling context. The message carries the
	// cancellation reason, if any.
	CodeRequestCancelled int64 = -32800
)

// protocolVersion is the literal value of the "jsonrpc" field.
const protocolVersion = "2.0"

// A Message is one of *Request, *Response, or *Notification.
type Message interface {
	// isMessage is unexported so that Message implementations are limited
	// to this package.
	isMessage()
}

// RequestID is a JSON-RPC request identifier: a string or a non-fractional
// number. The zero value is the "no ID" value used by notifications; it is
// distinct from both the empty string and the number zero.
//
// String and numeric IDs are never equal, even when their textual forms
// match: RequestID from "1" and RequestID from 1 compare unequal, hash to
// different map buckets, and round-trip as their original JSON kind.
type RequestID struct {
	str   string
	num   int64
	valid bool
	isStr bool
}

// StringID returns a RequestID holding the string s.
func StringID(s string) RequestID { return RequestID{str: s, valid: true, isStr: true} }

// Int64ID returns a RequestID holding the integer n.
func Int64ID(n int64) RequestID { return RequestID{num: n, valid: true} }

// IsValid reports whether id is set (as opposed to the zero RequestID used
// by notifications, which carry no id at all).
func (id RequestID) IsValid() bool { return id.valid }

// IsString reports whether id holds a string value.
func (id RequestID) IsString() bool { return id.valid && id.isStr }

// Raw returns the underlying string or int64 value, or nil if id is not
// valid.
func (id RequestID) Raw() any {
	switch {
	case !id.valid:
		return nil
	case id.isStr:
		return id.str
	default:
		return id.num
	}
}

// String renders id for logging and map-key-adjacent debugging. It is not
// the wire representation: use MarshalJSON for that.
func (id RequestID) String() string {
	switch {
	case !id.valid:
		return "<no id>"
	case id.isStr:
		return fmt.Sprintf("%q", id.str)
	default:
		return fmt.Sprintf("%d", id.num)
	}
}

func (id RequestID) MarshalJSON() ([]byte, error) {
	switch {
	case !id.valid:
		return []byte("null"), nil
	case id.isStr:
		return json.Marshal(id.str)
	default:
		return json.Marshal(id.num)
	}
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshalling request id: %w", err)
	}
	switch v := v.(type) {
	case nil:
		*id = RequestID{}
	case string:
		*id = StringID(v)
	case float64:
		if v != float64(int64(v)) {
			return fmt.Errorf("invalid request id %v: must be an integer", v)
		}
		*id = Int64ID(int64(v))
	default:
		return fmt.Errorf("invalid request id %v of type %T", v, v)
	}
	return nil
}

// A Request is a JSON-RPC call expecting a Response.
type Request struct {
	ID     RequestID       `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	// Extra is available to callers for implementation-specific top-level
	// keys. DecodeMessage does not fill it and EncodeMessage does not write
	// it, so top-level keys other than jsonrpc, id, method and params are
	// dropped on a decode/encode round trip. "_meta" inside Params is kept,
	// since Params is carried as raw JSON.
	Extra map[string]json.RawMessage `json:"-"`
}

func (*Request) isMessage() {}

// IsCall reports whether r expects a response (it has a valid ID). A
// Request with no ID is malformed; notifications are represented as
// *Notification instead.
func (r *Request) IsCall() bool { return r.ID.IsValid() }

// A Notification is a one-way JSON-RPC call: it carries no ID and elicits
// no Response.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Extra  map[string]json.RawMessage `json:"-"`
}

func (*Notification) isMessage() {}

// A Response is the answer to a Request, carrying exactly one of Result or
// Error.
type Response struct {
	ID     RequestID       `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error      `json:"error,omitempty"`
}

func (*Response) isMessage() {}

// Error is the error object carried by a Response with a failed
// outcome. It implements the error interface so it can be returned
// directly from dispatcher calls.
type Error struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("jsonrpc: code %d: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same Code, so that
// sentinel errors built with NewError can be matched via errors.Is
// regardless of their Message or Data.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError builds a *Error from a code, message, and optional data
// value (which is marshaled to JSON; marshal failure is swallowed and the
// data omitted, since an error constructor that can itself fail is awkward
// to use at every call site).
func NewError(code int64, message string, data any) *Error {
	we := &Error{Code: code, Message: message}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			we.Data = b
		}
	}
	return we
}

// NewCall builds a *Request with the given id, method, and params value
// (marshaled to JSON; nil params are omitted).
func NewCall(id RequestID, method string, params any) (*Request, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{ID: id, Method: method, Params: p}, nil
}

// NewNotificationMsg builds a *Notification with the given method and
// params value.
func NewNotificationMsg(method string, params any) (*Notification, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{Method: method, Params: p}, nil
}

// NewResultResponse builds a successful *Response.
func NewResultResponse(id RequestID, result any) (*Response, error) {
	r, err := marshalParams(result)
	if err != nil {
		return nil, err
	}
	return &Response{ID: id, Result: r}, nil
}

// NewErrorResponse builds a failed *Response.
func NewErrorResponse(id RequestID, err *Error) *Response {
	return &Response{ID: id, Error: err}
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling params: %w", err)
	}
	return b, nil
}

// wireEnvelope is the on-the-wire shape shared by all message kinds; the
// presence of id/method/result/error discriminates among them, per the MCP
// spec's framing rules.
type wireEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// EncodeMessage encodes msg as a compact JSON-RPC 2.0 frame.
func EncodeMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeMessageTo(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeMessageTo writes msg to w as a compact JSON-RPC 2.0 frame.
func EncodeMessageTo(w io.Writer, msg Message) error {
	env, err := toEnvelope(msg)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(env)
}

// EncodeIndent encodes msg with the given prefix and indent, for
// human-readable output (logs, conformance fixtures).
func EncodeIndent(msg Message, prefix, indent string) ([]byte, error) {
	env, err := toEnvelope(msg)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(env, prefix, indent)
}

func toEnvelope(msg Message) (*wireEnvelope, error) {
	env := &wireEnvelope{JSONRPC: protocolVersion}
	switch m := msg.(type) {
	case *Request:
		id := m.ID
		env.ID = &id
		env.Method = m.Method
		env.Params = m.Params
	case *Notification:
		env.Method = m.Method
		env.Params = m.Params
	case *Response:
		id := m.ID
		env.ID = &id
		env.Result = m.Result
		env.Error = m.Error
	default:
		return nil, fmt.Errorf("jsonrpc: unknown message type %T", msg)
	}
	return env, nil
}

// DecodeMessage decodes a single JSON-RPC 2.0 frame (not a batch).
//
// Discrimination follows the MCP spec: an object with "method" and no "id"
// is a Notification; with both "id" and "method" it is a Request; with "id"
// and exactly one of "result"/"error" it is a Response. A frame with "id"
// and neither "result" nor "error" decodes as a success Response with an
// empty Result; one with both is rejected.
func DecodeMessage(data []byte) (Message, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("jsonrpc: invalid JSON: %w", err)
	}
	switch {
	case env.Method != "" && env.ID == nil:
		return &Notification{Method: env.Method, Params: env.Params}, nil
	case env.Method != "" && env.ID != nil:
		return &Request{ID: *env.ID, Method: env.Method, Params: env.Params}, nil
	case env.ID != nil && env.Result != nil && env.Error != nil:
		return nil, fmt.Errorf("jsonrpc: malformed response: both result and error present")
	case env.ID != nil && (env.Result != nil || env.Error != nil):
		return &Response{ID: *env.ID, Result: env.Result, Error: env.Error}, nil
	case env.ID != nil && env.Error == nil && env.Result == nil:
		// A response with a null/absent result is still a valid success
		// response (e.g. a notification-shaped RPC with result: null).
		return &Response{ID: *env.ID}, nil
	default:
		return nil, fmt.Errorf("jsonrpc: malformed message: not a request, response, or notification")
	}
}

// ErrEmptyBatch is returned by DecodeBatch when data is a JSON array with no
// elements, which the spec treats as an invalid request.
var ErrEmptyBatch = fmt.Errorf("jsonrpc: batch must not be empty")

// DecodeBatch decodes data as either a single message or a batch (JSON
// array) of messages. isBatch reports which form was seen, so that callers
// can apply the "never respond to an all-notification batch with a bare
// frame" rule correctly.
func DecodeBatch(data []byte) (msgs []Message, isBatch bool, err error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		msg, err := DecodeMessage(data)
		if err != nil {
			return nil, false, err
		}
		return []Message{msg}, false, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, true, fmt.Errorf("jsonrpc: invalid batch: %w", err)
	}
	if len(raw) == 0 {
		return nil, true, ErrEmptyBatch
	}
	msgs = make([]Message, len(raw))
	for i, elem := range raw {
		msg, err := DecodeMessage(elem)
		if err != nil {
			return nil, true, fmt.Errorf("jsonrpc: invalid batch element %d: %w", i, err)
		}
		msgs[i] = msg
	}
	return msgs, true, nil
}

// EncodeBatch encodes a batch response: a JSON array of the given
// messages, each as a compact frame.
func EncodeBatch(msgs []Message) ([]byte, error) {
	envs := make([]*wireEnvelope, len(msgs))
	for i, m := range msgs {
		env, err := toEnvelope(m)
		if err != nil {
			return nil, err
		}
		envs[i] = env
	}
	return json.Marshal(envs)
}
