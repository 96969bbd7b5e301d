// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file holds the dispatcher core shared by ClientSession and
// ServerSession: request/response correlation, cancellation, middleware,
// and the generic request wrapper types.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymcp/relaymcp-go/internal/jsonrpc2"
	"github.com/relaymcp/relaymcp-go/jsonrpc"
)

// latestProtocolVersion is the MCP protocol revision this SDK speaks.
const latestProtocolVersion = "2025-06-18"

// supportedProtocolVersions lists every protocol revision this SDK can
// negotiate with a peer, in ascending order (the date strings sort
// lexicographically, which matches chronological order).
var supportedProtocolVersions = []string{
	"2024-11-05",
	"2025-03-26",
	"2025-06-18",
	"2025-11-25",
}

func isSupportedProtocolVersion(v string) bool {
	for _, sv := range supportedProtocolVersions {
		if sv == v {
			return true
		}
	}
	return false
}

// decodeParams allocates a zero value of P (a pointer-to-struct Params
// type) and unmarshals raw into it, if raw is non-empty. It is used by
// ServerSession/ClientSession's newRequest to build the typed Request
// value for an inbound method from its undecoded wire params.
func decodeParams[P Params](raw []byte) (P, error) {
	var zero P
	rt := reflect.TypeOf(zero)
	p := reflect.New(rt.Elem()).Interface().(P)
	if len(raw) > 0 {
		if err := unmarshalInto(raw, p); err != nil {
			return zero, err
		}
	}
	return p, nil
}

// Meta holds protocol-reserved "_meta" key/value pairs that may be attached
// to any request or result.
type Meta map[string]any

// GetMeta returns m itself; it exists so that every Params type embedding
// Meta gets a uniformly named accessor through method promotion.
func (m Meta) GetMeta() Meta { return m }

const progressTokenKey = "progressToken"

// getProgressToken extracts the embedded Meta field's progress token from
// v (a pointer to a Params struct), using reflection since the concrete
// struct types vary but all embed a field named Meta.
func getProgressToken(v any) any {
	m := metaField(v)
	if m == nil {
		return nil
	}
	return m[progressTokenKey]
}

// setProgressToken sets the progress token on v's embedded Meta field,
// creating the map if necessary.
func setProgressToken(v any, token any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return
	}
	f := rv.Elem().FieldByName("Meta")
	if !f.IsValid() || !f.CanSet() {
		return
	}
	m, _ := f.Interface().(Meta)
	if m == nil {
		m = Meta{}
	}
	m[progressTokenKey] = token
	f.Set(reflect.ValueOf(m))
}

func metaField(v any) Meta {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	f := rv.FieldByName("Meta")
	if !f.IsValid() {
		return nil
	}
	m, _ := f.Interface().(Meta)
	return m
}

// Params is implemented by every MCP request/notification parameter type.
type Params interface {
	isParams()
}

// RequestParams is implemented by Params types that carry a progress
// token, which is any Params type used in a request that may report
// progress.
type RequestParams interface {
	Params
	GetProgressToken() any
	SetProgressToken(any)
}

// Result is implemented by every MCP result type.
type Result interface {
	isResult()
}

// emptyResult is returned by handlers and operations (such as Ping or
// notifications) that carry no result payload of their own.
type emptyResult struct{}

func (emptyResult) isResult() {}

// Session is implemented by both *ClientSession and *ServerSession. It
// exists chiefly as a type constraint for generic helpers (such as
// middleware) that are written once and instantiated for either side.
type Session interface {
	ID() string
}

// Request is implemented by *ServerRequest[P] and *ClientRequest[P] for
// every concrete P, so that middleware can inspect an incoming call's
// parameters without knowing its concrete instantiation.
type Request interface {
	GetParams() Params
}

// MethodHandler is the signature through which every incoming and
// outgoing call passes, after unwrapping from the wire. Middleware wraps
// a MethodHandler to observe or modify calls uniformly.
type MethodHandler func(ctx context.Context, method string, req Request) (Result, error)

// Middleware wraps a MethodHandler to add cross-cutting behavior (tracing,
// auth, progress tokens) around every call that passes through a session.
type Middleware func(MethodHandler) MethodHandler

// bindMiddleware composes ms around h, in the order they were registered:
// the first-added middleware is outermost, so it observes the call first
// on the way in and last on the way out.
func bindMiddleware(h MethodHandler, ms []Middleware) MethodHandler {
	for i := len(ms) - 1; i >= 0; i-- {
		h = ms[i](h)
	}
	return h
}

// RequestInfo carries transport-level metadata about the connection a
// request arrived on (used by the streamable HTTP transport to expose the
// originating net/http.Request's headers to handlers).
type RequestInfo struct {
	Header map[string][]string
}

// AuthInfo carries the identity established by the transport's auth
// boundary (see the auth package) for the current request, when present.
type AuthInfo interface {
	Scopes() []string
	Claims() map[string]any
	ExpiresAt() time.Time
}

// RequestExtra carries side-channel information about an incoming request
// that isn't part of the MCP wire params: transport request metadata and,
// for authenticated transports, the caller's AuthInfo.
type RequestExtra struct {
	RequestInfo *RequestInfo
	AuthInfo    AuthInfo
}

// A ServerRequest wraps the parameters of a call handled by the server,
// together with the ServerSession it arrived on.
type ServerRequest[P Params] struct {
	Session *ServerSession
	Params  P
	Extra   *RequestExtra
}

func (r *ServerRequest[P]) GetParams() Params { return r.Params }

// A ClientRequest wraps the parameters of a call handled by the client,
// together with the ClientSession it arrived on.
type ClientRequest[P Params] struct {
	Session *ClientSession
	Params  P
	Extra   *RequestExtra
}

func (r *ClientRequest[P]) GetParams() Params { return r.Params }

// outboundRequest adapts a Params value into a Request for the purposes of
// routing an outbound call or notification through sendingMiddleware; it
// carries no Session since the same session is always the sender.
type outboundRequest struct{ params Params }

func (r *outboundRequest) GetParams() Params { return r.params }

// pendingCall is the bookkeeping kept for one outstanding outbound
// request: the channel its response is delivered to, and a cancel func
// that sends notifications/cancelled to the peer and frees resources.
type pendingCall struct {
	response chan *jsonrpc.Response
	cancel   context.CancelFunc
}

// sharedSession implements the request/response correlation, inbound
// dispatch loop, and middleware chain common to both ClientSession and
// ServerSession. It is embedded, not used directly, by both.
type sharedSession struct {
	mcpConn Connection

	writeMu sync.Mutex
	nextID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[JSONRPCID]*pendingCall

	inflightMu sync.Mutex
	inflight   map[JSONRPCID]context.CancelFunc

	sendingMiddleware   []Middleware
	receivingMiddleware []Middleware

	// dispatch handles a single inbound Request or Notification, returning
	// the Result for a Request (ignored for notifications). It is supplied
	// by ClientSession/ServerSession with their respective method tables.
	dispatch func(ctx context.Context, method string, req Request) (Result, error)

	// newRequest builds a Request value (a *ServerRequest[P] or
	// *ClientRequest[P]) for an inbound method, so the generic dispatch
	// loop can remain untyped.
	newRequest func(method string, rawParams []byte, extra *RequestExtra) (Request, error)

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	readLoopDone chan struct{}

	// onClose, if set, runs exactly once when the session's read loop
	// exits for any reason (EOF, transport error, or explicit Close).
	onClose func()
}

func newSharedSession(conn Connection) *sharedSession {
	return &sharedSession{
		mcpConn:  conn,
		pending:  make(map[JSONRPCID]*pendingCall),
		inflight: make(map[JSONRPCID]context.CancelFunc),
		done:     make(chan struct{}),
	}
}

func (s *sharedSession) ID() string { return s.mcpConn.SessionID() }

// call sends method/params as a request and blocks for the matching
// response, honoring ctx cancellation by sending notifications/cancelled
// to the peer and failing locally with CodeRequestCancelled. params may be
// nil (a typed nil pointer implementing Params) for methods with no
// arguments. The outbound call passes through sendingMiddleware, outermost
// first, matching the order requests are observed on the receiving side.
func (s *sharedSession) call(ctx context.Context, method string, params Params, result any) error {
	var resp *jsonrpc.Response
	terminal := func(ctx context.Context, method string, req Request) (Result, error) {
		r, err := s.doCall(ctx, method, req.GetParams())
		resp = r
		if err != nil {
			return nil, err
		}
		return emptyResult{}, nil
	}
	h := bindMiddleware(terminal, s.sendingMiddleware)
	if _, err := h(ctx, method, &outboundRequest{params}); err != nil {
		return err
	}
	if result != nil && resp != nil && len(resp.Result) > 0 {
		if err := unmarshalInto(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshalling result of %s: %w", method, err)
		}
	}
	return nil
}

// checkCapability reports an error if method requires a capability the peer
// did not declare (has == false) and strict mode is enabled. Outside strict
// mode, an undeclared capability is not an error here: the call is still
// sent, and it's up to the peer to reject it.
func (s *sharedSession) checkCapability(strict, has bool, method string) error {
	if !has && strict {
		return fmt.Errorf("%w: peer did not declare support for %s", errMethodNotFound, method)
	}
	return nil
}

// doCall performs the actual wire round-trip for call, once past the
// sendingMiddleware chain.
func (s *sharedSession) doCall(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	id := jsonrpc.Int64ID(s.nextID.Add(1))
	req, err := jsonrpc.NewCall(id, method, params)
	if err != nil {
		return nil, err
	}

	respCh := make(chan *jsonrpc.Response, 1)
	s.pendingMu.Lock()
	s.pending[id] = &pendingCall{response: respCh}
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.writeMessage(ctx, req); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		note, _ := jsonrpc.NewNotificationMsg("notifications/cancelled", map[string]any{
			"requestId": id.Raw(),
			"reason":    ctx.Err().Error(),
		})
		_ = s.writeMessage(context.Background(), note)
		return nil, jsonrpc.NewError(jsonrpc.CodeRequestCancelled, ctx.Err().Error(), nil)
	case <-s.done:
		return nil, jsonrpc.NewError(jsonrpc.CodeConnectionClosed, "connection closed", nil)
	}
}

// notify sends a one-way notification, passing through sendingMiddleware
// the same way call does.
func (s *sharedSession) notify(ctx context.Context, method string, params Params) error {
	terminal := func(ctx context.Context, method string, req Request) (Result, error) {
		note, err := jsonrpc.NewNotificationMsg(method, req.GetParams())
		if err != nil {
			return nil, err
		}
		if err := s.writeMessage(ctx, note); err != nil {
			return nil, err
		}
		return emptyResult{}, nil
	}
	h := bindMiddleware(terminal, s.sendingMiddleware)
	_, err := h(ctx, method, &outboundRequest{params})
	return err
}

func (s *sharedSession) writeMessage(ctx context.Context, msg JSONRPCMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.mcpConn.Write(ctx, msg)
}

// run starts the inbound read loop, blocking until the connection closes.
// It is normally invoked in its own goroutine by Connect.
func (s *sharedSession) run(ctx context.Context) {
	s.readLoopDone = make(chan struct{})
	defer close(s.readLoopDone)
	defer s.closeInternal(nil)

	for {
		msg, err := s.mcpConn.Read(ctx)
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *JSONRPCResponse:
			s.deliver(m)
		case *JSONRPCRequest:
			go s.handleRequest(ctx, m)
		case *JSONRPCNotification:
			if m.Method == "notifications/cancelled" {
				s.handleCancelled(m)
				continue
			}
			go s.handleNotification(ctx, m)
		}
	}
}

func (s *sharedSession) deliver(resp *JSONRPCResponse) {
	s.pendingMu.Lock()
	pc, ok := s.pending[resp.ID]
	s.pendingMu.Unlock()
	if !ok {
		return // unknown or already-cancelled request; drop silently
	}
	select {
	case pc.response <- resp:
	default:
	}
}

func (s *sharedSession) handleCancelled(note *JSONRPCNotification) {
	var params struct {
		RequestID any `json:"requestId"`
	}
	if err := unmarshalInto(note.Params, &params); err != nil {
		return
	}
	var id JSONRPCID
	switch v := params.RequestID.(type) {
	case string:
		id = jsonrpc.StringID(v)
	case float64:
		id = jsonrpc.Int64ID(int64(v))
	default:
		return
	}
	s.inflightMu.Lock()
	cancel, ok := s.inflight[id]
	s.inflightMu.Unlock()
	if ok {
		cancel()
	}
}

func (s *sharedSession) handleRequest(ctx context.Context, jreq *JSONRPCRequest) {
	ctx, cancel := context.WithCancel(ctx)
	s.inflightMu.Lock()
	s.inflight[jreq.ID] = cancel
	s.inflightMu.Unlock()
	defer func() {
		s.inflightMu.Lock()
		delete(s.inflight, jreq.ID)
		s.inflightMu.Unlock()
		cancel()
	}()

	result, err := s.dispatchRaw(ctx, jreq.Method, jreq.Params, nil)

	select {
	case <-ctx.Done():
		// The caller cancelled; per spec, suppress the response entirely.
		return
	default:
	}

	var resp *JSONRPCResponse
	if err != nil {
		resp = jsonrpc.NewErrorResponse(jreq.ID, toWireError(err))
	} else {
		resp, err = jsonrpc.NewResultResponse(jreq.ID, result)
		if err != nil {
			resp = jsonrpc.NewErrorResponse(jreq.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), nil))
		}
	}
	_ = s.writeMessage(context.Background(), resp)
}

func (s *sharedSession) handleNotification(ctx context.Context, jn *JSONRPCNotification) {
	_, _ = s.dispatchRaw(ctx, jn.Method, jn.Params, nil)
}

func (s *sharedSession) dispatchRaw(ctx context.Context, method string, rawParams []byte, extra *RequestExtra) (Result, error) {
	req, err := s.newRequest(method, rawParams, extra)
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error(), nil)
	}
	h := bindMiddleware(s.dispatch, s.receivingMiddleware)
	return h(ctx, method, req)
}

// toWireError converts any error returned by a handler into the
// *jsonrpc.Error sent on the wire. A handler that returned (or wrapped,
// with fmt.Errorf("%w: ...", ...)) a *jsonrpc.Error keeps its code and
// gets the wrapping message appended; anything else becomes an internal
// error.
func toWireError(err error) *jsonrpc.Error {
	var base *jsonrpc.Error
	if errors.As(err, &base) {
		return jsonrpc.NewError(base.Code, err.Error(), base.Data)
	}
	return jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), nil)
}

func unmarshalInto(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return jsonrpc2.StrictUnmarshal(data, v)
}

func (s *sharedSession) closeInternal(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.done)
		s.pendingMu.Lock()
		for id, pc := range s.pending {
			delete(s.pending, id)
			pc.response <- jsonrpc.NewErrorResponse(id, jsonrpc.NewError(jsonrpc.CodeConnectionClosed, "connection closed", nil))
		}
		s.pendingMu.Unlock()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Close terminates the session's connection and releases any goroutines
// blocked on outstanding calls.
func (s *sharedSession) Close() error {
	connErr := s.mcpConn.Close()
	s.closeInternal(connErr)
	return connErr
}

// Wait blocks until the session's read loop has exited, returning the
// error (if any) that ended the connection.
func (s *sharedSession) Wait() error {
	<-s.done
	return s.closeErr
}
