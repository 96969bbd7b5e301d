// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/relaymcp/relaymcp-go/jsonrpc"
)

// An SSEHandler is an http.Handler that serves MCP sessions using the HTTP
// with SSE transport defined by the 2024-11-05 version of the [MCP spec].
//
// Since that transport is deprecated in favor of streamable HTTP (see
// [StreamableHTTPHandler]), this handler primarily exists to talk to older
// clients that have not yet migrated.
//
// [MCP spec]: https://modelcontextprotocol.io/specification/2024-11-05/basic/transports#http-with-sse
type SSEHandler struct {
	getServer func(*http.Request) *Server
	opts      SSEOptions

	// onConnection, if set, is called with each ServerSession created by
	// this handler. It exists for testing.
	onConnection func(*ServerSession)

	mu       sync.Mutex
	sessions map[string]*SSEServerTransport
}

// SSEOptions configures an [SSEHandler].
type SSEOptions struct {
	// MaxBodyBytes bounds the size of incoming POST bodies delivered to a
	// session's message endpoint. Zero uses DefaultMaxBodyBytes; a negative
	// value disables the limit.
	MaxBodyBytes int64
}

// NewSSEHandler returns a new [SSEHandler].
//
// The getServer function is used to create or look up servers for new
// sessions. It is OK for getServer to return the same server multiple
// times.
func NewSSEHandler(getServer func(*http.Request) *Server, opts *SSEOptions) *SSEHandler {
	if opts == nil {
		opts = &SSEOptions{}
	}
	return &SSEHandler{
		getServer: getServer,
		opts:      *opts,
		sessions:  make(map[string]*SSEServerTransport),
	}
}

// ServeHTTP implements the http.Handler interface.
//
// A GET request opens a new session: the handler holds the connection open,
// writes an initial "endpoint" event giving the URL (relative to this one)
// that the client should POST messages to, and then streams "message"
// events for the lifetime of the session. A POST request to that endpoint
// delivers one client message (or a batch) to the corresponding session.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodPost {
		h.serveMessage(w, req)
		return
	}

	if req.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "invalid method", http.StatusMethodNotAllowed)
		return
	}

	sessionID := randText()
	transport := &SSEServerTransport{
		id:           sessionID,
		MaxBodyBytes: h.opts.MaxBodyBytes,
		w:            w,
		incoming:     make(chan JSONRPCMessage, 100),
		done:         make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[sessionID] = transport
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, sessionID)
		h.mu.Unlock()
	}()

	server := h.getServer(req)
	ss, err := server.Connect(req.Context(), transport, nil)
	if err != nil {
		http.Error(w, "connection failed", http.StatusInternalServerError)
		return
	}
	defer ss.Close()
	if h.onConnection != nil {
		h.onConnection(ss)
	}

	endpoint, err := req.URL.Parse("?sessionid=" + sessionID)
	if err != nil {
		http.Error(w, "internal error: failed to construct endpoint", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if _, err := writeEvent(w, event{name: "endpoint", data: []byte(endpoint.RequestURI())}); err != nil {
		return
	}

	select {
	case <-req.Context().Done():
	case <-transport.done:
	}
}

func (h *SSEHandler) serveMessage(w http.ResponseWriter, req *http.Request) {
	sessionID := req.URL.Query().Get("sessionid")
	if sessionID == "" {
		http.Error(w, "sessionid must be provided", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	transport := h.sessions[sessionID]
	h.mu.Unlock()
	if transport == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	transport.ServeHTTP(w, req)
}

// An SSEServerTransport is the server-side [Transport] for a single SSE
// session, created by an [SSEHandler] in response to an incoming GET
// request.
type SSEServerTransport struct {
	id string

	// MaxBodyBytes bounds the size of incoming POST bodies. Zero uses
	// DefaultMaxBodyBytes; a negative value disables the limit.
	MaxBodyBytes int64

	incoming chan JSONRPCMessage

	mu     sync.Mutex
	w      http.ResponseWriter
	isDone bool
	done   chan struct{}
}

// Connect implements the [Transport] interface.
func (t *SSEServerTransport) Connect(context.Context) (Connection, error) {
	return t, nil
}

func (t *SSEServerTransport) SessionID() string {
	return t.id
}

// ServeHTTP handles the POST request that delivers one or more client
// messages to this session's message endpoint.
func (t *SSEServerTransport) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "invalid method", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(limitBody(w, req.Body, t.MaxBodyBytes))
	if err != nil {
		if isMaxBytesError(err) {
			writeRequestBodyTooLarge(w)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "POST requires a non-empty body", http.StatusBadRequest)
		return
	}

	msgs, _, err := readBatch(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse body: %v", err), http.StatusBadRequest)
		return
	}
	for _, msg := range msgs {
		if err := checkSSEMessage(msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	for _, msg := range msgs {
		select {
		case t.incoming <- msg:
		case <-t.done:
			http.Error(w, "session terminated", http.StatusGone)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

// requestMethods holds the JSON-RPC methods that always arrive as a
// [JSONRPCRequest] (i.e. with an id), as opposed to a [JSONRPCNotification].
var requestMethods = map[string]bool{
	methodInitialize:            true,
	methodCallTool:               true,
	methodListTools:              true,
	methodGetPrompt:              true,
	methodListPrompts:            true,
	methodReadResource:           true,
	methodListResources:          true,
	methodListResourceTemplates:  true,
	methodSubscribe:              true,
	methodUnsubscribe:            true,
	methodPing:                   true,
	methodComplete:               true,
	methodSetLevel:               true,
}

// notificationMethods holds the JSON-RPC methods that are genuinely
// one-way: they never carry an id and never get a reply.
var notificationMethods = map[string]bool{
	notificationInitialized:      true,
	notificationRootsListChanged: true,
	notificationProgress:         true,
	notificationCancelled:        true,
}

// checkSSEMessage rejects a decoded message that a server could not
// possibly act on: a method nobody recognizes, or a known request-type
// method that arrived without the id a reply requires.
//
// jsonrpc.DecodeMessage distinguishes a Request from a Notification solely
// by the presence of "id" in the wire form, independent of the method name,
// so a client that forgets to set "id" on e.g. "ping" decodes as a
// Notification here.
func checkSSEMessage(msg JSONRPCMessage) error {
	note, ok := msg.(*JSONRPCNotification)
	if !ok {
		return nil
	}
	if requestMethods[note.Method] {
		return fmt.Errorf("method %q missing id", note.Method)
	}
	if !notificationMethods[note.Method] {
		return fmt.Errorf("method %q not handled", note.Method)
	}
	return nil
}

// Read implements the [Connection] interface.
func (t *SSEServerTransport) Read(ctx context.Context) (JSONRPCMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-t.incoming:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-t.done:
		return nil, io.EOF
	}
}

// Write implements the [Connection] interface.
func (t *SSEServerTransport) Write(ctx context.Context, msg JSONRPCMessage) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isDone {
		return io.EOF
	}
	_, err = writeEvent(t.w, event{name: "message", data: data})
	return err
}

// Close implements the [Connection] interface.
func (t *SSEServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isDone {
		t.isDone = true
		close(t.done)
	}
	return nil
}

// An SSEClientTransport is a [Transport] that connects to an MCP endpoint
// serving the HTTP with SSE transport.
type SSEClientTransport struct {
	// Endpoint is the URL of the server's SSE endpoint.
	Endpoint string
	// HTTPClient is the client used to make HTTP requests. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client
}

// Connect implements the [Transport] interface.
//
// It issues a GET request to open the SSE stream, reads the initial
// "endpoint" event to learn where to POST outgoing messages, and returns a
// [Connection] that streams subsequent "message" events as they arrive.
func (t *SSEClientTransport) Connect(ctx context.Context) (Connection, error) {
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	sseEndpoint, err := url.Parse(t.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseEndpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s: %s", sseEndpoint, resp.Status, strings.TrimSpace(string(body)))
	}

	next := newEventScanner(resp.Body)
	evt, err := next()
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("reading endpoint event: %w", err)
	}
	if evt.name != "endpoint" {
		resp.Body.Close()
		return nil, fmt.Errorf("first event is %q, want %q", evt.name, "endpoint")
	}
	msgEndpoint, err := sseEndpoint.Parse(string(evt.data))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("parsing endpoint event: %w", err)
	}

	c := &sseClientConn{
		client:      client,
		sseEndpoint: sseEndpoint,
		msgEndpoint: msgEndpoint,
		body:        resp.Body,
		incoming:    make(chan []byte, 100),
		done:        make(chan struct{}),
	}
	go c.receive(next)
	return c, nil
}

// sseClientConn is the client side of an SSE session: messages are sent via
// individual POST requests to msgEndpoint, and received by reading
// "message" events off the hanging GET response body started in Connect.
type sseClientConn struct {
	client      *http.Client
	sseEndpoint *url.URL
	msgEndpoint *url.URL

	body     io.ReadCloser
	incoming chan []byte

	mu       sync.Mutex
	isDone   bool
	done     chan struct{}
	closeErr error
}

func (c *sseClientConn) SessionID() string { return "" }

// Read implements the [Connection] interface.
func (c *sseClientConn) Read(ctx context.Context) (JSONRPCMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-c.incoming:
		if !ok {
			return nil, io.EOF
		}
		return jsonrpc.DecodeMessage(data)
	case <-c.done:
		return nil, io.EOF
	}
}

// Write implements the [Connection] interface.
func (c *sseClientConn) Write(ctx context.Context, msg JSONRPCMessage) error {
	c.mu.Lock()
	done := c.isDone
	c.mu.Unlock()
	if done {
		return io.EOF
	}

	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.msgEndpoint.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s: %s: %s", c.msgEndpoint, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// Close implements the [Connection] interface.
func (c *sseClientConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isDone {
		c.isDone = true
		close(c.done)
		c.closeErr = c.body.Close()
	}
	return c.closeErr
}

// receive reads "message" events off the hanging GET stream, forwarding
// their data to c.incoming, until the stream ends or the connection closes.
func (c *sseClientConn) receive(next func() (event, error)) {
	defer close(c.incoming)
	for {
		evt, err := next()
		if err != nil {
			return
		}
		if evt.name != "message" {
			continue
		}
		select {
		case c.incoming <- evt.data:
		case <-c.done:
			return
		}
	}
}

// event is a single Server-Sent Event: an optional event name and id, and
// a data payload.
type event struct {
	name string
	id   string
	data []byte
}

// writeEvent writes evt to w in the SSE wire format and flushes it, so that
// a streaming HTTP response delivers the event immediately.
func writeEvent(w io.Writer, evt event) (int, error) {
	var b bytes.Buffer
	if evt.id != "" {
		fmt.Fprintf(&b, "id: %s\n", evt.id)
	}
	if evt.name != "" {
		fmt.Fprintf(&b, "event: %s\n", evt.name)
	}
	fmt.Fprintf(&b, "data: %s\n\n", evt.data)
	n, err := w.Write(b.Bytes())
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// newEventScanner returns a function that reads successive SSE events from
// r, one per call, returning io.EOF (along with whatever partial event was
// accumulated) once the stream ends.
func newEventScanner(r io.Reader) func() (event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var (
		eventKey = []byte("event")
		idKey    = []byte("id")
		dataKey  = []byte("data")
	)

	return func() (event, error) {
		var evt event
		var lastWasData bool
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				if evt.name != "" || evt.id != "" || len(evt.data) > 0 {
					return evt, nil
				}
				continue
			}
			before, after, found := bytes.Cut(line, []byte{':'})
			if !found {
				return evt, fmt.Errorf("malformed line in SSE stream: %q", string(line))
			}
			switch {
			case bytes.Equal(before, eventKey):
				evt.name = strings.TrimSpace(string(after))
			case bytes.Equal(before, idKey):
				evt.id = strings.TrimSpace(string(after))
			case bytes.Equal(before, dataKey):
				data := bytes.TrimSpace(after)
				if lastWasData {
					evt.data = append(evt.data, '\n')
					evt.data = append(evt.data, data...)
				} else {
					evt.data = append([]byte(nil), data...)
				}
				lastWasData = true
			}
		}
		if err := scanner.Err(); err != nil {
			return evt, err
		}
		return evt, io.EOF
	}
}

// scanEvents returns an iterator over the SSE events read from r, for
// callers (such as the streamable HTTP client) that prefer range-over-func
// to manually calling a next function.
func scanEvents(r io.Reader) iter.Seq2[event, error] {
	next := newEventScanner(r)
	return func(yield func(event, error) bool) {
		for {
			evt, err := next()
			if !yield(evt, err) || err != nil {
				return
			}
		}
	}
}
