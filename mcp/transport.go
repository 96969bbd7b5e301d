// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/relaymcp/relaymcp-go/jsonrpc"
)

// JSONRPCMessage is the wire-level message type exchanged over a
// [Connection]: one of *JSONRPCRequest, *JSONRPCResponse, or
// *JSONRPCNotification.
type JSONRPCMessage = jsonrpc.Message

// JSONRPCID identifies a JSON-RPC request or response.
type JSONRPCID = jsonrpc.RequestID

// JSONRPCRequest is a call expecting a response.
type JSONRPCRequest = jsonrpc.Request

// JSONRPCResponse answers a JSONRPCRequest.
type JSONRPCResponse = jsonrpc.Response

// JSONRPCNotification is a one-way call.
type JSONRPCNotification = jsonrpc.Notification

// readBatch decodes data as either a single JSON-RPC message or a batch,
// for transports (streamable HTTP, SSE) whose POST bodies may carry either
// form.
func readBatch(data []byte) ([]JSONRPCMessage, bool, error) {
	return jsonrpc.DecodeBatch(data)
}

// A Transport is anything that can establish a logical [Connection] to a
// peer speaking MCP. Examples include stdio pipes to a subprocess, an
// in-process pair used for testing, and the HTTP and WebSocket variants
// defined elsewhere in this package.
type Transport interface {
	// Connect establishes the connection and returns it. ctx bounds only the
	// act of connecting; the returned Connection has its own lifetime.
	Connect(ctx context.Context) (Connection, error)
}

// A Connection is a logical, bidirectional channel of [JSONRPCMessage]
// values. Read and Write may be called concurrently with each other, but
// each is called by at most one goroutine at a time by the dispatcher that
// owns the connection.
type Connection interface {
	// Read receives the next message, blocking until one arrives, ctx is
	// done, or the connection is closed (io.EOF).
	Read(ctx context.Context) (JSONRPCMessage, error)
	// Write sends a message.
	Write(ctx context.Context, msg JSONRPCMessage) error
	// Close terminates the connection. Subsequent Read/Write calls fail.
	Close() error
	// SessionID returns an identifier for this logical connection, used in
	// transports (such as streamable HTTP) that correlate multiple physical
	// connections with one logical session. Transports that have no such
	// notion may return the empty string.
	SessionID() string
}

// rwc adapts a pair of an io.ReadCloser and io.WriteCloser into a single
// io.ReadWriteCloser, for transports (stdio, subprocess) whose read and
// write sides are distinct pipes.
type rwc struct {
	rc io.ReadCloser
	wc io.WriteCloser
}

func (s rwc) Read(p []byte) (int, error)  { return s.rc.Read(p) }
func (s rwc) Write(p []byte) (int, error) { return s.wc.Write(p) }
func (s rwc) Close() error {
	werr := s.wc.Close()
	rerr := s.rc.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// ioConn implements Connection over an io.ReadWriteCloser using newline
// delimited JSON (or JSON batches): each Read call decodes exactly one
// complete top-level JSON value (object or array) from the stream, and
// matching top-level values (or arrays of them) are written back out.
//
// outgoingBatch, when non-nil, buffers outgoing messages until it reaches
// its capacity, then flushes them as a single JSON-array batch. This
// supports transports and tests that exercise batched delivery; by default
// (outgoingBatch == nil) every Write sends immediately.
type ioConn struct {
	rwc io.ReadWriteCloser

	mu            sync.Mutex
	dec           *jsonDecoder
	closeOnce     sync.Once
	closeErr      error
	outgoingBatch []jsonrpc.Message
	pending       []jsonrpc.Message // decoded-but-undelivered messages from the last batch read
}

func newIOConn(rwc io.ReadWriteCloser) *ioConn {
	return &ioConn{
		rwc: rwc,
		dec: newJSONDecoder(rwc),
	}
}

// NewStdioTransport returns a Transport that communicates over the current
// process's stdin and stdout, for use when this process is itself an MCP
// server launched by a host as a subprocess.
func NewStdioTransport() Transport {
	return ioTransport{rwc{os.Stdin, os.Stdout}}
}

type ioTransport struct {
	rwc io.ReadWriteCloser
}

func (t ioTransport) Connect(context.Context) (Connection, error) {
	return newIOConn(t.rwc), nil
}

// CommandTransport starts a subprocess and speaks MCP over its stdin and
// stdout, as a client would to talk to a server it launches itself.
type CommandTransport struct {
	Command *exec.Cmd
}

// NewCommandTransport returns a CommandTransport that will run cmd when
// Connect is called.
func NewCommandTransport(cmd *exec.Cmd) *CommandTransport {
	return &CommandTransport{Command: cmd}
}

func (t *CommandTransport) Connect(ctx context.Context) (Connection, error) {
	stdin, err := t.Command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.Command.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := t.Command.Start(); err != nil {
		return nil, fmt.Errorf("starting command: %w", err)
	}
	return newIOConn(rwc{stdout, stdin}), nil
}

func (c *ioConn) SessionID() string { return "" }

func (c *ioConn) Read(ctx context.Context) (JSONRPCMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		return msg, nil
	}

	msgs, err := c.dec.next()
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	c.pending = msgs[1:]
	return msgs[0], nil
}

func (c *ioConn) Write(ctx context.Context, msg JSONRPCMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outgoingBatch == nil {
		data, err := jsonrpc.EncodeMessage(msg)
		if err != nil {
			return err
		}
		data = append(data, '\n')
		_, err = c.rwc.Write(data)
		return err
	}

	c.outgoingBatch = append(c.outgoingBatch, msg)
	if len(c.outgoingBatch) < cap(c.outgoingBatch) {
		return nil
	}
	batch := c.outgoingBatch
	c.outgoingBatch = c.outgoingBatch[:0]
	data, err := jsonrpc.EncodeBatch(batch)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = c.rwc.Write(data)
	return err
}

func (c *ioConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// jsonDecoder reads successive top-level JSON values (single messages or
// batches) from a stream, rejecting any non-whitespace trailing data
// between them.
type jsonDecoder struct {
	br *bufio.Reader
}

func newJSONDecoder(r io.Reader) *jsonDecoder {
	return &jsonDecoder{br: bufio.NewReader(r)}
}

// next reads and decodes the next top-level JSON value, returning it as a
// slice of one or more messages (more than one only for a batch).
func (d *jsonDecoder) next() ([]jsonrpc.Message, error) {
	data, err := d.readValue()
	if err != nil {
		return nil, err
	}
	msgs, _, err := jsonrpc.DecodeBatch(data)
	return msgs, err
}

// readValue scans exactly one top-level JSON value off the stream,
// tracking brace/bracket/string/escape state so that embedded newlines
// inside string values don't end the scan early. It then verifies that
// only whitespace follows before the next value, to catch callers that
// write malformed trailing data.
func (d *jsonDecoder) readValue() ([]byte, error) {
	var buf []byte
	depth := 0
	inString := false
	escaped := false
	started := false

	for {
		b, err := d.br.ReadByte()
		if err != nil {
			if started && err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if !started {
			if b == ' ' || b == '\t' || b == '\r' || b == '\n' {
				continue
			}
			started = true
		}
		buf = append(buf, b)

		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return d.finishValue(buf)
			}
		}
	}
}

// finishValue skips the whitespace that follows the value just scanned. A
// ',' after the value is rejected as invalid trailing data.
func (d *jsonDecoder) finishValue(buf []byte) ([]byte, error) {
	for {
		b, err := d.br.Peek(1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return nil, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			d.br.ReadByte()
			continue
		case ',':
			d.br.ReadByte()
			return nil, fmt.Errorf("invalid trailing data ',' at the end of stream")
		default:
			return buf, nil
		}
	}
}

// inMemoryCloser is shared between the two ends of an in-memory pipe so
// that closing either end closes both, exactly once.
type inMemoryCloser struct {
	once sync.Once
	done chan struct{}
}

func newInMemoryCloser() *inMemoryCloser {
	return &inMemoryCloser{done: make(chan struct{})}
}

func (c *inMemoryCloser) close() {
	c.once.Do(func() { close(c.done) })
}

// inMemoryConn is one end of an in-process pipe between a client and
// server, used for testing and for in-process composition without a real
// transport.
type inMemoryConn struct {
	w      chan<- JSONRPCMessage
	r      <-chan JSONRPCMessage
	closer *inMemoryCloser
}

func (c *inMemoryConn) SessionID() string { return "" }

func (c *inMemoryConn) Read(ctx context.Context) (JSONRPCMessage, error) {
	select {
	case msg, ok := <-c.r:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-c.closer.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *inMemoryConn) Write(ctx context.Context, msg JSONRPCMessage) error {
	select {
	case c.w <- msg:
		return nil
	case <-c.closer.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *inMemoryConn) Close() error {
	c.closer.close()
	return nil
}

// inMemoryTransport is a Transport whose Connect returns one end of a
// channel pair created by NewInMemoryTransports.
type inMemoryTransport struct {
	conn *inMemoryConn
}

func (t *inMemoryTransport) Connect(context.Context) (Connection, error) {
	return t.conn, nil
}

// NewInMemoryTransports returns two entangled Transports, typically used
// for one client and one server in the same process: messages written to
// one arrive as reads on the other. This is the transport of choice for
// tests and for embedding an MCP server directly inside its host process.
func NewInMemoryTransports() (clientTransport, serverTransport Transport) {
	c2s := make(chan JSONRPCMessage, 100)
	s2c := make(chan JSONRPCMessage, 100)
	closer := newInMemoryCloser()
	client := &inMemoryConn{w: c2s, r: s2c, closer: closer}
	server := &inMemoryConn{w: s2c, r: c2s, closer: closer}
	return &inMemoryTransport{client}, &inMemoryTransport{server}
}
