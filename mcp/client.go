// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"
)

// ClientOptions configures the behavior of a Client.
type ClientOptions struct {
	// CreateMessageHandler, if set, lets the client answer a server's
	// sampling/createMessage requests.
	CreateMessageHandler func(context.Context, *CreateMessageRequest) (*CreateMessageResult, error)
	// CreateMessageWithToolsHandler, if set, answers createMessage requests
	// that offer tools for the model to call. If unset, such requests fall
	// back to CreateMessageHandler with the tools stripped.
	CreateMessageWithToolsHandler func(context.Context, *CreateMessageWithToolsRequest) (*CreateMessageWithToolsResult, error)
	// ElicitationHandler, if set, lets the client answer a server's
	// elicitation/create requests by collecting information from the user.
	ElicitationHandler func(context.Context, *ElicitRequest) (*ElicitResult, error)
	// LoggingMessageHandler, if set, is called for every notifications/message
	// the client receives.
	LoggingMessageHandler func(context.Context, *LoggingMessageRequest)
	// ToolListChangedHandler, ResourceListChangedHandler, and
	// PromptListChangedHandler, if set, are called when the server reports
	// that its corresponding feature list has changed.
	ToolListChangedHandler     func(context.Context, *ToolListChangedRequest)
	ResourceListChangedHandler func(context.Context, *ResourceListChangedRequest)
	PromptListChangedHandler   func(context.Context, *PromptListChangedRequest)
	// ResourceUpdatedHandler, if set, is called when the server reports that
	// a subscribed resource changed.
	ResourceUpdatedHandler func(context.Context, *ResourceUpdatedNotificationRequest)
	// ProgressNotificationHandler, if set, is called when the server reports
	// progress on a call the client made to it.
	ProgressNotificationHandler func(context.Context, *ProgressNotificationClientRequest)
	// ElicitationCompleteHandler, if set, is called when the server reports
	// that an out-of-band elicitation interaction has completed.
	ElicitationCompleteHandler func(context.Context, *ElicitationCompleteNotificationRequest)
	// KeepAlive, if non-zero, causes the ClientSession to ping its peer at
	// this interval once the session connects, closing the session if a
	// ping fails.
	KeepAlive time.Duration
}

// ClientSessionOptions configures one session created by Client.Connect.
type ClientSessionOptions struct{}

// A Client connects to one or more MCP servers and answers the requests
// those servers make of it (sampling, elicitation, roots).
type Client struct {
	impl *Implementation
	opts ClientOptions

	mu    sync.Mutex
	roots *featureSet[*Root]

	sendingMiddleware   []Middleware
	receivingMiddleware []Middleware
}

// NewClient creates a Client that identifies itself to servers as impl. If
// opts is nil, default options are used.
func NewClient(impl *Implementation, opts *ClientOptions) *Client {
	if opts == nil {
		opts = &ClientOptions{}
	}
	return &Client{
		impl:  impl,
		opts:  *opts,
		roots: newFeatureSet(func(r *Root) string { return r.URI }),
	}
}

// AddRoots adds to the set of filesystem roots the client exposes to
// servers, notifying already-connected sessions of the change.
func (c *Client) AddRoots(roots ...*Root) {
	c.mu.Lock()
	c.roots.add(roots...)
	c.mu.Unlock()
}

// RemoveRoots removes roots by URI.
func (c *Client) RemoveRoots(uris ...string) {
	c.mu.Lock()
	c.roots.remove(uris...)
	c.mu.Unlock()
}

// AddSendingMiddleware wraps the client's outgoing requests and
// notifications (made on every session it creates from here on) with mw,
// in the order given: the first added is outermost.
func (c *Client) AddSendingMiddleware(mw ...Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendingMiddleware = append(c.sendingMiddleware, mw...)
}

// AddReceivingMiddleware wraps the client's inbound dispatch with mw, in
// the order given.
func (c *Client) AddReceivingMiddleware(mw ...Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivingMiddleware = append(c.receivingMiddleware, mw...)
}

// capabilities reports the capabilities this client advertises during the
// initialize handshake.
func (c *Client) capabilities() *ClientCapabilities {
	caps := &ClientCapabilities{}
	// Deprecated field, but it's what actually appears on the wire (see #607):
	// the client always reports support for roots/list_changed.
	caps.Roots.ListChanged = true
	if c.opts.CreateMessageHandler != nil {
		caps.Sampling = &SamplingCapabilities{}
	}
	if c.opts.CreateMessageWithToolsHandler != nil {
		caps.Sampling = &SamplingCapabilities{Tools: &SamplingToolsCapabilities{}}
	}
	if c.opts.ElicitationHandler != nil {
		caps.Elicitation = &ElicitationCapabilities{}
	}
	return caps
}

// Connect starts serving MCP over a new Connection obtained from t, then
// performs the initialize/notifications-initialized handshake, blocking
// until it completes.
func (c *Client) Connect(ctx context.Context, t Transport, opts *ClientSessionOptions) (*ClientSession, error) {
	conn, err := t.Connect(ctx)
	if err != nil {
		return nil, err
	}
	cs := &ClientSession{
		sharedSession: newSharedSession(conn),
		client:        c,
	}
	cs.sendingMiddleware = append([]Middleware(nil), c.sendingMiddleware...)
	cs.receivingMiddleware = append([]Middleware(nil), c.receivingMiddleware...)
	cs.dispatch = cs.handle
	cs.newRequest = cs.newClientRequest
	cs.onClose = func() {
		cs.mu.Lock()
		cancel := cs.keepaliveCancel
		cs.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}

	go cs.run(context.Background())

	initParams := &InitializeParams{
		Capabilities:    c.capabilities(),
		ClientInfo:      c.impl,
		ProtocolVersion: latestProtocolVersion,
	}
	initResult := &InitializeResult{}
	if err := cs.call(ctx, methodInitialize, initParams, initResult); err != nil {
		_ = cs.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	cs.mu.Lock()
	cs.serverCapabilities = initResult.Capabilities
	cs.serverInfo = initResult.ServerInfo
	cs.mu.Unlock()

	if err := cs.notify(ctx, notificationInitialized, &InitializedParams{}); err != nil {
		_ = cs.Close()
		return nil, fmt.Errorf("notifications/initialized: %w", err)
	}

	if c.opts.KeepAlive > 0 {
		cs.startKeepalive(c.opts.KeepAlive)
	}
	return cs, nil
}

// A ClientSession represents one connection to a server: it dispatches
// the server's requests (sampling, elicitation, roots/list) to the
// client's configured handlers, and exposes the server-initiated
// operations the client may call.
type ClientSession struct {
	*sharedSession
	client *Client

	mu                 sync.Mutex
	serverCapabilities *ServerCapabilities
	serverInfo         *Implementation
	keepaliveCancel    context.CancelFunc
}

// startKeepalive pings the peer at the given interval until the session
// closes (Connect's onClose hook cancels keepaliveCancel), closing the
// session itself if a ping ever fails.
func (cs *ClientSession) startKeepalive(interval time.Duration) {
	kctx, cancel := context.WithCancel(context.Background())
	cs.mu.Lock()
	cs.keepaliveCancel = cancel
	cs.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-kctx.Done():
				return
			case <-ticker.C:
				if err := cs.Ping(kctx, nil); err != nil {
					_ = cs.Close()
					return
				}
			}
		}
	}()
}

// ServerCapabilities returns the capabilities the server reported during
// the initialize handshake.
func (cs *ClientSession) ServerCapabilities() *ServerCapabilities {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.serverCapabilities
}

// ServerInfo returns the server's self-reported implementation details.
func (cs *ClientSession) ServerInfo() *Implementation {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.serverInfo
}

func (cs *ClientSession) newClientRequest(method string, raw []byte, extra *RequestExtra) (Request, error) {
	switch method {
	case methodCreateMessage:
		return buildClientRequest[*CreateMessageWithToolsParams](cs, raw, extra)
	case methodElicit:
		return buildClientRequest[*ElicitParams](cs, raw, extra)
	case methodListRoots:
		return buildClientRequest[*ListRootsParams](cs, raw, extra)
	case methodPing:
		return buildClientRequest[*PingParams](cs, raw, extra)
	case notificationLoggingMessage:
		return buildClientRequest[*LoggingMessageParams](cs, raw, extra)
	case notificationToolListChanged:
		return buildClientRequest[*ToolListChangedParams](cs, raw, extra)
	case notificationResourceListChanged:
		return buildClientRequest[*ResourceListChangedParams](cs, raw, extra)
	case notificationPromptListChanged:
		return buildClientRequest[*PromptListChangedParams](cs, raw, extra)
	case notificationResourceUpdated:
		return buildClientRequest[*ResourceUpdatedNotificationParams](cs, raw, extra)
	case notificationProgress:
		return buildClientRequest[*ProgressNotificationParams](cs, raw, extra)
	case notificationElicitationComplete:
		return buildClientRequest[*ElicitationCompleteParams](cs, raw, extra)
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func buildClientRequest[P Params](cs *ClientSession, raw []byte, extra *RequestExtra) (Request, error) {
	p, err := decodeParams[P](raw)
	if err != nil {
		return nil, err
	}
	return &ClientRequest[P]{Session: cs, Params: p, Extra: extra}, nil
}

func (cs *ClientSession) handle(ctx context.Context, method string, req Request) (Result, error) {
	switch r := req.(type) {
	case *ClientRequest[*CreateMessageWithToolsParams]:
		return cs.createMessage(ctx, r)
	case *ClientRequest[*ElicitParams]:
		return cs.elicit(ctx, r)
	case *ClientRequest[*ListRootsParams]:
		return cs.listRoots()
	case *ClientRequest[*PingParams]:
		return emptyResult{}, nil
	case *ClientRequest[*LoggingMessageParams]:
		if h := cs.client.opts.LoggingMessageHandler; h != nil {
			h(ctx, r)
		}
		return emptyResult{}, nil
	case *ClientRequest[*ToolListChangedParams]:
		if h := cs.client.opts.ToolListChangedHandler; h != nil {
			h(ctx, r)
		}
		return emptyResult{}, nil
	case *ClientRequest[*ResourceListChangedParams]:
		if h := cs.client.opts.ResourceListChangedHandler; h != nil {
			h(ctx, r)
		}
		return emptyResult{}, nil
	case *ClientRequest[*PromptListChangedParams]:
		if h := cs.client.opts.PromptListChangedHandler; h != nil {
			h(ctx, r)
		}
		return emptyResult{}, nil
	case *ClientRequest[*ResourceUpdatedNotificationParams]:
		if h := cs.client.opts.ResourceUpdatedHandler; h != nil {
			h(ctx, r)
		}
		return emptyResult{}, nil
	case *ClientRequest[*ProgressNotificationParams]:
		if h := cs.client.opts.ProgressNotificationHandler; h != nil {
			h(ctx, r)
		}
		return emptyResult{}, nil
	case *ClientRequest[*ElicitationCompleteParams]:
		if h := cs.client.opts.ElicitationCompleteHandler; h != nil {
			h(ctx, r)
		}
		return emptyResult{}, nil
	default:
		return nil, fmt.Errorf("unhandled method %q", method)
	}
}

// createMessage dispatches an incoming sampling/createMessage request. A
// request that offers tools goes to CreateMessageWithToolsHandler if one
// is configured; otherwise (or when the server offered no tools) it is
// reduced to the single-content-block CreateMessageParams shape and
// handled by CreateMessageHandler.
func (cs *ClientSession) createMessage(ctx context.Context, r *CreateMessageWithToolsRequest) (Result, error) {
	if len(r.Params.Tools) > 0 && cs.client.opts.CreateMessageWithToolsHandler != nil {
		return cs.client.opts.CreateMessageWithToolsHandler(ctx, r)
	}
	if cs.client.opts.CreateMessageHandler == nil {
		return nil, fmt.Errorf("%w: client does not support sampling", errMethodNotFound)
	}
	base, err := r.Params.toBase()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errInvalidParams, err)
	}
	return cs.client.opts.CreateMessageHandler(ctx, &CreateMessageRequest{Session: cs, Params: base, Extra: r.Extra})
}

func (cs *ClientSession) elicit(ctx context.Context, r *ElicitRequest) (Result, error) {
	if cs.client.opts.ElicitationHandler == nil {
		return nil, fmt.Errorf("%w: client does not support elicitation", errMethodNotFound)
	}
	return cs.client.opts.ElicitationHandler(ctx, r)
}

func (cs *ClientSession) listRoots() (Result, error) {
	cs.client.mu.Lock()
	defer cs.client.mu.Unlock()
	return &ListRootsResult{Roots: cs.client.roots.sorted()}, nil
}

// CallTool calls the named tool on the server with the given arguments,
// which are marshaled to JSON.
func (cs *ClientSession) CallTool(ctx context.Context, params *CallToolParams) (*CallToolResult, error) {
	result := &CallToolResult{}
	if err := cs.call(ctx, methodCallTool, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTools requests one page of tools from the server.
func (cs *ClientSession) ListTools(ctx context.Context, params *ListToolsParams) (*ListToolsResult, error) {
	if params == nil {
		params = &ListToolsParams{}
	}
	result := &ListToolsResult{}
	if err := cs.call(ctx, methodListTools, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Tools iterates over every tool the server exposes, transparently
// following pagination.
func (cs *ClientSession) Tools(ctx context.Context, params *ListToolsParams) iter.Seq2[*Tool, error] {
	return func(yield func(*Tool, error) bool) {
		cursor := ""
		if params != nil {
			cursor = params.Cursor
		}
		for {
			res, err := cs.ListTools(ctx, &ListToolsParams{Cursor: cursor})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, t := range res.Tools {
				if !yield(t, nil) {
					return
				}
			}
			if res.NextCursor == "" {
				return
			}
			cursor = res.NextCursor
		}
	}
}

// GetPrompt requests a named prompt's rendered messages from the server.
func (cs *ClientSession) GetPrompt(ctx context.Context, params *GetPromptParams) (*GetPromptResult, error) {
	result := &GetPromptResult{}
	if err := cs.call(ctx, methodGetPrompt, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListPrompts requests one page of prompts from the server.
func (cs *ClientSession) ListPrompts(ctx context.Context, params *ListPromptsParams) (*ListPromptsResult, error) {
	if params == nil {
		params = &ListPromptsParams{}
	}
	result := &ListPromptsResult{}
	if err := cs.call(ctx, methodListPrompts, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Prompts iterates over every prompt the server exposes, transparently
// following pagination.
func (cs *ClientSession) Prompts(ctx context.Context, params *ListPromptsParams) iter.Seq2[*Prompt, error] {
	return func(yield func(*Prompt, error) bool) {
		cursor := ""
		if params != nil {
			cursor = params.Cursor
		}
		for {
			res, err := cs.ListPrompts(ctx, &ListPromptsParams{Cursor: cursor})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, p := range res.Prompts {
				if !yield(p, nil) {
					return
				}
			}
			if res.NextCursor == "" {
				return
			}
			cursor = res.NextCursor
		}
	}
}

// ReadResource reads a resource's contents from the server.
func (cs *ClientSession) ReadResource(ctx context.Context, params *ReadResourceParams) (*ReadResourceResult, error) {
	result := &ReadResourceResult{}
	if err := cs.call(ctx, methodReadResource, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListResources requests one page of resources from the server.
func (cs *ClientSession) ListResources(ctx context.Context, params *ListResourcesParams) (*ListResourcesResult, error) {
	if params == nil {
		params = &ListResourcesParams{}
	}
	result := &ListResourcesResult{}
	if err := cs.call(ctx, methodListResources, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Resources iterates over every resource the server exposes, transparently
// following pagination.
func (cs *ClientSession) Resources(ctx context.Context, params *ListResourcesParams) iter.Seq2[*Resource, error] {
	return func(yield func(*Resource, error) bool) {
		cursor := ""
		if params != nil {
			cursor = params.Cursor
		}
		for {
			res, err := cs.ListResources(ctx, &ListResourcesParams{Cursor: cursor})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, r := range res.Resources {
				if !yield(r, nil) {
					return
				}
			}
			if res.NextCursor == "" {
				return
			}
			cursor = res.NextCursor
		}
	}
}

// ListResourceTemplates requests one page of resource templates from the
// server.
func (cs *ClientSession) ListResourceTemplates(ctx context.Context, params *ListResourceTemplatesParams) (*ListResourceTemplatesResult, error) {
	if params == nil {
		params = &ListResourceTemplatesParams{}
	}
	result := &ListResourceTemplatesResult{}
	if err := cs.call(ctx, methodListResourceTemplates, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ResourceTemplates iterates over every resource template the server
// exposes, transparently following pagination.
func (cs *ClientSession) ResourceTemplates(ctx context.Context, params *ListResourceTemplatesParams) iter.Seq2[*ResourceTemplate, error] {
	return func(yield func(*ResourceTemplate, error) bool) {
		cursor := ""
		if params != nil {
			cursor = params.Cursor
		}
		for {
			res, err := cs.ListResourceTemplates(ctx, &ListResourceTemplatesParams{Cursor: cursor})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, t := range res.ResourceTemplates {
				if !yield(t, nil) {
					return
				}
			}
			if res.NextCursor == "" {
				return
			}
			cursor = res.NextCursor
		}
	}
}

// Complete asks the server to complete a prompt argument or resource URI
// template variable.
func (cs *ClientSession) Complete(ctx context.Context, params *CompleteParams) (*CompleteResult, error) {
	result := &CompleteResult{}
	if err := cs.call(ctx, methodComplete, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// SetLoggingLevel asks the server to only send log messages at or above
// the given level.
func (cs *ClientSession) SetLoggingLevel(ctx context.Context, params *SetLoggingLevelParams) error {
	return cs.call(ctx, methodSetLevel, params, nil)
}

// Subscribe asks the server to notify this session of updates to the
// named resource.
func (cs *ClientSession) Subscribe(ctx context.Context, params *SubscribeParams) error {
	return cs.call(ctx, methodSubscribe, params, nil)
}

// Unsubscribe cancels a prior Subscribe.
func (cs *ClientSession) Unsubscribe(ctx context.Context, params *UnsubscribeParams) error {
	return cs.call(ctx, methodUnsubscribe, params, nil)
}

// Ping sends a ping request to the server.
func (cs *ClientSession) Ping(ctx context.Context, params *PingParams) error {
	return cs.call(ctx, methodPing, orEmptyParams(params), nil)
}

// NotifyProgress reports progress on a call this session received, to be
// delivered to the server as a notifications/progress message.
func (cs *ClientSession) NotifyProgress(ctx context.Context, params *ProgressNotificationParams) error {
	return cs.notify(ctx, notificationProgress, params)
}
