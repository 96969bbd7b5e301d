// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"
	"sync"
	"time"
)

// notificationDelay is how long notifyChanged waits, per session and per
// method, before actually sending a list-changed notification. Repeated
// calls within the window coalesce into a single delivery, so a burst of
// AddTools/RemoveTools calls does not flood a session with redundant
// notifications.
const notificationDelay = 50 * time.Millisecond

// ServerOptions configures the behavior of a Server.
type ServerOptions struct {
	// Instructions describes how clients should use the server's tools,
	// resources, and prompts. It is returned in the initialize handshake.
	Instructions string

	// KeepAlive, if non-zero, causes every ServerSession to ping its peer
	// at this interval once initialization completes, closing the session
	// if a ping fails.
	KeepAlive time.Duration

	// PageSize bounds the number of items returned from a single
	// tools/list, prompts/list, resources/list, or
	// resources/templates/list call. The zero value means "no pagination":
	// every page is returned in one response.
	PageSize int

	// SubscribeHandler, if set, is called when a client subscribes to a
	// resource's update notifications.
	SubscribeHandler func(context.Context, *SubscribeRequest) error
	// UnsubscribeHandler, if set, is called when a client unsubscribes.
	UnsubscribeHandler func(context.Context, *UnsubscribeRequest) error
	// CompletionHandler, if set, serves completion/complete requests.
	CompletionHandler func(context.Context, *CompleteRequest) (*CompleteResult, error)
	// RootsListChangedHandler, if set, is called when a client notifies
	// the server that its set of roots has changed.
	RootsListChangedHandler func(context.Context, *RootsListChangedRequest)
	// ProgressNotificationHandler, if set, is called when a client reports
	// progress on a call the server made to it.
	ProgressNotificationHandler func(context.Context, *ProgressNotificationServerRequest)
	// InitializedHandler, if set, is called when a client sends its
	// notifications/initialized notification, completing the handshake.
	InitializedHandler func(context.Context, *InitializedRequest)

	// StateStore, if set, persists each session's initialize parameters,
	// logging level, and resource subscriptions, keyed by the session ID
	// its Connection reports (see Connection.SessionID). Saved state is
	// read back only while a session with that ID handles initialize: the
	// logging level and subscriptions are restored then. A reconnecting
	// session still performs the initialize handshake, and the saved
	// initialize parameters are not reapplied.
	StateStore ServerSessionStateStore

	// HasPrompts, HasResources, and HasTools declare that the server will
	// advertise the corresponding capability even before any prompt,
	// resource, or tool has been registered (for servers that add them
	// lazily, after the first session connects).
	HasPrompts   bool
	HasResources bool
	HasTools     bool

	// Strict causes calls to a session's client-initiated operations
	// (CreateMessage, Elicit, ListRoots) to fail locally with a
	// methodNotFound error when the connected client never declared the
	// corresponding capability during initialize, instead of sending the
	// request and letting the client reject it.
	Strict bool
}

// ServerSessionOptions configures one session created by Server.Connect.
// There are currently no session-specific options; the type exists so new
// ones can be added without changing Connect's signature.
type ServerSessionOptions struct{}

// A Server serves the Model Context Protocol over any number of
// concurrent sessions, each representing one client connection. Tools,
// prompts, and resources added to a Server are visible to every session
// connected to it, including those connected before the addition.
type Server struct {
	impl *Implementation
	opts ServerOptions

	mu                sync.Mutex
	tools             *featureSet[*ServerTool]
	prompts           *featureSet[*ServerPrompt]
	resources         *featureSet[*ServerResource]
	resourceTemplates *featureSet[*ServerResourceTemplate]
	sessions          map[*ServerSession]bool

	sendingMiddleware   []Middleware
	receivingMiddleware []Middleware
}

// NewServer creates a Server that identifies itself to clients as impl. If
// opts is nil, default options are used.
func NewServer(impl *Implementation, opts *ServerOptions) *Server {
	if opts == nil {
		opts = &ServerOptions{}
	}
	return &Server{
		impl:              impl,
		opts:              *opts,
		tools:             newFeatureSet(func(t *ServerTool) string { return t.Tool.Name }),
		prompts:           newFeatureSet(func(p *ServerPrompt) string { return p.Prompt.Name }),
		resources:         newFeatureSet(func(r *ServerResource) string { return r.Resource.URI }),
		resourceTemplates: newFeatureSet(func(t *ServerResourceTemplate) string { return t.ResourceTemplate.URITemplate }),
		sessions:          make(map[*ServerSession]bool),
	}
}

// AddTool registers a single tool bound to a raw handler that is
// responsible for its own argument decoding and validation. Most callers
// should prefer the generic [AddTool] function, which builds handler from
// a typed Go function.
func (s *Server) AddTool(tool *Tool, handler rawToolHandler) {
	s.AddTools(&ServerTool{Tool: tool, Handler: handler})
}

// AddTools registers tools, replacing any existing tool with the same
// name, and notifies connected sessions that support it of the change.
func (s *Server) AddTools(tools ...*ServerTool) {
	s.mu.Lock()
	s.tools.add(tools...)
	s.mu.Unlock()
	s.notifyChanged(notificationToolListChanged)
}

// RemoveTools removes tools by name; names with no matching tool are
// ignored.
func (s *Server) RemoveTools(names ...string) {
	s.mu.Lock()
	s.tools.remove(names...)
	s.mu.Unlock()
	s.notifyChanged(notificationToolListChanged)
}

// AddPrompt registers a single prompt bound to handler.
func (s *Server) AddPrompt(prompt *Prompt, handler func(context.Context, *GetPromptRequest) (*GetPromptResult, error)) {
	s.AddPrompts(&ServerPrompt{Prompt: prompt, Handler: handler})
}

// AddPrompts registers prompts, replacing any existing prompt with the
// same name.
func (s *Server) AddPrompts(prompts ...*ServerPrompt) {
	s.mu.Lock()
	s.prompts.add(prompts...)
	s.mu.Unlock()
	s.notifyChanged(notificationPromptListChanged)
}

// RemovePrompts removes prompts by name.
func (s *Server) RemovePrompts(names ...string) {
	s.mu.Lock()
	s.prompts.remove(names...)
	s.mu.Unlock()
	s.notifyChanged(notificationPromptListChanged)
}

// AddResource registers a single concrete resource bound to handler.
func (s *Server) AddResource(resource *Resource, handler func(context.Context, *ReadResourceRequest) (*ReadResourceResult, error)) {
	s.AddResources(&ServerResource{Resource: resource, Handler: handler})
}

// AddResources registers resources, replacing any existing resource with
// the same URI.
func (s *Server) AddResources(resources ...*ServerResource) {
	s.mu.Lock()
	s.resources.add(resources...)
	s.mu.Unlock()
	s.notifyChanged(notificationResourceListChanged)
}

// RemoveResources removes resources by URI.
func (s *Server) RemoveResources(uris ...string) {
	s.mu.Lock()
	s.resources.remove(uris...)
	s.mu.Unlock()
	s.notifyChanged(notificationResourceListChanged)
}

// AddResourceTemplate registers a single resource template bound to
// handler, which serves reads of any URI matching the template.
//
// AddResourceTemplate panics if rt.URITemplate is malformed: every "{"
// must be closed by a "}", and every "{...}" variable name must be
// non-empty.
func (s *Server) AddResourceTemplate(rt *ResourceTemplate, handler func(context.Context, *ReadResourceRequest) (*ReadResourceResult, error)) {
	pattern := compileURITemplate(rt.URITemplate)
	s.AddResourceTemplates(&ServerResourceTemplate{ResourceTemplate: rt, Handler: handler, pattern: pattern})
}

// AddResourceTemplates registers resource templates, replacing any
// existing template with the same URI template string.
func (s *Server) AddResourceTemplates(templates ...*ServerResourceTemplate) {
	for _, t := range templates {
		if t.pattern == nil {
			t.pattern = compileURITemplate(t.ResourceTemplate.URITemplate)
		}
	}
	s.mu.Lock()
	s.resourceTemplates.add(templates...)
	s.mu.Unlock()
	s.notifyChanged(notificationResourceListChanged)
}

// compileURITemplate turns a RFC 6570-ish "{var}" template into a regular
// expression that captures each variable as a named group matching any
// run of non-slash characters.
func compileURITemplate(tmpl string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("^")
	i := 0
	for i < len(tmpl) {
		c := tmpl[i]
		if c != '{' {
			sb.WriteString(regexp.QuoteMeta(string(c)))
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i:], '}')
		if end < 0 {
			panic(fmt.Sprintf("mcp: resource template %q has an unclosed '{'", tmpl))
		}
		expr := tmpl[i+1 : i+end]
		// A leading '+' (RFC 6570 reserved-expansion) lets the variable
		// match slashes too, so it can capture a nested path.
		charClass := "[^/]+"
		name := expr
		if strings.HasPrefix(expr, "+") {
			charClass = ".+"
			name = expr[1:]
		}
		if name == "" {
			panic(fmt.Sprintf("mcp: resource template %q has an empty variable name", tmpl))
		}
		sb.WriteString("(?P<" + name + ">" + charClass + ")")
		i += end + 1
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}

// AddSendingMiddleware wraps the server's outgoing requests and
// notifications (made on every session it creates from here on) with mw,
// in the order given: the first added is outermost.
func (s *Server) AddSendingMiddleware(mw ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendingMiddleware = append(s.sendingMiddleware, mw...)
}

// AddReceivingMiddleware wraps the server's inbound dispatch with mw, in
// the order given.
func (s *Server) AddReceivingMiddleware(mw ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivingMiddleware = append(s.receivingMiddleware, mw...)
}

// capabilities reports the capabilities this server currently advertises,
// based on its options and the features registered so far.
func (s *Server) capabilities() *ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()

	caps := &ServerCapabilities{Logging: &LoggingCapabilities{}}
	if s.opts.CompletionHandler != nil {
		caps.Completions = &CompletionCapabilities{}
	}
	if s.prompts.len() > 0 || s.opts.HasPrompts {
		caps.Prompts = &PromptCapabilities{ListChanged: true}
	}
	if s.resources.len() > 0 || s.resourceTemplates.len() > 0 || s.opts.HasResources {
		rc := &ResourceCapabilities{ListChanged: true}
		if s.opts.SubscribeHandler != nil || s.opts.UnsubscribeHandler != nil {
			rc.Subscribe = true
		}
		caps.Resources = rc
	}
	if s.tools.len() > 0 || s.opts.HasTools {
		caps.Tools = &ToolCapabilities{ListChanged: true}
	}
	return caps
}

// Sessions iterates over the sessions currently connected to s.
func (s *Server) Sessions() iter.Seq[*ServerSession] {
	return func(yield func(*ServerSession) bool) {
		s.mu.Lock()
		sessions := make([]*ServerSession, 0, len(s.sessions))
		for ss := range s.sessions {
			sessions = append(sessions, ss)
		}
		s.mu.Unlock()
		for _, ss := range sessions {
			if !yield(ss) {
				return
			}
		}
	}
}

// ResourceUpdated notifies every session subscribed to params.URI that
// the resource has changed.
func (s *Server) ResourceUpdated(ctx context.Context, params *ResourceUpdatedNotificationParams) error {
	for ss := range s.Sessions() {
		if ss.isSubscribed(params.URI) {
			if err := ss.notify(ctx, notificationResourceUpdated, params); err != nil {
				return err
			}
		}
	}
	return nil
}

// notifyChanged schedules a list-changed notification of the given method
// for every currently connected, initialized session. A session that
// already has a pending notification for this method has its timer reset
// rather than getting a second one, so a burst of changes within
// notificationDelay produces exactly one notification per session.
func (s *Server) notifyChanged(method string) {
	for ss := range s.Sessions() {
		if !ss.isInitialized() {
			continue
		}
		ss.scheduleNotify(method)
	}
}

// emptyParams is used for notifications with no payload fields of their
// own, beyond the protocol-reserved Meta.
type emptyParams struct {
	Meta `json:"_meta,omitempty"`
}

func (emptyParams) isParams() {}

// Connect starts serving MCP over a new Connection obtained from t, and
// returns the resulting ServerSession. The returned session's run loop is
// started in its own goroutine; Connect itself does not block for the
// client's initialize handshake to complete.
func (s *Server) Connect(ctx context.Context, t Transport, opts *ServerSessionOptions) (*ServerSession, error) {
	conn, err := t.Connect(ctx)
	if err != nil {
		return nil, err
	}
	ss := &ServerSession{
		sharedSession: newSharedSession(conn),
		server:        s,
		subscriptions: make(map[string]bool),
	}
	ss.sendingMiddleware = append([]Middleware(nil), s.sendingMiddleware...)
	ss.receivingMiddleware = append([]Middleware(nil), s.receivingMiddleware...)
	ss.dispatch = ss.handle
	ss.newRequest = ss.newServerRequest
	ss.onClose = func() {
		s.mu.Lock()
		delete(s.sessions, ss)
		s.mu.Unlock()
		ss.mu.Lock()
		cancel := ss.keepaliveCancel
		for _, t := range ss.pendingNotify {
			t.Stop()
		}
		ss.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}

	s.mu.Lock()
	s.sessions[ss] = true
	s.mu.Unlock()

	go ss.run(context.Background())
	return ss, nil
}

// Run connects to t, handles messages until the connection is closed by
// the peer or ctx is done, and returns the resulting error (nil on a
// graceful shutdown). It is a convenience wrapper around Connect for
// servers, such as ones running over stdio, that serve exactly one
// session for their entire process lifetime.
func (s *Server) Run(ctx context.Context, t Transport) error {
	ss, err := s.Connect(ctx, t, nil)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- ss.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		ss.Close()
		<-done
		return ctx.Err()
	}
}

// A ServerSession represents one client's connection to a Server: it
// dispatches inbound requests to the server's registered tools, prompts,
// and resources, and exposes the client-initiated operations (sampling,
// elicitation, roots) the server may call.
type ServerSession struct {
	*sharedSession
	server *Server

	mu                sync.Mutex
	initializeParams  *InitializeParams
	negotiatedVersion string
	didInitialize     bool
	logLevel          LoggingLevel
	subscriptions     map[string]bool
	keepaliveCancel   context.CancelFunc
	pendingNotify     map[string]*time.Timer
}

// scheduleNotify arms (or rearms) a timer that sends a list-changed
// notification for method after notificationDelay. A call that arrives
// while a timer for the same method is already pending just resets it.
func (ss *ServerSession) scheduleNotify(method string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if t, ok := ss.pendingNotify[method]; ok {
		t.Reset(notificationDelay)
		return
	}
	if ss.pendingNotify == nil {
		ss.pendingNotify = make(map[string]*time.Timer)
	}
	ss.pendingNotify[method] = time.AfterFunc(notificationDelay, func() {
		ss.mu.Lock()
		delete(ss.pendingNotify, method)
		ss.mu.Unlock()
		_ = ss.notify(context.Background(), method, emptyParams{})
	})
}

func (ss *ServerSession) isInitialized() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.didInitialize
}

func (ss *ServerSession) isSubscribed(uri string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.subscriptions[uri]
}

// newServerRequest decodes raw into the typed ServerRequest for method,
// the server-side half of sharedSession.newRequest.
func (ss *ServerSession) newServerRequest(method string, raw []byte, extra *RequestExtra) (Request, error) {
	switch method {
	case methodInitialize:
		return buildServerRequest[*InitializeParams](ss, raw, extra)
	case notificationInitialized:
		return buildServerRequest[*InitializedParams](ss, raw, extra)
	case methodCallTool:
		return buildServerRequest[*CallToolParamsRaw](ss, raw, extra)
	case methodListTools:
		return buildServerRequest[*ListToolsParams](ss, raw, extra)
	case methodGetPrompt:
		return buildServerRequest[*GetPromptParams](ss, raw, extra)
	case methodListPrompts:
		return buildServerRequest[*ListPromptsParams](ss, raw, extra)
	case methodReadResource:
		return buildServerRequest[*ReadResourceParams](ss, raw, extra)
	case methodListResources:
		return buildServerRequest[*ListResourcesParams](ss, raw, extra)
	case methodListResourceTemplates:
		return buildServerRequest[*ListResourceTemplatesParams](ss, raw, extra)
	case methodSubscribe:
		return buildServerRequest[*SubscribeParams](ss, raw, extra)
	case methodUnsubscribe:
		return buildServerRequest[*UnsubscribeParams](ss, raw, extra)
	case methodPing:
		return buildServerRequest[*PingParams](ss, raw, extra)
	case methodComplete:
		return buildServerRequest[*CompleteParams](ss, raw, extra)
	case methodSetLevel:
		return buildServerRequest[*SetLoggingLevelParams](ss, raw, extra)
	case notificationRootsListChanged:
		return buildServerRequest[*RootsListChangedParams](ss, raw, extra)
	case notificationProgress:
		return buildServerRequest[*ProgressNotificationParams](ss, raw, extra)
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

// buildServerRequest decodes raw as a P and wraps it in a *ServerRequest[P].
func buildServerRequest[P Params](ss *ServerSession, raw []byte, extra *RequestExtra) (Request, error) {
	p, err := decodeParams[P](raw)
	if err != nil {
		return nil, err
	}
	return &ServerRequest[P]{Session: ss, Params: p, Extra: extra}, nil
}

// handle is the terminal MethodHandler for inbound server dispatch: it
// routes to the method implementations below based on the concrete type
// of req (set by newServerRequest).
func (ss *ServerSession) handle(ctx context.Context, method string, req Request) (Result, error) {
	switch r := req.(type) {
	case *ServerRequest[*InitializeParams]:
		return ss.initialize(ctx, r.Params)
	case *ServerRequest[*InitializedParams]:
		return ss.initialized(ctx, r.Params)
	case *ServerRequest[*CallToolParamsRaw]:
		return ss.callTool(ctx, r)
	case *ServerRequest[*ListToolsParams]:
		return ss.listTools(r.Params)
	case *ServerRequest[*GetPromptParams]:
		return ss.getPrompt(ctx, r)
	case *ServerRequest[*ListPromptsParams]:
		return ss.listPrompts(r.Params)
	case *ServerRequest[*ReadResourceParams]:
		return ss.readResource(ctx, r)
	case *ServerRequest[*ListResourcesParams]:
		return ss.listResources(r.Params)
	case *ServerRequest[*ListResourceTemplatesParams]:
		return ss.listResourceTemplates(r.Params)
	case *ServerRequest[*SubscribeParams]:
		return ss.subscribe(ctx, r)
	case *ServerRequest[*UnsubscribeParams]:
		return ss.unsubscribe(ctx, r)
	case *ServerRequest[*PingParams]:
		return emptyResult{}, nil
	case *ServerRequest[*CompleteParams]:
		return ss.complete(ctx, r)
	case *ServerRequest[*SetLoggingLevelParams]:
		ss.mu.Lock()
		ss.logLevel = r.Params.Level
		ss.mu.Unlock()
		ss.saveState(ctx)
		return emptyResult{}, nil
	case *ServerRequest[*RootsListChangedParams]:
		if h := ss.server.opts.RootsListChangedHandler; h != nil {
			h(ctx, r)
		}
		return emptyResult{}, nil
	case *ServerRequest[*ProgressNotificationParams]:
		if h := ss.server.opts.ProgressNotificationHandler; h != nil {
			h(ctx, r)
		}
		return emptyResult{}, nil
	default:
		return nil, fmt.Errorf("unhandled method %q", method)
	}
}

func (ss *ServerSession) initialize(ctx context.Context, params *InitializeParams) (*InitializeResult, error) {
	ss.mu.Lock()
	if ss.initializeParams != nil {
		ss.mu.Unlock()
		return nil, fmt.Errorf("%w: session already initialized", errInvalidRequest)
	}
	ss.initializeParams = params
	ss.subscriptions = make(map[string]bool)

	negotiated := latestProtocolVersion
	if isSupportedProtocolVersion(params.ProtocolVersion) {
		negotiated = params.ProtocolVersion
	}
	ss.negotiatedVersion = negotiated
	ss.mu.Unlock()

	if ss.sharedSession != nil {
		if setter, ok := ss.mcpConn.(interface{ setNegotiatedVersion(string) }); ok {
			setter.setNegotiatedVersion(negotiated)
		}
	}

	if store := ss.server.opts.StateStore; store != nil {
		if id := ss.ID(); id != "" {
			if state, err := store.Load(ctx, id); err == nil && state != nil {
				ss.mu.Lock()
				ss.logLevel = state.LogLevel
				for _, uri := range state.Subscriptions {
					ss.subscriptions[uri] = true
				}
				ss.mu.Unlock()
			}
		}
	}

	return &InitializeResult{
		Capabilities:    ss.server.capabilities(),
		Instructions:    ss.server.opts.Instructions,
		ProtocolVersion: negotiated,
		ServerInfo:      ss.server.impl,
	}, nil
}

func (ss *ServerSession) initialized(ctx context.Context, params *InitializedParams) (Result, error) {
	ss.mu.Lock()
	if ss.didInitialize {
		ss.mu.Unlock()
		return nil, fmt.Errorf("duplicate initialized received")
	}
	ss.didInitialize = true
	ss.mu.Unlock()

	if h := ss.server.opts.InitializedHandler; h != nil {
		h(ctx, &InitializedRequest{Session: ss, Params: params})
	}
	ss.saveState(ctx)

	if ss.server.opts.KeepAlive > 0 {
		ss.startKeepalive(ss.server.opts.KeepAlive)
	}
	return emptyResult{}, nil
}

// startKeepalive pings the peer at the given interval until the session
// closes (Server.Connect's onClose hook cancels keepaliveCancel), closing
// the session itself if a ping ever fails.
func (ss *ServerSession) startKeepalive(interval time.Duration) {
	kctx, cancel := context.WithCancel(context.Background())
	ss.mu.Lock()
	ss.keepaliveCancel = cancel
	ss.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-kctx.Done():
				return
			case <-ticker.C:
				if err := ss.Ping(kctx, nil); err != nil {
					_ = ss.Close()
					return
				}
			}
		}
	}()
}

func (ss *ServerSession) callTool(ctx context.Context, r *ServerRequest[*CallToolParamsRaw]) (Result, error) {
	ss.server.mu.Lock()
	st, ok := ss.server.tools.get(r.Params.Name)
	ss.server.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q", errInvalidParams, r.Params.Name)
	}
	req := &CallToolRequest{Session: ss, Params: r.Params, Extra: r.Extra}
	res, err := st.Handler(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errInvalidParams, err)
	}
	return res, nil
}

func (ss *ServerSession) listTools(params *ListToolsParams) (Result, error) {
	ss.server.mu.Lock()
	defer ss.server.mu.Unlock()
	return paginateList(ss.server.tools, ss.server.opts.PageSize, params, &ListToolsResult{},
		func(res *ListToolsResult, page []*ServerTool) {
			res.Tools = make([]*Tool, len(page))
			for i, t := range page {
				res.Tools[i] = t.Tool
			}
		})
}

func (ss *ServerSession) getPrompt(ctx context.Context, r *ServerRequest[*GetPromptParams]) (Result, error) {
	ss.server.mu.Lock()
	sp, ok := ss.server.prompts.get(r.Params.Name)
	ss.server.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown prompt %q", errInvalidParams, r.Params.Name)
	}
	req := &GetPromptRequest{Session: ss, Params: r.Params, Extra: r.Extra}
	return sp.Handler(ctx, req)
}

func (ss *ServerSession) listPrompts(params *ListPromptsParams) (Result, error) {
	ss.server.mu.Lock()
	defer ss.server.mu.Unlock()
	return paginateList(ss.server.prompts, ss.server.opts.PageSize, params, &ListPromptsResult{},
		func(res *ListPromptsResult, page []*ServerPrompt) {
			res.Prompts = make([]*Prompt, len(page))
			for i, p := range page {
				res.Prompts[i] = p.Prompt
			}
		})
}

func (ss *ServerSession) readResource(ctx context.Context, r *ServerRequest[*ReadResourceParams]) (Result, error) {
	ss.server.mu.Lock()
	sr, ok := ss.server.resources.get(r.Params.URI)
	var matchedTemplate *ServerResourceTemplate
	if !ok {
		for _, t := range ss.server.resourceTemplates.sorted() {
			if t.pattern.MatchString(r.Params.URI) {
				matchedTemplate = t
				break
			}
		}
	}
	ss.server.mu.Unlock()

	req := &ReadResourceRequest{Session: ss, Params: r.Params, Extra: r.Extra}
	var res *ReadResourceResult
	var err error
	var mimeType string
	switch {
	case ok:
		res, err = sr.Handler(ctx, req)
		mimeType = sr.Resource.MIMEType
	case matchedTemplate != nil:
		res, err = matchedTemplate.Handler(ctx, req)
		mimeType = matchedTemplate.ResourceTemplate.MIMEType
	default:
		return nil, ResourceNotFoundError(r.Params.URI)
	}
	if err != nil {
		return nil, err
	}
	for _, c := range res.Contents {
		if c.URI == "" {
			c.URI = r.Params.URI
		}
		if c.MIMEType == "" {
			c.MIMEType = mimeType
		}
	}
	return res, nil
}

func (ss *ServerSession) listResources(params *ListResourcesParams) (Result, error) {
	ss.server.mu.Lock()
	defer ss.server.mu.Unlock()
	return paginateList(ss.server.resources, ss.server.opts.PageSize, params, &ListResourcesResult{},
		func(res *ListResourcesResult, page []*ServerResource) {
			res.Resources = make([]*Resource, len(page))
			for i, r := range page {
				res.Resources[i] = r.Resource
			}
		})
}

func (ss *ServerSession) listResourceTemplates(params *ListResourceTemplatesParams) (Result, error) {
	ss.server.mu.Lock()
	defer ss.server.mu.Unlock()
	return paginateList(ss.server.resourceTemplates, ss.server.opts.PageSize, params, &ListResourceTemplatesResult{},
		func(res *ListResourceTemplatesResult, page []*ServerResourceTemplate) {
			res.ResourceTemplates = make([]*ResourceTemplate, len(page))
			for i, t := range page {
				res.ResourceTemplates[i] = t.ResourceTemplate
			}
		})
}

func (ss *ServerSession) subscribe(ctx context.Context, r *ServerRequest[*SubscribeParams]) (Result, error) {
	if ss.server.opts.SubscribeHandler != nil {
		if err := ss.server.opts.SubscribeHandler(ctx, r); err != nil {
			return nil, err
		}
	}
	ss.mu.Lock()
	ss.subscriptions[r.Params.URI] = true
	ss.mu.Unlock()
	ss.saveState(ctx)
	return emptyResult{}, nil
}

func (ss *ServerSession) unsubscribe(ctx context.Context, r *ServerRequest[*UnsubscribeParams]) (Result, error) {
	if ss.server.opts.UnsubscribeHandler != nil {
		if err := ss.server.opts.UnsubscribeHandler(ctx, r); err != nil {
			return nil, err
		}
	}
	ss.mu.Lock()
	delete(ss.subscriptions, r.Params.URI)
	ss.mu.Unlock()
	ss.saveState(ctx)
	return emptyResult{}, nil
}

// saveState persists the session's current state to the server's
// StateStore, if one is configured and the underlying connection reports a
// session ID. Save errors are ignored: state persistence is best-effort,
// and a store that is temporarily unavailable should not fail the request
// that triggered the save.
func (ss *ServerSession) saveState(ctx context.Context) {
	store := ss.server.opts.StateStore
	if store == nil {
		return
	}
	id := ss.ID()
	if id == "" {
		return
	}
	ss.mu.Lock()
	state := &ServerSessionState{
		InitializeParams: ss.initializeParams,
		LogLevel:         ss.logLevel,
		Subscriptions:    make([]string, 0, len(ss.subscriptions)),
	}
	for uri := range ss.subscriptions {
		state.Subscriptions = append(state.Subscriptions, uri)
	}
	ss.mu.Unlock()
	_ = store.Save(ctx, id, state)
}

func (ss *ServerSession) complete(ctx context.Context, r *ServerRequest[*CompleteParams]) (Result, error) {
	if ss.server.opts.CompletionHandler == nil {
		return nil, fmt.Errorf("%w: server does not support completion", errMethodNotFound)
	}
	return ss.server.opts.CompletionHandler(ctx, r)
}

// Ping sends a ping request to the client.
func (ss *ServerSession) Ping(ctx context.Context, params *PingParams) error {
	return ss.call(ctx, methodPing, orEmptyParams(params), nil)
}

// CreateMessage asks the client to sample from an LLM on the server's
// behalf. The client must support the sampling capability.
func (ss *ServerSession) CreateMessage(ctx context.Context, params *CreateMessageParams) (*CreateMessageResult, error) {
	if err := ss.checkCapability(ss.server.opts.Strict, ss.hasSamplingCapability(), methodCreateMessage); err != nil {
		return nil, err
	}
	result := &CreateMessageResult{}
	if err := ss.call(ctx, methodCreateMessage, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateMessageWithTools is like CreateMessage but allows the server to
// offer tools the client's model may call during sampling.
func (ss *ServerSession) CreateMessageWithTools(ctx context.Context, params *CreateMessageWithToolsParams) (*CreateMessageWithToolsResult, error) {
	if err := ss.checkCapability(ss.server.opts.Strict, ss.hasSamplingCapability(), methodCreateMessage); err != nil {
		return nil, err
	}
	result := &CreateMessageWithToolsResult{}
	if err := ss.call(ctx, methodCreateMessage, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Elicit asks the client to collect additional information from the user
// on the server's behalf. The client must support the elicitation
// capability.
func (ss *ServerSession) Elicit(ctx context.Context, params *ElicitParams) (*ElicitResult, error) {
	ss.mu.Lock()
	has := ss.initializeParams != nil && ss.initializeParams.Capabilities != nil && ss.initializeParams.Capabilities.Elicitation != nil
	ss.mu.Unlock()
	if err := ss.checkCapability(ss.server.opts.Strict, has, methodElicit); err != nil {
		return nil, err
	}
	result := &ElicitResult{}
	if err := ss.call(ctx, methodElicit, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListRoots asks the client for its current list of roots.
func (ss *ServerSession) ListRoots(ctx context.Context, params *ListRootsParams) (*ListRootsResult, error) {
	ss.mu.Lock()
	has := false
	if c := ss.initializeParams; c != nil && c.Capabilities != nil {
		has = c.Capabilities.RootsV2 != nil || c.Capabilities.Roots.ListChanged
	}
	ss.mu.Unlock()
	if err := ss.checkCapability(ss.server.opts.Strict, has, methodListRoots); err != nil {
		return nil, err
	}
	result := &ListRootsResult{}
	if err := ss.call(ctx, methodListRoots, orEmptyParams(params), result); err != nil {
		return nil, err
	}
	return result, nil
}

// hasSamplingCapability reports whether the connected client declared
// support for sampling/createMessage during initialize.
func (ss *ServerSession) hasSamplingCapability() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.initializeParams != nil && ss.initializeParams.Capabilities != nil && ss.initializeParams.Capabilities.Sampling != nil
}

// Log sends a log message notification to the client, if the client's
// requested logging level permits it.
func (ss *ServerSession) Log(ctx context.Context, params *LoggingMessageParams) error {
	ss.mu.Lock()
	level := ss.logLevel
	ss.mu.Unlock()
	if !loggingLevelAllows(level, params.Level) {
		return nil
	}
	return ss.notify(ctx, notificationLoggingMessage, params)
}

// NotifyProgress reports progress on a call this session received, to be
// delivered to the client as a notifications/progress message.
func (ss *ServerSession) NotifyProgress(ctx context.Context, params *ProgressNotificationParams) error {
	return ss.notify(ctx, notificationProgress, params)
}

// loggingLevelSeverity orders the RFC 5424 syslog levels MCP borrows for
// logging/setLevel, from least to most severe.
var loggingLevelSeverity = map[LoggingLevel]int{
	"debug":     0,
	"info":      1,
	"notice":    2,
	"warning":   3,
	"error":     4,
	"critical":  5,
	"alert":     6,
	"emergency": 7,
}

// loggingLevelAllows reports whether a message at msgLevel should be
// delivered to a session whose minimum requested level is min. An unset
// min (the zero value, before the client ever calls logging/setLevel)
// allows everything.
func loggingLevelAllows(min, msgLevel LoggingLevel) bool {
	if min == "" {
		return true
	}
	minSev, ok := loggingLevelSeverity[min]
	if !ok {
		return true
	}
	msgSev, ok := loggingLevelSeverity[msgLevel]
	if !ok {
		return true
	}
	return msgSev >= minSev
}

// orEmptyParams returns params if non-nil, or a pointer to its zero value
// otherwise, so calls with no arguments can still pass a non-nil,
// reflection-addressable Params value through sendingMiddleware.
func orEmptyParams[P interface {
	Params
	*E
}, E any](params P) P {
	if params != nil {
		return params
	}
	var e E
	return &e
}
