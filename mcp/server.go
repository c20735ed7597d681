// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpcore/mcpcore-go/jsonrpc"
	"github.com/yosida95/uritemplate/v3"
	"golang.org/x/time/rate"
)

// CodeRateLimited is returned when a session's RequestRateLimit rejects an
// inbound request, in the same reserved (-32000 to -32099) range as
// CodeResourceNotFound.
const CodeRateLimited = -32003

// currentProtocolVersion is the latest protocol revision this module
// implements, sent in InitializeResult when the client's requested version
// is unsupported.
const currentProtocolVersion = "2025-06-18"

// notificationDelay staggers list-changed notifications so that a burst of
// registration changes (several AddTool calls during setup, for example)
// coalesces into a single notification instead of one per call.
const notificationDelay = 10 * time.Millisecond

// changeDebouncer coalesces repeated triggers into a single call to the
// fired function, notificationDelay after the last trigger.
type changeDebouncer struct {
	mu    sync.Mutex
	timer *time.Timer
}

func (d *changeDebouncer) trigger(fire func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(notificationDelay, fire)
}

// ServerOptions configures a Server. A nil *ServerOptions is equivalent to
// the zero value.
type ServerOptions struct {
	// Instructions are returned to the client in InitializeResult, describing
	// how to use the server.
	Instructions string
	// PageSize bounds the number of items returned from a single list call
	// before a NextCursor is emitted. Zero means defaultPageSize.
	PageSize int
	// KeepAlive, if positive, is the interval at which the server pings idle
	// sessions; a failed ping closes the session.
	KeepAlive time.Duration
	// RequestRateLimit, if positive, bounds inbound client->server requests to
	// this many per second, per session. Requests beyond the limit are
	// rejected with CodeRateLimited rather than dispatched. Zero means
	// unlimited.
	RequestRateLimit float64
	// RequestBurst sets the token-bucket burst size backing RequestRateLimit.
	// Ignored when RequestRateLimit is zero; defaults to 1 when unset.
	RequestBurst int
	// RequestTimeout bounds how long an outbound server->client request (for
	// example sampling/createMessage) waits for a reply before the session
	// engine gives up and reports ErrTimeout. Zero means no timeout.
	RequestTimeout time.Duration
	// Logger receives session lifecycle and error diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
	// StateStore persists ServerSessionState across transport reconnects and
	// process restarts. Defaults to an in-memory store scoped to the Server.
	StateStore ServerSessionStateStore

	// SchemaCache, if set, caches the JSON schemas AddTool infers from Go
	// types (and resolves from pre-built schemas), keyed by reflect.Type or
	// schema pointer identity. Share a [NewSchemaCache] across Server
	// instances that register the same tool types repeatedly, such as a
	// stateless server re-created on every request.
	SchemaCache *schemaCache

	// HasPrompts, HasResources, and HasTools advertise a capability before
	// any prompt/resource/tool has been registered yet (for example, when
	// registration happens lazily after the first session connects).
	// Registering at least one of the corresponding kind has the same
	// effect whether or not the matching Has* flag is set.
	HasPrompts   bool
	HasResources bool
	HasTools     bool

	// SubscribeHandler and UnsubscribeHandler, if set, are called alongside
	// the router's own subscriber bookkeeping when a client sends
	// resources/subscribe or resources/unsubscribe; a non-nil
	// SubscribeHandler is also what makes the server advertise
	// resources.subscribe support.
	SubscribeHandler   func(context.Context, *SubscribeRequest) error
	UnsubscribeHandler func(context.Context, *UnsubscribeRequest) error

	// CompletionHandler, if set, answers completion/complete requests and
	// makes the server advertise the completions capability.
	CompletionHandler func(context.Context, *CompleteRequest) (*CompleteResult, error)

	// InitializedHandler, if set, is called when a session completes the
	// initialize/initialized handshake.
	InitializedHandler func(context.Context, *InitializedRequest)
	// RootsListChangedHandler, if set, is called when a client notifies the
	// server that its roots list changed.
	RootsListChangedHandler func(context.Context, *RootsListChangedRequest)
	// ProgressNotificationHandler, if set, is called when a client reports
	// progress on a long-running server->client request.
	ProgressNotificationHandler func(context.Context, *ProgressNotificationServerRequest)
}

const defaultPageSize = 50

// Server is one MCP service: a name/version identity plus the tools,
// prompts, and resources it exposes. A Server accepts any number of
// concurrent sessions, one per Connect call.
type Server struct {
	impl *Implementation
	opts ServerOptions

	tools     *toolRouter
	prompts   *promptRouter
	resources *resourceRouter

	mu          sync.Mutex
	sendingMW   []Middleware[*ServerSession]
	receivingMW []Middleware[*ServerSession]
	sessions    map[*ServerSession]bool

	toolsChanged     changeDebouncer
	promptsChanged   changeDebouncer
	resourcesChanged changeDebouncer
}

// NewServer returns a Server identifying itself as impl. opts may be nil.
func NewServer(impl *Implementation, opts *ServerOptions) *Server {
	s := &Server{
		impl:      impl,
		tools:     newToolRouter(),
		prompts:   newPromptRouter(),
		resources: newResourceRouter(),
		sessions:  make(map[*ServerSession]bool),
	}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.Logger == nil {
		s.opts.Logger = slog.Default()
	}
	if s.opts.PageSize == 0 {
		s.opts.PageSize = defaultPageSize
	}
	if s.opts.StateStore == nil {
		s.opts.StateStore = NewMemoryServerSessionStateStore()
	}
	return s
}

// AddTool registers a typed tool on s. The tool's input (and, if Out isn't
// any, output) schema is inferred from In/Out via reflection unless t
// already carries an explicit schema.
func AddTool[In, Out any](s *Server, t *Tool, h TypedToolHandler[In, Out]) {
	st, err := newTypedServerTool(t, h, s.opts.SchemaCache)
	if err != nil {
		panic(fmt.Sprintf("mcp: AddTool(%q): %v", t.Name, err))
	}
	s.tools.addTool(st)
	s.toolsChanged.trigger(func() { s.notifyAll(notificationToolListChanged, &ToolListChangedParams{}) })
}

// RemoveTools unregisters the tools with the given names. Names not
// currently registered are ignored.
func (s *Server) RemoveTools(names ...string) {
	for _, name := range names {
		s.tools.removeTool(name)
	}
	s.toolsChanged.trigger(func() { s.notifyAll(notificationToolListChanged, &ToolListChangedParams{}) })
}

// AddPrompt registers a prompt and its handler on s.
func (s *Server) AddPrompt(p *Prompt, h PromptHandler) {
	s.prompts.addPrompt(&serverPrompt{prompt: p, handler: h})
	s.promptsChanged.trigger(func() { s.notifyAll(notificationPromptListChanged, &PromptListChangedParams{}) })
}

// RemovePrompts unregisters the prompts with the given names. Names not
// currently registered are ignored.
func (s *Server) RemovePrompts(names ...string) {
	for _, name := range names {
		s.prompts.removePrompt(name)
	}
	s.promptsChanged.trigger(func() { s.notifyAll(notificationPromptListChanged, &PromptListChangedParams{}) })
}

// AddResource registers a concrete resource and its handler on s.
func (s *Server) AddResource(r *Resource, h ResourceHandler) {
	s.resources.addResource(&serverResource{resource: r, handler: h})
	s.resourcesChanged.trigger(func() { s.notifyAll(notificationResourceListChanged, &ResourceListChangedParams{}) })
}

// RemoveResources unregisters the resources at the given uris. URIs not
// currently registered are ignored.
func (s *Server) RemoveResources(uris ...string) {
	for _, uri := range uris {
		s.resources.removeResource(uri)
	}
	s.resourcesChanged.trigger(func() { s.notifyAll(notificationResourceListChanged, &ResourceListChangedParams{}) })
}

// AddResourceTemplate registers a resource template and its handler on s.
// The template is compiled with github.com/yosida95/uritemplate; a
// malformed template panics, matching AddTool's treatment of a malformed
// schema, since both are programmer errors discovered at registration time.
func (s *Server) AddResourceTemplate(t *ResourceTemplate, h ResourceHandler) {
	compiled, err := uritemplate.New(t.URITemplate)
	if err != nil {
		panic(fmt.Sprintf("mcp: AddResourceTemplate(%q): %v", t.URITemplate, err))
	}
	s.resources.addResourceTemplate(&serverResourceTemplate{template: t, compiled: compiled, handler: h})
	s.resourcesChanged.trigger(func() { s.notifyAll(notificationResourceListChanged, &ResourceListChangedParams{}) })
}

// notifyAll sends a notification to every session currently connected to s,
// ignoring individual delivery errors: registration changes are not made on
// behalf of any one session, so there is no single caller to report back to.
func (s *Server) notifyAll(method string, params any) {
	s.mu.Lock()
	sessions := make([]*ServerSession, 0, len(s.sessions))
	for ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()
	for _, ss := range sessions {
		_ = ss.notify(context.Background(), method, params)
	}
}

// AddSendingMiddleware appends middleware wrapping every outbound call
// (server -> client request or notification) made by sessions of this
// server. Middlewares run outermost-first, in the order passed.
func (s *Server) AddSendingMiddleware(mw ...Middleware[*ServerSession]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendingMW = append(s.sendingMW, mw...)
}

// AddReceivingMiddleware appends middleware wrapping every inbound call
// (client -> server request or notification) dispatched by sessions of
// this server.
func (s *Server) AddReceivingMiddleware(mw ...Middleware[*ServerSession]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivingMW = append(s.receivingMW, mw...)
}

// capabilities reports only what s can actually do: a capability is
// advertised once something has been registered for it (or the matching
// Has* option opted in ahead of registration), so a client never sees, say,
// tools.listChanged for a server with no tools.
func (s *Server) capabilities() *ServerCapabilities {
	caps := &ServerCapabilities{Logging: &LoggingCapabilities{}}
	if s.opts.HasPrompts || len(s.prompts.list()) > 0 {
		caps.Prompts = &PromptCapabilities{ListChanged: true}
	}
	if s.opts.HasResources || len(s.resources.list()) > 0 || len(s.resources.listTemplates()) > 0 {
		caps.Resources = &ResourceCapabilities{ListChanged: true, Subscribe: s.opts.SubscribeHandler != nil}
	}
	if s.opts.HasTools || len(s.tools.list()) > 0 {
		caps.Tools = &ToolCapabilities{ListChanged: true}
	}
	if s.opts.CompletionHandler != nil {
		caps.Completions = &CompletionCapabilities{}
	}
	return caps
}

// ServerSessionOptions reserves room for per-connection overrides (e.g.
// resuming a persisted session). Currently empty; present for API symmetry
// with Client.Connect and forward compatibility.
type ServerSessionOptions struct{}

// Connect binds t as the transport for a new session and runs its
// initialization handshake (server role, §4.G): the first inbound message
// must be an initialize Request, the negotiated protocol version is sent
// back, and an initialized notification must follow before steady state.
func (s *Server) Connect(ctx context.Context, t Transport, _ *ServerSessionOptions) (*ServerSession, error) {
	conn, err := t.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect: %w", err)
	}
	ss := &ServerSession{
		session: newSession(roleServer, conn, s.opts.Logger),
		server:  s,
	}
	if s.opts.RequestRateLimit > 0 {
		burst := s.opts.RequestBurst
		if burst < 1 {
			burst = 1
		}
		ss.limiter = rate.NewLimiter(rate.Limit(s.opts.RequestRateLimit), burst)
	}
	if err := ss.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s.mu.Lock()
	s.sessions[ss] = true
	s.mu.Unlock()

	go ss.run()
	if s.opts.KeepAlive > 0 {
		go keepAlive(ss.session, s.opts.KeepAlive, func(ctx context.Context) error {
			return ss.Ping(ctx, &PingParams{})
		})
	}
	return ss, nil
}

// Run connects to t and blocks until the session ends, either because the
// peer closed the connection or because ctx was canceled. It returns the
// reason the session ended: ctx's error on cancellation, or the underlying
// connection error otherwise.
func (s *Server) Run(ctx context.Context, t Transport) error {
	ss, err := s.Connect(ctx, t, nil)
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ss.close(ctx.Err())
		case <-stop:
		}
	}()
	return ss.wait()
}

func (s *Server) forgetSession(ss *ServerSession) {
	s.mu.Lock()
	delete(s.sessions, ss)
	s.mu.Unlock()
	s.resources.unsubscribeAll(ss)
}

// Sessions iterates over the sessions currently connected to s.
func (s *Server) Sessions() iter.Seq[*ServerSession] {
	s.mu.Lock()
	sessions := make([]*ServerSession, 0, len(s.sessions))
	for ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()
	return func(yield func(*ServerSession) bool) {
		for _, ss := range sessions {
			if !yield(ss) {
				return
			}
		}
	}
}

// ResourceUpdated sends notifications/resources/updated to every session
// currently subscribed to params.URI.
func (s *Server) ResourceUpdated(ctx context.Context, params *ResourceUpdatedNotificationParams) error {
	var firstErr error
	for _, ss := range s.resources.subscribersOf(params.URI) {
		if err := ss.notify(ctx, notificationResourceUpdated, params); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ServerSession is one client connection to a Server, after a successful
// initialize/initialized handshake.
type ServerSession struct {
	*session
	server *Server

	// limiter rejects inbound requests beyond ServerOptions.RequestRateLimit;
	// nil when no limit is configured.
	limiter *rate.Limiter

	stateID string // guarded by mu; see id
}

func (ss *ServerSession) handshake(ctx context.Context) error {
	msg, err := ss.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("mcp: reading initialize request: %w", err)
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok || req.Method != methodInitialize {
		return ErrExpectedInitializeRequest
	}

	params := &InitializeParams{}
	if err := decodeParams(req.Params, params); err != nil {
		return fmt.Errorf("mcp: decoding initialize params: %w", err)
	}

	negotiated := params.ProtocolVersion
	if negotiated != currentProtocolVersion {
		// The core only recognizes one protocol revision; any other
		// requested version is incomparable to it, so the server replies
		// with its own and the peer decides whether to proceed.
		negotiated = currentProtocolVersion
	}

	result := &InitializeResult{
		Capabilities:    ss.server.capabilities(),
		Instructions:    ss.server.opts.Instructions,
		ProtocolVersion: negotiated,
		ServerInfo:      ss.server.impl,
	}
	if err := ss.conn.Write(ctx, &jsonrpc.Response{ID: req.ID, Result: result}); err != nil {
		return fmt.Errorf("mcp: sending initialize result: %w", err)
	}

	msg, err = ss.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("mcp: reading initialized notification: %w", err)
	}
	notif, ok := msg.(*jsonrpc.Notification)
	if !ok || notif.Method != notificationInitialized {
		return fmt.Errorf("mcp: expected initialized notification, got %T", msg)
	}

	ss.mu.Lock()
	ss.initialized = params
	ss.mu.Unlock()
	if err := ss.server.opts.StateStore.Save(ctx, ss.id(), &ServerSessionState{InitializeParams: params}); err != nil {
		return err
	}
	if ss.server.opts.InitializedHandler != nil {
		ss.server.opts.InitializedHandler(ctx, &InitializedRequest{Session: ss, Params: &InitializedParams{}})
	}
	return nil
}

// id returns a stable identifier for this session, used as the
// ServerSessionStateStore key. Transports that assign their own session id
// (streamable-HTTP, WebSocket) should prefer that id; lacking one, a random
// one is minted per session.
func (ss *ServerSession) id() string {
	type sessionIDer interface{ SessionID() string }
	if c, ok := ss.conn.(sessionIDer); ok {
		return c.SessionID()
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.stateID == "" {
		ss.stateID = randText()
	}
	return ss.stateID
}

// run is the receive loop (§4.G steady state): it classifies each inbound
// message and dispatches it, until the connection is lost.
func (ss *ServerSession) run() {
	defer close(ss.done)
	defer ss.server.forgetSession(ss)
	err := ss.loop()
	_ = ss.close(err)
}

func (ss *ServerSession) loop() error {
	for {
		msg, err := ss.conn.Read(ss.ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *jsonrpc.Request:
			go ss.dispatchRequest(m)
		case *jsonrpc.Response:
			if !ss.pending.Resolve(m.ID, jsonrpc.Outcome{Result: m.Result}) {
				ss.logger.Warn("mcp: dropping response for unknown id", "id", m.ID.String())
			}
		case *jsonrpc.Error:
			if !ss.pending.Resolve(m.ID, jsonrpc.Outcome{Err: m.Err}) {
				ss.logger.Warn("mcp: dropping error for unknown id", "id", m.ID.String())
			}
		case *jsonrpc.Notification:
			ss.dispatchNotification(m)
		case *jsonrpc.Nil:
			// ignore
		}
	}
}

func (ss *ServerSession) dispatchRequest(req *jsonrpc.Request) {
	if ss.limiter != nil && !ss.limiter.Allow() {
		we := &jsonrpc.WireError{Code: CodeRateLimited, Message: "rate limit exceeded"}
		_ = ss.conn.Write(ss.ctx, &jsonrpc.Error{ID: req.ID, Err: we})
		return
	}

	dctx, cancel := context.WithCancel(ss.ctx)
	ss.registerInflight(req.ID, cancel)
	defer func() {
		cancel()
		ss.clearInflight(req.ID)
	}()

	result, err := ss.handle(dctx, req.Method, req.Params)
	if err != nil {
		we := wireErrorFrom(err)
		_ = ss.conn.Write(ss.ctx, &jsonrpc.Error{ID: req.ID, Err: we})
		return
	}
	_ = ss.conn.Write(ss.ctx, &jsonrpc.Response{ID: req.ID, Result: result})
}

func (ss *ServerSession) dispatchNotification(n *jsonrpc.Notification) {
	switch n.Method {
	case notificationCancelled:
		p := &CancelledParams{}
		if err := decodeParams(n.Params, p); err == nil {
			if id, ok := toRequestID(p.RequestID); ok {
				ss.cancelInflight(id)
			}
		}
	case notificationRootsListChanged:
		if ss.server.opts.RootsListChangedHandler != nil {
			ss.server.opts.RootsListChangedHandler(ss.ctx, &RootsListChangedRequest{Session: ss, Params: &RootsListChangedParams{}})
		}
	case notificationProgress:
		p := &ProgressNotificationParams{}
		if err := decodeParams(n.Params, p); err == nil {
			ss.progress.handleNotification(p)
			if ss.server.opts.ProgressNotificationHandler != nil {
				ss.server.opts.ProgressNotificationHandler(ss.ctx, &ProgressNotificationServerRequest{Session: ss, Params: p})
			}
		}
	case notificationToolListChanged, notificationPromptListChanged, notificationResourceListChanged:
		// No server-side state depends on these client-originated list-changed
		// notifications today; acknowledged by doing nothing.
	default:
		ss.logger.Debug("mcp: unhandled notification", "method", n.Method)
	}
}

func toRequestID(v any) (jsonrpc.ID, bool) {
	switch n := v.(type) {
	case float64:
		return jsonrpc.Int64ID(int64(n)), true
	case int64:
		return jsonrpc.Int64ID(n), true
	case string:
		return jsonrpc.StringID(n), true
	default:
		return jsonrpc.ID{}, false
	}
}

// baseHandle is the base MethodHandler for inbound server requests, wrapped by
// any receiving middleware installed on the owning Server.
func (ss *ServerSession) baseHandle(ctx context.Context, _ *ServerSession, method string, params any) (any, error) {
	raw, _ := params.(json.RawMessage)
	switch method {
	case methodPing:
		return &struct{}{}, nil
	case methodListTools:
		p := &ListToolsParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return ss.listTools(p)
	case methodCallTool:
		p := &CallToolParamsRaw{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		res, err := ss.server.tools.call(ctx, ss, p)
		if err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return res, nil
	case methodListPrompts:
		p := &ListPromptsParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return ss.listPrompts(p)
	case methodGetPrompt:
		p := &GetPromptParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		res, err := ss.server.prompts.call(ctx, ss, p)
		if err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return res, nil
	case methodListResources:
		p := &ListResourcesParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return ss.listResources(p)
	case methodListResourceTemplates:
		p := &ListResourceTemplatesParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return ss.listResourceTemplates(p)
	case methodReadResource:
		p := &ReadResourceParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		res, err := ss.server.resources.call(ctx, ss, p)
		if err != nil {
			return nil, err
		}
		return res, nil
	case methodSubscribe:
		p := &SubscribeParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		if ss.server.opts.SubscribeHandler != nil {
			if err := ss.server.opts.SubscribeHandler(ctx, &SubscribeRequest{Session: ss, Params: p}); err != nil {
				return nil, err
			}
		}
		ss.server.resources.subscribe(ss, p.URI)
		return &struct{}{}, nil
	case methodUnsubscribe:
		p := &UnsubscribeParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		if ss.server.opts.UnsubscribeHandler != nil {
			if err := ss.server.opts.UnsubscribeHandler(ctx, &UnsubscribeRequest{Session: ss, Params: p}); err != nil {
				return nil, err
			}
		}
		ss.server.resources.unsubscribe(ss, p.URI)
		return &struct{}{}, nil
	case methodSetLevel:
		p := &SetLoggingLevelParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return ss.setLevel(ctx, p)
	case methodComplete:
		if ss.server.opts.CompletionHandler == nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeMethodNotFound, Message: "no completion handler registered"}
		}
		p := &CompleteParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return ss.server.opts.CompletionHandler(ctx, &CompleteRequest{Session: ss, Params: p})
	default:
		return nil, &jsonrpc.WireError{Code: jsonrpc.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
	}
}

func (ss *ServerSession) handle(ctx context.Context, method string, params any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &jsonrpc.WireError{Code: jsonrpc.CodeInternalError, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()
	ss.server.mu.Lock()
	mws := ss.server.receivingMW
	ss.server.mu.Unlock()
	h := chainMiddleware(ss.baseHandle, mws)
	return h(ctx, ss, method, params)
}

func (ss *ServerSession) listTools(p *ListToolsParams) (*ListToolsResult, error) {
	fs := newFeatureSet(func(t *Tool) string { return t.Name })
	fs.add(ss.server.tools.list()...)
	return paginateList(fs, ss.server.opts.PageSize, p, &ListToolsResult{}, func(r *ListToolsResult, items []*Tool) { r.Tools = items })
}

func (ss *ServerSession) listPrompts(p *ListPromptsParams) (*ListPromptsResult, error) {
	fs := newFeatureSet(func(p *Prompt) string { return p.Name })
	fs.add(ss.server.prompts.list()...)
	return paginateList(fs, ss.server.opts.PageSize, p, &ListPromptsResult{}, func(r *ListPromptsResult, items []*Prompt) { r.Prompts = items })
}

func (ss *ServerSession) listResources(p *ListResourcesParams) (*ListResourcesResult, error) {
	fs := newFeatureSet(func(r *Resource) string { return r.URI })
	fs.add(ss.server.resources.list()...)
	return paginateList(fs, ss.server.opts.PageSize, p, &ListResourcesResult{}, func(r *ListResourcesResult, items []*Resource) { r.Resources = items })
}

func (ss *ServerSession) listResourceTemplates(p *ListResourceTemplatesParams) (*ListResourceTemplatesResult, error) {
	fs := newFeatureSet(func(t *ResourceTemplate) string { return t.URITemplate })
	fs.add(ss.server.resources.listTemplates()...)
	return paginateList(fs, ss.server.opts.PageSize, p, &ListResourceTemplatesResult{}, func(r *ListResourceTemplatesResult, items []*ResourceTemplate) { r.ResourceTemplates = items })
}

func (ss *ServerSession) setLevel(ctx context.Context, p *SetLoggingLevelParams) (*struct{}, error) {
	state, err := ss.server.opts.StateStore.Load(ctx, ss.id())
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &ServerSessionState{InitializeParams: ss.initialized}
	}
	state.LogLevel = p.Level
	if err := ss.server.opts.StateStore.Save(ctx, ss.id(), state); err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

// baseSend is the base MethodHandler for outbound server requests, wrapped by
// any sending middleware installed on the owning Server.
func (ss *ServerSession) baseSend(ctx context.Context, _ *ServerSession, method string, params any) (any, error) {
	raw, err := ss.request(ctx, method, params, ss.server.opts.RequestTimeout)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (ss *ServerSession) call(ctx context.Context, method string, params any, result any) error {
	ss.server.mu.Lock()
	mws := ss.server.sendingMW
	ss.server.mu.Unlock()
	h := chainMiddleware(ss.baseSend, mws)
	v, err := h(ctx, ss, method, params)
	if err != nil {
		return err
	}
	raw, _ := v.(json.RawMessage)
	if result == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, result)
}

// Ping sends a ping request to the client and waits for the reply.
func (ss *ServerSession) Ping(ctx context.Context, p *PingParams) error {
	return ss.call(ctx, methodPing, p, &struct{}{})
}

// NotifyProgress sends a notifications/progress message to the client.
func (ss *ServerSession) NotifyProgress(ctx context.Context, p *ProgressNotificationParams) error {
	return ss.notify(ctx, notificationProgress, p)
}

// SubscribeProgress registers interest in notifications/progress messages
// carrying token, typically one a caller set via SetProgressToken before
// issuing a long-running request to the client (for example sampling). Call
// Unsubscribe on the returned Subscriber once the request completes; the
// session also unsubscribes it automatically on close.
func (ss *ServerSession) SubscribeProgress(token any) *Subscriber {
	return ss.progress.subscribe(token)
}

// Log sends a notifications/message logging notification to the client,
// gated by the session's current logging level: messages below the level
// set by the most recent logging/setLevel are dropped.
func (ss *ServerSession) Log(ctx context.Context, p *LoggingMessageParams) error {
	state, err := ss.server.opts.StateStore.Load(ctx, ss.id())
	if err == nil && state != nil && !loggingLevelAtLeast(p.Level, state.LogLevel) {
		return nil
	}
	return ss.notify(ctx, notificationLoggingMessage, p)
}

// CreateMessage issues a sampling/createMessage request to the client.
func (ss *ServerSession) CreateMessage(ctx context.Context, p *CreateMessageParams) (*CreateMessageResult, error) {
	result := &CreateMessageResult{}
	if err := ss.call(ctx, methodCreateMessage, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Elicit issues an elicitation/create request to the client.
func (ss *ServerSession) Elicit(ctx context.Context, p *ElicitParams) (*ElicitResult, error) {
	if p.Mode == "url" {
		if p.URL == "" {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: "URL must be set for URL elicitation"}
		}
		if p.RequestedSchema != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: "requestedSchema must not be set for URL elicitation"}
		}
	}
	result := &ElicitResult{}
	if err := ss.call(ctx, methodElicit, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListRoots issues a roots/list request to the client.
func (ss *ServerSession) ListRoots(ctx context.Context, p *ListRootsParams) (*ListRootsResult, error) {
	result := &ListRootsResult{}
	if err := ss.call(ctx, methodListRoots, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the session's connection; the in-flight dispatches are
// cancelled and any pending outbound requests resolve with
// ErrConnectionClosed.
func (ss *ServerSession) Close() error { return ss.close(nil) }

// Wait blocks until the session's receive loop has exited, returning the
// error (if any) that caused it to stop.
func (ss *ServerSession) Wait() error { return ss.wait() }

// loggingLevelAtLeast reports whether msg is at least as severe as min,
// per RFC-5424 ordering (lower numeric severity = more severe); an empty
// min means no level has been configured and everything passes.
func loggingLevelAtLeast(msg, min LoggingLevel) bool {
	if min == "" {
		return true
	}
	order := map[LoggingLevel]int{
		"debug": 0, "info": 1, "notice": 2, "warning": 3,
		"error": 4, "critical": 5, "alert": 6, "emergency": 7,
	}
	mo, ok1 := order[msg]
	lo, ok2 := order[min]
	if !ok1 || !ok2 {
		return true
	}
	return mo >= lo
}
