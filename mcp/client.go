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
	"slices"
	"sync"
	"time"

	"github.com/mcpcore/mcpcore-go/jsonrpc"
)

// ClientOptions configures a Client. A nil *ClientOptions is equivalent to
// the zero value.
type ClientOptions struct {
	// RequestTimeout bounds how long an outbound client->server request waits
	// for a reply. Zero means no timeout.
	RequestTimeout time.Duration
	// KeepAlive, if positive, is the interval at which the client pings an
	// idle server session; a failed ping closes the session.
	KeepAlive time.Duration
	// Logger receives session lifecycle and error diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
	// CreateMessageHandler answers sampling/createMessage requests from the
	// server. Nil means the client does not support sampling.
	CreateMessageHandler func(ctx context.Context, req *ClientRequest[*CreateMessageParams]) (*CreateMessageResult, error)
	// ElicitationHandler answers elicitation/create requests from the
	// server. Nil means the client does not support elicitation.
	ElicitationHandler func(ctx context.Context, req *ClientRequest[*ElicitParams]) (*ElicitResult, error)
	// ListRootsHandler answers roots/list requests from the server. Nil
	// means the roots added via [Client.AddRoots] are served directly.
	ListRootsHandler func(ctx context.Context, req *ClientRequest[*ListRootsParams]) (*ListRootsResult, error)

	// ToolListChangedHandler, PromptListChangedHandler, and
	// ResourceListChangedHandler, if set, are called when the server
	// reports that its tools, prompts, or resources list has changed.
	ToolListChangedHandler     func(context.Context, *ToolListChangedRequest)
	PromptListChangedHandler   func(context.Context, *PromptListChangedRequest)
	ResourceListChangedHandler func(context.Context, *ResourceListChangedRequest)
	// ResourceUpdatedHandler, if set, is called when the server reports
	// that a subscribed resource has changed.
	ResourceUpdatedHandler func(context.Context, *ResourceUpdatedNotificationRequest)
	// LoggingMessageHandler, if set, receives notifications/message log
	// entries from the server.
	LoggingMessageHandler func(_ context.Context, req *LoggingMessageRequest)
	// ProgressNotificationHandler, if set, is called when the server
	// reports progress on a long-running client->server request.
	ProgressNotificationHandler func(context.Context, *ProgressNotificationClientRequest)
	// ElicitationCompleteHandler, if set, is called when the server
	// reports that an out-of-band elicitation interaction has completed.
	ElicitationCompleteHandler func(_ context.Context, req *ElicitationCompleteNotificationRequest)

	// Capabilities, if set, is sent verbatim in place of the capabilities
	// [Client.capabilities] would otherwise infer from the configured
	// handlers. Most callers leave this nil.
	Capabilities *ClientCapabilities
}

// Client is one MCP peer acting in the client role: it can issue
// tools/prompts/resources calls against a Server and optionally answer the
// server's sampling, elicitation, and roots requests.
type Client struct {
	impl *Implementation
	opts ClientOptions

	mu          sync.Mutex
	sendingMW   []Middleware[*ClientSession]
	receivingMW []Middleware[*ClientSession]
	sessions     map[*ClientSession]bool
	roots        rootList
	rootsChanged changeDebouncer
}

// NewClient returns a Client identifying itself as impl. opts may be nil.
func NewClient(impl *Implementation, opts *ClientOptions) *Client {
	c := &Client{impl: impl, sessions: make(map[*ClientSession]bool)}
	if opts != nil {
		c.opts = *opts
	}
	if c.opts.Logger == nil {
		c.opts.Logger = slog.Default()
	}
	return c
}

// rootList is the set of roots a Client exposes to servers, guarded by its
// own mutex so AddRoots/RemoveRoots can be called before or after Connect.
type rootList struct {
	mu    sync.Mutex
	roots []*Root
}

func (rl *rootList) add(roots ...*Root) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.roots = append(rl.roots, roots...)
}

func (rl *rootList) remove(uris ...string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, uri := range uris {
		for i, r := range rl.roots {
			if r.URI == uri {
				rl.roots = append(rl.roots[:i], rl.roots[i+1:]...)
				break
			}
		}
	}
}

// all iterates over the roots currently registered, in registration order.
func (rl *rootList) all() iter.Seq[*Root] {
	rl.mu.Lock()
	roots := slices.Clone(rl.roots)
	rl.mu.Unlock()
	return func(yield func(*Root) bool) {
		for _, r := range roots {
			if !yield(r) {
				return
			}
		}
	}
}

// AddRoots adds roots to the set the client exposes to servers. For every
// session already connected, it also sends notifications/roots/list_changed
// so the server knows to re-fetch the list.
func (c *Client) AddRoots(roots ...*Root) {
	c.roots.add(roots...)
	c.rootsChanged.trigger(c.notifyRootsChanged)
}

// RemoveRoots removes the roots with the given URIs. URIs not currently
// registered are ignored. Connected sessions are notified as in AddRoots.
func (c *Client) RemoveRoots(uris ...string) {
	c.roots.remove(uris...)
	c.rootsChanged.trigger(c.notifyRootsChanged)
}

func (c *Client) notifyRootsChanged() {
	c.mu.Lock()
	sessions := make([]*ClientSession, 0, len(c.sessions))
	for cs := range c.sessions {
		sessions = append(sessions, cs)
	}
	c.mu.Unlock()
	for _, cs := range sessions {
		_ = cs.notify(context.Background(), notificationRootsListChanged, &RootsListChangedParams{})
	}
}

// AddSendingMiddleware appends middleware wrapping every outbound call made
// by sessions of this client. Middlewares run outermost-first.
func (c *Client) AddSendingMiddleware(mw ...Middleware[*ClientSession]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendingMW = append(c.sendingMW, mw...)
}

// AddReceivingMiddleware appends middleware wrapping every inbound call
// dispatched by sessions of this client.
func (c *Client) AddReceivingMiddleware(mw ...Middleware[*ClientSession]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivingMW = append(c.receivingMW, mw...)
}

func (c *Client) capabilities() *ClientCapabilities {
	if c.opts.Capabilities != nil {
		return c.opts.Capabilities.clone()
	}
	caps := &ClientCapabilities{}
	if c.opts.CreateMessageHandler != nil {
		caps.Sampling = &SamplingCapabilities{}
	}
	if c.opts.ElicitationHandler != nil {
		caps.Elicitation = &ElicitationCapabilities{}
	}
	// Roots support is implicit: a Client always serves its registered
	// roots (via ListRootsHandler if set, the internal list otherwise) and
	// always reports list-changed support, since AddRoots/RemoveRoots can
	// fire at any time.
	caps.Roots.ListChanged = true
	caps.RootsV2 = &RootCapabilities{ListChanged: true}
	return caps
}

// ClientSessionOptions reserves room for per-connection overrides. Empty
// today; present for API symmetry with Server.Connect.
type ClientSessionOptions struct{}

// Connect binds t as the transport for a new session and runs the
// client-role initialization handshake (§4.G): send initialize, await the
// response, then send the initialized notification.
func (c *Client) Connect(ctx context.Context, t Transport, _ *ClientSessionOptions) (*ClientSession, error) {
	conn, err := t.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect: %w", err)
	}
	cs := &ClientSession{
		session: newSession(roleClient, conn, c.opts.Logger),
		client:  c,
	}
	if err := cs.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.mu.Lock()
	c.sessions[cs] = true
	c.mu.Unlock()

	go cs.run()
	if c.opts.KeepAlive > 0 {
		go keepAlive(cs.session, c.opts.KeepAlive, func(ctx context.Context) error {
			return cs.Ping(ctx, &PingParams{})
		})
	}
	return cs, nil
}

func (c *Client) forgetSession(cs *ClientSession) {
	c.mu.Lock()
	delete(c.sessions, cs)
	c.mu.Unlock()
}

// ClientSession is one server connection established by a Client, after a
// successful initialize/initialized handshake.
type ClientSession struct {
	*session
	client *Client

	// initializeResult is the server's reply to the initialize request,
	// retained so callers can inspect negotiated server info and capabilities.
	initializeResult *InitializeResult
}

func (cs *ClientSession) handshake(ctx context.Context) error {
	params := &InitializeParams{
		Capabilities:    cs.client.capabilities(),
		ClientInfo:      cs.client.impl,
		ProtocolVersion: currentProtocolVersion,
	}
	id := cs.nextRequestID()
	ch := cs.pending.Insert(id)
	if err := cs.conn.Write(ctx, &jsonrpc.Request{ID: id, Method: methodInitialize, Params: params}); err != nil {
		cs.pending.Forget(id)
		return fmt.Errorf("mcp: sending initialize request: %w", err)
	}

	var outcome jsonrpc.Outcome
	select {
	case outcome = <-ch:
	case <-ctx.Done():
		cs.pending.Forget(id)
		return ctx.Err()
	}
	if outcome.Err != nil {
		return outcome.Err
	}
	raw, _ := outcome.Result.(json.RawMessage)
	result := &InitializeResult{}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("mcp: decoding initialize result: %w", err)
	}
	if result.ProtocolVersion != currentProtocolVersion {
		return ErrUnsupportedProtocolVersion
	}

	if err := cs.conn.Write(ctx, &jsonrpc.Notification{Method: notificationInitialized, Params: &InitializedParams{}}); err != nil {
		return fmt.Errorf("mcp: sending initialized notification: %w", err)
	}
	cs.initializeResult = result
	return nil
}

// InitializeResult returns the server's reply to the initialize request that
// established this session, including its negotiated capabilities and
// implementation info.
func (cs *ClientSession) InitializeResult() *InitializeResult {
	return cs.initializeResult
}

func (cs *ClientSession) run() {
	defer close(cs.done)
	defer cs.client.forgetSession(cs)
	err := cs.loop()
	_ = cs.close(err)
}

func (cs *ClientSession) loop() error {
	for {
		msg, err := cs.conn.Read(cs.ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *jsonrpc.Request:
			go cs.dispatchRequest(m)
		case *jsonrpc.Response:
			if !cs.pending.Resolve(m.ID, jsonrpc.Outcome{Result: m.Result}) {
				cs.logger.Warn("mcp: dropping response for unknown id", "id", m.ID.String())
			}
		case *jsonrpc.Error:
			if !cs.pending.Resolve(m.ID, jsonrpc.Outcome{Err: m.Err}) {
				cs.logger.Warn("mcp: dropping error for unknown id", "id", m.ID.String())
			}
		case *jsonrpc.Notification:
			cs.dispatchNotification(m)
		case *jsonrpc.Nil:
			// ignore
		}
	}
}

func (cs *ClientSession) dispatchRequest(req *jsonrpc.Request) {
	dctx, cancel := context.WithCancel(cs.ctx)
	cs.registerInflight(req.ID, cancel)
	defer func() {
		cancel()
		cs.clearInflight(req.ID)
	}()

	result, err := cs.handle(dctx, req.Method, req.Params)
	if err != nil {
		we := wireErrorFrom(err)
		_ = cs.conn.Write(cs.ctx, &jsonrpc.Error{ID: req.ID, Err: we})
		return
	}
	_ = cs.conn.Write(cs.ctx, &jsonrpc.Response{ID: req.ID, Result: result})
}

func (cs *ClientSession) dispatchNotification(n *jsonrpc.Notification) {
	switch n.Method {
	case notificationCancelled:
		p := &CancelledParams{}
		if err := decodeParams(n.Params, p); err == nil {
			if id, ok := toRequestID(p.RequestID); ok {
				cs.cancelInflight(id)
			}
		}
	case notificationToolListChanged:
		if cs.client.opts.ToolListChangedHandler != nil {
			cs.client.opts.ToolListChangedHandler(cs.ctx, &ToolListChangedRequest{Session: cs, Params: &ToolListChangedParams{}})
		}
	case notificationPromptListChanged:
		if cs.client.opts.PromptListChangedHandler != nil {
			cs.client.opts.PromptListChangedHandler(cs.ctx, &PromptListChangedRequest{Session: cs, Params: &PromptListChangedParams{}})
		}
	case notificationResourceListChanged:
		if cs.client.opts.ResourceListChangedHandler != nil {
			cs.client.opts.ResourceListChangedHandler(cs.ctx, &ResourceListChangedRequest{Session: cs, Params: &ResourceListChangedParams{}})
		}
	case notificationResourceUpdated:
		p := &ResourceUpdatedNotificationParams{}
		if err := decodeParams(n.Params, p); err == nil && cs.client.opts.ResourceUpdatedHandler != nil {
			cs.client.opts.ResourceUpdatedHandler(cs.ctx, &ResourceUpdatedNotificationRequest{Session: cs, Params: p})
		}
	case notificationLoggingMessage:
		p := &LoggingMessageParams{}
		if err := decodeParams(n.Params, p); err == nil && cs.client.opts.LoggingMessageHandler != nil {
			cs.client.opts.LoggingMessageHandler(cs.ctx, &LoggingMessageRequest{Session: cs, Params: p})
		}
	case notificationProgress:
		p := &ProgressNotificationParams{}
		if err := decodeParams(n.Params, p); err == nil {
			cs.progress.handleNotification(p)
			if cs.client.opts.ProgressNotificationHandler != nil {
				cs.client.opts.ProgressNotificationHandler(cs.ctx, &ProgressNotificationClientRequest{Session: cs, Params: p})
			}
		}
	case notificationElicitationComplete:
		p := &ElicitationCompleteParams{}
		if err := decodeParams(n.Params, p); err == nil && cs.client.opts.ElicitationCompleteHandler != nil {
			cs.client.opts.ElicitationCompleteHandler(cs.ctx, &ElicitationCompleteNotificationRequest{Session: cs, Params: p})
		}
	default:
		cs.logger.Debug("mcp: unhandled notification", "method", n.Method)
	}
}

func (cs *ClientSession) baseHandle(ctx context.Context, _ *ClientSession, method string, params any) (any, error) {
	raw, _ := params.(json.RawMessage)
	switch method {
	case methodPing:
		return &struct{}{}, nil
	case methodCreateMessage:
		if cs.client.opts.CreateMessageHandler == nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeMethodNotFound, Message: "sampling not supported"}
		}
		p := &CreateMessageParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return cs.client.opts.CreateMessageHandler(ctx, &ClientRequest[*CreateMessageParams]{Session: cs, Params: p})
	case methodElicit:
		if cs.client.opts.ElicitationHandler == nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeMethodNotFound, Message: "elicitation not supported"}
		}
		p := &ElicitParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		return cs.client.opts.ElicitationHandler(ctx, &ClientRequest[*ElicitParams]{Session: cs, Params: p})
	case methodListRoots:
		p := &ListRootsParams{}
		if err := decodeParams(raw, p); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		if cs.client.opts.ListRootsHandler != nil {
			return cs.client.opts.ListRootsHandler(ctx, &ClientRequest[*ListRootsParams]{Session: cs, Params: p})
		}
		return &ListRootsResult{Roots: slices.Collect(cs.client.roots.all())}, nil
	default:
		return nil, &jsonrpc.WireError{Code: jsonrpc.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
	}
}

func (cs *ClientSession) handle(ctx context.Context, method string, params any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &jsonrpc.WireError{Code: jsonrpc.CodeInternalError, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()
	cs.client.mu.Lock()
	mws := cs.client.receivingMW
	cs.client.mu.Unlock()
	h := chainMiddleware(cs.baseHandle, mws)
	return h(ctx, cs, method, params)
}

func (cs *ClientSession) baseSend(ctx context.Context, _ *ClientSession, method string, params any) (any, error) {
	return cs.request(ctx, method, params, cs.client.opts.RequestTimeout)
}

func (cs *ClientSession) call(ctx context.Context, method string, params any, result any) error {
	cs.client.mu.Lock()
	mws := cs.client.sendingMW
	cs.client.mu.Unlock()
	h := chainMiddleware(cs.baseSend, mws)
	v, err := h(ctx, cs, method, params)
	if err != nil {
		return err
	}
	raw, _ := v.(json.RawMessage)
	if result == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, result)
}

// Ping sends a ping request to the server and waits for the reply.
func (cs *ClientSession) Ping(ctx context.Context, p *PingParams) error {
	return cs.call(ctx, methodPing, p, &struct{}{})
}

// CallTool calls a tool on the server.
func (cs *ClientSession) CallTool(ctx context.Context, p *CallToolParams) (*CallToolResult, error) {
	result := &CallToolResult{}
	if err := cs.call(ctx, methodCallTool, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTools lists the tools the server exposes.
func (cs *ClientSession) ListTools(ctx context.Context, p *ListToolsParams) (*ListToolsResult, error) {
	result := &ListToolsResult{}
	if err := cs.call(ctx, methodListTools, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetPrompt resolves a prompt by name.
func (cs *ClientSession) GetPrompt(ctx context.Context, p *GetPromptParams) (*GetPromptResult, error) {
	result := &GetPromptResult{}
	if err := cs.call(ctx, methodGetPrompt, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListPrompts lists the prompts the server exposes.
func (cs *ClientSession) ListPrompts(ctx context.Context, p *ListPromptsParams) (*ListPromptsResult, error) {
	result := &ListPromptsResult{}
	if err := cs.call(ctx, methodListPrompts, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ReadResource reads a resource by URI.
func (cs *ClientSession) ReadResource(ctx context.Context, p *ReadResourceParams) (*ReadResourceResult, error) {
	result := &ReadResourceResult{}
	if err := cs.call(ctx, methodReadResource, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListResources lists the resources the server exposes.
func (cs *ClientSession) ListResources(ctx context.Context, p *ListResourcesParams) (*ListResourcesResult, error) {
	result := &ListResourcesResult{}
	if err := cs.call(ctx, methodListResources, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListResourceTemplates lists the resource templates the server exposes.
func (cs *ClientSession) ListResourceTemplates(ctx context.Context, p *ListResourceTemplatesParams) (*ListResourceTemplatesResult, error) {
	result := &ListResourceTemplatesResult{}
	if err := cs.call(ctx, methodListResourceTemplates, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Subscribe asks the server to notify this session of updates to a
// resource.
func (cs *ClientSession) Subscribe(ctx context.Context, p *SubscribeParams) error {
	return cs.call(ctx, methodSubscribe, p, &struct{}{})
}

// Unsubscribe reverses a prior Subscribe.
func (cs *ClientSession) Unsubscribe(ctx context.Context, p *UnsubscribeParams) error {
	return cs.call(ctx, methodUnsubscribe, p, &struct{}{})
}

// Complete requests argument autocompletion from the server.
func (cs *ClientSession) Complete(ctx context.Context, p *CompleteParams) (*CompleteResult, error) {
	result := &CompleteResult{}
	if err := cs.call(ctx, methodComplete, p, result); err != nil {
		return nil, err
	}
	return result, nil
}

// SetLoggingLevel asks the server to only send notifications/message at or
// above the given level.
func (cs *ClientSession) SetLoggingLevel(ctx context.Context, p *SetLoggingLevelParams) error {
	return cs.call(ctx, methodSetLevel, p, &struct{}{})
}

// NotifyProgress sends a notifications/progress message to the server.
func (cs *ClientSession) NotifyProgress(ctx context.Context, p *ProgressNotificationParams) error {
	return cs.notify(ctx, notificationProgress, p)
}

// SubscribeProgress registers interest in notifications/progress messages
// carrying token, typically one a caller set via SetProgressToken before
// issuing a long-running request. Call Unsubscribe on the returned
// Subscriber once the request completes; the session also unsubscribes it
// automatically on close.
func (cs *ClientSession) SubscribeProgress(token any) *Subscriber {
	return cs.progress.subscribe(token)
}

// ID returns the session identifier assigned by the transport, such as the
// Mcp-Session-Id header value maintained by the streamable HTTP transport.
// Transports with no such concept (e.g. stdio) return "".
func (cs *ClientSession) ID() string {
	if sid, ok := cs.conn.(interface{ SessionID() string }); ok {
		return sid.SessionID()
	}
	return ""
}

// Close closes the session's connection.
func (cs *ClientSession) Close() error { return cs.close(nil) }

// Wait blocks until the session's receive loop has exited, returning the
// error (if any) that caused it to stop.
func (cs *ClientSession) Wait() error { return cs.wait() }
