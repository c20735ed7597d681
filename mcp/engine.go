// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpcore/mcpcore-go/jsonrpc"
)

// Errors returned by the session engine, per the handshake and dispatch
// contract.
var (
	ErrConnectionClosed           = errors.New("mcp: connection closed")
	ErrExpectedInitializeRequest  = errors.New("mcp: expected initialize request")
	ErrUnsupportedProtocolVersion = errors.New("mcp: unsupported protocol version")
	ErrUnexpectedResponse        = errors.New("mcp: response id does not match any outstanding request")
	ErrTimeout                    = errors.New("mcp: request timed out")
)

// MethodHandler handles one JSON-RPC call — request or notification — for a
// session of type S (*ServerSession or *ClientSession). params is the raw
// argument value: json.RawMessage for inbound calls, the caller-supplied
// params value for outbound ones. The return value is the result to
// serialize (inbound), or the peer's raw json.RawMessage result (outbound),
// which the session decodes into the caller's result value after the
// middleware chain returns.
type MethodHandler[S any] func(ctx context.Context, sess S, method string, params any) (any, error)

// Middleware wraps a MethodHandler to produce a new one, for logging,
// metrics, or tracing. Middlewares compose outermost-first: the first
// Middleware passed to AddSendingMiddleware/AddReceivingMiddleware is
// called before the second, and so on, with the base dispatcher innermost.
type Middleware[S any] func(MethodHandler[S]) MethodHandler[S]

func chainMiddleware[S any](base MethodHandler[S], mws []Middleware[S]) MethodHandler[S] {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// role records which end of a connection a session plays: server or client.
type role string

const (
	roleServer role = "server"
	roleClient role = "client"
)

// session is the engine shared by ServerSession and ClientSession: one
// transport Connection, a receive loop, a pending-request table for
// outbound requests, and bookkeeping for cancelling in-flight inbound
// dispatches. ServerSession and ClientSession embed *session and add the
// role-specific handshake and dispatch logic on top.
type session struct {
	role   role
	conn   Connection
	logger *slog.Logger

	nextID  atomic.Int64
	pending *jsonrpc.PendingRequests

	mu          sync.Mutex
	inflight    map[jsonrpc.ID]context.CancelFunc
	closed      bool
	closeErr    error
	initialized *InitializeParams // server role only; set after handshake

	progress *progressDispatcher

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // closed when the receive loop exits
}

func newSession(role role, conn Connection, logger *slog.Logger) *session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		role:     role,
		conn:     conn,
		logger:   logger,
		pending:  jsonrpc.NewPendingRequests(),
		inflight: make(map[jsonrpc.ID]context.CancelFunc),
		progress: newProgressDispatcher(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (s *session) nextRequestID() jsonrpc.ID {
	return jsonrpc.Int64ID(s.nextID.Add(1))
}

// request sends method/params as a Request and blocks for the matching
// Response/Error, honoring ctx cancellation and the optional timeout. On
// timeout it notifies the peer with notifications/cancelled and resolves
// locally with ErrTimeout.
func (s *session) request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := s.nextRequestID()
	ch := s.pending.Insert(id)

	req := &jsonrpc.Request{ID: id, Method: method, Params: params}
	if err := s.conn.Write(ctx, req); err != nil {
		s.pending.Forget(id)
		return nil, fmt.Errorf("mcp: sending %s: %w", method, err)
	}

	waitCtx := ctx
	var cancelWait context.CancelFunc
	if timeout > 0 {
		waitCtx, cancelWait = context.WithTimeout(ctx, timeout)
		defer cancelWait()
	}

	select {
	case outcome := <-ch:
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		raw, _ := outcome.Result.(json.RawMessage)
		return raw, nil
	case <-waitCtx.Done():
		s.pending.Forget(id)
		_ = s.notify(context.Background(), notificationCancelled, &CancelledParams{RequestID: id.Raw(), Reason: waitCtx.Err().Error()})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	case <-s.done:
		s.pending.Forget(id)
		return nil, ErrConnectionClosed
	}
}

func (s *session) notify(ctx context.Context, method string, params any) error {
	return s.conn.Write(ctx, &jsonrpc.Notification{Method: method, Params: params})
}

// registerInflight records a cancel func for an inbound request id so that
// a subsequent notifications/cancelled can cancel the dispatch task.
func (s *session) registerInflight(id jsonrpc.ID, cancel context.CancelFunc) {
	s.mu.Lock()
	s.inflight[id] = cancel
	s.mu.Unlock()
}

func (s *session) clearInflight(id jsonrpc.ID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *session) cancelInflight(id jsonrpc.ID) {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// close marks the session closed, cancels every in-flight dispatch, aborts
// pending outbound requests with err, and closes the transport connection.
// It is idempotent; only the first call's err is retained.
func (s *session) close(err error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.closeErr
	}
	s.closed = true
	if err == nil {
		err = ErrConnectionClosed
	}
	s.closeErr = err
	s.mu.Unlock()

	s.cancel()
	s.pending.Clear(err)
	s.progress.clear()
	return s.conn.Close()
}

// wait blocks until the receive loop has exited.
func (s *session) wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// keepAlive pings the peer every interval until s is closed, closing s
// itself the first time a ping fails. It is started as its own goroutine by
// Client.Connect/Server.Connect when KeepAlive is positive.
func keepAlive(s *session, interval time.Duration, ping func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, interval)
			err := ping(ctx)
			cancel()
			if err != nil {
				_ = s.close(err)
				return
			}
		}
	}
}

func decodeParams(raw any, v Params) error {
	switch p := raw.(type) {
	case nil:
		return nil
	case json.RawMessage:
		if len(p) == 0 {
			return nil
		}
		return json.Unmarshal(p, v)
	default:
		return remarshal(raw, v)
	}
}

func wireErrorFrom(err error) *jsonrpc.WireError {
	var we *jsonrpc.WireError
	if errors.As(err, &we) {
		return we
	}
	if errors.Is(err, ErrResourceNotFound) {
		return &jsonrpc.WireError{Code: CodeResourceNotFound, Message: err.Error()}
	}
	if errors.Is(err, ErrToolNotFound) || errors.Is(err, ErrPromptNotFound) {
		return &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	return &jsonrpc.WireError{Code: jsonrpc.CodeInternalError, Message: err.Error()}
}
