// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Logging levels, expressed as [slog.Level] values so a [LoggingHandler] can
// be driven by an ordinary [slog.Logger]. The four extra RFC-5424 severities
// this protocol defines beyond slog's own four are placed so they sort
// correctly among them: notice between info and warning, and critical,
// alert and emergency above [slog.LevelError].
const (
	LevelDebug     = slog.LevelDebug
	LevelInfo      = slog.LevelInfo
	LevelNotice    = (slog.LevelInfo + slog.LevelWarn) / 2
	LevelWarning   = slog.LevelWarn
	LevelError     = slog.LevelError
	LevelCritical  = slog.LevelError + 4
	LevelAlert     = slog.LevelError + 8
	LevelEmergency = slog.LevelError + 12
)

var slogToWireLevel = map[slog.Level]LoggingLevel{
	LevelDebug:     "debug",
	LevelInfo:      "info",
	LevelNotice:    "notice",
	LevelWarning:   "warning",
	LevelError:     "error",
	LevelCritical:  "critical",
	LevelAlert:     "alert",
	LevelEmergency: "emergency",
}

var wireToSlogLevel = make(map[LoggingLevel]slog.Level)

func init() {
	for sl, wl := range slogToWireLevel {
		wireToSlogLevel[wl] = sl
	}
}

func slogLevelToWire(sl slog.Level) LoggingLevel {
	if wl, ok := slogToWireLevel[sl]; ok {
		return wl
	}
	return "debug"
}

func wireLevelToSlog(wl LoggingLevel) slog.Level {
	if sl, ok := wireToSlogLevel[wl]; ok {
		return sl
	}
	return LevelDebug
}

// LoggingHandlerOptions are options for a LoggingHandler.
type LoggingHandlerOptions struct {
	// LoggerName is the value reported in the "logger" field of logging
	// notifications.
	LoggerName string
	// MinInterval rate-limits how often messages are sent. Zero means no
	// rate limiting.
	MinInterval time.Duration
}

// LoggingHandler is a [slog.Handler] that forwards records to a client as
// notifications/message, honoring the session's currently requested
// logging/setLevel.
type LoggingHandler struct {
	opts LoggingHandlerOptions
	ss   *ServerSession

	// mu guards buf and lastMessageSent; it is a pointer so that clones
	// produced by WithAttrs/WithGroup share it with the original.
	mu              *sync.Mutex
	lastMessageSent time.Time
	buf             *bytes.Buffer
	handler         slog.Handler
}

// NewLoggingHandler returns a LoggingHandler that renders records with a
// [slog.JSONHandler] and delivers them on ss.
func NewLoggingHandler(ss *ServerSession, opts *LoggingHandlerOptions) *LoggingHandler {
	var buf bytes.Buffer
	jsonHandler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			// Level is reported via LoggingMessageParams.Level instead.
			if a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	})
	h := &LoggingHandler{
		ss:      ss,
		mu:      new(sync.Mutex),
		buf:     &buf,
		handler: jsonHandler,
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

// Enabled reports whether level meets the session's currently requested
// logging/setLevel; an unset level lets everything through. This mirrors
// [ServerSession.Log]'s own gating, so the check here is purely an
// optimization that skips rendering a record that would be dropped anyway.
func (h *LoggingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	state, err := h.ss.server.opts.StateStore.Load(ctx, h.ss.id())
	if err != nil || state == nil || state.LogLevel == "" {
		return true
	}
	return level >= wireLevelToSlog(state.LogLevel)
}

// WithAttrs implements [slog.Handler.WithAttrs].
func (h *LoggingHandler) WithAttrs(as []slog.Attr) slog.Handler {
	h2 := *h
	h2.handler = h.handler.WithAttrs(as)
	return &h2
}

// WithGroup implements [slog.Handler.WithGroup].
func (h *LoggingHandler) WithGroup(name string) slog.Handler {
	h2 := *h
	h2.handler = h.handler.WithGroup(name)
	return &h2
}

// Handle renders r with the underlying JSON handler and forwards the result
// to the session as a logging notification.
func (h *LoggingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	skip := h.opts.MinInterval > 0 && time.Since(h.lastMessageSent) < h.opts.MinInterval
	h.mu.Unlock()
	if skip {
		return nil
	}

	var data json.RawMessage
	var err error
	func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.buf.Reset()
		if err = h.handler.Handle(ctx, r); err == nil {
			data = append(json.RawMessage(nil), h.buf.Bytes()...)
		}
	}()
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.lastMessageSent = time.Now()
	h.mu.Unlock()

	// The caller's ctx is passed through deliberately, even though
	// slog.Handler's documentation advises against it: a log message here is
	// a service delivered to the client, not a debugging aid for the
	// server, so cancellation should reach it like any other send.
	return h.ss.Log(ctx, &LoggingMessageParams{
		Logger: h.opts.LoggerName,
		Level:  slogLevelToWire(r.Level),
		Data:   data,
	})
}
