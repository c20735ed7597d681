// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

// ServerSessionState is the serializable state of one server session: the
// negotiated initialize parameters and the session's current logging level.
// A ServerSessionStateStore persists this across transport reconnects (for
// streamable-HTTP) or process restarts.
type ServerSessionState struct {
	// InitializeParams are the parameters from the initialize request that
	// established this session.
	InitializeParams *InitializeParams `json:"initializeParams"`

	// LogLevel is the level set by the most recent logging/setLevel request,
	// gating which notifications/message sends reach the peer. The zero value
	// means no level has been set and all messages are delivered.
	LogLevel LoggingLevel `json:"logLevel,omitempty"`
}
