// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"io"
	"sync"

	"github.com/mcpcore/mcpcore-go/jsonrpc"
)

// Connection is one duplex, message-framed link between a session engine and
// its peer. Read and Write operate on already-decoded jsonrpc.Message
// values; framing (newline-delimited bytes, SSE events, WebSocket frames)
// is the concern of the concrete Transport that produced the Connection.
//
// At most one goroutine may call Read at a time; Write may be called
// concurrently with Read and with itself. Close is idempotent and unblocks
// any pending Read with an error.
type Connection interface {
	Read(ctx context.Context) (jsonrpc.Message, error)
	Write(ctx context.Context, msg jsonrpc.Message) error
	Close() error
}

// Transport constructs a Connection bound to one session. A client-role
// transport dials out; a server-role transport is typically handed an
// already-accepted connection (see StreamableServerTransport,
// WebSocketServerTransport.Accept).
type Transport interface {
	Connect(ctx context.Context) (Connection, error)
}

// connFromJSONRPC adapts a jsonrpc.Transport (used by byte-stream transports
// such as stdio) to the Connection interface expected by the session
// engine.
type connFromJSONRPC struct {
	t jsonrpc.Transport
}

func (c *connFromJSONRPC) Read(ctx context.Context) (jsonrpc.Message, error) {
	return c.t.Receive(ctx)
}

func (c *connFromJSONRPC) Write(ctx context.Context, msg jsonrpc.Message) error {
	return c.t.Send(ctx, msg)
}

func (c *connFromJSONRPC) Close() error {
	return c.t.Close()
}

// StdioTransport runs a session over a newline-delimited JSON byte stream,
// the shape used when an MCP server is spawned as a subprocess and talks to
// its parent over stdin/stdout.
type StdioTransport struct {
	Reader io.Reader
	Writer io.Writer
	Closer io.Closer
}

// NewStdioTransport returns a StdioTransport reading from r and writing to
// w; c, if non-nil, is closed when the resulting Connection is closed.
func NewStdioTransport(r io.Reader, w io.Writer, c io.Closer) *StdioTransport {
	return &StdioTransport{Reader: r, Writer: w, Closer: c}
}

func (t *StdioTransport) Connect(ctx context.Context) (Connection, error) {
	return &connFromJSONRPC{t: jsonrpc.NewByteStreamTransport(t.Reader, t.Writer, t.Closer)}, nil
}

// inMemoryTransport hands out a Connection backed by a fixed pair of
// channels; it exists to let NewInMemoryTransports satisfy the Transport
// interface on both ends of an in-process pipe.
type inMemoryTransport struct {
	conn Connection
}

func (t *inMemoryTransport) Connect(ctx context.Context) (Connection, error) {
	return t.conn, nil
}

// NewInMemoryTransports returns a connected pair of Transports wired
// directly to each other through buffered channels, with no serialization
// in between. It is intended for tests and in-process client/server pairs.
func NewInMemoryTransports() (clientTransport, serverTransport Transport) {
	const bufSize = 16
	clientToServer := make(chan jsonrpc.Message, bufSize)
	serverToClient := make(chan jsonrpc.Message, bufSize)

	var closeOnce sync.Once
	closeBoth := func() error {
		closeOnce.Do(func() {
			close(clientToServer)
			close(serverToClient)
		})
		return nil
	}

	clientConn := &jsonrpc.SinkStreamTransport{
		Outgoing:  clientToServer,
		Incoming:  serverToClient,
		CloseFunc: closeBoth,
	}
	serverConn := &jsonrpc.SinkStreamTransport{
		Outgoing:  serverToClient,
		Incoming:  clientToServer,
		CloseFunc: closeBoth,
	}

	return &inMemoryTransport{conn: &connFromJSONRPC{t: clientConn}}, &inMemoryTransport{conn: &connFromJSONRPC{t: serverConn}}
}
