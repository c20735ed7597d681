// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mcpcore/mcpcore-go/jsonrpc"
)

type header map[string]string

// clientRequestKey identifies one request the fake streamable server expects
// to receive from the client under test.
type clientRequestKey struct {
	httpMethod    string
	sessionID     string
	jsonrpcMethod string // "" for GET/DELETE
}

type clientFakeResponse struct {
	header header // additional response headers
	status int    // defaults to http.StatusOK
	body   string
}

// clientFakeServer answers the handful of requests a streamableClientConn
// issues: the initialize POST, the initialized notification, subsequent
// method calls, the standalone hanging GET, and the closing DELETE.
type clientFakeServer struct {
	t         *testing.T
	sessionID string
	responses map[clientRequestKey]clientFakeResponse

	mu     sync.Mutex
	called map[clientRequestKey]bool
}

func (s *clientFakeServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	key := clientRequestKey{httpMethod: req.Method, sessionID: req.Header.Get("Mcp-Session-Id")}
	if req.Method == http.MethodPost {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusInternalServerError)
			return
		}
		msg, err := jsonrpc.DecodeMessage(body)
		if err != nil {
			http.Error(w, "invalid body", http.StatusInternalServerError)
			return
		}
		if r, ok := msg.(*jsonrpc.Request); ok {
			key.jsonrpcMethod = r.Method
		}
	}

	s.mu.Lock()
	if s.called == nil {
		s.called = make(map[clientRequestKey]bool)
	}
	s.called[key] = true
	s.mu.Unlock()

	resp, ok := s.responses[key]
	if !ok {
		// The standalone hanging GET and the closing DELETE are optional from
		// the client's perspective: answer politely rather than failing the
		// whole connection attempt.
		if req.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	for k, v := range resp.header {
		w.Header().Set(k, v)
	}
	status := resp.status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.header["Mcp-Session-Id"] == "" && s.sessionID != "" && key.httpMethod == http.MethodPost && key.jsonrpcMethod == methodInitialize {
		w.Header().Set("Mcp-Session-Id", s.sessionID)
	}
	w.WriteHeader(status)
	w.Write([]byte(resp.body))
}

func (s *clientFakeServer) wasCalled(key clientRequestKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.called[key]
}

func newClientFakeServer(t *testing.T, sessionID string, responses map[clientRequestKey]clientFakeResponse) *clientFakeServer {
	return &clientFakeServer{t: t, sessionID: sessionID, responses: responses}
}

func TestStreamableClientTransportLifecycle(t *testing.T) {
	ctx := context.Background()
	const sessionID = "123"

	initResult := &InitializeResult{
		Capabilities: &ServerCapabilities{
			Tools: &ToolCapabilities{ListChanged: true},
		},
		ProtocolVersion: currentProtocolVersion,
		ServerInfo:      &Implementation{Name: "testServer", Version: "v1.0.0"},
	}

	fake := newClientFakeServer(t, sessionID, map[clientRequestKey]clientFakeResponse{
		{http.MethodPost, "", methodInitialize}: {
			header: header{"Content-Type": "application/json", "Mcp-Session-Id": sessionID},
			body:   jsonBody(t, resp(1, initResult, nil)),
		},
		{http.MethodPost, sessionID, notificationInitialized}: {status: http.StatusAccepted},
	})
	httpServer := httptest.NewServer(fake)
	defer httpServer.Close()

	transport := NewStreamableClientTransport(httpServer.URL, nil)
	client := NewClient(testImpl, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		t.Fatalf("client.Connect() failed: %v", err)
	}
	defer session.Close()

	if got := session.ID(); got != sessionID {
		t.Errorf("session.ID() = %q, want %q", got, sessionID)
	}
	if diff := session.InitializeResult(); diff == nil || diff.ServerInfo.Name != "testServer" {
		t.Errorf("InitializeResult() = %+v, want ServerInfo.Name = testServer", diff)
	}
}

func TestStreamableClientCallToolJSONResponse(t *testing.T) {
	ctx := context.Background()
	const sessionID = "abc"

	initResult := &InitializeResult{
		Capabilities:    &ServerCapabilities{Tools: &ToolCapabilities{}},
		ProtocolVersion: currentProtocolVersion,
		ServerInfo:      &Implementation{Name: "testServer", Version: "v1.0.0"},
	}
	toolResult := &CallToolResult{Content: []Content{&TextContent{Text: "hi"}}}

	fake := newClientFakeServer(t, sessionID, map[clientRequestKey]clientFakeResponse{
		{http.MethodPost, "", methodInitialize}: {
			header: header{"Content-Type": "application/json", "Mcp-Session-Id": sessionID},
			body:   jsonBody(t, resp(1, initResult, nil)),
		},
		{http.MethodPost, sessionID, notificationInitialized}: {status: http.StatusAccepted},
		{http.MethodPost, sessionID, methodCallTool}: {
			header: header{"Content-Type": "application/json"},
			body:   jsonBody(t, resp(2, toolResult, nil)),
		},
	})
	httpServer := httptest.NewServer(fake)
	defer httpServer.Close()

	transport := NewStreamableClientTransport(httpServer.URL, nil)
	client := NewClient(testImpl, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		t.Fatalf("client.Connect() failed: %v", err)
	}
	defer session.Close()

	got, err := session.CallTool(ctx, &CallToolParams{Name: "greet"})
	if err != nil {
		t.Fatalf("CallTool() failed: %v", err)
	}
	if len(got.Content) != 1 {
		t.Fatalf("CallTool() returned %d content items, want 1", len(got.Content))
	}
	tc, ok := got.Content[0].(*TextContent)
	if !ok || tc.Text != "hi" {
		t.Errorf("CallTool() content = %+v, want TextContent{Text: \"hi\"}", got.Content[0])
	}
}

func TestStreamableClientCallToolSSEResponse(t *testing.T) {
	ctx := context.Background()
	const sessionID = "sse-session"

	initResult := &InitializeResult{
		Capabilities:    &ServerCapabilities{Tools: &ToolCapabilities{}},
		ProtocolVersion: currentProtocolVersion,
		ServerInfo:      &Implementation{Name: "testServer", Version: "v1.0.0"},
	}
	toolResult := &CallToolResult{Content: []Content{&TextContent{Text: "streamed"}}}

	fake := newClientFakeServer(t, sessionID, map[clientRequestKey]clientFakeResponse{
		{http.MethodPost, "", methodInitialize}: {
			header: header{"Content-Type": "application/json", "Mcp-Session-Id": sessionID},
			body:   jsonBody(t, resp(1, initResult, nil)),
		},
		{http.MethodPost, sessionID, notificationInitialized}: {status: http.StatusAccepted},
		{http.MethodPost, sessionID, methodCallTool}: {
			header: header{"Content-Type": "text/event-stream"},
			body:   "id: 1\ndata: " + jsonBody(t, resp(2, toolResult, nil)) + "\n\n",
		},
	})
	httpServer := httptest.NewServer(fake)
	defer httpServer.Close()

	transport := NewStreamableClientTransport(httpServer.URL, nil)
	client := NewClient(testImpl, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		t.Fatalf("client.Connect() failed: %v", err)
	}
	defer session.Close()

	got, err := session.CallTool(ctx, &CallToolParams{Name: "greet"})
	if err != nil {
		t.Fatalf("CallTool() failed: %v", err)
	}
	tc, ok := got.Content[0].(*TextContent)
	if !ok || tc.Text != "streamed" {
		t.Errorf("CallTool() content = %+v, want TextContent{Text: \"streamed\"}", got.Content[0])
	}
}

func TestStreamableClientClose(t *testing.T) {
	ctx := context.Background()
	const sessionID = "closeme"

	initResult := &InitializeResult{
		Capabilities:    &ServerCapabilities{Tools: &ToolCapabilities{}},
		ProtocolVersion: currentProtocolVersion,
		ServerInfo:      &Implementation{Name: "testServer", Version: "v1.0.0"},
	}

	fake := newClientFakeServer(t, sessionID, map[clientRequestKey]clientFakeResponse{
		{http.MethodPost, "", methodInitialize}: {
			header: header{"Content-Type": "application/json", "Mcp-Session-Id": sessionID},
			body:   jsonBody(t, resp(1, initResult, nil)),
		},
		{http.MethodPost, sessionID, notificationInitialized}: {status: http.StatusAccepted},
		{http.MethodDelete, sessionID, ""}:                     {},
	})
	httpServer := httptest.NewServer(fake)
	defer httpServer.Close()

	transport := NewStreamableClientTransport(httpServer.URL, nil)
	client := NewClient(testImpl, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		t.Fatalf("client.Connect() failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Errorf("session.Close() failed: %v", err)
	}
	if !fake.wasCalled(clientRequestKey{http.MethodDelete, sessionID, ""}) {
		t.Error("Close() did not send the expected DELETE request")
	}
}

func jsonBody(t *testing.T, msg jsonrpc.Message) string {
	t.Helper()
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encoding failed: %v", err)
	}
	return string(data)
}
