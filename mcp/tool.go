// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mcpcore/mcpcore-go/jsonrpc"
)

// A ToolHandler handles a call to tools/call.
// req.Params.Arguments will contain a json.RawMessage containing the arguments.
// args will contain a value that has been validated against the input schema.
type ToolHandler func(ctx context.Context, req *ServerRequest[*CallToolParams], args any) (*CallToolResult, error)

type rawToolHandler func(ctx context.Context, req *ServerRequest[*CallToolParams]) (*CallToolResult, error)

// A serverTool is a tool definition that is bound to a tool handler.
type serverTool struct {
	tool    *Tool
	handler rawToolHandler
	// Resolved tool schemas. Set in newServerTool.
	inputResolved, outputResolved *jsonschema.Resolved
}

// A TypedToolHandler handles a call to tools/call with typed arguments and results.
type TypedToolHandler[In, Out any] func(context.Context, *ServerRequest[*CallToolParams], In) (*CallToolResult, Out, error)

// newServerTool builds a serverTool from t and h. If inputResolved is nil,
// t.InputSchema is resolved directly (it must hold a *jsonschema.Schema);
// newTypedServerTool instead resolves schemas itself, through setSchema, so
// that resolution can be cached.
func newServerTool(t *Tool, h ToolHandler, inputResolved, outputResolved *jsonschema.Resolved) (*serverTool, error) {
	st := &serverTool{tool: t, inputResolved: inputResolved, outputResolved: outputResolved}
	if t.newArgs == nil {
		t.newArgs = func() any { return &map[string]any{} }
	}
	if st.inputResolved == nil {
		if t.InputSchema == nil {
			// This prevents the tool author from forgetting to write a schema
			// where one should be provided. If we papered over this by supplying
			// the empty schema, then every input would be validated and the
			// problem wouldn't be discovered until runtime, when the LLM sent bad
			// data.
			return nil, errors.New("missing input schema")
		}
		inputSchema, ok := t.InputSchema.(*jsonschema.Schema)
		if !ok {
			return nil, fmt.Errorf("input schema: got %T, want *jsonschema.Schema", t.InputSchema)
		}
		var err error
		st.inputResolved, err = inputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return nil, fmt.Errorf("input schema: %w", err)
		}
	}
	if st.outputResolved == nil && t.OutputSchema != nil {
		outputSchema, ok := t.OutputSchema.(*jsonschema.Schema)
		if !ok {
			return nil, fmt.Errorf("output schema: got %T, want *jsonschema.Schema", t.OutputSchema)
		}
		var err error
		st.outputResolved, err = outputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return nil, fmt.Errorf("output schema: %w", err)
		}
	}
	// Ignore output schema.
	st.handler = func(ctx context.Context, req *ServerRequest[*CallToolParams]) (*CallToolResult, error) {
		rawArgs := req.Params.Arguments.(json.RawMessage)
		args := t.newArgs()
		if err := unmarshalSchema(rawArgs, st.inputResolved, args); err != nil {
			return nil, &jsonrpc.WireError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		res, err := h(ctx, req, args)
		// TODO(rfindley): investigate why server errors are embedded in this strange way,
		// rather than returned as jsonrpc2 server errors.
		if err != nil {
			return &CallToolResult{
				Content: []Content{&TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		// TODO(jba): if t.OutputSchema != nil, check that StructuredContent is present and validates.
		return res, nil
	}
	return st, nil
}

// newTypedServerTool creates a serverTool from a tool and a handler.
// If the tool doesn't have an input schema, it is inferred from In.
// If the tool doesn't have an output schema and Out != any, it is inferred from Out.
// cache, if non-nil, is consulted and populated so that repeated
// registration of the same In/Out types or the same pre-built schema
// pointer skips reflection-based inference and resolution.
func newTypedServerTool[In, Out any](t *Tool, h TypedToolHandler[In, Out], cache *schemaCache) (*serverTool, error) {
	assert(t.newArgs == nil, "newArgs is nil")
	t.newArgs = func() any { var x In; return &x }

	var inputResolved, outputResolved *jsonschema.Resolved
	if _, err := setSchema[In](&t.InputSchema, &inputResolved, cache); err != nil {
		return nil, err
	}
	if reflect.TypeFor[Out]() != reflect.TypeFor[any]() {
		if _, err := setSchema[Out](&t.OutputSchema, &outputResolved, cache); err != nil {
			return nil, err
		}
	}

	toolHandler := func(ctx context.Context, req *ServerRequest[*CallToolParams], args any) (*CallToolResult, error) {
		res, out, err := h(ctx, req, *args.(*In))
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = &CallToolResult{}
		}
		// TODO: return the serialized JSON in a TextContent block, as per spec?
		// https://modelcontextprotocol.io/specification/2025-06-18/server/tools#structured-content
		res.StructuredContent = out
		return res, nil
	}
	return newServerTool(t, toolHandler, inputResolved, outputResolved)
}

// unmarshalSchema unmarshals data into v and validates the result according to
// the given resolved schema.
func unmarshalSchema(data json.RawMessage, resolved *jsonschema.Resolved, v any) error {
	// TODO: use reflection to create the struct type to unmarshal into.
	// Separate validation from assignment.

	// Disallow unknown fields.
	// Otherwise, if the tool was built with a struct, the client could send extra
	// fields and json.Unmarshal would ignore them, so the schema would never get
	// a chance to declare the extra args invalid.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshaling: %w", err)
	}

	// TODO: test with nil args.
	if resolved != nil {
		if err := resolved.ApplyDefaults(v); err != nil {
			return fmt.Errorf("applying defaults from \n\t%s\nto\n\t%s:\n%w", schemaJSON(resolved.Schema()), data, err)
		}
		if err := resolved.Validate(v); err != nil {
			return fmt.Errorf("validating\n\t%s\nagainst\n\t %s:\n %w", data, schemaJSON(resolved.Schema()), err)
		}
	}
	return nil
}

// schemaJSON returns the JSON value for s as a string, or a string indicating an error.
func schemaJSON(s *jsonschema.Schema) string {
	m, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("<!%s>", err)
	}
	return string(m)
}

// ErrToolNotFound is returned by a toolRouter when no tool is registered
// under the requested name.
var ErrToolNotFound = errors.New("mcp: tool not found")

// toolRouter is a name-indexed dispatch table for tools/list and tools/call,
// the tool half of the router core. Registration order is preserved for
// listing so that tools/list results are stable across calls.
type toolRouter struct {
	byName map[string]*serverTool
	order  []string
}

func newToolRouter() *toolRouter {
	return &toolRouter{byName: make(map[string]*serverTool)}
}

// addTool registers st under its own name, replacing any existing
// registration of the same name in place (preserving list order).
func (r *toolRouter) addTool(st *serverTool) {
	if _, ok := r.byName[st.tool.Name]; !ok {
		r.order = append(r.order, st.tool.Name)
	}
	r.byName[st.tool.Name] = st
}

// removeTool unregisters the tool named name, if present.
func (r *toolRouter) removeTool(name string) {
	if _, ok := r.byName[name]; !ok {
		return
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// list returns the registered tools in registration order.
func (r *toolRouter) list() []*Tool {
	tools := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.byName[name].tool)
	}
	return tools
}

// call dispatches to the handler registered for params.Name, decoding its raw
// arguments through the tool's resolved input schema. It returns
// ErrToolNotFound, wrapped with the tool name, if no tool is registered.
func (r *toolRouter) call(ctx context.Context, session *ServerSession, params *CallToolParamsRaw) (*CallToolResult, error) {
	st, ok := r.byName[params.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, params.Name)
	}
	req := &ServerRequest[*CallToolParams]{
		Session: session,
		Params: &CallToolParams{
			Meta:      params.Meta,
			Name:      params.Name,
			Arguments: json.RawMessage(params.Arguments),
		},
	}
	return st.handler(ctx, req)
}
