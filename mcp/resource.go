// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yosida95/uritemplate/v3"
)

// A ResourceHandler handles a call to resources/read.
type ResourceHandler func(ctx context.Context, req *ServerRequest[*ReadResourceParams]) (*ReadResourceResult, error)

// serverResource is a concrete resource bound to a handler.
type serverResource struct {
	resource *Resource
	handler  ResourceHandler
}

// serverResourceTemplate is a URI template bound to a handler; any URI
// matching the template is routed to it, the same way a concrete resource
// routes its exact URI.
type serverResourceTemplate struct {
	template *ResourceTemplate
	compiled *uritemplate.Template
	handler  ResourceHandler
}

// CodeResourceNotFound is the JSON-RPC error code returned for resources/read
// calls against a URI with no matching resource or resource template, per
// the MCP-specific range below -32000 reserved for server-defined codes.
const CodeResourceNotFound = -32002

// ErrResourceNotFound is returned by a resourceRouter when no resource or
// resource template matches the requested URI.
var ErrResourceNotFound = errors.New("mcp: resource not found")

// ResourceNotFoundError reports that uri does not match any registered
// resource, for use by a ResourceHandler that looks up a sub-resource of
// its own (e.g. a file within a registered directory).
func ResourceNotFoundError(uri string) error {
	return fmt.Errorf("%w: %q", ErrResourceNotFound, uri)
}

// resourceRouter is a URI-indexed dispatch table for resources/list,
// resources/templates/list, resources/read, and resources/subscribe, the
// resource half of the router core. Concrete resources are matched before
// templates, and templates are tried in registration order.
type resourceRouter struct {
	mu sync.Mutex

	byURI      map[string]*serverResource
	order      []string
	templates  []*serverResourceTemplate

	// subscribers maps a resource URI to the set of sessions subscribed to
	// updates for it.
	subscribers map[string]map[*ServerSession]bool
}

func newResourceRouter() *resourceRouter {
	return &resourceRouter{
		byURI:       make(map[string]*serverResource),
		subscribers: make(map[string]map[*ServerSession]bool),
	}
}

func (r *resourceRouter) addResource(sr *serverResource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byURI[sr.resource.URI]; !ok {
		r.order = append(r.order, sr.resource.URI)
	}
	r.byURI[sr.resource.URI] = sr
}

func (r *resourceRouter) removeResource(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byURI[uri]; !ok {
		return
	}
	delete(r.byURI, uri)
	for i, u := range r.order {
		if u == uri {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *resourceRouter) addResourceTemplate(st *serverResourceTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = append(r.templates, st)
}

func (r *resourceRouter) list() []*Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	resources := make([]*Resource, 0, len(r.order))
	for _, uri := range r.order {
		resources = append(resources, r.byURI[uri].resource)
	}
	return resources
}

func (r *resourceRouter) listTemplates() []*ResourceTemplate {
	r.mu.Lock()
	defer r.mu.Unlock()
	templates := make([]*ResourceTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		templates = append(templates, t.template)
	}
	return templates
}

// resolve returns the handler that should serve uri: an exact match wins,
// otherwise the first matching template, in registration order.
func (r *resourceRouter) resolve(uri string) (ResourceHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sr, ok := r.byURI[uri]; ok {
		return sr.handler, true
	}
	for _, t := range r.templates {
		if _, ok := t.compiled.Match(uri); ok {
			return t.handler, true
		}
	}
	return nil, false
}

func (r *resourceRouter) call(ctx context.Context, session *ServerSession, params *ReadResourceParams) (*ReadResourceResult, error) {
	handler, ok := r.resolve(params.URI)
	if !ok {
		return nil, ResourceNotFoundError(params.URI)
	}
	return handler(ctx, &ServerRequest[*ReadResourceParams]{Session: session, Params: params})
}

// subscribe records session as a subscriber of uri. Per spec.md's
// subscribe/unsubscribe handlers, a session may subscribe to any URI,
// whether or not a resource is currently registered under it.
func (r *resourceRouter) subscribe(session *ServerSession, uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.subscribers[uri]
	if !ok {
		subs = make(map[*ServerSession]bool)
		r.subscribers[uri] = subs
	}
	subs[session] = true
}

func (r *resourceRouter) unsubscribe(session *ServerSession, uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.subscribers[uri]
	if !ok {
		return
	}
	delete(subs, session)
	if len(subs) == 0 {
		delete(r.subscribers, uri)
	}
}

// unsubscribeAll drops every subscription held by session, called when the
// session closes.
func (r *resourceRouter) unsubscribeAll(session *ServerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uri, subs := range r.subscribers {
		delete(subs, session)
		if len(subs) == 0 {
			delete(r.subscribers, uri)
		}
	}
}

// subscribersOf returns the sessions currently subscribed to uri.
func (r *resourceRouter) subscribersOf(uri string) []*ServerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.subscribers[uri]
	sessions := make([]*ServerSession, 0, len(subs))
	for s := range subs {
		sessions = append(sessions, s)
	}
	return sessions
}
