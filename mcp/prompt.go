// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// A PromptHandler handles a call to prompts/get.
type PromptHandler func(ctx context.Context, req *ServerRequest[*GetPromptParams]) (*GetPromptResult, error)

// serverPrompt is a prompt definition bound to a handler.
type serverPrompt struct {
	prompt  *Prompt
	handler PromptHandler
}

// ErrPromptNotFound is returned by a promptRouter when no prompt is
// registered under the requested name.
var ErrPromptNotFound = errors.New("mcp: prompt not found")

const (
	maxPromptArgLen       = 1000
	maxPromptTotalArgsLen = 10000
)

// dangerousArgPatterns are substrings rejected from any prompt argument
// value, guarding against path traversal and template/script injection into
// prompts whose text is often relayed verbatim to a model or a UI.
var dangerousArgPatterns = []string{"../", "//", `\\`, "<script>", "{{", "}}"}

// promptRouter is a name-indexed dispatch table for prompts/list and
// prompts/get, the prompt half of the router core.
type promptRouter struct {
	byName map[string]*serverPrompt
	order  []string
}

func newPromptRouter() *promptRouter {
	return &promptRouter{byName: make(map[string]*serverPrompt)}
}

func (r *promptRouter) addPrompt(sp *serverPrompt) {
	if _, ok := r.byName[sp.prompt.Name]; !ok {
		r.order = append(r.order, sp.prompt.Name)
	}
	r.byName[sp.prompt.Name] = sp
}

func (r *promptRouter) removePrompt(name string) {
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

func (r *promptRouter) list() []*Prompt {
	prompts := make([]*Prompt, 0, len(r.order))
	for _, name := range r.order {
		prompts = append(prompts, r.byName[name].prompt)
	}
	return prompts
}

// validateArguments enforces the argument rules common to every prompt
// call: every declared required argument must be present and non-empty,
// and no key or value may exceed the length limits or contain a dangerous
// pattern.
func validateArguments(p *Prompt, args map[string]string) error {
	total := 0
	for _, a := range p.Arguments {
		if a.Required {
			v, ok := args[a.Name]
			if !ok || v == "" {
				return fmt.Errorf("missing required argument %q", a.Name)
			}
		}
	}
	for k, v := range args {
		if len(k) > maxPromptArgLen || len(v) > maxPromptArgLen {
			return fmt.Errorf("argument %q exceeds %d character limit", k, maxPromptArgLen)
		}
		total += len(k) + len(v)
		for _, pat := range dangerousArgPatterns {
			if strings.Contains(k, pat) || strings.Contains(v, pat) {
				return fmt.Errorf("argument %q contains disallowed pattern %q", k, pat)
			}
		}
	}
	if total > maxPromptTotalArgsLen {
		return fmt.Errorf("arguments exceed %d character total limit", maxPromptTotalArgsLen)
	}
	return nil
}

func (r *promptRouter) call(ctx context.Context, session *ServerSession, params *GetPromptParams) (*GetPromptResult, error) {
	sp, ok := r.byName[params.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPromptNotFound, params.Name)
	}
	if err := validateArguments(sp.prompt, params.Arguments); err != nil {
		return nil, err
	}
	return sp.handler(ctx, &ServerRequest[*GetPromptParams]{Session: session, Params: params})
}
