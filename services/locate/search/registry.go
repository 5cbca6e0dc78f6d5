// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownPrimitive indicates a name with no registered primitive.
	ErrUnknownPrimitive = errors.New("unknown search primitive")

	// ErrArityMismatch indicates arguments that do not bind to the
	// primitive's declared parameters.
	ErrArityMismatch = errors.New("argument mismatch")

	// ErrAlreadyRegistered indicates a duplicate Register call.
	ErrAlreadyRegistered = errors.New("primitive already registered")

	// ErrInvalidPrimitive indicates a primitive without a name or handler.
	ErrInvalidPrimitive = errors.New("invalid primitive")
)

// Handler executes a primitive with arguments bound by parameter name.
type Handler func(ctx context.Context, args map[string]string) Result

// Primitive is a named, model-callable search operation.
type Primitive struct {
	Name        string
	Params      []string
	Description string
	Handler     Handler
}

// Signature renders "name(param1, param2)".
func (p Primitive) Signature() string {
	return p.Name + "(" + strings.Join(p.Params, ", ") + ")"
}

// Registry maps primitive names to handlers and parameter lists.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Primitive
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Primitive)}
}

// Register adds p. Returns ErrAlreadyRegistered for a duplicate name; use
// Replace to swap an existing handler.
func (r *Registry) Register(p Primitive) error {
	if p.Name == "" || p.Handler == nil {
		return fmt.Errorf("%w: %q", ErrInvalidPrimitive, p.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[p.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, p.Name)
	}
	r.entries[p.Name] = p
	return nil
}

// Replace swaps the definition of an already registered primitive.
func (r *Registry) Replace(p Primitive) error {
	if p.Name == "" || p.Handler == nil {
		return fmt.Errorf("%w: %q", ErrInvalidPrimitive, p.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[p.Name]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownPrimitive, p.Name)
	}
	r.entries[p.Name] = p
	return nil
}

// Lookup returns the primitive registered under name.
func (r *Registry) Lookup(name string) (Primitive, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.entries[name]
	return p, ok
}

// List returns all primitives sorted by name.
func (r *Registry) List() []Primitive {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Primitive, 0, len(r.entries))
	for _, p := range r.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Describe renders one line per primitive for inclusion in prompts.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, p := range r.List() {
		fmt.Fprintf(&b, "- %s", p.Signature())
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Bind maps positional and keyword arguments onto the declared parameters
// of name.
//
// Description:
//
//	Positional arguments bind in declaration order. Keyword arguments bind by
//	name and may not repeat a positionally bound parameter. Every declared
//	parameter must end up bound exactly once.
//
// Outputs:
//   - map[string]string: Parameter name to argument text.
//   - error: ErrUnknownPrimitive or ErrArityMismatch.
func (r *Registry) Bind(name string, positional []string, keywords map[string]string) (map[string]string, error) {
	p, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrimitive, name)
	}
	if len(positional) > len(p.Params) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrArityMismatch, p.Signature(), len(p.Params), len(positional))
	}
	bound := make(map[string]string, len(p.Params))
	for i, v := range positional {
		bound[p.Params[i]] = v
	}
	for k, v := range keywords {
		if !containsString(p.Params, k) {
			return nil, fmt.Errorf("%w: %s has no parameter %q", ErrArityMismatch, p.Signature(), k)
		}
		if _, dup := bound[k]; dup {
			return nil, fmt.Errorf("%w: %s got multiple values for %q", ErrArityMismatch, p.Signature(), k)
		}
		bound[k] = v
	}
	for _, param := range p.Params {
		if _, ok := bound[param]; !ok {
			return nil, fmt.Errorf("%w: %s is missing %q", ErrArityMismatch, p.Signature(), param)
		}
	}
	return bound, nil
}

// Invoke runs the named primitive with already bound arguments.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]string) (Result, error) {
	p, ok := r.Lookup(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownPrimitive, name)
	}

	ctx, span := startPrimitiveSpan(ctx, name, args)
	defer span.End()
	start := time.Now()

	res := p.Handler(ctx, args)

	setPrimitiveSpanResult(span, res)
	recordPrimitiveMetrics(name, time.Since(start), res.Found)
	return res, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Names of the built-in primitives, as the model writes them.
const (
	PrimSearchClass         = "search_class"
	PrimSearchClassInFile   = "search_class_in_file"
	PrimSearchMethodInFile  = "search_method_in_file"
	PrimSearchMethodInClass = "search_method_in_class"
	PrimSearchMethod        = "search_method"
	PrimSearchCode          = "search_code"
	PrimSearchCodeInFile    = "search_code_in_file"
	PrimGetClassFullSnippet = "get_class_full_snippet"
	PrimGetFileContent      = "get_file_content"
	PrimGetCodeAroundLine   = "get_code_around_line"
)

// NewBackendRegistry registers every model-callable primitive of b.
func NewBackendRegistry(b *Backend) *Registry {
	r := NewRegistry()
	prims := []Primitive{
		{
			Name: PrimSearchClass, Params: []string{"class_name"},
			Description: "signatures of a class and its methods",
			Handler: func(ctx context.Context, a map[string]string) Result {
				return b.SearchClass(ctx, a["class_name"])
			},
		},
		{
			Name: PrimSearchClassInFile, Params: []string{"class_name", "file_name"},
			Description: "full definition of a class in a given file",
			Handler: func(ctx context.Context, a map[string]string) Result {
				return b.SearchClassInFile(ctx, a["class_name"], a["file_name"])
			},
		},
		{
			Name: PrimSearchMethodInFile, Params: []string{"method_name", "file_path"},
			Description: "a method or function in a given file",
			Handler: func(ctx context.Context, a map[string]string) Result {
				return b.SearchMethodInFile(ctx, a["method_name"], a["file_path"])
			},
		},
		{
			Name: PrimSearchMethodInClass, Params: []string{"method_name", "class_name"},
			Description: "a method of a class, including inherited methods",
			Handler: func(ctx context.Context, a map[string]string) Result {
				return b.SearchMethodInClass(ctx, a["method_name"], a["class_name"])
			},
		},
		{
			Name: PrimSearchMethod, Params: []string{"method_name"},
			Description: "a method or function anywhere in the codebase",
			Handler: func(ctx context.Context, a map[string]string) Result {
				return b.SearchMethod(ctx, a["method_name"])
			},
		},
		{
			Name: PrimSearchCode, Params: []string{"code_str"},
			Description: "code containing a string anywhere in the codebase",
			Handler: func(ctx context.Context, a map[string]string) Result {
				return b.SearchCode(ctx, a["code_str"])
			},
		},
		{
			Name: PrimSearchCodeInFile, Params: []string{"code_str", "file_path"},
			Description: "code containing a string in a given file",
			Handler: func(ctx context.Context, a map[string]string) Result {
				return b.SearchCodeInFile(ctx, a["code_str"], a["file_path"])
			},
		},
		{
			Name: PrimGetClassFullSnippet, Params: []string{"class_name"},
			Description: "full definition of a class",
			Handler: func(ctx context.Context, a map[string]string) Result {
				return b.GetClassFullSnippet(ctx, a["class_name"])
			},
		},
		{
			Name: PrimGetFileContent, Params: []string{"file_path"},
			Description: "full content of a file",
			Handler: func(ctx context.Context, a map[string]string) Result {
				return b.GetFileContent(ctx, a["file_path"])
			},
		},
		{
			Name: PrimGetCodeAroundLine, Params: []string{"file_path", "line_number", "window_size"},
			Description: "lines around a line number in a file",
			Handler: func(ctx context.Context, a map[string]string) Result {
				return b.GetCodeAroundLine(ctx, a["file_path"], a["line_number"], a["window_size"])
			},
		},
	}
	for _, p := range prims {
		// Names are unique and handlers non-nil, so Register cannot fail here.
		_ = r.Register(p)
	}
	return r
}
