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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoPrimitive(name string, params ...string) Primitive {
	return Primitive{
		Name:   name,
		Params: params,
		Handler: func(_ context.Context, args map[string]string) Result {
			return Result{Message: "ok " + args[params[0]], Found: true}
		},
	}
}

func TestRegistry_RegisterAndReplace(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoPrimitive("dummy_func", "arg1")))

	err := r.Register(echoPrimitive("dummy_func", "arg1"))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	assert.ErrorIs(t, r.Register(Primitive{Name: "nil_handler"}), ErrInvalidPrimitive)
	assert.ErrorIs(t, r.Replace(echoPrimitive("missing", "a")), ErrUnknownPrimitive)
	require.NoError(t, r.Replace(echoPrimitive("dummy_func", "value")))

	p, ok := r.Lookup("dummy_func")
	require.True(t, ok)
	assert.Equal(t, []string{"value"}, p.Params)
}

func TestRegistry_Bind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoPrimitive("search_method_in_class", "method_name", "class_name")))

	args, err := r.Bind("search_method_in_class", []string{"run", "Runner"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"method_name": "run", "class_name": "Runner"}, args)

	args, err = r.Bind("search_method_in_class", []string{"run"}, map[string]string{"class_name": "Runner"})
	require.NoError(t, err)
	assert.Equal(t, "Runner", args["class_name"])

	tests := []struct {
		name       string
		positional []string
		keywords   map[string]string
	}{
		{"too many", []string{"a", "b", "c"}, nil},
		{"too few", []string{"a"}, nil},
		{"unknown keyword", []string{"a"}, map[string]string{"klass": "b"}},
		{"duplicate", []string{"a", "b"}, map[string]string{"method_name": "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Bind("search_method_in_class", tt.positional, tt.keywords)
			assert.ErrorIs(t, err, ErrArityMismatch)
		})
	}

	_, err = r.Bind("nope", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownPrimitive)
}

func TestRegistry_Invoke(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoPrimitive("dummy_func", "arg1")))

	res, err := r.Invoke(context.Background(), "dummy_func", map[string]string{"arg1": "value1"})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "ok value1", res.Message)

	_, err = r.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownPrimitive)
}

func TestNewBackendRegistry(t *testing.T) {
	b := newTestBackend(t, nil)
	r := NewBackendRegistry(b)

	names := make([]string, 0)
	for _, p := range r.List() {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{
		PrimSearchClass, PrimSearchClassInFile, PrimSearchMethodInFile, PrimSearchMethodInClass,
		PrimSearchMethod, PrimSearchCode, PrimSearchCodeInFile, PrimGetClassFullSnippet,
		PrimGetFileContent, PrimGetCodeAroundLine,
	}, names)
	assert.Contains(t, r.Describe(), "- search_method_in_class(method_name, class_name)")

	args, err := r.Bind(PrimSearchMethodInClass, []string{"area", "Square"}, nil)
	require.NoError(t, err)
	res, err := r.Invoke(context.Background(), PrimSearchMethodInClass, args)
	require.NoError(t, err)
	assert.True(t, res.Found)
}
