// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast extracts the structural outline of Python source files:
// classes with their bases and methods, and module-level functions.
package ast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// MaxFileSize is the largest file ParseFile will read.
const MaxFileSize = 10 * 1024 * 1024

var (
	// ErrFileTooLarge indicates the file exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent indicates the content is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")
)

// Definition is a named, line-delimited region of a source file.
//
// Lines are 1-based and inclusive. StartLine includes decorators.
// SignatureEnd is the line holding the colon that opens the body.
type Definition struct {
	Name         string
	StartLine    int
	EndLine      int
	SignatureEnd int
}

// Class is a class definition with its direct methods.
type Class struct {
	Definition

	// Bases are the base class names. See ClassBases for the extraction rules.
	Bases   []string
	Methods []Definition
}

// Module is the outline of one Python file.
type Module struct {
	Path      string
	Classes   []Class
	Functions []Definition

	// HasErrors is true when tree-sitter recovered from syntax errors.
	// The outline is still usable but may be incomplete.
	HasErrors bool
}

// ParseFile reads and parses the Python file at path.
//
// Outputs:
//   - *Module: The outline. Never nil on success.
//   - []byte: The raw file content, so callers can slice snippets without a
//     second read.
//   - error: Read failures, ErrFileTooLarge, ErrInvalidContent, or ctx errors.
func ParseFile(ctx context.Context, path string) (*Module, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return nil, nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, info.Size())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	mod, err := ParseSource(ctx, path, content)
	if err != nil {
		return nil, nil, err
	}
	return mod, content, nil
}

// ParseSource parses Python source held in memory.
//
// Description:
//
//	Every class definition in the file is collected, including classes nested
//	inside other classes or functions, so that inner classes such as Django's
//	Meta remain searchable. Methods are the function definitions placed
//	directly in a class body. Functions are the module-level function
//	definitions only.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - path: Recorded in the result; not read.
//   - content: UTF-8 Python source.
//
// Outputs:
//   - *Module: The outline.
//   - error: ErrInvalidContent or a parse/context error.
//
// Thread Safety: Safe for concurrent use. A new tree-sitter parser is created
// per call.
func ParseSource(ctx context.Context, path string, content []byte) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidContent, path)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	mod := &Module{Path: path}
	if root == nil {
		return mod, nil
	}
	if root.HasError() {
		mod.HasErrors = true
		slog.Debug("python source contains syntax errors", slog.String("file", path))
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if def, fn := unwrapDecorated(child); fn != nil && fn.Type() == "function_definition" {
			if d, ok := definitionOf(def, fn, content); ok {
				mod.Functions = append(mod.Functions, d)
			}
		}
	}

	collectClasses(root, content, &mod.Classes)
	return mod, nil
}

// unwrapDecorated returns the outer node (for line ranges) and the inner
// definition node. Undecorated nodes are returned as both.
func unwrapDecorated(node *sitter.Node) (outer, inner *sitter.Node) {
	if node.Type() != "decorated_definition" {
		return node, node
	}
	return node, node.ChildByFieldName("definition")
}

func collectClasses(node *sitter.Node, content []byte, out *[]Class) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		outer, inner := unwrapDecorated(child)
		next := child
		if inner != nil && inner.Type() == "class_definition" {
			if cls, ok := classOf(outer, inner, content); ok {
				*out = append(*out, cls)
			}
			next = inner
		}
		collectClasses(next, content, out)
	}
}

func classOf(outer, node *sitter.Node, content []byte) (Class, bool) {
	def, ok := definitionOf(outer, node, content)
	if !ok {
		return Class{}, false
	}
	cls := Class{
		Definition: def,
		Bases:      ClassBases(node, content),
	}
	body := node.ChildByFieldName("body")
	if body == nil {
		return cls, true
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		mOuter, mInner := unwrapDecorated(body.NamedChild(i))
		if mInner == nil || mInner.Type() != "function_definition" {
			continue
		}
		if m, ok := definitionOf(mOuter, mInner, content); ok {
			cls.Methods = append(cls.Methods, m)
		}
	}
	return cls, true
}

func definitionOf(outer, node *sitter.Node, content []byte) (Definition, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Definition{}, false
	}
	d := Definition{
		Name:      nameNode.Content(content),
		StartLine: int(outer.StartPoint().Row + 1),
		EndLine:   int(outer.EndPoint().Row + 1),
	}
	d.SignatureEnd = int(node.StartPoint().Row + 1)
	for i := 0; i < int(node.ChildCount()); i++ {
		if c := node.Child(i); c.Type() == ":" {
			d.SignatureEnd = int(c.StartPoint().Row + 1)
			break
		}
	}
	return d, true
}

// ClassBases extracts the base class list of a class_definition node.
//
// Description:
//
//	Keyword arguments (metaclass=...) are ignored, as is the implicit
//	"object" base. A plain name contributes itself; a dotted name contributes
//	its last component so it matches the bare names held by the index. A
//	dynamic base built with type(...) contributes the source text of the
//	call's first argument, quotes included:
//
//	    class Baz(C, type('E', (), {}), object): ...   // ["C", "'E'"]
//
// Thread Safety: Safe for concurrent use.
func ClassBases(node *sitter.Node, content []byte) []string {
	args := node.ChildByFieldName("superclasses")
	if args == nil {
		return nil
	}
	var bases []string
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		switch arg.Type() {
		case "identifier":
			if name := arg.Content(content); name != "object" {
				bases = append(bases, name)
			}
		case "attribute":
			full := arg.Content(content)
			bases = append(bases, full[strings.LastIndex(full, ".")+1:])
		case "call":
			fn := arg.ChildByFieldName("function")
			if fn == nil || fn.Content(content) != "type" {
				continue
			}
			callArgs := arg.ChildByFieldName("arguments")
			if callArgs != nil && callArgs.NamedChildCount() > 0 {
				bases = append(bases, callArgs.NamedChild(0).Content(content))
			}
		}
	}
	return bases
}
