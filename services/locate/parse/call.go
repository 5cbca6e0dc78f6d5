// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package parse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ErrInvalidCall indicates text that is not a single call expression.
var ErrInvalidCall = errors.New("invalid call expression")

// Call is a decoded call expression.
//
// Args hold the literal source text of each positional argument with
// surrounding whitespace and quotes removed; nothing is evaluated, so a
// nested call is kept verbatim. Keywords hold keyword arguments the same way.
type Call struct {
	Name     string
	Args     []string
	Keywords map[string]string
}

// DecodeCall parses text as a single Python call expression.
//
// Description:
//
//	Surrounding whitespace and backticks are removed first, since models
//	often quote calls as inline code. The callee must be a name or a dotted
//	attribute; for an attribute the last component is the call name
//	(self.search_class(...) decodes as search_class).
//
// Examples:
//
//	DecodeCall(`search_method_in_class("run", 'Runner')`)
//	// Call{Name: "search_method_in_class", Args: ["run", "Runner"]}
//
//	DecodeCall(`f(g(1), x="y")`)
//	// Call{Name: "f", Args: ["g(1)"], Keywords: {"x": "y"}}
//
// Outputs:
//   - Call: The decoded call.
//   - error: ErrInvalidCall wrapping the reason.
//
// Thread Safety: Safe for concurrent use.
func DecodeCall(text string) (Call, error) {
	src := strings.TrimSpace(text)
	src = strings.Trim(src, "`")
	src = strings.TrimSpace(src)
	if src == "" {
		return Call{}, fmt.Errorf("%w: empty input", ErrInvalidCall)
	}
	content := []byte(src)

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return Call{}, fmt.Errorf("%w: %v", ErrInvalidCall, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		return Call{}, fmt.Errorf("%w: syntax error in %q", ErrInvalidCall, src)
	}
	if root.NamedChildCount() != 1 {
		return Call{}, fmt.Errorf("%w: expected one statement in %q", ErrInvalidCall, src)
	}
	stmt := root.NamedChild(0)
	if stmt.Type() != "expression_statement" || stmt.NamedChildCount() != 1 {
		return Call{}, fmt.Errorf("%w: not an expression in %q", ErrInvalidCall, src)
	}
	call := stmt.NamedChild(0)
	if call.Type() != "call" {
		return Call{}, fmt.Errorf("%w: not a call in %q", ErrInvalidCall, src)
	}

	fn := call.ChildByFieldName("function")
	var name string
	switch {
	case fn == nil:
	case fn.Type() == "identifier":
		name = fn.Content(content)
	case fn.Type() == "attribute":
		if attr := fn.ChildByFieldName("attribute"); attr != nil {
			name = attr.Content(content)
		}
	}
	if name == "" {
		return Call{}, fmt.Errorf("%w: unsupported callee in %q", ErrInvalidCall, src)
	}

	out := Call{Name: name, Args: []string{}}
	args := call.ChildByFieldName("arguments")
	if args == nil || args.Type() != "argument_list" {
		return Call{}, fmt.Errorf("%w: unsupported arguments in %q", ErrInvalidCall, src)
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		switch arg.Type() {
		case "comment":
			continue
		case "keyword_argument":
			k := arg.ChildByFieldName("name")
			v := arg.ChildByFieldName("value")
			if k == nil || v == nil {
				return Call{}, fmt.Errorf("%w: malformed keyword argument in %q", ErrInvalidCall, src)
			}
			if out.Keywords == nil {
				out.Keywords = make(map[string]string)
			}
			out.Keywords[k.Content(content)] = cleanArg(v.Content(content))
		case "list_splat", "dictionary_splat":
			return Call{}, fmt.Errorf("%w: unpacked arguments in %q", ErrInvalidCall, src)
		default:
			out.Args = append(out.Args, cleanArg(arg.Content(content)))
		}
	}
	return out, nil
}

// cleanArg trims whitespace, then single quotes, then double quotes.
func cleanArg(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "'")
	return strings.Trim(s, `"`)
}
