// Package query loads and inspects GraphQL documents used by subscription
// tests. Query sources live in files (conventionally under testdata/) and
// are loaded as raw text; inspection of parsed documents is used by the
// mock server to route subscribe requests.
package query

import (
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Load reads the raw GraphQL document text from the given file path.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("could not load GraphQL resource %q: %w", path, err)
	}
	return string(data), nil
}

// MustLoad reads the raw GraphQL document text from the given file path,
// failing the test if the file cannot be read.
func MustLoad(t testing.TB, path string) string {
	t.Helper()

	src, err := Load(path)
	if err != nil {
		t.Fatalf("test setup failure: %v", err)
	}
	return src
}

// Parse parses a GraphQL executable document.
func Parse(src string) (*ast.QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "document", Input: src})
	if err != nil {
		return nil, fmt.Errorf("could not parse GraphQL document: %w", err)
	}
	return doc, nil
}

// SubscriptionField returns the name and effective arguments of the first
// field selected by the first subscription operation in the document.
//
// The returned argument map contains all entries of the supplied variables
// map plus the field's inline arguments; an argument referencing a declared
// variable resolves to that variable's value when present.
func SubscriptionField(src string, variables map[string]interface{}) (string, map[string]interface{}, error) {
	doc, err := Parse(src)
	if err != nil {
		return "", nil, err
	}

	var op *ast.OperationDefinition
	for _, candidate := range doc.Operations {
		if candidate.Operation == ast.Subscription {
			op = candidate
			break
		}
	}
	if op == nil {
		return "", nil, fmt.Errorf("document contains no subscription operation")
	}

	var field *ast.Field
	for _, sel := range op.SelectionSet {
		if f, ok := sel.(*ast.Field); ok {
			field = f
			break
		}
	}
	if field == nil {
		return "", nil, fmt.Errorf("subscription operation selects no field")
	}

	args := make(map[string]interface{}, len(variables)+len(field.Arguments))
	for k, v := range variables {
		args[k] = v
	}
	for _, arg := range field.Arguments {
		if arg.Value.Kind == ast.Variable {
			if v, ok := variables[arg.Value.Raw]; ok {
				args[arg.Name] = v
			}
			continue
		}
		args[arg.Name] = literalValue(arg.Value)
	}

	return field.Name, args, nil
}

// literalValue converts an AST literal into its Go representation.
func literalValue(v *ast.Value) interface{} {
	switch v.Kind {
	case ast.IntValue:
		i, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			return v.Raw
		}
		return i
	case ast.FloatValue:
		f, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return v.Raw
		}
		return f
	case ast.BooleanValue:
		return v.Raw == "true"
	case ast.NullValue:
		return nil
	case ast.ListValue:
		list := make([]interface{}, 0, len(v.Children))
		for _, child := range v.Children {
			list = append(list, literalValue(child.Value))
		}
		return list
	case ast.ObjectValue:
		obj := make(map[string]interface{}, len(v.Children))
		for _, child := range v.Children {
			obj[child.Name] = literalValue(child.Value)
		}
		return obj
	default:
		// String and enum values carry their text in Raw.
		return v.Raw
	}
}
