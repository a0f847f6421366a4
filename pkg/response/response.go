// Package response wraps decoded GraphQL responses for test assertions.
//
// A Response is built from the payload of a "data" or "error" message
// received over a subscription. Fields are addressed with JSONPath
// expressions; plain dot paths like "data.messageAdded.text" are accepted
// as shorthand for "$.data.messageAdded.text".
package response

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/ohler55/ojg/jp"
)

// Response is an immutable decoded GraphQL response payload.
type Response struct {
	raw  json.RawMessage
	body interface{}
}

// New decodes a response payload. The payload must be a valid JSON value.
func New(payload []byte) (*Response, error) {
	var body interface{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("response payload is not valid JSON: %w", err)
	}

	raw := make(json.RawMessage, len(payload))
	copy(raw, payload)

	return &Response{raw: raw, body: body}, nil
}

// Raw returns the response payload exactly as it arrived on the wire.
func (r *Response) Raw() string {
	return string(r.raw)
}

// Get evaluates a JSONPath expression against the response and returns the
// first matching value. Returns an error if the expression is invalid or
// matches nothing.
func (r *Response) Get(path string) (interface{}, error) {
	expr, err := jp.ParseString(normalizePath(path))
	if err != nil {
		return nil, fmt.Errorf("invalid response path %q: %w", path, err)
	}

	results := expr.Get(r.body)
	if len(results) == 0 {
		return nil, fmt.Errorf("no value at path %q in response: %s", path, r.raw)
	}

	return results[0], nil
}

// Field returns the value at the given path, failing the test if the path
// is invalid or matches nothing.
func (r *Response) Field(t testing.TB, path string) interface{} {
	t.Helper()

	v, err := r.Get(path)
	if err != nil {
		t.Fatalf("response field lookup failed: %v", err)
	}
	return v
}

// FieldString returns the string value at the given path, failing the test
// if the value is missing or not a string.
func (r *Response) FieldString(t testing.TB, path string) string {
	t.Helper()

	v := r.Field(t, path)
	s, ok := v.(string)
	if !ok {
		t.Fatalf("response field %q is %T, not a string\nresponse: %s", path, v, r.raw)
	}
	return s
}

// AssertField asserts that the value at the given path equals the expected
// value. JSON numbers are compared numerically, so AssertField(t, path, 2)
// matches a payload value of 2.0.
func (r *Response) AssertField(t testing.TB, path string, expected interface{}) {
	t.Helper()

	actual := r.Field(t, path)
	if !valuesEqual(actual, expected) {
		t.Errorf("response field %q mismatch\nexpected: %v (%T)\nactual: %v (%T)\nresponse: %s",
			path, expected, expected, actual, actual, r.raw)
	}
}

// HasErrors reports whether the response carries a non-empty "errors" array.
func (r *Response) HasErrors() bool {
	m, ok := r.body.(map[string]interface{})
	if !ok {
		return false
	}
	errs, ok := m["errors"].([]interface{})
	return ok && len(errs) > 0
}

// ErrorMessages returns the message of each entry in the "errors" array,
// in order. Returns nil if the response has no errors.
func (r *Response) ErrorMessages() []string {
	m, ok := r.body.(map[string]interface{})
	if !ok {
		return nil
	}
	errs, ok := m["errors"].([]interface{})
	if !ok {
		return nil
	}

	var messages []string
	for _, e := range errs {
		entry, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		if msg, ok := entry["message"].(string); ok {
			messages = append(messages, msg)
		}
	}
	return messages
}

// normalizePath accepts plain dot paths as shorthand for rooted JSONPath.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "$") {
		return path
	}
	return "$." + path
}

// valuesEqual compares two values for equality, coercing numeric types so
// that decoded JSON numbers (float64) compare equal to Go integers.
func valuesEqual(actual, expected interface{}) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}

	if reflect.DeepEqual(actual, expected) {
		return true
	}

	actualNum, actualIsNum := toFloat64(actual)
	expectedNum, expectedIsNum := toFloat64(expected)
	if actualIsNum && expectedIsNum {
		return actualNum == expectedNum
	}

	return false
}

// toFloat64 attempts to convert a value to float64.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}
