package query

import (
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	src, err := Load("testdata/message-added.graphql")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !strings.Contains(src, "messageAdded") {
		t.Errorf("Load() returned unexpected content: %q", src)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/does-not-exist.graphql")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(`subscription { broken`)
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSubscriptionField(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		variables map[string]interface{}
		wantField string
		wantArgs  map[string]interface{}
		wantErr   bool
	}{
		{
			name:      "simple subscription",
			src:       `subscription { messageAdded { id } }`,
			wantField: "messageAdded",
			wantArgs:  map[string]interface{}{},
		},
		{
			name:      "named subscription",
			src:       `subscription OnMessage { messageAdded { id } }`,
			wantField: "messageAdded",
			wantArgs:  map[string]interface{}{},
		},
		{
			name:      "inline string argument",
			src:       `subscription { messageAdded(channel: "general") { id } }`,
			wantField: "messageAdded",
			wantArgs:  map[string]interface{}{"channel": "general"},
		},
		{
			name:      "inline int and bool arguments",
			src:       `subscription { countdown(from: 10, fast: true) }`,
			wantField: "countdown",
			wantArgs:  map[string]interface{}{"from": int64(10), "fast": true},
		},
		{
			name:      "declared variable",
			src:       `subscription Sub($channel: String!) { messageAdded(channel: $channel) { id } }`,
			variables: map[string]interface{}{"channel": "tech"},
			wantField: "messageAdded",
			wantArgs:  map[string]interface{}{"channel": "tech"},
		},
		{
			name:      "unbound variable is omitted",
			src:       `subscription Sub($channel: String!) { messageAdded(channel: $channel) { id } }`,
			wantField: "messageAdded",
			wantArgs:  map[string]interface{}{},
		},
		{
			name:    "no subscription operation",
			src:     `query { user { id } }`,
			wantErr: true,
		},
		{
			name:    "unparseable document",
			src:     `subscription {`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, args, err := SubscriptionField(tt.src, tt.variables)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got field %q", field)
				}
				return
			}
			if err != nil {
				t.Fatalf("SubscriptionField() error = %v", err)
			}
			if field != tt.wantField {
				t.Errorf("field = %q, want %q", field, tt.wantField)
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("args = %v, want %v", args, tt.wantArgs)
			}
			for k, want := range tt.wantArgs {
				if got := args[k]; got != want {
					t.Errorf("args[%q] = %v (%T), want %v (%T)", k, got, got, want, want)
				}
			}
		})
	}
}
