package mockserver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config declares the subscription fixtures a Server answers with.
// Keys are subscription field names, optionally prefixed with
// "Subscription." for readability in fixture files.
type Config struct {
	Subscriptions map[string]SubscriptionConfig `json:"subscriptions" yaml:"subscriptions"`
}

// SubscriptionConfig is the scripted event stream for one subscription field.
type SubscriptionConfig struct {
	// Events are streamed to the client in order once the subscription starts.
	Events []EventConfig `json:"events,omitempty" yaml:"events,omitempty"`
	// Timing configures pacing between events.
	Timing *TimingConfig `json:"timing,omitempty" yaml:"timing,omitempty"`
}

// EventConfig is a single scripted event. Either Data or Errors is set;
// an event with Errors produces an error frame instead of a data frame.
type EventConfig struct {
	// Data is the payload sent under the "data" key of the frame.
	Data interface{} `json:"data,omitempty" yaml:"data,omitempty"`
	// Errors are GraphQL error messages sent under the "errors" key.
	Errors []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	// Delay postpones this event (e.g. "100ms", "2s").
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// TimingConfig configures pacing applied to every event of a stream.
type TimingConfig struct {
	// FixedDelay is a fixed delay before each event (e.g. "100ms").
	FixedDelay string `json:"fixedDelay,omitempty" yaml:"fixedDelay,omitempty"`
	// RandomDelay is a random delay range before each event (e.g. "100ms-500ms").
	RandomDelay string `json:"randomDelay,omitempty" yaml:"randomDelay,omitempty"`
	// Repeat restarts the event sequence after it completes instead of
	// sending a complete frame.
	Repeat bool `json:"repeat,omitempty" yaml:"repeat,omitempty"`
}

// LoadConfig reads a fixture file in YAML format.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing fixture file %s: %w", path, err)
	}
	return &cfg, nil
}

// lookup resolves the fixture for a subscription field name, trying the
// bare name first and then the "Subscription." prefixed form.
func (c *Config) lookup(fieldName string) (*SubscriptionConfig, bool) {
	if c == nil || c.Subscriptions == nil {
		return nil, false
	}
	if sub, ok := c.Subscriptions[fieldName]; ok {
		return &sub, true
	}
	if sub, ok := c.Subscriptions["Subscription."+fieldName]; ok {
		return &sub, true
	}
	return nil, false
}
