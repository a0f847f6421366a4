package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gqlsubtest/gqlsubtest/pkg/logging"
	"github.com/gqlsubtest/gqlsubtest/pkg/query"
	"github.com/gqlsubtest/gqlsubtest/pkg/response"
)

const (
	// pollInterval is the resolution of all blocking waits.
	pollInterval = 100 * time.Millisecond

	// defaultHandshakeTimeout bounds the waits for connection acknowledgment
	// and for stop confirmation.
	defaultHandshakeTimeout = 60 * time.Second

	// writeTimeout bounds a single outbound frame write.
	writeTimeout = 5 * time.Second
)

// Config holds the connection settings for a test subscription.
type Config struct {
	// Host is the GraphQL server host.
	Host string
	// Port is the GraphQL server port.
	Port int
	// Path is the subscription endpoint path (e.g. "/subscriptions").
	Path string

	// HandshakeTimeout bounds the blocking waits for connection
	// acknowledgment and stop confirmation. Defaults to 60 seconds.
	HandshakeTimeout time.Duration

	// Logger receives debug traces of the subscription lifecycle.
	// Defaults to a no-op logger.
	Logger *slog.Logger
}

// ConfigFromURL derives a Config from an HTTP or WebSocket server URL, such
// as the URL of an httptest.Server, combined with the subscription path.
func ConfigFromURL(rawURL, subscriptionPath string) (Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid server URL %q: %w", rawURL, err)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port in server URL %q: %w", rawURL, err)
	}

	return Config{Host: u.Hostname(), Port: p, Path: subscriptionPath}, nil
}

// Subscription drives one GraphQL subscription at a time over the graphql-ws
// WebSocket sub-protocol. It is a test DSL: every contract violation,
// protocol violation, or timeout fails the current test immediately instead
// of returning an error.
//
// A Subscription is driven from the test goroutine; inbound frames are
// handled concurrently on a dedicated read goroutine. The zero value is not
// usable, use New.
type Subscription struct {
	t   testing.TB
	cfg Config
	log *slog.Logger

	conn *websocket.Conn

	mu    sync.Mutex
	state *state
}

// New creates a subscription helper bound to the given test. Call Reset
// between independent test cases that reuse the same instance.
func New(t testing.TB, cfg Config) *Subscription {
	t.Helper()

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}

	return &Subscription{
		t:     t,
		cfg:   cfg,
		log:   log,
		state: newState(),
	}
}

// ID returns the identifier of the current subscription attempt. A new
// identifier is assigned by Reset.
func (s *Subscription) ID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.id
}

// IsInitialized reports whether connection_init was sent.
func (s *Subscription) IsInitialized() bool {
	return s.flag(func(st *state) bool { return st.initialized })
}

// IsAcknowledged reports whether the server acknowledged the connection.
func (s *Subscription) IsAcknowledged() bool {
	return s.flag(func(st *state) bool { return st.acknowledged })
}

// IsStarted reports whether the start message was sent.
func (s *Subscription) IsStarted() bool {
	return s.flag(func(st *state) bool { return st.started })
}

// IsStopped reports whether the underlying connection has closed.
func (s *Subscription) IsStopped() bool {
	return s.flag(func(st *state) bool { return st.stopped })
}

// IsCompleted reports whether the server completed the subscription.
func (s *Subscription) IsCompleted() bool {
	return s.flag(func(st *state) bool { return st.completed })
}

// Init opens the WebSocket connection and performs the connection_init
// handshake without a payload, blocking until the server acknowledges.
func (s *Subscription) Init() *Subscription {
	s.t.Helper()
	return s.InitWithPayload(nil)
}

// InitWithPayload opens the WebSocket connection and performs the
// connection_init handshake with the given payload (nil means an empty
// object), blocking until the server acknowledges the connection or the
// handshake timeout elapses.
func (s *Subscription) InitWithPayload(payload interface{}) *Subscription {
	s.t.Helper()

	if s.IsInitialized() {
		s.t.Fatalf("subscription already initialized")
	}

	if err := s.connect(); err != nil {
		s.t.Fatalf("could not initialize test subscription client: %v", err)
	}

	s.send(initMessage{Type: msgTypeConnectionInit, Payload: finalPayload(payload)})

	s.mu.Lock()
	s.state.initialized = true
	s.mu.Unlock()

	s.await(func(st *state) bool { return st.acknowledged },
		"connection was not acknowledged by the GraphQL server")
	s.log.Debug("subscription initialized", "id", s.ID())
	return s
}

// Start sends the start message for the subscription query loaded from the
// given resource file, without variables. Implicitly performs Init first if
// the subscription is not yet initialized.
func (s *Subscription) Start(resource string) *Subscription {
	s.t.Helper()
	return s.StartWithVariables(resource, nil)
}

// StartWithVariables sends the start message for the subscription query
// loaded from the given resource file with the given variables (nil means
// an empty object). Implicitly performs Init first if the subscription is
// not yet initialized.
func (s *Subscription) StartWithVariables(resource string, variables interface{}) *Subscription {
	s.t.Helper()

	if !s.IsInitialized() {
		s.Init()
	}
	if s.IsStarted() {
		s.t.Fatalf("start message already sent; call Reset before starting a new subscription")
	}

	src := query.MustLoad(s.t, resource)

	s.mu.Lock()
	s.state.started = true
	subID := s.state.id
	s.mu.Unlock()

	s.log.Debug("sending start message", "id", subID)
	s.send(startMessage{
		Type: msgTypeStart,
		ID:   subID,
		Payload: startPayload{
			Query:     src,
			Variables: finalPayload(variables),
		},
	})
	return s
}

// Stop sends the stop message, closes the WebSocket session, and blocks
// until the closure is confirmed by the read goroutine. Stop is confirmed
// only once the underlying connection has actually closed.
func (s *Subscription) Stop() *Subscription {
	s.t.Helper()

	if !s.IsInitialized() {
		s.t.Fatalf("subscription not yet initialized")
	}
	if s.IsStopped() {
		s.t.Fatalf("subscription already stopped")
	}

	s.log.Debug("sending stop message", "id", s.ID())
	s.send(stopMessage{Type: msgTypeStop, ID: s.ID()})

	s.log.Debug("closing websocket session")
	if err := s.conn.Close(websocket.StatusNormalClosure, "subscription stopped"); err != nil {
		// The server may have closed the connection first; the read
		// goroutine observing the closure still confirms the stop below.
		s.log.Debug("websocket close", "error", err)
	}

	s.await(func(st *state) bool { return st.stopped },
		"connection was not stopped in time")
	s.log.Debug("websocket session closed")
	return s
}

// Reset stops the subscription if needed and replaces its state with a
// fresh one under a new identifier. Call it between test cases that share
// a Subscription instance.
func (s *Subscription) Reset() {
	s.t.Helper()

	if s.IsInitialized() && !s.IsStopped() {
		s.Stop()
	}

	s.mu.Lock()
	s.state = newState()
	s.mu.Unlock()
	s.conn = nil
	s.log.Debug("test subscription client reset", "id", s.ID())
}

// AwaitAndGetNextResponse awaits and returns the next response, failing the
// test if none arrives within the timeout. If stopAfter is true the
// subscription is stopped after the response was received (or timeout).
func (s *Subscription) AwaitAndGetNextResponse(timeout time.Duration, stopAfter bool) *response.Response {
	s.t.Helper()
	return s.AwaitAndGetNextResponses(timeout, 1, stopAfter)[0]
}

// AwaitAndGetAllResponses waits for the full timeout and returns all
// responses received during that time, with no expectation on their number.
// The returned slice may be empty.
func (s *Subscription) AwaitAndGetAllResponses(timeout time.Duration, stopAfter bool) []*response.Response {
	s.t.Helper()
	return s.AwaitAndGetNextResponses(timeout, -1, stopAfter)
}

// WaitAndExpectNoResponse waits for the full timeout and fails the test if
// any response arrived during that time.
func (s *Subscription) WaitAndExpectNoResponse(timeout time.Duration, stopAfter bool) *Subscription {
	s.t.Helper()
	s.AwaitAndGetNextResponses(timeout, 0, stopAfter)
	return s
}

// AwaitAndGetNextResponses awaits and returns the expected number of
// responses in arrival order.
//
// If expected is positive, the wait ends as soon as that many responses are
// buffered, the test fails if fewer arrived within the timeout, and exactly
// expected responses are drained; surplus responses remain buffered for
// GetRemainingResponses. If expected is zero, the full timeout is awaited
// and the test fails unless no response arrived. If expected is negative,
// the full timeout is awaited and everything buffered is drained.
func (s *Subscription) AwaitAndGetNextResponses(timeout time.Duration, expected int, stopAfter bool) []*response.Response {
	s.t.Helper()

	if !s.IsStarted() {
		s.t.Fatalf("start message not sent; call Start first")
	}
	if s.IsStopped() {
		s.t.Fatalf("subscription already stopped; forgot to call Reset after the previous test case?")
	}

	var elapsed time.Duration
	for (s.bufferedCount() < expected || expected <= 0) && elapsed < timeout {
		time.Sleep(pollInterval)
		elapsed += pollInterval
	}

	if stopAfter {
		s.Stop()
	}

	// The size check and the drain must be one critical section so a frame
	// arriving in between cannot skew the count.
	s.mu.Lock()
	defer s.mu.Unlock()

	buffered := len(s.state.responses)
	toPoll := buffered
	if expected == 0 && buffered != 0 {
		s.t.Fatalf("expected no responses in %s, but received %d", timeout, buffered)
	}
	if expected > 0 {
		if buffered < expected {
			s.t.Fatalf("expected at least %d response(s) in %s, but %d received", expected, timeout, buffered)
		}
		toPoll = expected
	}

	drained := make([]*response.Response, toPoll)
	copy(drained, s.state.responses[:toPoll])
	s.state.responses = s.state.responses[toPoll:]
	s.log.Debug("returning responses", "count", len(drained))
	return drained
}

// GetRemainingResponses atomically drains and returns all responses still
// buffered. It may only be called after the subscription was stopped.
func (s *Subscription) GetRemainingResponses() []*response.Response {
	s.t.Helper()

	if !s.IsStopped() {
		s.t.Fatalf("GetRemainingResponses may only be called after the subscription was stopped")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.state.responses
	s.state.responses = nil
	return remaining
}

// connect dials the subscription endpoint and starts the read goroutine
// for the current state instance.
func (s *Subscription) connect() error {
	endpoint := fmt.Sprintf("ws://%s:%d%s", s.cfg.Host, s.cfg.Port, normalizePath(s.cfg.Path))
	s.log.Debug("connecting", "endpoint", endpoint)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		Subprotocols: []string{protocolName},
	})
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", endpoint, err)
	}

	s.conn = conn
	go s.readLoop(conn, s.state)
	return nil
}

// send marshals and writes one outbound frame, failing the test on any
// serialization or transport error.
func (s *Subscription) send(message interface{}) {
	s.t.Helper()

	data, err := json.Marshal(message)
	if err != nil {
		s.t.Fatalf("test setup failure - cannot serialize subscription message: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.t.Fatalf("could not send subscription message: %v", err)
	}
}

// await polls the given condition at the poll interval until it holds or
// the handshake timeout elapses, then fails the test on timeout.
func (s *Subscription) await(cond func(*state) bool, timeoutDescription string) {
	s.t.Helper()

	timeout := s.cfg.HandshakeTimeout
	var elapsed time.Duration
	for !s.flag(cond) && elapsed < timeout {
		time.Sleep(pollInterval)
		elapsed += pollInterval
	}

	if !s.flag(cond) {
		s.t.Fatalf("timeout after %s: %s", timeout, timeoutDescription)
	}
}

func (s *Subscription) flag(read func(*state) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return read(s.state)
}

func (s *Subscription) bufferedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.responses)
}

// finalPayload substitutes an empty object for a nil payload so the wire
// envelope always carries a JSON object.
func finalPayload(payload interface{}) interface{} {
	if payload == nil {
		return map[string]interface{}{}
	}
	return payload
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
