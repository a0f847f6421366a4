package mockserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gqlsubtest/gqlsubtest/pkg/logging"
	"github.com/gqlsubtest/gqlsubtest/pkg/query"
)

// Message types of the legacy graphql-ws sub-protocol the server speaks.
const (
	msgTypeConnectionInit      = "connection_init"
	msgTypeConnectionAck       = "connection_ack"
	msgTypeConnectionKeepAlive = "ka"
	msgTypeConnectionTerminate = "connection_terminate"
	msgTypeStart               = "start"
	msgTypeData                = "data"
	msgTypeStop                = "stop"
	msgTypeError               = "error"
	msgTypeComplete            = "complete"
)

const writeTimeout = 5 * time.Second

// argsPattern matches {{args.fieldName}} placeholders in event data.
var argsPattern = regexp.MustCompile(`\{\{args\.([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// wsMessage is the graphql-ws envelope. The id is kept raw and echoed
// back untouched so that clients using numeric ids round-trip cleanly.
type wsMessage struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// startPayload is the operation payload of a start message.
type startPayload struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// Server answers graphql-ws subscriptions with scripted event streams.
// It implements http.Handler and upgrades every request to a WebSocket.
type Server struct {
	config   *Config
	log      *slog.Logger
	upgrader websocket.AcceptOptions

	mu    sync.RWMutex
	conns map[string]*serverConn
}

// serverConn is one accepted WebSocket connection and its live streams.
type serverConn struct {
	id   string
	conn *websocket.Conn

	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

// New creates a Server that serves the given fixtures. A nil logger
// disables logging.
func New(config *Config, log *slog.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{
		config: config,
		log:    log,
		upgrader: websocket.AcceptOptions{
			Subprotocols:       []string{"graphql-ws"},
			InsecureSkipVerify: true,
		},
		conns: make(map[string]*serverConn),
	}
}

// ServeHTTP upgrades the request and speaks graphql-ws until the peer
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &s.upgrader)
	if err != nil {
		http.Error(w, "WebSocket upgrade failed", http.StatusBadRequest)
		return
	}

	s.handleConnection(conn, r)
}

func (s *Server) handleConnection(conn *websocket.Conn, r *http.Request) {
	sc := &serverConn{
		id:      uuid.NewString(),
		conn:    conn,
		streams: make(map[string]context.CancelFunc),
	}

	s.mu.Lock()
	s.conns[sc.id] = sc
	s.mu.Unlock()

	s.log.Debug("websocket connection accepted", "conn", sc.id)

	defer func() {
		sc.mu.Lock()
		for _, cancel := range sc.streams {
			cancel()
		}
		sc.mu.Unlock()

		s.mu.Lock()
		delete(s.conns, sc.id)
		s.mu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
		s.log.Debug("websocket connection closed", "conn", sc.id)
	}()

	ctx := r.Context()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(sc, nil, "invalid message format")
			continue
		}

		s.handleMessage(ctx, sc, &msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, sc *serverConn, msg *wsMessage) {
	switch msg.Type {
	case msgTypeConnectionInit:
		s.handleConnectionInit(sc)

	case msgTypeStart:
		s.handleStart(ctx, sc, msg)

	case msgTypeStop, msgTypeComplete:
		s.handleStop(sc, msg.ID)

	case msgTypeConnectionTerminate:
		s.handleConnectionTerminate(sc)

	default:
		s.log.Debug("ignoring message", "conn", sc.id, "type", msg.Type)
	}
}

// handleConnectionInit acknowledges the connection. The legacy protocol
// also expects an initial keep-alive after the ack.
func (s *Server) handleConnectionInit(sc *serverConn) {
	_ = s.send(sc, &wsMessage{Type: msgTypeConnectionAck})
	_ = s.send(sc, &wsMessage{Type: msgTypeConnectionKeepAlive})
}

func (s *Server) handleStart(ctx context.Context, sc *serverConn, msg *wsMessage) {
	if len(msg.ID) == 0 {
		s.sendError(sc, nil, "subscription id is required")
		return
	}

	var payload startPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.sendError(sc, msg.ID, "invalid subscription payload")
		return
	}

	fieldName, args, err := query.SubscriptionField(payload.Query, payload.Variables)
	if err != nil {
		s.sendError(sc, msg.ID, err.Error())
		return
	}

	fixture, ok := s.config.lookup(fieldName)
	if !ok {
		s.sendError(sc, msg.ID, fmt.Sprintf("no subscription configured for %q", fieldName))
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)

	key := string(msg.ID)
	sc.mu.Lock()
	if _, exists := sc.streams[key]; exists {
		sc.mu.Unlock()
		cancel()
		s.sendError(sc, msg.ID, "subscription already exists")
		return
	}
	sc.streams[key] = cancel
	sc.mu.Unlock()

	s.log.Debug("subscription started", "conn", sc.id, "id", key, "field", fieldName)
	go s.streamEvents(streamCtx, sc, msg.ID, fixture, args)
}

func (s *Server) handleStop(sc *serverConn, id json.RawMessage) {
	key := string(id)
	sc.mu.Lock()
	cancel, exists := sc.streams[key]
	if exists {
		delete(sc.streams, key)
	}
	sc.mu.Unlock()

	if exists {
		cancel()
		s.log.Debug("subscription stopped", "conn", sc.id, "id", key)
	}
}

func (s *Server) handleConnectionTerminate(sc *serverConn) {
	sc.mu.Lock()
	for _, cancel := range sc.streams {
		cancel()
	}
	sc.streams = make(map[string]context.CancelFunc)
	sc.mu.Unlock()

	_ = sc.conn.Close(websocket.StatusNormalClosure, "connection terminated")
}

// streamEvents plays the scripted events of a fixture and finishes with
// a complete frame unless the stream repeats forever or is cancelled.
func (s *Server) streamEvents(ctx context.Context, sc *serverConn, id json.RawMessage, fixture *SubscriptionConfig, args map[string]interface{}) {
	defer func() {
		_ = s.send(sc, &wsMessage{ID: id, Type: msgTypeComplete})

		sc.mu.Lock()
		delete(sc.streams, string(id))
		sc.mu.Unlock()
	}()

	for {
		for _, event := range fixture.Events {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if !sleepFor(ctx, parseDelay(event.Delay)) {
				return
			}
			if !sleepFor(ctx, timingDelay(fixture.Timing)) {
				return
			}

			if len(event.Errors) > 0 {
				messages := make([]string, len(event.Errors))
				for i, m := range event.Errors {
					messages[i] = applyArgs(m, args).(string)
				}
				s.sendErrors(sc, id, messages)
				continue
			}
			s.sendData(sc, id, applyArgs(event.Data, args))
		}

		if fixture.Timing == nil || !fixture.Timing.Repeat {
			return
		}

		// Pause between repetitions so an empty sequence cannot spin.
		if !sleepFor(ctx, 10*time.Millisecond) {
			return
		}
	}
}

// sleepFor blocks for d and reports false if the context was cancelled.
func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func parseDelay(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

func timingDelay(timing *TimingConfig) time.Duration {
	if timing == nil {
		return 0
	}
	if timing.FixedDelay != "" {
		return parseDelay(timing.FixedDelay)
	}
	if timing.RandomDelay != "" {
		return randomDelay(timing.RandomDelay)
	}
	return 0
}

// randomDelay picks a duration from a range like "100ms-500ms".
func randomDelay(rangeStr string) time.Duration {
	parts := strings.Split(rangeStr, "-")
	if len(parts) != 2 {
		return 0
	}
	minDelay := parseDelay(strings.TrimSpace(parts[0]))
	maxDelay := parseDelay(strings.TrimSpace(parts[1]))
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)))
}

// applyArgs substitutes {{args.name}} placeholders in event data with the
// effective subscription arguments.
func applyArgs(data interface{}, args map[string]interface{}) interface{} {
	switch v := data.(type) {
	case string:
		return argsPattern.ReplaceAllStringFunc(v, func(match string) string {
			name := argsPattern.FindStringSubmatch(match)[1]
			if val, ok := args[name]; ok {
				return fmt.Sprintf("%v", val)
			}
			return match
		})

	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			result[key] = applyArgs(val, args)
		}
		return result

	case map[interface{}]interface{}:
		// yaml.v3 may decode nested mappings with interface{} keys.
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			result[fmt.Sprintf("%v", key)] = applyArgs(val, args)
		}
		return result

	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = applyArgs(val, args)
		}
		return result

	default:
		return data
	}
}

func (s *Server) sendData(sc *serverConn, id json.RawMessage, data interface{}) {
	payload, err := json.Marshal(map[string]interface{}{"data": data})
	if err != nil {
		s.log.Error("marshaling event data", "conn", sc.id, "error", err)
		return
	}
	_ = s.send(sc, &wsMessage{ID: id, Type: msgTypeData, Payload: payload})
}

func (s *Server) sendErrors(sc *serverConn, id json.RawMessage, messages []string) {
	errs := make([]map[string]string, len(messages))
	for i, m := range messages {
		errs[i] = map[string]string{"message": m}
	}
	payload, _ := json.Marshal(map[string]interface{}{"errors": errs})
	_ = s.send(sc, &wsMessage{ID: id, Type: msgTypeData, Payload: payload})
}

func (s *Server) sendError(sc *serverConn, id json.RawMessage, message string) {
	payload, _ := json.Marshal(map[string]string{"message": message})
	_ = s.send(sc, &wsMessage{ID: id, Type: msgTypeError, Payload: payload})
}

func (s *Server) send(sc *serverConn, msg *wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	return sc.conn.Write(ctx, websocket.MessageText, data)
}

// ConnectionCount returns the number of live WebSocket connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// StreamCount returns the number of live subscription streams across
// all connections.
func (s *Server) StreamCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sc := range s.conns {
		sc.mu.Lock()
		count += len(sc.streams)
		sc.mu.Unlock()
	}
	return count
}

// CloseAll force-closes every live connection.
func (s *Server) CloseAll(reason string) {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	for _, sc := range conns {
		sc.mu.Lock()
		for _, cancel := range sc.streams {
			cancel()
		}
		sc.mu.Unlock()
		_ = sc.conn.Close(websocket.StatusGoingAway, reason)
	}
}
