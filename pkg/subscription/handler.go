package subscription

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/coder/websocket"

	"github.com/gqlsubtest/gqlsubtest/pkg/response"
)

// readLoop delivers inbound frames to the message handler until the
// connection closes for any reason. The closure, whether caused by Stop,
// the server, or a transport failure, is the only thing that marks the
// state stopped.
//
// The loop is bound to the state instance it was started for, so a reader
// left over from before a Reset can never touch the fresh state.
func (s *Subscription) readLoop(conn *websocket.Conn, st *state) {
	for {
		msgType, data, err := conn.Read(context.Background())
		if err != nil {
			s.mu.Lock()
			st.stopped = true
			s.mu.Unlock()
			s.log.Debug("websocket session closed", "reason", err)
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		s.handleMessage(st, data)
	}
}

// handleMessage interprets one inbound graphql-ws frame and updates the
// subscription state. It runs on the read goroutine, so protocol
// violations are reported with Errorf: marking the test failed is safe
// from any goroutine, while FailNow is not.
func (s *Subscription) handleMessage(st *state, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.t.Errorf("server frame is not a valid GraphQL message: %v\nframe: %s", err, data)
		return
	}
	if msg.Type == nil {
		s.t.Errorf("server message has no type field\nframe: %s", data)
		return
	}

	switch *msg.Type {
	case msgTypeComplete:
		s.mu.Lock()
		st.completed = true
		s.mu.Unlock()
		s.log.Debug("subscription completed")

	case msgTypeConnectionAck:
		s.mu.Lock()
		st.acknowledged = true
		s.mu.Unlock()
		s.log.Debug("connection acknowledged by the GraphQL server")

	case msgTypeData, msgTypeError:
		if len(msg.Payload) == 0 || bytes.Equal(msg.Payload, []byte("null")) {
			s.t.Errorf("%s message is missing its payload\nframe: %s", *msg.Type, data)
			return
		}
		resp, err := response.New(msg.Payload)
		if err != nil {
			s.t.Errorf("server sent an unreadable response payload: %v", err)
			return
		}

		s.mu.Lock()
		if st.stopped || st.completed {
			s.mu.Unlock()
			s.log.Debug("response discarded, subscription already stopped or completed")
			return
		}
		st.responses = append(st.responses, resp)
		s.mu.Unlock()
		s.log.Debug("response recorded")

	default:
		// Keep-alives and unknown message types are ignored.
	}
}
