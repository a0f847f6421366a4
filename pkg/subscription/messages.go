package subscription

import "encoding/json"

// protocolName is the WebSocket sub-protocol negotiated with the server.
const protocolName = "graphql-ws"

// Message types of the graphql-ws (subscriptions-transport-ws) protocol
// subset the helper speaks.
const (
	msgTypeConnectionInit = "connection_init"
	msgTypeConnectionAck  = "connection_ack"
	msgTypeStart          = "start"
	msgTypeData           = "data"
	msgTypeStop           = "stop"
	msgTypeError          = "error"
	msgTypeComplete       = "complete"
)

// initMessage is the connection_init envelope.
type initMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// startMessage is the start envelope carrying the subscription operation.
type startMessage struct {
	Type    string       `json:"type"`
	ID      int64        `json:"id"`
	Payload startPayload `json:"payload"`
}

// startPayload is the operation payload of a start message.
type startPayload struct {
	Query     string      `json:"query"`
	Variables interface{} `json:"variables"`
}

// stopMessage is the stop envelope.
type stopMessage struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// inboundMessage is the envelope of messages received from the server.
// Type is a pointer so that a missing or null type field is detectable.
type inboundMessage struct {
	Type    *string         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
