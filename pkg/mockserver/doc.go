// Package mockserver provides a scriptable GraphQL subscription server
// for integration tests. It speaks the legacy graphql-ws WebSocket
// sub-protocol and answers subscriptions with event streams declared in
// code or loaded from YAML fixture files.
//
// A minimal fixture:
//
//	subscriptions:
//	  messageAdded:
//	    events:
//	      - data:
//	          messageAdded:
//	            id: "1"
//	            text: "hello on {{args.channel}}"
//
// Event data may reference the effective subscription arguments with
// {{args.name}} placeholders. Arguments are resolved from the operation
// variables and from inline field arguments of the subscription query.
package mockserver
