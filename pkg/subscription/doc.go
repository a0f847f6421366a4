// Package subscription provides a test helper for GraphQL subscriptions
// carried over the graphql-ws WebSocket sub-protocol.
//
// The helper drives the full subscription lifecycle — connection_init,
// acknowledgment, start, data delivery, stop — and buffers asynchronously
// received responses so tests can assert on them synchronously. It is a
// test DSL: every precondition violation, protocol violation, or timeout
// fails the current test immediately with a descriptive message.
//
// # Basic Usage
//
//	func TestMessageAdded(t *testing.T) {
//	    cfg, err := subscription.ConfigFromURL(serverURL, "/subscriptions")
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//
//	    sub := subscription.New(t, cfg)
//	    defer sub.Reset()
//
//	    resp := sub.
//	        Start("testdata/message-added.graphql").
//	        AwaitAndGetNextResponse(5*time.Second, true)
//
//	    resp.AssertField(t, "data.messageAdded.text", "hello")
//	}
//
// Start implicitly performs Init when the connection was not initialized
// yet; InitWithPayload is available when the server expects a
// connection_init payload (for example an auth token).
//
// # Awaiting Responses
//
// AwaitAndGetNextResponses(timeout, expected, stopAfter) is the core
// primitive. A positive expected count returns as soon as that many
// responses arrived and fails the test otherwise; zero asserts that
// nothing arrived during the full timeout; a negative count collects
// whatever arrived during the full timeout without any expectation.
// Responses buffered beyond the requested count remain available through
// GetRemainingResponses after the subscription was stopped.
//
// # Reuse Between Test Cases
//
// A Subscription instance drives one subscription at a time. Reset stops
// the current subscription if necessary and prepares the instance for the
// next test case under a fresh subscription id.
package subscription
