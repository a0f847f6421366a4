// Package integration exercises the subscription test client against a
// live in-process GraphQL subscription server.
package integration

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gqlsubtest/gqlsubtest/pkg/mockserver"
	"github.com/gqlsubtest/gqlsubtest/pkg/subscription"
)

const subscriptionsPath = "/subscriptions"

// ============================================================================
// Test Helpers
// ============================================================================

func getFreePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// startServer runs a subscription server with the given fixtures on a
// free port and returns a client config pointed at it.
func startServer(t *testing.T, fixtures *mockserver.Config) subscription.Config {
	port := getFreePort(t)

	srv := mockserver.New(fixtures, nil)
	mux := http.NewServeMux()
	mux.Handle(subscriptionsPath, srv)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: mux,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("subscription test server error: %v", err)
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	})

	waitForServer(t, port)

	return subscription.Config{
		Host:             "127.0.0.1",
		Port:             port,
		Path:             subscriptionsPath,
		HandshakeTimeout: 5 * time.Second,
	}
}

func waitForServer(t *testing.T, port int) {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server on %s did not come up", addr)
}

func messageAddedFixtures() *mockserver.Config {
	return &mockserver.Config{
		Subscriptions: map[string]mockserver.SubscriptionConfig{
			"messageAdded": {
				Events: []mockserver.EventConfig{
					{Data: map[string]interface{}{
						"messageAdded": map[string]interface{}{
							"id":      "1",
							"text":    "first on {{args.channel}}",
							"channel": "{{args.channel}}",
						},
					}},
					{Data: map[string]interface{}{
						"messageAdded": map[string]interface{}{
							"id":      "2",
							"text":    "second",
							"channel": "{{args.channel}}",
						},
					}},
					{Data: map[string]interface{}{
						"messageAdded": map[string]interface{}{
							"id":      "3",
							"text":    "third",
							"channel": "{{args.channel}}",
						},
					}},
				},
			},
		},
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestSubscription_FullLifecycle(t *testing.T) {
	cfg := startServer(t, messageAddedFixtures())
	sub := subscription.New(t, cfg)

	sub.Init()
	assert.True(t, sub.IsInitialized())
	assert.True(t, sub.IsAcknowledged())

	sub.StartWithVariables("testdata/message-added.graphql", map[string]interface{}{
		"channel": "general",
	})
	assert.True(t, sub.IsStarted())

	resp := sub.AwaitAndGetNextResponse(5*time.Second, false)
	resp.AssertField(t, "data.messageAdded.id", "1")
	resp.AssertField(t, "data.messageAdded.text", "first on general")
	resp.AssertField(t, "data.messageAdded.channel", "general")

	sub.Stop()
	assert.True(t, sub.IsStopped())
}

func TestSubscription_StartImpliesInit(t *testing.T) {
	cfg := startServer(t, messageAddedFixtures())
	sub := subscription.New(t, cfg)

	sub.StartWithVariables("testdata/message-added.graphql", map[string]interface{}{
		"channel": "general",
	})

	assert.True(t, sub.IsInitialized())
	assert.True(t, sub.IsAcknowledged())
	assert.True(t, sub.IsStarted())

	responses := sub.AwaitAndGetNextResponses(5*time.Second, 3, true)
	require.Len(t, responses, 3)
	assert.True(t, sub.IsStopped())
}

func TestSubscription_PartialDrainAndRemaining(t *testing.T) {
	cfg := startServer(t, messageAddedFixtures())
	sub := subscription.New(t, cfg)

	sub.StartWithVariables("testdata/message-added.graphql", map[string]interface{}{
		"channel": "general",
	})

	// One extra poll interval so all three events are buffered before the
	// first drain takes only two of them.
	time.Sleep(300 * time.Millisecond)

	responses := sub.AwaitAndGetNextResponses(5*time.Second, 2, true)
	require.Len(t, responses, 2)
	responses[0].AssertField(t, "data.messageAdded.id", "1")
	responses[1].AssertField(t, "data.messageAdded.id", "2")

	remaining := sub.GetRemainingResponses()
	require.Len(t, remaining, 1)
	remaining[0].AssertField(t, "data.messageAdded.id", "3")
}

func TestSubscription_CompleteEndsStream(t *testing.T) {
	cfg := startServer(t, messageAddedFixtures())
	sub := subscription.New(t, cfg)

	sub.StartWithVariables("testdata/message-added.graphql", map[string]interface{}{
		"channel": "general",
	})

	responses := sub.AwaitAndGetAllResponses(2*time.Second, false)
	require.Len(t, responses, 3)

	// The server sends complete after the last scripted event.
	require.Eventually(t, sub.IsCompleted, 2*time.Second, 50*time.Millisecond)

	sub.Stop()
}

func TestSubscription_NoResponseInWindow(t *testing.T) {
	fixtures := &mockserver.Config{
		Subscriptions: map[string]mockserver.SubscriptionConfig{
			"messageAdded": {
				Events: []mockserver.EventConfig{
					{
						Data: map[string]interface{}{
							"messageAdded": map[string]interface{}{"id": "1"},
						},
						Delay: "3s",
					},
				},
			},
		},
	}
	cfg := startServer(t, fixtures)
	sub := subscription.New(t, cfg)

	sub.StartWithVariables("testdata/message-added.graphql", map[string]interface{}{
		"channel": "general",
	})

	// The only event is delayed past the observation window.
	sub.WaitAndExpectNoResponse(500*time.Millisecond, true)
	assert.True(t, sub.IsStopped())
}

func TestSubscription_ErrorEvent(t *testing.T) {
	fixtures := &mockserver.Config{
		Subscriptions: map[string]mockserver.SubscriptionConfig{
			"messageAdded": {
				Events: []mockserver.EventConfig{
					{Errors: []string{"channel {{args.channel}} is closed"}},
				},
			},
		},
	}
	cfg := startServer(t, fixtures)
	sub := subscription.New(t, cfg)

	sub.StartWithVariables("testdata/message-added.graphql", map[string]interface{}{
		"channel": "general",
	})

	resp := sub.AwaitAndGetNextResponse(5*time.Second, true)
	require.True(t, resp.HasErrors())
	assert.Equal(t, []string{"channel general is closed"}, resp.ErrorMessages())
}

func TestSubscription_ResetAndResubscribe(t *testing.T) {
	cfg := startServer(t, messageAddedFixtures())
	sub := subscription.New(t, cfg)

	sub.StartWithVariables("testdata/message-added.graphql", map[string]interface{}{
		"channel": "general",
	})
	firstID := sub.ID()
	sub.AwaitAndGetNextResponse(5*time.Second, false)

	sub.Reset()
	assert.Greater(t, sub.ID(), firstID)
	assert.False(t, sub.IsInitialized())
	assert.False(t, sub.IsStarted())
	assert.False(t, sub.IsStopped())

	sub.StartWithVariables("testdata/message-added.graphql", map[string]interface{}{
		"channel": "other",
	})
	resp := sub.AwaitAndGetNextResponse(5*time.Second, true)
	resp.AssertField(t, "data.messageAdded.channel", "other")
}

func TestSubscription_FixtureFile(t *testing.T) {
	fixtures, err := mockserver.LoadConfig("testdata/subscriptions.yaml")
	require.NoError(t, err)

	cfg := startServer(t, fixtures)
	sub := subscription.New(t, cfg)

	sub.StartWithVariables("testdata/user-presence.graphql", map[string]interface{}{
		"userId": "u-17",
	})

	resp := sub.AwaitAndGetNextResponse(5*time.Second, true)
	resp.AssertField(t, "data.userPresence.userId", "u-17")
	resp.AssertField(t, "data.userPresence.status", "online")
}
