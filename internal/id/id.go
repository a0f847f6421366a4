// Package id provides unique identifier generation utilities.
// This is the canonical source for ID generation across the codebase.
package id

import "sync/atomic"

var subscriptionCounter atomic.Int64

// NextSubscriptionID returns the next subscription identifier from a
// process-wide monotonically increasing sequence. IDs are unique across
// all subscriptions created in the same test process, including
// subscriptions driven concurrently from parallel tests.
func NextSubscriptionID() int64 {
	return subscriptionCounter.Add(1)
}
