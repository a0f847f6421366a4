package subscription

import (
	"github.com/gqlsubtest/gqlsubtest/internal/id"
	"github.com/gqlsubtest/gqlsubtest/pkg/response"
)

// State tracks the lifecycle of a single subscription attempt.
//
// The lifecycle flags are monotonic: once set they are never cleared for the
// lifetime of a state instance. Reset replaces the whole instance with a
// fresh one (new id) instead of clearing flags in place.
//
// All fields are guarded by the owning Subscription's mutex: responses are
// appended on the transport's read goroutine while the test goroutine drains
// them, and those two sides must never interleave inside a critical section.
type state struct {
	id int64

	initialized  bool
	acknowledged bool
	started      bool
	stopped      bool
	completed    bool

	// responses buffers decoded responses in arrival order (FIFO).
	responses []*response.Response
}

func newState() *state {
	return &state{id: id.NextSubscriptionID()}
}
