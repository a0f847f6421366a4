package subscription

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"
)

// failTB records test failures instead of failing the enclosing test, so
// the helper's fail-fast paths can themselves be tested. Fatalf mirrors
// the real implementation by terminating the calling goroutine.
type failTB struct {
	testing.TB

	mu       sync.Mutex
	failed   bool
	messages []string
}

func (f *failTB) Helper() {}

func (f *failTB) Errorf(format string, args ...interface{}) {
	f.record(fmt.Sprintf(format, args...))
}

func (f *failTB) Fatalf(format string, args ...interface{}) {
	f.record(fmt.Sprintf(format, args...))
	runtime.Goexit()
}

func (f *failTB) Failed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

func (f *failTB) record(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = true
	f.messages = append(f.messages, msg)
}

func (f *failTB) joined() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.messages, "\n")
}

// captureFailure runs fn with a recording TB on its own goroutine (so
// Fatalf's Goexit is contained) and returns the recorded failure output.
// The enclosing test fails if fn did not fail.
func captureFailure(t *testing.T, fn func(tb testing.TB)) string {
	t.Helper()

	f := &failTB{TB: t}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(f)
	}()
	<-done

	if !f.Failed() {
		t.Fatal("expected a test failure, but none was recorded")
	}
	return f.joined()
}
