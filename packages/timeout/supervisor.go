// Package timeout implements the per-request and per-body-read timers the
// volley pipeline consults at every suspension point. Timers fire
// independently of network activity; the race between a timer firing and the
// governed operation completing is resolved by whichever side records its
// outcome first.
package timeout

import (
	"sync"
	"time"
)

// Scope names the operation a watch governs.
type Scope int

const (
	// ScopeRequest covers the whole exchange up to headers delivered.
	ScopeRequest Scope = iota
	// ScopeBody covers body streaming only; it starts when the first body
	// read begins, not at submission.
	ScopeBody
)

func (s Scope) String() string {
	if s == ScopeBody {
		return "body"
	}
	return "request"
}

// Watch is one armed timer. Disarm is safe to call at any point, including
// after the timer already fired; exactly one of {expire callback ran, Disarm
// stopped it} wins.
type Watch struct {
	mu    sync.Mutex
	timer *time.Timer
	fired bool
	done  bool
}

// Supervisor arms watches. The zero value is ready to use.
type Supervisor struct{}

// Arm starts a timer for the given scope. onExpire runs on the timer
// goroutine if d elapses before Disarm. A non-positive d means "no timeout
// configured": Arm returns a watch that never fires.
func (s *Supervisor) Arm(d time.Duration, scope Scope, onExpire func(Scope)) *Watch {
	w := &Watch{}
	if d <= 0 {
		w.done = true
		return w
	}
	w.timer = time.AfterFunc(d, func() {
		w.mu.Lock()
		if w.done {
			w.mu.Unlock()
			return
		}
		w.fired = true
		w.done = true
		w.mu.Unlock()
		onExpire(scope)
	})
	return w
}

// Disarm stops the watch on natural completion of the governed operation.
// It reports whether the timer had already fired.
func (w *Watch) Disarm() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return w.fired
	}
	w.done = true
	if w.timer != nil {
		w.timer.Stop()
	}
	return false
}

// Fired reports whether the watch expired before being disarmed.
func (w *Watch) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}
