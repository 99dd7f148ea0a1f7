package presence

import (
	"sync"
	"time"
)

// Timer is an explicit cancellable one-shot timer. Re-arming replaces the
// pending callback instead of stacking a second one, which is what the
// typing-expiry path needs on every keystroke.
type Timer struct {
	mu sync.Mutex
	t  *time.Timer
}

// NewTimer returns an unarmed timer.
func NewTimer() *Timer {
	return &Timer{}
}

// Arm schedules fn after d, cancelling any previously armed callback.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
	t.t = time.AfterFunc(d, fn)
}

// Cancel stops the pending callback, if any.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}
