package executor

import "time"

// OneShotTimer fires a callback once on its sequence. Restarting replaces any
// pending callback. Start and Stop must be called from the owning sequence.
type OneShotTimer struct {
	seq     *Sequence
	pending *DelayedTask
}

// NewOneShotTimer creates a timer bound to seq
func NewOneShotTimer(seq *Sequence) *OneShotTimer {
	return &OneShotTimer{seq: seq}
}

// Start arms the timer, discarding a previously armed callback
func (t *OneShotTimer) Start(delay time.Duration, fn func()) {
	t.Stop()
	var self *DelayedTask
	self = t.seq.PostDelayedTask(func() {
		if t.pending == self {
			t.pending = nil
		}
		fn()
	}, delay)
	t.pending = self
}

// Stop disarms the timer
func (t *OneShotTimer) Stop() {
	if t.pending != nil {
		t.pending.Cancel()
		t.pending = nil
	}
}

// IsRunning reports whether a callback is pending
func (t *OneShotTimer) IsRunning() bool {
	return t.pending != nil
}
