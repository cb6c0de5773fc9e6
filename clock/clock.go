// Package clock abstracts time so the liveness sweeper and timer engine
// can be driven deterministically in tests.
package clock

import "time"

// Clock is injected wherever production code would otherwise call
// time.Now, time.AfterFunc or time.NewTicker.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f after d elapses. The real clock calls f in its
	// own goroutine; the fake clock calls it synchronously during Advance.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a scheduled callback.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. It returns false if the timer
// already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers ticks on C. Ticks are dropped if the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

func (t *Ticker) Stop() { t.stopFunc() }
