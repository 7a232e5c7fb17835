package deltaconn

import "time"

// CancelFunc stops a scheduled callback. Calling it after the callback ran,
// or more than once, is harmless.
type CancelFunc func()

// Scheduler runs fn after d on the manager's loop.
type Scheduler interface {
	After(d time.Duration, fn func()) CancelFunc
}

// clockScheduler is the wall-clock Scheduler. Fired timers are posted to the
// loop, so a cancel that races the timer is still honored there.
type clockScheduler struct {
	post func(func())
}

func (s clockScheduler) After(d time.Duration, fn func()) CancelFunc {
	cancelled := false
	t := time.AfterFunc(d, func() {
		s.post(func() {
			if !cancelled {
				fn()
			}
		})
	})
	return func() {
		cancelled = true
		t.Stop()
	}
}
