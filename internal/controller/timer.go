package controller

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc runs f after d in its own goroutine.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// oneShot is a re-armable timer whose callback runs under the owner's lock
// and only if it is still the current arming. Stopping bumps the generation,
// so a callback that already fired and is waiting on the lock becomes a no-op.
type oneShot struct {
	lock  sync.Locker
	after AfterFunc
	timer Timer
	gen   uint64
	dead  bool
}

// arm must be called with lock held.
func (o *oneShot) arm(d time.Duration, fn func()) {
	if o.dead {
		return
	}
	o.stop()
	gen := o.gen
	o.timer = o.after(d, func() {
		o.lock.Lock()
		defer o.lock.Unlock()
		if o.dead || o.gen != gen {
			return
		}
		o.timer = nil
		fn()
	})
}

// stop must be called with lock held. It reports whether a callback was
// pending.
func (o *oneShot) stop() bool {
	o.gen++
	if o.timer == nil {
		return false
	}
	o.timer.Stop()
	o.timer = nil
	return true
}

// kill stops the timer for good.
func (o *oneShot) kill() bool {
	pending := o.stop()
	o.dead = true
	return pending
}

func (o *oneShot) pending() bool {
	return o.timer != nil
}
