package controller

import (
	"sort"
	"sync"
	"time"
)

// fakeTimers is a manual clock for AfterFunc. Callbacks run on the goroutine
// calling Advance.
type fakeTimers struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	owner   *fakeTimers
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{owner: ft, at: ft.now + d, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and fires every timer that became due.
func (ft *fakeTimers) Advance(d time.Duration) {
	ft.mu.Lock()
	ft.now += d
	var due []*fakeTimer
	for _, t := range ft.timers {
		if !t.stopped && !t.fired && t.at <= ft.now {
			t.fired = true
			due = append(due, t)
		}
	}
	ft.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Pending counts armed timers.
func (ft *fakeTimers) Pending() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, t := range ft.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fireStale runs the callbacks of stopped timers, as if each had already
// fired and was waiting on the lock when Stop was called.
func (ft *fakeTimers) fireStale() {
	ft.mu.Lock()
	var stale []*fakeTimer
	for _, t := range ft.timers {
		if t.stopped {
			stale = append(stale, t)
		}
	}
	ft.mu.Unlock()
	for _, t := range stale {
		t.f()
	}
}
