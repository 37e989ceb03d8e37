package controller

import (
	"sync"
	"time"

	"github.com/padlink/backend/internal/metrics"
)

// VibrationScheduler applies a timed rumble and guarantees it stops. It runs
// under its owner's lock: set is called with that lock held, both when the
// effect starts and when the stop timer fires.
type VibrationScheduler struct {
	shot oneShot
	set  func(level uint8)
}

func NewVibrationScheduler(lock sync.Locker, after AfterFunc, set func(level uint8)) *VibrationScheduler {
	if after == nil {
		after = realAfterFunc
	}
	return &VibrationScheduler{
		shot: oneShot{lock: lock, after: after},
		set:  set,
	}
}

// Schedule sets the motors now and zeroes them after d. A newer request
// replaces a pending one. Caller holds the owner's lock.
func (v *VibrationScheduler) Schedule(intensity float64, d time.Duration) {
	if v.shot.dead {
		return
	}
	metrics.Vibrations.Inc()
	v.set(MotorLevel(intensity))
	v.shot.arm(d, func() {
		v.set(0)
	})
}

// Cancel stops any pending effect for good. It does not touch the motors;
// the owner's reset zeroes them. Caller holds the owner's lock.
func (v *VibrationScheduler) Cancel() bool {
	return v.shot.kill()
}

// Pending reports whether a stop is scheduled. Caller holds the owner's lock.
func (v *VibrationScheduler) Pending() bool {
	return v.shot.pending()
}
