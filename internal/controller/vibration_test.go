package controller

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVibrationScheduler(t *testing.T) {
	var (
		mu     sync.Mutex
		levels []uint8
	)
	ft := &fakeTimers{}
	v := NewVibrationScheduler(&mu, ft.AfterFunc, func(level uint8) {
		levels = append(levels, level)
	})

	mu.Lock()
	v.Schedule(1, 200*time.Millisecond)
	assert.True(t, v.Pending())
	mu.Unlock()

	ft.Advance(200 * time.Millisecond)
	assert.Equal(t, []uint8{255, 0}, levels)

	mu.Lock()
	assert.False(t, v.Pending())
	v.Schedule(0.2, time.Second)
	assert.True(t, v.Cancel())
	v.Schedule(1, time.Second)
	mu.Unlock()

	ft.fireStale()
	ft.Advance(2 * time.Second)
	assert.Equal(t, []uint8{255, 0, 51}, levels, "cancelled for good")
}
