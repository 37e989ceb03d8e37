package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	sample Sample
	err    error
	calls  int
}

func (f *fakeSampler) Sample() (Sample, error) {
	f.calls++
	return f.sample, f.err
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestGuard(opts Options) (*ResourceGuard, *fakeSampler, *fakeClock) {
	fs := &fakeSampler{sample: Sample{MemoryPercent: 40, OpenFiles: 12}}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	opts.Sampler = fs.Sample
	opts.Now = clock.Now
	return NewResourceGuard(opts, zerolog.Nop()), fs, clock
}

func TestCheckWithinLimits(t *testing.T) {
	g, _, _ := newTestGuard(Options{MaxMemoryPercent: 90, MaxOpenFiles: 100})
	assert.NoError(t, g.Check())
	assert.Equal(t, StatusHealthy, g.Health().Status)
}

func TestCheckLimits(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		sample Sample
		want   bool
	}{
		{"memory over", Options{MaxMemoryPercent: 90}, Sample{MemoryPercent: 92}, true},
		{"memory at limit", Options{MaxMemoryPercent: 90}, Sample{MemoryPercent: 90}, true},
		{"memory disabled", Options{}, Sample{MemoryPercent: 99}, false},
		{"files over", Options{MaxOpenFiles: 10}, Sample{OpenFiles: 11}, true},
		{"files under", Options{MaxOpenFiles: 10}, Sample{OpenFiles: 9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, fs, _ := newTestGuard(tt.opts)
			fs.sample = tt.sample
			err := g.Check()
			if tt.want {
				assert.ErrorIs(t, err, ErrOverLimit)
				assert.Equal(t, StatusDegraded, g.Health().Status)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSampleCachedForInterval(t *testing.T) {
	g, fs, clock := newTestGuard(Options{MaxMemoryPercent: 90, Interval: 2 * time.Second})

	require.NoError(t, g.Check())
	fs.sample.MemoryPercent = 95
	assert.NoError(t, g.Check(), "cached sample still used")
	assert.Equal(t, 1, fs.calls)

	clock.now = clock.now.Add(2 * time.Second)
	assert.ErrorIs(t, g.Check(), ErrOverLimit)
	assert.Equal(t, 2, fs.calls)
}

func TestSampleFailureKeepsLastReading(t *testing.T) {
	g, fs, _ := newTestGuard(Options{MaxMemoryPercent: 90})
	require.NoError(t, g.Check())

	fs.err = errors.New("proc unavailable")
	for i := 1; i < FailureThreshold; i++ {
		assert.NoError(t, g.Check(), "a failed sample does not block admission")
	}
	// Health samples too, reaching the threshold
	h := g.Health()
	assert.Equal(t, StatusFailed, h.Status)
	assert.Equal(t, "proc unavailable", h.LastError)
	assert.Equal(t, 40.0, h.Sample.MemoryPercent)

	fs.err = nil
	h = g.Health()
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Zero(t, h.SampleFailures)
	assert.Empty(t, h.LastError)
}

func TestDeniedCount(t *testing.T) {
	g, fs, _ := newTestGuard(Options{MaxOpenFiles: 5})
	fs.sample.OpenFiles = 5
	for i := 0; i < 3; i++ {
		assert.Error(t, g.Check())
	}
	assert.Equal(t, 3, g.Health().Denied)
}

func TestSystemSampler(t *testing.T) {
	s, err := SystemSampler()()
	if err != nil {
		t.Skipf("host memory unavailable: %v", err)
	}
	assert.GreaterOrEqual(t, s.MemoryPercent, 0.0)
	assert.LessOrEqual(t, s.MemoryPercent, 100.0)
	assert.Positive(t, s.Goroutines)
}
