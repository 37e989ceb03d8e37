// Package monitor watches host and process resources. In keyboard+mouse mode
// there is no slot limit, so admission is gated on these samples instead.
package monitor

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

var ErrOverLimit = errors.New("resource limit exceeded")

// Sample is one reading of the resources admission depends on.
type Sample struct {
	MemoryPercent float64   `json:"memoryPercent"`
	OpenFiles     int32     `json:"openFiles"`
	Goroutines    int       `json:"goroutines"`
	TakenAt       time.Time `json:"takenAt"`
}

// Sampler reads the current resource usage.
type Sampler func() (Sample, error)

// SystemSampler reads host memory and this process's descriptor count.
// Platforms without a descriptor count report zero open files.
func SystemSampler() Sampler {
	pid := int32(os.Getpid())
	return func() (Sample, error) {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return Sample{}, fmt.Errorf("virtual memory: %w", err)
		}
		s := Sample{
			MemoryPercent: vm.UsedPercent,
			Goroutines:    runtime.NumGoroutine(),
			TakenAt:       time.Now(),
		}
		if p, err := process.NewProcess(pid); err == nil {
			if n, err := p.NumFDs(); err == nil {
				s.OpenFiles = n
			}
		}
		return s, nil
	}
}

type Options struct {
	// MaxMemoryPercent and MaxOpenFiles of zero disable that check.
	MaxMemoryPercent float64
	MaxOpenFiles     int
	// Interval is how long a sample is reused before Check reads a new one.
	Interval time.Duration
	Sampler  Sampler
	Now      func() time.Time
}

// ResourceGuard caches samples and reports whether another session fits.
type ResourceGuard struct {
	mu      sync.Mutex
	opts    Options
	log     zerolog.Logger
	last    Sample
	lastErr error
	sampled time.Time
	// failures counts consecutive failed samples.
	failures int
	denied   int
}

func NewResourceGuard(opts Options, log zerolog.Logger) *ResourceGuard {
	if opts.Sampler == nil {
		opts.Sampler = SystemSampler()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ResourceGuard{opts: opts, log: log}
}

// refresh must be called with mu held.
func (g *ResourceGuard) refresh() {
	now := g.opts.Now()
	if !g.sampled.IsZero() && now.Sub(g.sampled) < g.opts.Interval {
		return
	}
	g.sampled = now
	s, err := g.opts.Sampler()
	g.lastErr = err
	if err != nil {
		g.failures++
		g.log.Warn().Err(err).Int("consecutive", g.failures).Msg("resource sample failed")
		return
	}
	g.failures = 0
	g.last = s
}

// Check returns ErrOverLimit when a configured limit is exceeded. A failed
// sample does not block admission: the last good reading is used.
func (g *ResourceGuard) Check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refresh()
	err := g.over(g.last)
	if err != nil {
		g.denied++
		g.log.Warn().Err(err).Msg("admission refused")
	}
	return err
}

func (g *ResourceGuard) over(s Sample) error {
	if max := g.opts.MaxMemoryPercent; max > 0 && s.MemoryPercent >= max {
		return fmt.Errorf("%w: memory %.1f%% of %.1f%%", ErrOverLimit, s.MemoryPercent, max)
	}
	if max := g.opts.MaxOpenFiles; max > 0 && int(s.OpenFiles) >= max {
		return fmt.Errorf("%w: %d open files of %d", ErrOverLimit, s.OpenFiles, max)
	}
	return nil
}
