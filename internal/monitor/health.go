package monitor

// Status summarises the resource guard for the health endpoint.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// FailureThreshold is the number of consecutive failed samples after which
// the guard reports itself failed.
const FailureThreshold = 3

// Health is a point-in-time view of the guard.
type Health struct {
	Status         Status `json:"status"`
	Sample         Sample `json:"sample"`
	SampleFailures int    `json:"sampleFailures"`
	LastError      string `json:"lastError,omitempty"`
	Denied         int    `json:"denied"`
}

// Health refreshes the sample if it is stale and reports the current status.
// Degraded means a limit is exceeded and new keyboard+mouse sessions are
// being refused.
func (g *ResourceGuard) Health() Health {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refresh()
	h := Health{
		Status:         g.statusLocked(),
		Sample:         g.last,
		SampleFailures: g.failures,
		Denied:         g.denied,
	}
	if g.lastErr != nil {
		h.LastError = g.lastErr.Error()
	}
	return h
}

// statusLocked computes the status. Caller must hold g.mu.
func (g *ResourceGuard) statusLocked() Status {
	if g.failures >= FailureThreshold {
		return StatusFailed
	}
	if g.over(g.last) != nil {
		return StatusDegraded
	}
	return StatusHealthy
}
