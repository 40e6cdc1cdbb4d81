package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// ComponentStatus represents the health status of a component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// severity orders statuses; unknown values rank below healthy.
func (s ComponentStatus) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	}
	return -1
}

// DefaultProbeTimeout bounds a single health probe.
const DefaultProbeTimeout = 5 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the result of one probe.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency_ms"`
}

// SystemHealth is the worst status over every component.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     time.Duration              `json:"uptime"`
}

// Names returns component names sorted, for stable output.
func (h SystemHealth) Names() []string {
	out := make([]string, 0, len(h.Components))
	for name := range h.Components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HealthMonitor runs registered probes concurrently on demand.
type HealthMonitor struct {
	ProbeTimeout time.Duration

	mu      sync.RWMutex
	checks  map[string]HealthCheck
	started time.Time
}

// NewHealthMonitor creates an empty monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		ProbeTimeout: DefaultProbeTimeout,
		checks:       make(map[string]HealthCheck),
		started:      time.Now(),
	}
}

// Register adds or replaces a named probe.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	m.checks[name] = check
	m.mu.Unlock()
}

// Ping adapts an error-returning probe: nil is healthy, an error is
// unhealthy with the error as message.
func Ping(probe func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := probe(ctx); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// Check runs every probe, each under ProbeTimeout.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	var (
		wg      conc.WaitGroup
		resMu   sync.Mutex
		results = make(map[string]ComponentHealth, len(checks))
	)
	for name, fn := range checks {
		name, fn := name, fn
		wg.Go(func() {
			pctx, cancel := context.WithTimeout(ctx, m.ProbeTimeout)
			defer cancel()
			start := time.Now()
			r := fn(pctx)
			r.Name = name
			r.LastChecked = time.Now()
			r.Latency = r.LastChecked.Sub(start)

			resMu.Lock()
			results[name] = r
			resMu.Unlock()
		})
	}
	wg.Wait()
	return m.aggregate(results)
}

func (m *HealthMonitor) aggregate(results map[string]ComponentHealth) SystemHealth {
	worst := StatusHealthy
	for _, h := range results {
		if h.Status.severity() > worst.severity() {
			worst = h.Status
		}
	}
	return SystemHealth{
		Status:     worst,
		Components: results,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.started),
	}
}
