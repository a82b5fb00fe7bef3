// Package health condenses capture and sink state into a health summary
// served next to the metrics endpoint.
package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/deskcap/internal/framesink"
	"github.com/breeze-rmm/deskcap/internal/logging"
	"github.com/breeze-rmm/deskcap/internal/screen"
)

var log = logging.L("health")

// Status is the health of one component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// Component names.
const (
	ComponentCapture = "capture"
	ComponentSink    = "sink"
)

// Check is the latest result for one component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor tracks checks by component name. It is safe for concurrent use.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check)}
}

// Update records status for name. Invalid statuses are stored as
// Unhealthy. Only transitions are logged.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		status = Unhealthy
	}

	m.mu.Lock()
	prev, existed := m.checks[name]
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: time.Now(),
	}
	m.mu.Unlock()

	if existed && prev.Status == status {
		return
	}
	if status == Healthy {
		log.Info("component healthy", logging.KeyComponent, name)
	} else {
		log.Warn("component health changed", logging.KeyComponent, name, "status", string(status), "message", message)
	}
}

func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall is the worst status across all checks, or Unknown when there are
// none.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if rank(c.Status) > rank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns the checks sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allLocked()
}

func (m *Monitor) allLocked() []Check {
	out := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Summary returns overall status and per-component statuses from one
// consistent snapshot.
func (m *Monitor) Summary() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]string, len(m.checks))
	for _, c := range m.checks {
		components[c.Name] = string(c.Status)
	}
	return map[string]any{
		"status":     string(m.overallLocked()),
		"components": components,
	}
}

// ObserveCapture maps the capture service state onto the capture check. A
// lost session is degraded because the next capture rebuilds it.
func (m *Monitor) ObserveCapture(st screen.Status) {
	switch st.State {
	case screen.StateReady:
		m.Update(ComponentCapture, Healthy, fmt.Sprintf("%dx%d", st.Width, st.Height))
	case screen.StateLost:
		m.Update(ComponentCapture, Degraded, st.LastError)
	case screen.StateFailed:
		m.Update(ComponentCapture, Unhealthy, st.LastError)
	default:
		m.Update(ComponentCapture, Unknown, string(st.State))
	}
}

// ObserveSink compares two sink snapshots. Drops or failures since prev
// mark the sink degraded.
func (m *Monitor) ObserveSink(prev, cur framesink.Stats) {
	dropped := cur.Dropped - prev.Dropped
	failed := cur.Failed - prev.Failed
	if dropped == 0 && failed == 0 {
		m.Update(ComponentSink, Healthy, "")
		return
	}
	m.Update(ComponentSink, Degraded, fmt.Sprintf("%d dropped, %d failed", dropped, failed))
}

func rank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	case Unknown:
		return 3
	}
	return 3
}
