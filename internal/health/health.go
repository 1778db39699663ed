package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus is the outcome of a single dependency probe
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CheckResult carries one probe outcome
type CheckResult struct {
	Component string        `json:"component"`
	Status    CheckStatus   `json:"-"`
	State     string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	Critical  bool          `json:"critical"`
	Timestamp time.Time     `json:"timestamp"`
}

// Checker probes one dependency
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	IsCritical() bool
	Timeout() time.Duration
}

// Manager runs registered checkers and aggregates readiness. Critical
// failures fail readiness; non-critical ones only degrade it.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	last     map[string]CheckResult
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{last: make(map[string]CheckResult), logger: logger}
}

func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// RunChecks probes every dependency concurrently and caches the results
func (m *Manager) RunChecks(ctx context.Context) map[string]CheckResult {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, c.Timeout())
			defer cancel()
			res := c.Check(cctx)
			res.State = res.Status.String()
			results[i] = res
		}(i, c)
	}
	wg.Wait()

	out := make(map[string]CheckResult, len(results))
	m.mu.Lock()
	for i, c := range checkers {
		m.last[c.Name()] = results[i]
		out[c.Name()] = results[i]
	}
	m.mu.Unlock()

	for name, res := range out {
		if res.Status != StatusHealthy {
			m.logger.Warn("Dependency check not healthy",
				zap.String("component", name),
				zap.String("status", res.Status.String()),
				zap.String("error", res.Error))
		}
	}
	return out
}

// Overall folds the latest results into one readiness status
func (m *Manager) Overall() CheckStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.last) == 0 {
		return StatusUnknown
	}
	overall := StatusHealthy
	for _, res := range m.last {
		switch res.Status {
		case StatusUnhealthy:
			if res.Critical {
				return StatusUnhealthy
			}
			overall = StatusDegraded
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return overall
}
