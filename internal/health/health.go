// Package health exposes liveness and readiness of the orchestration
// binary: the process is live once started, and ready when its required
// capabilities (session store, language-model service) answer.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status of one component check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Critical  bool          `json:"critical"`
}

// Checker probes one component.
type Checker interface {
	Name() string
	// Critical failures make the service not ready; non-critical ones are
	// reported but tolerated.
	Critical() bool
	Check(ctx context.Context) error
}

const checkTimeout = 5 * time.Second

// Manager runs registered checks on demand.
type Manager struct {
	logger *zap.Logger

	mu       sync.RWMutex
	checkers []Checker
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, c)
	m.mu.Unlock()
}

// Check runs every checker and reports readiness: true unless a critical
// component failed.
func (m *Manager) Check(ctx context.Context) (bool, []CheckResult) {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	ready := true
	results := make([]CheckResult, 0, len(checkers))
	for _, c := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		err := c.Check(checkCtx)
		cancel()

		r := CheckResult{
			Component: c.Name(),
			Status:    StatusHealthy,
			Duration:  time.Since(start),
			Critical:  c.Critical(),
		}
		if err != nil {
			r.Status = StatusUnhealthy
			r.Error = err.Error()
			if c.Critical() {
				ready = false
			}
			m.logger.Warn("health check failed",
				zap.String("component", c.Name()), zap.Error(err))
		}
		results = append(results, r)
	}
	return ready, results
}

// Handler serves GET /healthz (liveness, always 200) and GET /readyz
// (readiness with per-component detail).
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ready, results := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ready":      ready,
			"components": results,
		})
	})
	return mux
}
