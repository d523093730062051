package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers on demand and on a background interval.
// Aggregation rule: a failing critical checker makes the service unhealthy
// and not ready; anything less leaves it ready but possibly degraded.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]CheckResult
	interval time.Duration
	started  bool
	stopCh   chan struct{}
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckResult),
		interval: 30 * time.Second,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// RegisterChecker adds a checker. Names must be unique.
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}

	m.checkers[name] = checker
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
	)
	return nil
}

// GetDetailedHealth probes every checker and returns per-component results.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	components := make(map[string]CheckResult, len(checkers))
	for name, c := range checkers {
		components[name] = m.probe(ctx, c)
	}

	m.mu.Lock()
	for name, result := range components {
		m.last[name] = result
	}
	m.mu.Unlock()

	return DetailedHealth{
		Overall:    aggregate(components),
		Components: components,
		Summary:    summarize(components),
		Timestamp:  time.Now(),
	}
}

// GetOverallHealth probes every checker and returns only the aggregate.
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	start := time.Now()
	overall := m.GetDetailedHealth(ctx).Overall
	overall.Duration = time.Since(start)
	return overall
}

// IsReady reports whether the service should receive traffic.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// IsLive reports whether the process should be kept running.
func (m *Manager) IsLive(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Live
}

// Start launches the background probe loop. Probing in the background keeps
// dependency failures visible in the logs even when nobody polls /health.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.started = true
	go m.loop()

	m.logger.Info("Health manager started",
		zap.Duration("interval", m.interval),
		zap.Int("checkers", len(m.checkers)),
	)
	return nil
}

// Stop halts the background loop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	close(m.stopCh)
	m.started = false
	return nil
}

func (m *Manager) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			detailed := m.GetDetailedHealth(ctx)
			cancel()

			for name, result := range detailed.Components {
				if result.Status == StatusUnhealthy {
					m.logger.Warn("Health check failing",
						zap.String("checker", name),
						zap.String("error", result.Error),
						zap.Bool("critical", result.Critical),
					)
				}
			}
		}
	}
}

// probe runs one checker under its own timeout and stamps the result.
func (m *Manager) probe(ctx context.Context, checker Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	start := time.Now()
	result := checker.Check(checkCtx)
	result.Component = checker.Name()
	result.Critical = checker.IsCritical()
	result.Duration = time.Since(start)
	result.Timestamp = start
	return result
}

func summarize(components map[string]CheckResult) Summary {
	s := Summary{Total: len(components)}
	for _, result := range components {
		switch result.Status {
		case StatusHealthy:
			s.Healthy++
		case StatusDegraded:
			s.Degraded++
		case StatusUnhealthy:
			s.Unhealthy++
		}
		if result.Critical {
			s.Critical++
		}
	}
	return s
}

// aggregate folds component results into the overall signal.
func aggregate(components map[string]CheckResult) OverallHealth {
	if len(components) == 0 {
		return OverallHealth{
			Status:    StatusUnknown,
			Message:   "no health checks registered",
			Timestamp: time.Now(),
		}
	}

	criticalFailing := 0
	othersFailing := 0
	degraded := 0
	for _, result := range components {
		switch {
		case result.Status == StatusUnhealthy && result.Critical:
			criticalFailing++
		case result.Status == StatusUnhealthy:
			othersFailing++
		case result.Status == StatusDegraded:
			degraded++
		}
	}

	overall := OverallHealth{Timestamp: time.Now(), Live: true}
	switch {
	case criticalFailing > 0:
		overall.Status = StatusUnhealthy
		overall.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailing)
	case othersFailing > 0 || degraded > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d component(s) degraded or failing", othersFailing+degraded)
		overall.Degraded = true
		overall.Ready = true
	default:
		overall.Status = StatusHealthy
		overall.Message = fmt.Sprintf("all %d components healthy", len(components))
		overall.Ready = true
	}
	return overall
}
