package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_circuit_breaker_failures_total",
			Help: "Total number of failures in circuit breaker",
		},
		[]string{"name", "service"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_circuit_breaker_open_since_seconds",
			Help: "Timestamp when the circuit breaker entered open state (0 if not open)",
		},
		[]string{"name", "service"},
	)
)

type registration struct {
	name    string
	service string
	cb      *CircuitBreaker
}

// MetricsCollector exports breaker state to Prometheus. Wrappers register
// their breaker once and report each request through RecordRequest; the state
// gauge is additionally refreshed on a timer so an idle open breaker still
// shows up.
type MetricsCollector struct {
	mu       sync.RWMutex
	breakers []registration
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RegisterCircuitBreaker hooks cb's state changes into the exported metrics,
// chaining any callback the breaker already carries.
func (mc *MetricsCollector) RegisterCircuitBreaker(name, service string, cb *CircuitBreaker) {
	mc.mu.Lock()
	mc.breakers = append(mc.breakers, registration{name: name, service: service, cb: cb})
	mc.mu.Unlock()

	prev := cb.config.OnStateChange
	cb.config.OnStateChange = func(cbName string, from, to State) {
		if prev != nil {
			prev(cbName, from, to)
		}
		breakerStateChanges.WithLabelValues(name, service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, service).Set(float64(to))

		if to == StateOpen {
			breakerOpenSince.WithLabelValues(name, service).SetToCurrentTime()
		} else if from == StateOpen {
			breakerOpenSince.WithLabelValues(name, service).Set(0)
		}
	}
}

// RecordRequest counts one guarded call and its outcome.
func (mc *MetricsCollector) RecordRequest(name, service string, state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
		breakerFailures.WithLabelValues(name, service).Inc()
	}
	breakerRequests.WithLabelValues(name, service, state.String(), result).Inc()
}

// UpdateMetrics refreshes the state gauge for every registered breaker.
func (mc *MetricsCollector) UpdateMetrics() {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	for _, reg := range mc.breakers {
		breakerState.WithLabelValues(reg.name, reg.service).Set(float64(reg.cb.State()))
	}
}

// GlobalMetricsCollector is shared by every wrapper in the process.
var GlobalMetricsCollector = NewMetricsCollector()

// StartMetricsCollection refreshes the shared collector's gauges on a timer.
func StartMetricsCollection() {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			GlobalMetricsCollector.UpdateMetrics()
		}
	}()
}
