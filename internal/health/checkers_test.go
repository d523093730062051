package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestBackendHealthCheckerReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Unauthenticated probes get a 401 from the real backend.
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	checker := NewBackendHealthChecker(srv.URL, zaptest.NewLogger(t))
	result := checker.Check(context.Background())

	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, http.StatusUnauthorized, result.Details["status_code"])
	assert.False(t, checker.IsCritical())
}

func TestBackendHealthCheckerUnreachable(t *testing.T) {
	checker := NewBackendHealthChecker("http://127.0.0.1:1", zaptest.NewLogger(t))
	result := checker.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestCustomHealthChecker(t *testing.T) {
	checker := NewCustomHealthChecker("session_store", true, time.Second, func(context.Context) CheckResult {
		return CheckResult{Component: "session_store", Status: StatusHealthy, Critical: true}
	})

	assert.Equal(t, "session_store", checker.Name())
	assert.True(t, checker.IsCritical())
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)
}
