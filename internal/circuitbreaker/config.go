package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Per-dependency breaker settings come from CB_<DEP>_* environment
// variables so operators can tune thresholds without a redeploy.

// GetRedisConfig returns the session store breaker settings.
func GetRedisConfig() Config {
	return envConfig("CB_REDIS", Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// GetDatabaseConfig returns the audit store breaker settings. Postgres gets
// a higher failure threshold and a longer cool-off than the caches; audit
// writes are queued, so brief outages should not trip the breaker.
func GetDatabaseConfig() Config {
	return envConfig("CB_DB", Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

// GetHTTPConfig returns the backend client breaker settings.
func GetHTTPConfig() Config {
	return envConfig("CB_HTTP", Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// envConfig overlays CB_<prefix>_* environment variables on defaults.
func envConfig(prefix string, defaults Config) Config {
	defaults.MaxRequests = envUint32(prefix+"_MAX_REQUESTS", defaults.MaxRequests)
	defaults.Interval = envDuration(prefix+"_INTERVAL", defaults.Interval)
	defaults.Timeout = envDuration(prefix+"_TIMEOUT", defaults.Timeout)
	defaults.FailureThreshold = envUint32(prefix+"_FAILURE_THRESHOLD", defaults.FailureThreshold)
	defaults.SuccessThreshold = envUint32(prefix+"_SUCCESS_THRESHOLD", defaults.SuccessThreshold)
	return defaults
}

func envUint32(key string, fallback uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
