package circuitbreaker

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

// DatabaseWrapper guards Postgres access with a shared breaker. Only the
// surface the audit write pipeline and health checks use is wrapped; read
// queries go through the raw connection via GetDB and sqlx.
type DatabaseWrapper struct {
	db     *sql.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper wraps an open connection pool.
func NewDatabaseWrapper(db *sql.DB, logger *zap.Logger) *DatabaseWrapper {
	cb := NewCircuitBreaker("postgresql", GetDatabaseConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("postgresql", "database-client", cb)
	return &DatabaseWrapper{db: db, cb: cb, logger: logger}
}

// guard runs op through the breaker and records the outcome.
func (dw *DatabaseWrapper) guard(ctx context.Context, op func() error) error {
	err := dw.cb.Execute(ctx, op)
	GlobalMetricsCollector.RecordRequest("postgresql", "database-client", dw.cb.State(), err == nil)
	return err
}

// PingContext checks connectivity through the breaker.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.guard(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
}

// ExecContext runs a write statement through the breaker.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := dw.guard(ctx, func() error {
		var execErr error
		res, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// TxWrapper is a transaction whose statements share the owning breaker.
type TxWrapper struct {
	tx *sql.Tx
	dw *DatabaseWrapper
}

// BeginTx opens a transaction through the breaker.
func (dw *DatabaseWrapper) BeginTx(ctx context.Context, opts *sql.TxOptions) (*TxWrapper, error) {
	var tx *sql.Tx
	err := dw.guard(ctx, func() error {
		var beginErr error
		tx, beginErr = dw.db.BeginTx(ctx, opts)
		return beginErr
	})
	if err != nil {
		return nil, err
	}
	return &TxWrapper{tx: tx, dw: dw}, nil
}

// ExecContext runs a statement inside the transaction.
func (tw *TxWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := tw.dw.guard(ctx, func() error {
		var execErr error
		res, execErr = tw.tx.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Commit commits the transaction through the breaker.
func (tw *TxWrapper) Commit() error {
	return tw.dw.guard(context.Background(), tw.tx.Commit)
}

// Rollback bypasses the breaker; a rollback should always be attempted.
func (tw *TxWrapper) Rollback() error {
	return tw.tx.Rollback()
}

// Close closes the underlying pool.
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// GetDB returns the raw pool for reads that bypass the breaker.
func (dw *DatabaseWrapper) GetDB() *sql.DB {
	return dw.db
}

// IsCircuitBreakerOpen reports whether writes are currently being rejected.
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
