package circuitbreaker

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper wraps sqlx database operations with a circuit breaker
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	config := GetDatabaseConfig().ToConfig()
	cb := NewCircuitBreaker("postgresql", config, logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("postgresql", "docstore", cb)

	return &DatabaseWrapper{
		db:     db,
		cb:     cb,
		logger: logger,
	}
}

// PingContext wraps database ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		err = dw.db.PingContext(ctx)
		return err
	})

	GlobalMetricsCollector.RecordRequest("postgresql", "docstore", dw.cb.State(), cbErr == nil && err == nil)

	if cbErr != nil {
		return cbErr
	}
	return err
}

// ExecContext wraps Exec with circuit breaker
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		res, err = dw.db.ExecContext(ctx, query, args...)
		return err
	})

	GlobalMetricsCollector.RecordRequest("postgresql", "docstore", dw.cb.State(), cbErr == nil && err == nil)

	if cbErr != nil {
		return nil, cbErr
	}
	return res, err
}

// GetContext wraps sqlx Get with circuit breaker. sql.ErrNoRows does not trip the breaker.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		err = dw.db.GetContext(ctx, dest, query, args...)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})

	success := cbErr == nil && (err == nil || err == sql.ErrNoRows)
	GlobalMetricsCollector.RecordRequest("postgresql", "docstore", dw.cb.State(), success)

	if cbErr != nil {
		return cbErr
	}
	return err
}

// SelectContext wraps sqlx Select with circuit breaker
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		err = dw.db.SelectContext(ctx, dest, query, args...)
		return err
	})

	GlobalMetricsCollector.RecordRequest("postgresql", "docstore", dw.cb.State(), cbErr == nil && err == nil)

	if cbErr != nil {
		return cbErr
	}
	return err
}

// IsCircuitBreakerOpen reports whether the breaker currently rejects requests
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}

// Close closes the underlying database handle
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}
