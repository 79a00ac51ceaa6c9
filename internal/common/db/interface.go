package db

import (
	"context"
	"database/sql"
	"time"
)

// Querier abstracts database operations for both database and transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Database is a pooled relational database handle.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, committing when fn returns nil.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// BeginTx opens a transaction that the caller must commit or roll back.
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)

	Ping(ctx context.Context) error
	Close() error
	Stats() Stats
}

// Transaction is an open database transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows is an iterator over query results.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the result of QueryRow.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// TxOptions mirrors sql.TxOptions without leaking database/sql to callers.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// Stats is a snapshot of connection pool usage.
type Stats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
}

// ConvertTxOptions converts TxOptions into database/sql options.
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}
}

// ConvertSQLStats converts database/sql pool stats.
func ConvertSQLStats(s sql.DBStats) Stats {
	return Stats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}
