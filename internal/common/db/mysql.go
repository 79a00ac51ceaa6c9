package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig holds the configuration for the runs database pool
type MySQLConfig struct {
	// DSN format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=Local"
	DSN string `yaml:"dsn"`

	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`

	// PingTimeout bounds the startup connectivity check. Default: 5s
	PingTimeout time.Duration `yaml:"pingTimeout"`
}

// DefaultMySQLConfig returns the default MySQL configuration
func DefaultMySQLConfig() *MySQLConfig {
	return &MySQLConfig{
		MaxOpenConnections: 25,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    5 * time.Minute,
		ConnMaxIdleTime:    10 * time.Minute,
		PingTimeout:        5 * time.Second,
	}
}

func (c *MySQLConfig) applyDefaults() {
	def := DefaultMySQLConfig()
	if c.MaxOpenConnections == 0 {
		c.MaxOpenConnections = def.MaxOpenConnections
	}
	if c.MaxIdleConnections == 0 {
		c.MaxIdleConnections = def.MaxIdleConnections
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
}

// MySQL implements Database on top of database/sql and the MySQL driver.
type MySQL struct {
	db *sql.DB
}

// NewMySQLWithConfig opens a pool and verifies connectivity.
func NewMySQLWithConfig(config *MySQLConfig) (*MySQL, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}
	config.applyDefaults()

	db, err := sql.Open("mysql", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConnections)
	db.SetMaxIdleConns(config.MaxIdleConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &MySQL{db: db}, nil
}

// NewMySQLWithDB wraps an existing pool without pinging it.
func NewMySQLWithDB(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

// Query executes a query that returns rows
func (m *MySQL) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, markUnavailable(fmt.Errorf("query failed: %w", err))
	}
	return &mysqlRows{rows: rows}, nil
}

// QueryRow executes a query that returns at most one row
func (m *MySQL) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return &mysqlRow{row: m.db.QueryRowContext(ctx, query, args...)}
}

// Exec executes a query that doesn't return rows
func (m *MySQL) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, markUnavailable(fmt.Errorf("exec failed: %w", err))
	}
	return result, nil
}

// Transaction executes fn within a transaction and commits if it returns nil.
func (m *MySQL) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	tx, err := m.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// BeginTx starts a new transaction with the given options
func (m *MySQL) BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error) {
	tx, err := m.db.BeginTx(ctx, ConvertTxOptions(opts))
	if err != nil {
		return nil, markUnavailable(fmt.Errorf("begin transaction failed: %w", err))
	}
	return &mysqlTransaction{tx: tx}, nil
}

// Ping verifies a connection to the database is still alive
func (m *MySQL) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return markUnavailable(fmt.Errorf("ping failed: %w", err))
	}
	return nil
}

// Close closes the pool
func (m *MySQL) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

// Stats returns pool statistics
func (m *MySQL) Stats() Stats {
	return ConvertSQLStats(m.db.Stats())
}

type mysqlRows struct {
	rows *sql.Rows
}

func (r *mysqlRows) Next() bool {
	return r.rows.Next()
}

func (r *mysqlRows) Scan(dest ...interface{}) error {
	if err := r.rows.Scan(dest...); err != nil {
		return markUnavailable(fmt.Errorf("scan failed: %w", err))
	}
	return nil
}

func (r *mysqlRows) Close() error {
	return r.rows.Close()
}

func (r *mysqlRows) Err() error {
	return markUnavailable(r.rows.Err())
}

type mysqlRow struct {
	row *sql.Row
}

func (r *mysqlRow) Scan(dest ...interface{}) error {
	if err := r.row.Scan(dest...); err != nil {
		return markUnavailable(fmt.Errorf("scan failed: %w", err))
	}
	return nil
}

type mysqlTransaction struct {
	tx *sql.Tx
}

func (t *mysqlTransaction) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, markUnavailable(fmt.Errorf("transaction query failed: %w", err))
	}
	return &mysqlRows{rows: rows}, nil
}

func (t *mysqlTransaction) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return &mysqlRow{row: t.tx.QueryRowContext(ctx, query, args...)}
}

func (t *mysqlTransaction) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, markUnavailable(fmt.Errorf("transaction exec failed: %w", err))
	}
	return result, nil
}

func (t *mysqlTransaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return markUnavailable(fmt.Errorf("commit failed: %w", err))
	}
	return nil
}

// Rollback wraps sql.ErrTxDone so callers can tell a no-op rollback apart via IsTxDone.
func (t *mysqlTransaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}
