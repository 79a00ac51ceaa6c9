package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers that mean the server, not the statement, failed.
var transientMySQLErrors = map[uint16]struct{}{
	1040: {}, // too many connections
	1053: {}, // server shutdown in progress
	1205: {}, // lock wait timeout
	1213: {}, // deadlock
	1927: {}, // connection killed
	2002: {}, // can't connect through socket
	2003: {}, // can't connect to server
	2006: {}, // server has gone away
	2013: {}, // lost connection during query
}

// GetQuerier returns transaction if provided, otherwise uses the database.
func GetQuerier(database Database, tx Transaction) Querier {
	if tx != nil {
		return tx
	}
	return database
}

// IsNoRows checks if the error is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsTxDone reports whether the transaction was already committed or rolled back.
func IsTxDone(err error) bool {
	return errors.Is(err, sql.ErrTxDone)
}

// ErrUnavailable marks a failure to reach the database, as opposed to a
// failing statement. The MySQL layer attaches it to connection errors.
var ErrUnavailable = errors.New("database unavailable")

type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string {
	return e.err.Error()
}

func (e *unavailableError) Unwrap() []error {
	return []error{e.err, ErrUnavailable}
}

// markUnavailable tags err with ErrUnavailable when it is a connection-level
// failure raised by a database call. Timeouts and network errors only count
// here, where their origin is known to be the database.
func markUnavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	var netErr net.Error
	if isDriverConnFailure(err) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &unavailableError{err: err}
	}
	return err
}

// IsTransient reports whether err means the database could not be reached
// or dropped the connection. Network errors and timeouts from other
// backends do not qualify.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnavailable) || isDriverConnFailure(err)
}

func isDriverConnFailure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		_, ok := transientMySQLErrors[myErr.Number]
		return ok
	}
	return false
}

// UniqueViolation inspects a MySQL duplicate key error and returns the key name.
func UniqueViolation(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return extractDuplicateKeyName(myErr.Message), true
	}
	return "", false
}

func extractDuplicateKeyName(message string) string {
	const marker = "for key "
	idx := strings.LastIndex(message, marker)
	if idx == -1 {
		return ""
	}
	key := strings.TrimSpace(message[idx+len(marker):])
	return strings.Trim(key, " `\"'")
}
