package db_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"ejsubmit/internal/common/db"

	"github.com/go-sql-driver/mysql"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "bad conn", err: fmt.Errorf("query failed: %w", driver.ErrBadConn), want: true},
		{name: "invalid conn", err: mysql.ErrInvalidConn, want: true},
		{name: "conn done", err: sql.ErrConnDone, want: true},
		{name: "marked", err: fmt.Errorf("load run: %w", db.ErrUnavailable), want: true},
		{name: "bare deadline", err: fmt.Errorf("judge request: %w", context.DeadlineExceeded), want: false},
		{name: "server gone", err: &mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"}, want: true},
		{name: "too many connections", err: &mysql.MySQLError{Number: 1040}, want: true},
		{name: "bare dial refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, want: false},
		{name: "duplicate key", err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, want: false},
		{name: "no rows", err: sql.ErrNoRows, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := db.IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestMySQLMarksConnectionFailures(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	sqlDB, err := sql.Open("mysql", fmt.Sprintf("user:pass@tcp(%s)/ejsubmit?timeout=200ms", addr))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	database := db.NewMySQLWithDB(sqlDB)
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = database.Ping(ctx)
	if err == nil {
		t.Fatalf("expected ping to fail")
	}
	if !errors.Is(err, db.ErrUnavailable) || !db.IsTransient(err) {
		t.Fatalf("expected connection failure to be transient, got %v", err)
	}
	if _, err := database.BeginTx(ctx, nil); !db.IsTransient(err) {
		t.Fatalf("expected begin failure to be transient, got %v", err)
	}
}

func TestUniqueViolation(t *testing.T) {
	t.Parallel()
	key, ok := db.UniqueViolation(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'runs.PRIMARY'"})
	if !ok {
		t.Fatalf("expected unique violation")
	}
	if key != "runs.PRIMARY" {
		t.Fatalf("unexpected key: %q", key)
	}
	if _, ok := db.UniqueViolation(errors.New("other")); ok {
		t.Fatalf("unexpected unique violation")
	}
}

func TestIsTxDone(t *testing.T) {
	t.Parallel()
	if !db.IsTxDone(fmt.Errorf("rollback failed: %w", sql.ErrTxDone)) {
		t.Fatalf("expected wrapped ErrTxDone to match")
	}
	if db.IsTxDone(errors.New("rollback failed")) {
		t.Fatalf("unexpected match")
	}
}
