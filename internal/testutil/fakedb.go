package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"ejsubmit/internal/common/db"
)

// Call is one statement received by FakeDB.
type Call struct {
	Query string
	Args  []interface{}
	InTx  bool
}

// FakeDB is a scripted db.Database. Handlers see the normalized query text;
// statements issued through a transaction are recorded with InTx set.
type FakeDB struct {
	mu sync.Mutex

	ExecFn     func(query string, args []interface{}) (db.Result, error)
	QueryRowFn func(query string, args []interface{}) db.Row
	QueryFn    func(query string, args []interface{}) (db.Rows, error)

	BeginErr  error
	CommitErr error

	Calls     []Call
	Begins    int
	Commits   int
	Rollbacks int
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func (f *FakeDB) record(query string, args []interface{}, inTx bool) string {
	q := normalize(query)
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Query: q, Args: args, InTx: inTx})
	f.mu.Unlock()
	return q
}

// CallsMatching returns the recorded calls whose query contains substr.
func (f *FakeDB) CallsMatching(substr string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if strings.Contains(c.Query, substr) {
			out = append(out, c)
		}
	}
	return out
}

// Counts returns begins, commits and rollbacks observed so far.
func (f *FakeDB) Counts() (begins, commits, rollbacks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Begins, f.Commits, f.Rollbacks
}

func (f *FakeDB) exec(query string, args []interface{}, inTx bool) (db.Result, error) {
	q := f.record(query, args, inTx)
	if f.ExecFn == nil {
		return FakeResult{Affected: 1}, nil
	}
	return f.ExecFn(q, args)
}

func (f *FakeDB) queryRow(query string, args []interface{}, inTx bool) db.Row {
	q := f.record(query, args, inTx)
	if f.QueryRowFn == nil {
		return &FakeRow{Err: sql.ErrNoRows}
	}
	return f.QueryRowFn(q, args)
}

func (f *FakeDB) query(query string, args []interface{}, inTx bool) (db.Rows, error) {
	q := f.record(query, args, inTx)
	if f.QueryFn == nil {
		return &FakeRows{}, nil
	}
	return f.QueryFn(q, args)
}

func (f *FakeDB) Query(_ context.Context, query string, args ...interface{}) (db.Rows, error) {
	return f.query(query, args, false)
}

func (f *FakeDB) QueryRow(_ context.Context, query string, args ...interface{}) db.Row {
	return f.queryRow(query, args, false)
}

func (f *FakeDB) Exec(_ context.Context, query string, args ...interface{}) (db.Result, error) {
	return f.exec(query, args, false)
}

func (f *FakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	tx, err := f.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (f *FakeDB) BeginTx(_ context.Context, _ *db.TxOptions) (db.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BeginErr != nil {
		return nil, f.BeginErr
	}
	f.Begins++
	return &fakeTx{db: f}, nil
}

func (f *FakeDB) Ping(context.Context) error { return nil }
func (f *FakeDB) Close() error               { return nil }
func (f *FakeDB) Stats() db.Stats            { return db.Stats{} }

type fakeTx struct {
	db   *FakeDB
	done bool
}

func (t *fakeTx) Query(_ context.Context, query string, args ...interface{}) (db.Rows, error) {
	return t.db.query(query, args, true)
}

func (t *fakeTx) QueryRow(_ context.Context, query string, args ...interface{}) db.Row {
	return t.db.queryRow(query, args, true)
}

func (t *fakeTx) Exec(_ context.Context, query string, args ...interface{}) (db.Result, error) {
	return t.db.exec(query, args, true)
}

func (t *fakeTx) Commit() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return fmt.Errorf("commit failed: %w", sql.ErrTxDone)
	}
	t.done = true
	if t.db.CommitErr != nil {
		return t.db.CommitErr
	}
	t.db.Commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return fmt.Errorf("rollback failed: %w", sql.ErrTxDone)
	}
	t.done = true
	t.db.Rollbacks++
	return nil
}

// FakeResult is a fixed db.Result.
type FakeResult struct {
	InsertID int64
	Affected int64
}

func (r FakeResult) LastInsertId() (int64, error) { return r.InsertID, nil }
func (r FakeResult) RowsAffected() (int64, error) { return r.Affected, nil }

// FakeRow scans Values into the destinations in order.
type FakeRow struct {
	Values []interface{}
	Err    error
}

func (r *FakeRow) Scan(dest ...interface{}) error {
	if r.Err != nil {
		return r.Err
	}
	return assign(dest, r.Values)
}

// FakeRows iterates over Data.
type FakeRows struct {
	Data [][]interface{}
	pos  int
}

func (r *FakeRows) Next() bool {
	if r.pos >= len(r.Data) {
		return false
	}
	r.pos++
	return true
}

func (r *FakeRows) Scan(dest ...interface{}) error {
	return assign(dest, r.Data[r.pos-1])
}

func (r *FakeRows) Close() error { return nil }
func (r *FakeRows) Err() error   { return nil }

func assign(dest []interface{}, values []interface{}) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if target.Kind() == reflect.Ptr {
			p := reflect.New(target.Type().Elem())
			p.Elem().Set(v.Convert(target.Type().Elem()))
			target.Set(p)
			continue
		}
		if !v.Type().ConvertibleTo(target.Type()) {
			return fmt.Errorf("scan: column %d: cannot assign %T to %s", i, values[i], target.Type())
		}
		target.Set(v.Convert(target.Type()))
	}
	return nil
}
