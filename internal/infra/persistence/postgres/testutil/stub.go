// Package testutil provides a database/sql driver that fakes the bloodlink
// `state` table so postgres store tests run without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Injected failures.
var (
	ErrPing   = errors.New("stub: ping failed")
	ErrQuery  = errors.New("stub: query failed")
	ErrBegin  = errors.New("stub: begin failed")
	ErrUpsert = errors.New("stub: upsert failed")
	ErrCommit = errors.New("stub: commit failed")
)

var driverSeq atomic.Int64

// StateConn holds committed bucket rows and records every statement it sees.
// Upserts issued inside a transaction become visible on commit.
type StateConn struct {
	mu      sync.Mutex
	rows    map[string][]byte
	pending map[string][]byte
	inTx    bool

	Statements []string
	Upserts    []string

	FailPing   bool
	FailQuery  bool
	FailBegin  bool
	FailUpsert bool
	FailCommit bool
}

// NewStateDB registers a fresh driver and returns a handle bound to its connection.
func NewStateDB() (*sql.DB, *StateConn) {
	conn := &StateConn{rows: make(map[string][]byte)}
	name := fmt.Sprintf("bloodlink-stubpg-%d", driverSeq.Add(1))
	sql.Register(name, stateDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Row returns the committed payload for bucket.
func (c *StateConn) Row(bucket string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.rows[bucket]
	return data, ok
}

// Buckets lists committed bucket names in sorted order.
func (c *StateConn) Buckets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rows))
	for b := range c.rows {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// ResetStatements clears the statement and upsert logs.
func (c *StateConn) ResetStatements() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statements = nil
	c.Upserts = nil
}

type stateDriver struct{ conn *StateConn }

func (d stateDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn; only direct Exec/Query paths are supported.
func (c *StateConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepare not supported: %s", query)
}

// Close implements driver.Conn.
func (c *StateConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StateConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StateConn) Ping(context.Context) error {
	if c.FailPing {
		return ErrPing
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StateConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBegin {
		return nil, ErrBegin
	}
	c.inTx = true
	c.pending = make(map[string][]byte)
	return stateTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext for the DDL and upsert statements.
func (c *StateConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statements = append(c.Statements, query)
	head := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(head, "CREATE TABLE"):
		return driver.ResultNoRows, nil
	case strings.HasPrefix(head, "INSERT INTO STATE"):
		if c.FailUpsert {
			return nil, ErrUpsert
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("stub: upsert wants 2 args, got %d", len(args))
		}
		bucket, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("stub: bucket arg is %T", args[0].Value)
		}
		payload, ok := args[1].Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("stub: payload arg is %T", args[1].Value)
		}
		data := append([]byte(nil), payload...)
		c.Upserts = append(c.Upserts, bucket)
		if c.inTx {
			c.pending[bucket] = data
		} else {
			c.rows[bucket] = data
		}
		return driver.RowsAffected(1), nil
	default:
		return nil, fmt.Errorf("stub: unsupported exec: %s", query)
	}
}

// QueryContext implements driver.QueryerContext for `SELECT bucket, payload FROM state`.
func (c *StateConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statements = append(c.Statements, query)
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT BUCKET, PAYLOAD FROM STATE") {
		return nil, fmt.Errorf("stub: unsupported query: %s", query)
	}
	if c.FailQuery {
		return nil, ErrQuery
	}
	names := make([]string, 0, len(c.rows))
	for b := range c.rows {
		names = append(names, b)
	}
	sort.Strings(names)
	out := &stateRows{}
	for _, b := range names {
		out.rows = append(out.rows, [2]driver.Value{b, append([]byte(nil), c.rows[b]...)})
	}
	return out, nil
}

type stateTx struct{ conn *StateConn }

func (t stateTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = false
	pending := c.pending
	c.pending = nil
	if c.FailCommit {
		return ErrCommit
	}
	for b, data := range pending {
		c.rows[b] = data
	}
	return nil
}

func (t stateTx) Rollback() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = false
	c.pending = nil
	return nil
}

type stateRows struct {
	rows [][2]driver.Value
	idx  int
}

func (r *stateRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stateRows) Close() error      { return nil }

func (r *stateRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	dest[0], dest[1] = r.rows[r.idx][0], r.rows[r.idx][1]
	r.idx++
	return nil
}
