package postgres

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// step is one scripted database response, consumed by the first statement
// whose SQL contains match.
type step struct {
	match string
	cols  []string
	rows  [][]any
	tag   string
	err   error
}

type call struct {
	sql  string
	args []any
}

// fakeDB is a scripted Beginner for repository tests.
type fakeDB struct {
	mu        sync.Mutex
	script    []step
	calls     []call
	commits   int
	rollbacks int
}

var _ Beginner = (*fakeDB)(nil)

func (db *fakeDB) expect(s ...step) *fakeDB {
	db.script = append(db.script, s...)
	return db
}

func (db *fakeDB) take(sql string, args []any) (step, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = append(db.calls, call{sql: sql, args: args})
	for i, s := range db.script {
		if strings.Contains(sql, s.match) {
			db.script = append(db.script[:i], db.script[i+1:]...)
			return s, nil
		}
	}
	return step{}, fmt.Errorf("unexpected statement: %s", sql)
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s, err := db.take(sql, args)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	if s.err != nil {
		return pgconn.CommandTag{}, s.err
	}
	tag := s.tag
	if tag == "" {
		tag = "UPDATE 1"
	}
	return pgconn.NewCommandTag(tag), nil
}

func (db *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	s, err := db.take(sql, args)
	if err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &fakeRows{cols: s.cols, rows: s.rows, pos: -1}, nil
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rows, err := db.Query(ctx, sql, args...)
	return &fakeRow{rows: rows, err: err}
}

func (db *fakeDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) statements() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, 0, len(db.calls))
	for _, c := range db.calls {
		out = append(out, c.sql)
	}
	return out
}

func (db *fakeDB) lastCall(match string) (call, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := len(db.calls) - 1; i >= 0; i-- {
		if strings.Contains(db.calls[i].sql, match) {
			return db.calls[i], true
		}
	}
	return call{}, false
}

// fakeTx embeds pgx.Tx for the methods no repository calls.
type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.HasPrefix(sql, "SET LOCAL") {
		return pgconn.NewCommandTag("SET"), nil
	}
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Commit(context.Context) error {
	t.db.mu.Lock()
	t.db.commits++
	t.db.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.db.mu.Lock()
	t.db.rollbacks++
	t.db.mu.Unlock()
	return nil
}

type fakeRows struct {
	cols   []string
	rows   [][]any
	pos    int
	closed bool
}

func (r *fakeRows) Close()                        { r.closed = true }
func (r *fakeRows) Err() error                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) RawValues() [][]byte           { return nil }
func (r *fakeRows) Conn() *pgx.Conn               { return nil }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, 0, len(r.cols))
	for _, c := range r.cols {
		out = append(out, pgconn.FieldDescription{Name: c})
	}
	return out
}

func (r *fakeRows) Next() bool {
	if r.closed || r.pos+1 >= len(r.rows) {
		r.closed = true
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.pos], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, val any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("destination %T is not a pointer", dest)
	}
	target := dv.Elem()
	if val == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}

	v := reflect.ValueOf(val)
	switch {
	case v.Type().AssignableTo(target.Type()):
		target.Set(v)
	case target.Kind() == reflect.Ptr && v.Type().AssignableTo(target.Type().Elem()):
		p := reflect.New(target.Type().Elem())
		p.Elem().Set(v)
		target.Set(p)
	case v.Kind() == reflect.Ptr && !v.IsNil() && v.Elem().Type().AssignableTo(target.Type()):
		target.Set(v.Elem())
	case v.Kind() == reflect.Ptr && v.IsNil():
		target.Set(reflect.Zero(target.Type()))
	case v.Type().ConvertibleTo(target.Type()):
		target.Set(v.Convert(target.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", val, target.Type())
	}
	return nil
}

type fakeRow struct {
	rows pgx.Rows
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	defer r.rows.Close()
	if !r.rows.Next() {
		return pgx.ErrNoRows
	}
	return r.rows.Scan(dest...)
}

// rowOf lays out the db-tagged fields of v in cols order.
func rowOf(cols []string, v any) []any {
	m := StructToMap(v)
	out := make([]any, 0, len(cols))
	for _, c := range cols {
		out = append(out, m[c])
	}
	return out
}
