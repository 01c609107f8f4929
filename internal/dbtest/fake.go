// Package dbtest provides a scripted, recording fake of the store interfaces.
package dbtest

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/OFFIS-RIT/relannis/pkg/store"
)

// Statement is one recorded Exec, Query or QueryRow call.
type Statement struct {
	SQL  string
	Args []any
}

// CopyCall is one recorded text-format COPY.
type CopyCall struct {
	SQL  string
	Data string
}

// Rule scripts the response to statements containing a substring.
type Rule struct {
	match string
	row   []any
	rows  [][]any
	err   error
	tag   string
	do    func(args []any)
	times int
	used  int
}

// Return sets the values QueryRow scans.
func (r *Rule) Return(vals ...any) *Rule { r.row = vals; return r }

// Rows sets the result set of Query.
func (r *Rule) Rows(rows ...[]any) *Rule { r.rows = rows; return r }

// Fail makes matching statements return err.
func (r *Rule) Fail(err error) *Rule { r.err = err; return r }

// Tag sets the command tag returned by Exec.
func (r *Rule) Tag(tag string) *Rule { r.tag = tag; return r }

// Do runs fn whenever the rule matches.
func (r *Rule) Do(fn func(args []any)) *Rule { r.do = fn; return r }

// Once limits the rule to a single match.
func (r *Rule) Once() *Rule { r.times = 1; return r }

// DB is a fake store.DB. Transactions share its recorder.
type DB struct {
	mu         sync.Mutex
	rules      []*Rule
	Statements []Statement
	Copies     []CopyCall
	CopyRows   map[string][][]any
	Begun      int
	Committed  int
	RolledBack int
	CommitErr  error
}

func New() *DB {
	return &DB{CopyRows: map[string][][]any{}}
}

// On registers a rule. Rules are matched in registration order.
func (d *DB) On(substr string) *Rule {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := &Rule{match: substr}
	d.rules = append(d.rules, r)
	return r
}

func (d *DB) match(sql string, args []any) *Rule {
	d.mu.Lock()
	d.Statements = append(d.Statements, Statement{SQL: sql, Args: args})
	var hit *Rule
	for _, r := range d.rules {
		if r.times > 0 && r.used >= r.times {
			continue
		}
		if strings.Contains(sql, r.match) {
			r.used++
			hit = r
			break
		}
	}
	d.mu.Unlock()
	if hit != nil && hit.do != nil {
		hit.do(args)
	}
	return hit
}

// Executed reports whether any statement contained substr.
func (d *DB) Executed(substr string) bool {
	return d.Count(substr) > 0
}

// Count returns the number of statements containing substr.
func (d *DB) Count(substr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.Statements {
		if strings.Contains(s.SQL, substr) {
			n++
		}
	}
	return n
}

// Index returns the position of the first statement containing substr, or -1.
func (d *DB) Index(substr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.Statements {
		if strings.Contains(s.SQL, substr) {
			return i
		}
	}
	return -1
}

// Find returns the first statement containing substr.
func (d *DB) Find(substr string) (Statement, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.Statements {
		if strings.Contains(s.SQL, substr) {
			return s, true
		}
	}
	return Statement{}, false
}

func (d *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := ctx.Err(); err != nil {
		return pgconn.CommandTag{}, err
	}
	r := d.match(sql, args)
	if r == nil {
		return pgconn.NewCommandTag(""), nil
	}
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	return pgconn.NewCommandTag(r.tag), nil
}

func (d *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := ctx.Err(); err != nil {
		return &row{err: err}
	}
	r := d.match(sql, args)
	if r == nil {
		return &row{err: pgx.ErrNoRows}
	}
	if r.err != nil {
		return &row{err: r.err}
	}
	if r.row == nil {
		return &row{err: pgx.ErrNoRows}
	}
	return &row{vals: r.row}
}

func (d *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := d.match(sql, args)
	if r == nil {
		return &rows{}, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	return &rows{data: r.rows, idx: -1}, nil
}

func (d *DB) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	name := strings.Join(table, ".")
	r := d.match("COPY "+name, nil)
	if r != nil && r.err != nil {
		return 0, r.err
	}
	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		d.mu.Lock()
		d.CopyRows[name] = append(d.CopyRows[name], vals)
		d.mu.Unlock()
		n++
	}
	return n, src.Err()
}

func (d *DB) CopyFromReader(ctx context.Context, rd io.Reader, sql string) (pgconn.CommandTag, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	r := d.match(sql, nil)
	if r != nil && r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	d.mu.Lock()
	d.Copies = append(d.Copies, CopyCall{SQL: sql, Data: string(data)})
	d.mu.Unlock()
	return pgconn.NewCommandTag(fmt.Sprintf("COPY %d", strings.Count(string(data), "\n"))), nil
}

func (d *DB) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.Begun++
	d.mu.Unlock()
	return &Tx{DB: d}, nil
}

// Tx is a fake transaction recording into its DB.
type Tx struct {
	*DB
	done bool
}

func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	if t.CommitErr != nil {
		t.RolledBack++
		return t.CommitErr
	}
	t.Committed++
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.RolledBack++
	return nil
}

// NoCopy hides the Copier capability of a connection.
type NoCopy struct {
	store.Conn
}

type row struct {
	vals []any
	err  error
}

func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(r.vals, dest)
}

type rows struct {
	data [][]any
	idx  int
}

func (r *rows) Close()                                       {}
func (r *rows) Err() error                                   { return nil }
func (r *rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rows) RawValues() [][]byte                          { return nil }
func (r *rows) Conn() *pgx.Conn                              { return nil }

func (r *rows) Next() bool {
	if r.idx+1 >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *rows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.data) {
		return fmt.Errorf("scan called without row")
	}
	return scanInto(r.data[r.idx], dest)
}

func (r *rows) Values() ([]any, error) {
	if r.idx < 0 || r.idx >= len(r.data) {
		return nil, fmt.Errorf("values called without row")
	}
	return r.data[r.idx], nil
}

func scanInto(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("scan: expected %d destinations, got %d", len(vals), len(dest))
	}
	for i := range dest {
		if err := assign(dest[i], vals[i]); err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, v any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer")
	}
	ev := dv.Elem()
	if v == nil {
		switch ev.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
			ev.Set(reflect.Zero(ev.Type()))
			return nil
		}
		return fmt.Errorf("cannot scan NULL into %s", dv.Type())
	}
	sv := reflect.ValueOf(v)
	switch {
	case sv.Type().AssignableTo(ev.Type()):
		ev.Set(sv)
	case ev.Kind() == reflect.Pointer && sv.Type().AssignableTo(ev.Type().Elem()):
		p := reflect.New(ev.Type().Elem())
		p.Elem().Set(sv)
		ev.Set(p)
	case isNumber(sv.Kind()) && isNumber(ev.Kind()):
		ev.Set(sv.Convert(ev.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", v, ev.Type())
	}
	return nil
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
