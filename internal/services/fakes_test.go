package services

import (
	"context"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/services-marketplace/backend/internal/events"
	"github.com/services-marketplace/backend/internal/payment"
)

// fakeDB is an in-memory db.Querier scripted by SQL substring. Every
// statement is recorded so tests can assert which mutations ran.
type fakeDB struct {
	row  map[string][]any   // QueryRow: substring -> scan values
	rows map[string][][]any // Query: substring -> result rows
	tags map[string]string  // Exec: substring -> command tag, default "UPDATE 1"
	log  []string
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.log = append(f.log, sql)
	for k, tag := range f.tags {
		if strings.Contains(sql, k) {
			return pgconn.NewCommandTag(tag), nil
		}
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.log = append(f.log, sql)
	for k, rows := range f.rows {
		if strings.Contains(sql, k) {
			return &fakeRows{rows: rows}, nil
		}
	}
	return &fakeRows{}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.log = append(f.log, sql)
	for k, vals := range f.row {
		if strings.Contains(sql, k) {
			return &fakeRow{vals: vals}
		}
	}
	return &fakeRow{err: pgx.ErrNoRows}
}

func (f *fakeDB) count(substr string) int {
	n := 0
	for _, sql := range f.log {
		if strings.Contains(sql, substr) {
			n++
		}
	}
	return n
}

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if i >= len(r.vals) {
			break
		}
		out := reflect.ValueOf(d).Elem()
		if r.vals[i] == nil {
			out.Set(reflect.Zero(out.Type()))
			continue
		}
		out.Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { r.idx++; return r.idx <= len(r.rows) }
func (r *fakeRows) Scan(dest ...any) error {
	return (&fakeRow{vals: r.rows[r.idx-1]}).Scan(dest...)
}
func (r *fakeRows) Values() ([]any, error) { return nil, nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

// fakeTx satisfies pgx.Tx against the same fakeDB and records the outcome.
type fakeTx struct {
	db         *fakeDB
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(context.Context) error          { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

type fakePool struct {
	db     *fakeDB
	begins int
	tx     *fakeTx
}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) {
	p.begins++
	p.tx = &fakeTx{db: p.db}
	return p.tx, nil
}

type fakeGateway struct {
	result *payment.CallbackResult
	err    error
}

func (g *fakeGateway) BuildDepositURL(int64, uuid.UUID, string, string) string {
	return "https://pay.example/redirect"
}

func (g *fakeGateway) VerifyCallback(map[string]string) (*payment.CallbackResult, error) {
	return g.result, g.err
}

type fakePublisher struct {
	published []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.published = append(p.published, e)
	return nil
}
