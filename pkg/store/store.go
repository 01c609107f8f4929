package store

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is the statement surface the import core needs. Both the pool and a
// transaction satisfy it.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Copier streams text-format COPY data over the native protocol.
type Copier interface {
	CopyFromReader(ctx context.Context, r io.Reader, sql string) (pgconn.CommandTag, error)
}

// Tx is one import transaction.
type Tx interface {
	Conn
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DB opens import transactions.
type DB interface {
	Conn
	Begin(ctx context.Context) (Tx, error)
}

// Pool adapts a pgxpool.Pool to DB.
type Pool struct {
	*pgxpool.Pool
}

func NewPool(pool *pgxpool.Pool) *Pool {
	return &Pool{Pool: pool}
}

func (p *Pool) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &pgTx{Tx: tx}, nil
}

type pgTx struct {
	pgx.Tx
}

func (t *pgTx) CopyFromReader(ctx context.Context, r io.Reader, sql string) (pgconn.CommandTag, error) {
	return t.Tx.Conn().PgConn().CopyFrom(ctx, r, sql)
}
