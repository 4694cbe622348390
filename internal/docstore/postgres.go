package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ripple-trading/internal/types"
)

const txRetries = 3

// Postgres stores documents as JSONB rows and runs transactions at
// Serializable isolation. Serialization failures are retried up to
// txRetries before surfacing as types.ErrTransactionConflict.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &Postgres{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		create table if not exists documents (
			collection text not null,
			id text not null,
			data jsonb not null,
			updated_at timestamptz not null,
			primary key (collection, id)
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, "create index if not exists documents_data_idx on documents using gin (data jsonb_path_ops)")
	return err
}

func (s *Postgres) Close() {
	s.pool.Close()
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Postgres) Get(ctx context.Context, collection, id string) (Doc, error) {
	return getDoc(ctx, s.pool, collection, id)
}

func (s *Postgres) Query(ctx context.Context, collection string, filter Filter) ([]Doc, error) {
	return queryDocs(ctx, s.pool, collection, filter)
}

func (s *Postgres) Put(ctx context.Context, collection, id string, data []byte) error {
	return putDoc(ctx, s.pool, collection, id, data)
}

func (s *Postgres) Delete(ctx context.Context, collection, id string) error {
	return deleteDoc(ctx, s.pool, collection, id)
}

func (s *Postgres) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txRetries; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", types.ErrTransactionConflict, lastErr)
}

func (s *Postgres) runOnce(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, collection, id string) (Doc, error) {
	return getDoc(ctx, t.tx, collection, id)
}

func (t *pgTx) Query(ctx context.Context, collection string, filter Filter) ([]Doc, error) {
	return queryDocs(ctx, t.tx, collection, filter)
}

func (t *pgTx) Put(ctx context.Context, collection, id string, data []byte) error {
	return putDoc(ctx, t.tx, collection, id, data)
}

func (t *pgTx) Delete(ctx context.Context, collection, id string) error {
	return deleteDoc(ctx, t.tx, collection, id)
}

func getDoc(ctx context.Context, q querier, collection, id string) (Doc, error) {
	var doc Doc
	err := q.QueryRow(ctx, "select id, data, updated_at from documents where collection = $1 and id = $2", collection, id).Scan(&doc.ID, &doc.Data, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Doc{}, fmt.Errorf("%s/%s: %w", collection, id, types.ErrNotFound)
		}
		return Doc{}, err
	}
	return doc, nil
}

func queryDocs(ctx context.Context, q querier, collection string, filter Filter) ([]Doc, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(filter) == 0 {
		rows, err = q.Query(ctx, "select id, data, updated_at from documents where collection = $1 order by id", collection)
	} else {
		var match []byte
		match, err = json.Marshal(filter)
		if err != nil {
			return nil, err
		}
		rows, err = q.Query(ctx, "select id, data, updated_at from documents where collection = $1 and data @> $2 order by id", collection, match)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Doc
	for rows.Next() {
		var doc Doc
		if err := rows.Scan(&doc.ID, &doc.Data, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func putDoc(ctx context.Context, q querier, collection, id string, data []byte) error {
	_, err := q.Exec(ctx, `
		insert into documents (collection, id, data, updated_at)
		values ($1, $2, $3, $4)
		on conflict (collection, id)
		do update set data = excluded.data, updated_at = excluded.updated_at`,
		collection, id, data, time.Now().UTC())
	return err
}

func deleteDoc(ctx context.Context, q querier, collection, id string) error {
	tag, err := q.Exec(ctx, "delete from documents where collection = $1 and id = $2", collection, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, types.ErrNotFound)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
