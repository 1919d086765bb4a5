package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/infrastructure/resilience"
)

const schemaLockKey int64 = 2024030101

// OpenDB opens the pool and pings it through the executor, so a database
// that is still starting up does not fail the process immediately.
func OpenDB(ctx context.Context, dsn string, executor *resilience.Executor) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ping := func(ctx context.Context) error { return db.PingContext(ctx) }
	if executor != nil {
		err = executor.Execute(ctx, "postgres.ping", ping, classifyPing)
	} else {
		err = ping(ctx)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func classifyPing(err error) resilience.Verdict {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.Verdict{}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "28P01" {
		// Bad password will not fix itself.
		return resilience.Verdict{Trip: true}
	}
	return resilience.Verdict{Retry: true, Trip: true}
}

// EnsureSchema creates the catalog tables. Concurrent starts are serialised by
// a transaction-scoped advisory lock.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS points_of_sale (
	id BIGSERIAL PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	chain TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	province_code TEXT NOT NULL DEFAULT '',
	province TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS articles (
	id BIGSERIAL PRIMARY KEY,
	sku TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL,
	brand TEXT NOT NULL DEFAULT '',
	package TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS price_observations (
	id BIGSERIAL PRIMARY KEY,
	article_id BIGINT NOT NULL REFERENCES articles(id),
	point_of_sale_id BIGINT NOT NULL REFERENCES points_of_sale(id),
	observed_at TIMESTAMPTZ NOT NULL,
	price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
	promo_price_cents BIGINT,
	in_stock BOOLEAN,
	collection_key TEXT NOT NULL,
	UNIQUE (article_id, point_of_sale_id, observed_at)
);

CREATE INDEX IF NOT EXISTS idx_price_observations_latest
	ON price_observations(article_id, point_of_sale_id, observed_at DESC);

CREATE TABLE IF NOT EXISTS tags (
	id BIGSERIAL PRIMARY KEY,
	label TEXT NOT NULL UNIQUE,
	parent_id BIGINT REFERENCES tags(id)
);

CREATE TABLE IF NOT EXISTS article_tags (
	article_id BIGINT NOT NULL REFERENCES articles(id),
	tag_id BIGINT NOT NULL REFERENCES tags(id),
	confidence DOUBLE PRECISION NOT NULL,
	method TEXT NOT NULL CHECK (method IN ('automatic', 'manual')),
	assigned_at TIMESTAMPTZ NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (article_id, tag_id)
);

CREATE TABLE IF NOT EXISTS tag_reviews (
	article_id BIGINT PRIMARY KEY REFERENCES articles(id),
	suggested_label TEXT NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	reason TEXT NOT NULL,
	candidates JSONB NOT NULL DEFAULT '[]'::jsonb,
	run_id TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);
`

// mapWriteError turns constraint violations into domain kinds. Serialization
// failures and lost connections are temporary.
func mapWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return domain.WrapError(domain.ErrIntegrityViolation, op,
				fmt.Errorf("constraint %s: %w", pgErr.ConstraintName, err))
		case pgErr.Code == "40001" || pgErr.Code == "40P01" || strings.HasPrefix(pgErr.Code, "08"):
			return domain.WrapError(domain.ErrTemporary, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
