package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

// AdvisoryLocker gives process-level exclusivity with session advisory locks.
// The lock lives on a dedicated connection held until unlock.
type AdvisoryLocker struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAdvisoryLocker(db *sql.DB, logger *slog.Logger) *AdvisoryLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvisoryLocker{db: db, logger: logger.With("component", "advisory_lock")}
}

func (l *AdvisoryLocker) TryLock(ctx context.Context, name string) (func(), error) {
	key := lockKey(name)
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("try advisory lock %s: %w", name, err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, domain.WrapError(domain.ErrLoaderBusy, "lock "+name, fmt.Errorf("held by another process"))
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			// Closing the session releases the lock anyway.
			l.logger.Warn("advisory_unlock_failed", "lock", name, "error", err)
		}
		_ = conn.Close()
	}, nil
}

func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
