package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/m3rciful/checklistbot/core/logger"
)

const (
	component     = "db"
	pingTimeout   = 5 * time.Second
	retryInterval = 2 * time.Second
)

// Connect opens the archive database, waiting up to cfg.ConnectTimeout for
// Postgres to accept connections, and configures the pool.
func Connect(cfg Config) (*sqlx.DB, error) {
	ctx := context.Background()
	attrs := []slog.Attr{
		slog.String("driver", "postgres"),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
	}

	start := time.Now()
	db, err := WaitForPostgres(ctx, cfg.KeywordDSN(), cfg.ConnectTimeout())
	took := logger.RoundMS(time.Since(start))
	if err != nil {
		logger.Error(ctx, component, "db.connect", append(attrs,
			slog.String("status", "fail"),
			slog.Duration("took", took),
			logger.Err(err),
		)...)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections)
	}
	logger.Info(ctx, component, "db.connect", append(attrs,
		slog.String("status", "ok"),
		slog.Int("pool_open", cfg.MaxConnections),
		slog.Duration("took", took),
	)...)
	return db, nil
}

// WaitForPostgres connects and pings dsn until it succeeds, ctx is done or
// timeout elapses. A zero timeout makes a single attempt.
func WaitForPostgres(ctx context.Context, dsn string, timeout time.Duration) (*sqlx.DB, error) {
	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		db, err := ping(ctx, dsn)
		if err == nil {
			return db, nil
		}
		if time.Now().Add(retryInterval).After(deadline) {
			return nil, err
		}
		logger.Warn(ctx, component, "db.wait",
			slog.Int("attempt", attempt),
			logger.Err(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

func ping(ctx context.Context, dsn string) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	// ConnectContext pings before returning.
	return sqlx.ConnectContext(ctx, "postgres", dsn)
}
