// Package pgcache provides a PostgreSQL-backed implementation of cache.Cache.
package pgcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sdtom/internal/cache/pgcache")

const ddl = `
CREATE TABLE IF NOT EXISTS cache_entries (
    key        TEXT PRIMARY KEY,
    value      JSONB NOT NULL,
    expires_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS cache_entries_expires_idx ON cache_entries (expires_at);
`

// Cache stores entries in the cache_entries table. Expired rows are
// ignored on read and overwritten by the next Set.
type Cache struct {
	pool *pgxpool.Pool
}

// New ensures the table exists on the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Cache, error) {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("pgcache: ensure table: %w", err)
	}
	return &Cache{pool: pool}, nil
}

// Set upserts value under key. A ttl <= 0 never expires.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "pgcache.Set", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("cache.key", key),
	))
	defer span.End()

	b, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("pgcache: marshal %s: %w", key, err)
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err = c.pool.Exec(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		key, b, expiresAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("pgcache: set %s: %w", key, err)
	}
	return nil
}

// Get decodes the unexpired value under key into dst.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	ctx, span := tracer.Start(ctx, "pgcache.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("cache.key", key),
	))
	defer span.End()

	var b []byte
	err := c.pool.QueryRow(ctx,
		`SELECT value FROM cache_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("pgcache: get %s: %w", key, err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))

	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("pgcache: unmarshal %s: %w", key, err)
	}
	return true, nil
}
