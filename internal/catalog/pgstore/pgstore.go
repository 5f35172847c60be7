// Package pgstore provides a PostgreSQL implementation of catalog.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sdtom/internal/catalog"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sdtom/internal/catalog/pgstore")

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Store persists the catalog in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
// The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// GetTargetByName retrieves a target and its extras by name.
func (s *Store) GetTargetByName(ctx context.Context, name string) (*catalog.Target, error) {
	ctx, span := startSpan(ctx, "pgstore.GetTargetByName", "SELECT")
	defer span.End()

	var t catalog.Target
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, type, ra_deg, dec_deg, created, modified FROM targets WHERE name = $1`,
		name,
	).Scan(&t.ID, &t.Name, &t.Type, &t.RA, &t.Dec, &t.Created, &t.Modified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, recordErr(span, fmt.Errorf("scan target: %w", err))
	}

	extras, err := loadExtras(ctx, s.pool, t.ID)
	if err != nil {
		return nil, recordErr(span, err)
	}
	t.Extras = extras
	return &t, nil
}

// SaveTarget inserts or updates the target row and upserts the given extras.
func (s *Store) SaveTarget(ctx context.Context, t *catalog.Target, extras map[string]string) error {
	ctx, span := startSpan(ctx, "pgstore.SaveTarget", "UPSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return recordErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if t.Type == "" {
		t.Type = catalog.TargetTypeSidereal
	}

	if t.ID == 0 {
		err = tx.QueryRow(ctx,
			`INSERT INTO targets (name, type, ra_deg, dec_deg) VALUES ($1, $2, $3, $4)
			 RETURNING id, created, modified`,
			t.Name, t.Type, t.RA, t.Dec,
		).Scan(&t.ID, &t.Created, &t.Modified)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return recordErr(span, fmt.Errorf("target %q: %w", t.Name, catalog.ErrDuplicate))
			}
			return recordErr(span, fmt.Errorf("insert target: %w", err))
		}
	} else {
		err = tx.QueryRow(ctx,
			`UPDATE targets SET name = $2, type = $3, ra_deg = $4, dec_deg = $5, modified = now()
			 WHERE id = $1 RETURNING modified`,
			t.ID, t.Name, t.Type, t.RA, t.Dec,
		).Scan(&t.Modified)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return recordErr(span, catalog.ErrNotFound)
			}
			return recordErr(span, fmt.Errorf("update target: %w", err))
		}
	}

	for k, v := range extras {
		_, err := tx.Exec(ctx,
			`INSERT INTO target_extras (target_id, key, value) VALUES ($1, $2, $3)
			 ON CONFLICT (target_id, key) DO UPDATE SET value = EXCLUDED.value`,
			t.ID, k, v,
		)
		if err != nil {
			return recordErr(span, fmt.Errorf("upsert extra %s: %w", k, err))
		}
	}

	merged, err := loadExtras(ctx, tx, t.ID)
	if err != nil {
		return recordErr(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return recordErr(span, fmt.Errorf("commit: %w", err))
	}
	t.Extras = merged
	return nil
}

// GetOrCreateTargetList returns the named list, creating it when absent.
func (s *Store) GetOrCreateTargetList(ctx context.Context, name string) (*catalog.TargetList, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetOrCreateTargetList", "UPSERT")
	defer span.End()

	l := &catalog.TargetList{Name: name}
	// xmax = 0 only for freshly inserted rows
	var created bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO target_lists (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, (xmax = 0)`,
		name,
	).Scan(&l.ID, &created)
	if err != nil {
		return nil, false, recordErr(span, fmt.Errorf("get or create target list: %w", err))
	}
	return l, created, nil
}

// AddTargetToList adds a target to a list; adding twice is a no-op.
func (s *Store) AddTargetToList(ctx context.Context, listID, targetID int64) error {
	ctx, span := startSpan(ctx, "pgstore.AddTargetToList", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO target_list_members (list_id, target_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		listID, targetID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return recordErr(span, catalog.ErrNotFound)
		}
		return recordErr(span, fmt.Errorf("add target to list: %w", err))
	}
	return nil
}

// AddReducedData inserts data points, skipping ones already stored.
func (s *Store) AddReducedData(ctx context.Context, data []catalog.ReducedDatum) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.AddReducedData", "INSERT")
	defer span.End()
	span.SetAttributes(attribute.Int("sdtom.reduced_data.count", len(data)))

	if len(data) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, recordErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	created := 0
	for i := range data {
		d := &data[i]
		valueJSON, err := json.Marshal(d.Value)
		if err != nil {
			return 0, recordErr(span, fmt.Errorf("marshal value: %w", err))
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO reduced_data (target_id, source, data_type, ts, value)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (target_id, source, data_type, ts) DO NOTHING`,
			d.TargetID, d.Source, d.DataType, d.Timestamp, valueJSON,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return 0, recordErr(span, catalog.ErrNotFound)
			}
			return 0, recordErr(span, fmt.Errorf("insert reduced datum: %w", err))
		}
		created += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, recordErr(span, fmt.Errorf("commit: %w", err))
	}
	return created, nil
}

// LatestReducedDatum returns the newest datum for the target.
func (s *Store) LatestReducedDatum(ctx context.Context, targetID int64) (*catalog.ReducedDatum, error) {
	ctx, span := startSpan(ctx, "pgstore.LatestReducedDatum", "SELECT")
	defer span.End()

	var (
		d         catalog.ReducedDatum
		valueJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, target_id, source, data_type, ts, value FROM reduced_data
		 WHERE target_id = $1 ORDER BY ts DESC, id DESC LIMIT 1`,
		targetID,
	).Scan(&d.ID, &d.TargetID, &d.Source, &d.DataType, &d.Timestamp, &valueJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, recordErr(span, fmt.Errorf("scan reduced datum: %w", err))
	}
	if err := json.Unmarshal(valueJSON, &d.Value); err != nil {
		return nil, recordErr(span, fmt.Errorf("unmarshal value: %w", err))
	}
	return &d, nil
}

// ListBrokerQueries returns the queries configured for a broker, ordered by ID.
func (s *Store) ListBrokerQueries(ctx context.Context, broker string) ([]*catalog.BrokerQuery, error) {
	ctx, span := startSpan(ctx, "pgstore.ListBrokerQueries", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, broker, last_run, parameters, created, modified
		 FROM broker_queries WHERE broker = $1 ORDER BY id`,
		broker,
	)
	if err != nil {
		return nil, recordErr(span, fmt.Errorf("query broker queries: %w", err))
	}
	defer rows.Close()

	var out []*catalog.BrokerQuery
	for rows.Next() {
		var (
			q        catalog.BrokerQuery
			lastRun  *time.Time
			paramsJS []byte
		)
		if err := rows.Scan(&q.ID, &q.Name, &q.Broker, &lastRun, &paramsJS, &q.Created, &q.Modified); err != nil {
			return nil, recordErr(span, fmt.Errorf("scan broker query: %w", err))
		}
		if lastRun != nil {
			q.LastRun = *lastRun
		}
		if err := json.Unmarshal(paramsJS, &q.Parameters); err != nil {
			return nil, recordErr(span, fmt.Errorf("unmarshal parameters for %s: %w", q.Name, err))
		}
		out = append(out, &q)
	}
	if err := rows.Err(); err != nil {
		return nil, recordErr(span, fmt.Errorf("iterate broker queries: %w", err))
	}
	return out, nil
}

// SaveBrokerQuery updates by ID, or upserts by name keeping the stored last_run.
func (s *Store) SaveBrokerQuery(ctx context.Context, q *catalog.BrokerQuery) error {
	ctx, span := startSpan(ctx, "pgstore.SaveBrokerQuery", "UPSERT")
	defer span.End()

	params := q.Parameters
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return recordErr(span, fmt.Errorf("marshal parameters: %w", err))
	}

	if q.ID == 0 {
		var lastRun *time.Time
		err = s.pool.QueryRow(ctx,
			`INSERT INTO broker_queries (name, broker, parameters) VALUES ($1, $2, $3)
			 ON CONFLICT (name) DO UPDATE SET
				broker     = EXCLUDED.broker,
				parameters = EXCLUDED.parameters,
				modified   = now()
			 RETURNING id, last_run, created, modified`,
			q.Name, q.Broker, paramsJSON,
		).Scan(&q.ID, &lastRun, &q.Created, &q.Modified)
		if err != nil {
			return recordErr(span, fmt.Errorf("upsert broker query: %w", err))
		}
		q.LastRun = time.Time{}
		if lastRun != nil {
			q.LastRun = *lastRun
		}
		return nil
	}

	var lastRun *time.Time
	if !q.LastRun.IsZero() {
		lastRun = &q.LastRun
	}
	err = s.pool.QueryRow(ctx,
		`UPDATE broker_queries SET name = $2, broker = $3, last_run = $4, parameters = $5, modified = now()
		 WHERE id = $1 RETURNING modified`,
		q.ID, q.Name, q.Broker, lastRun, paramsJSON,
	).Scan(&q.Modified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return recordErr(span, catalog.ErrNotFound)
		}
		return recordErr(span, fmt.Errorf("update broker query: %w", err))
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadExtras(ctx context.Context, q querier, targetID int64) (map[string]string, error) {
	rows, err := q.Query(ctx, `SELECT key, value FROM target_extras WHERE target_id = $1`, targetID)
	if err != nil {
		return nil, fmt.Errorf("query extras: %w", err)
	}
	defer rows.Close()

	extras := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan extra: %w", err)
		}
		extras[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extras: %w", err)
	}
	return extras, nil
}
