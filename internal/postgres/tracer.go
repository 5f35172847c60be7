package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var queryObserver atomic.Pointer[queryObserverHolder]

const (
	ctxKeySQL     ctxKey = "pgx.sql"
	ctxKeyArgs    ctxKey = "pgx.args"
	ctxKeyStart   ctxKey = "pgx.start"
	ctxKeyCaller  ctxKey = "db.caller"
	ctxKeyHandler ctxKey = "db.handler"
	ctxKeyJob     ctxKey = "sdtom.job"
)

// slowQuery is the duration above which successful queries are logged at
// warn level rather than info.
const slowQuery = 500 * time.Millisecond

// context keys for query metadata.
type ctxKey string

type dbStatsKey struct{}

type queryObserverHolder struct{ QueryObserver }

// RunDBStats accumulates database query statistics for one job run or request.
type RunDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and adds a
// structured log line for every query.
type loggingTracer struct {
	inner pgx.QueryTracer
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, job, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, job, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, job, route, outcome string, dur time.Duration) {
	f(ctx, job, route, outcome, dur)
}

// AddQuery records a single query execution.
func (s *RunDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// Snapshot returns the counters under the lock.
func (s *RunDBStats) Snapshot() (count int, total time.Duration, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueryCount, s.TotalDuration, s.ErrorCount
}

// SetQueryObserver sets the global query observer (typically a Prometheus histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

// WithJob labels queries issued under ctx with the job that issued them.
func WithJob(ctx context.Context, job string) context.Context {
	if job == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyJob, job)
}

// NewRunDBStatsContext returns a new context with an empty RunDBStats attached.
func NewRunDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, dbStatsKey{}, &RunDBStats{})
}

// RunDBStatsFromContext extracts the RunDBStats from the context, if present.
func RunDBStatsFromContext(ctx context.Context) (*RunDBStats, bool) {
	s, ok := ctx.Value(dbStatsKey{}).(*RunDBStats)
	return s, ok
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

func jobFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyJob).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// wrapQueryTracer wraps an inner tracer with structured logging.
func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	if inner == nil {
		return loggingTracer{}
	}
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	start := time.Now()
	caller, handler := findDBCallerAndHandler()

	// inner tracer opens its span first so the attributes below land on it
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	ctx = context.WithValue(ctx, ctxKeySQL, data.SQL)
	ctx = context.WithValue(ctx, ctxKeyArgs, data.Args)
	ctx = context.WithValue(ctx, ctxKeyStart, start)
	if caller != "" {
		ctx = context.WithValue(ctx, ctxKeyCaller, caller)
	}
	if handler != "" {
		ctx = context.WithValue(ctx, ctxKeyHandler, handler)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, 3)
		if caller != "" {
			attrs = append(attrs, attribute.String("db.caller", caller))
		}
		if handler != "" {
			attrs = append(attrs, attribute.String("db.handler", handler))
		}
		if job := jobFromContext(ctx); job != "" {
			attrs = append(attrs, attribute.String("sdtom.job", job))
		}
		if len(attrs) > 0 {
			span.SetAttributes(attrs...)
		}
	}

	return ctx
}

func (t loggingTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	sql, _ := ctx.Value(ctxKeySQL).(string)
	args, _ := ctx.Value(ctxKeyArgs).([]any)
	start, _ := ctx.Value(ctxKeyStart).(time.Time)
	caller, _ := ctx.Value(ctxKeyCaller).(string)
	handler, _ := ctx.Value(ctxKeyHandler).(string)

	var dur time.Duration
	if !start.IsZero() {
		dur = time.Since(start)
	}

	if s, ok := RunDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	if obs := getQueryObserver(); obs != nil && dur > 0 {
		obs.ObserveQuery(ctx, jobLabel(ctx), routeLabel(ctx), outcomeLabel(data.Err), dur)
	}

	fields := queryFields(sql, args, dur, data)
	if caller != "" {
		fields = append(fields, "db.caller", caller)
	}
	if handler != "" {
		fields = append(fields, "db.handler", handler)
	}
	if job := jobFromContext(ctx); job != "" {
		fields = append(fields, "job", job)
	}

	L := log.FromContext(ctx)
	switch {
	case data.Err != nil:
		L.Error(ctx, data.Err, "db query failed", fields...)
	case dur >= slowQuery:
		L.Warn(ctx, "slow db query", fields...)
	default:
		L.Info(ctx, "db query", fields...)
	}
}

func queryFields(sql string, args []any, dur time.Duration, data pgx.TraceQueryEndData) []any {
	fields := []any{
		"db.statement", sql,
		"db.args", args,
		"db.duration", dur.Seconds(),
	}

	tag := strings.TrimSpace(data.CommandTag.String())
	if parts := strings.Fields(tag); len(parts) > 0 {
		fields = append(fields,
			"db.operation.name", strings.ToUpper(parts[0]),
			"pg.command_tag", tag,
		)
		if rows := data.CommandTag.RowsAffected(); rows >= 0 {
			fields = append(fields, "db.rows", rows)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		fields = append(fields,
			"db.error_code", pgErr.Code,
			"db.error_constraint", pgErr.ConstraintName,
		)
	}
	return fields
}

func jobLabel(ctx context.Context) string {
	if job := jobFromContext(ctx); job != "" {
		return job
	}
	return "none"
}

func routeLabel(ctx context.Context) string {
	if route := routePatternFromContext(ctx); route != "" {
		return route
	}
	return "none"
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// storePackages issue queries on behalf of their callers; frames inside them
// are not reported as the handler.
var storePackages = []string{
	"github.com/linnemanlabs/sdtom/internal/catalog/pgstore.",
	"github.com/linnemanlabs/sdtom/internal/cache/pgcache.",
	"github.com/linnemanlabs/sdtom/internal/postgres.",
}

// findDBCallerAndHandler walks the stack to find:
//   - caller: the store method actually issuing the query
//   - handler: the first frame above the store packages (job or API handler)
func findDBCallerAndHandler() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	gotCaller := false
	for {
		fr, more := frames.Next()
		if !more {
			break
		}
		fn := fr.Function

		if strings.HasPrefix(fn, "runtime.") ||
			strings.Contains(fn, "github.com/jackc/pgx/v5") ||
			strings.Contains(fn, "github.com/exaring/otelpgx") ||
			strings.Contains(fn, "loggingTracer.TraceQuery") {
			continue
		}

		if !gotCaller {
			caller = shortenFuncName(fn)
			gotCaller = true
			continue
		}
		if inStorePackage(fn) {
			continue
		}
		handler = shortenFuncName(fn)
		break
	}

	return caller, handler
}

func inStorePackage(fn string) bool {
	for _, p := range storePackages {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}

func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
