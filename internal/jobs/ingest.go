package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sdtom/internal/broker"
	"github.com/linnemanlabs/sdtom/internal/catalog"
)

// DefaultLookback is how far back a query that has never run starts.
const DefaultLookback = 24 * time.Hour

// FetchNewLasairAlerts runs every saved Lasair query in turn. The first
// failing query aborts the job; queries after it are left for the next run.
func (s *Service) FetchNewLasairAlerts(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "jobs.fetch_new_lasair_alerts")
	defer span.End()

	queries, err := s.store.ListBrokerQueries(ctx, s.lasair.Name())
	if err != nil {
		return recordErr(span, fmt.Errorf("list %s queries: %w", s.lasair.Name(), err))
	}
	span.SetAttributes(attribute.Int("sdtom.queries", len(queries)))

	for _, q := range queries {
		if err := s.ingestQuery(ctx, q); err != nil {
			return recordErr(span, err)
		}
	}
	return nil
}

// ingestQuery drains the alert stream of one query. LastRun only advances
// when the whole stream was processed, so a failed window is read again on
// the next run.
func (s *Service) ingestQuery(ctx context.Context, q *catalog.BrokerQuery) error {
	ctx, span := tracer.Start(ctx, "jobs.ingest_query", trace.WithAttributes(
		attribute.String("sdtom.query.name", q.Name),
		attribute.Int64("sdtom.query.id", q.ID),
	))
	defer span.End()

	L := s.logger.With("query", q.Name)

	since := q.LastRun
	if since.IsZero() {
		since = s.now().Add(-DefaultLookback)
	}

	alerts, err := s.lasair.FetchAlerts(ctx, broker.Params{"since": since}.Merge(q.Parameters))
	if err != nil {
		return recordErr(span, fmt.Errorf("query %s: fetch alerts: %w", q.Name, err))
	}

	var n int
	for {
		raw, ok, err := alerts.Next(ctx)
		if err != nil {
			return recordErr(span, fmt.Errorf("query %s: read alerts: %w", q.Name, err))
		}
		if !ok {
			break
		}
		if err := s.ingestAlert(ctx, L, q, raw); err != nil {
			return recordErr(span, fmt.Errorf("query %s: %w", q.Name, err))
		}
		n++
		if s.hooks.OnAlert != nil {
			s.hooks.OnAlert(q.Name)
		}
	}
	span.SetAttributes(attribute.Int("sdtom.alerts", n))
	L.Info(ctx, "finished importing new lasair targets", "alerts", n)

	q.LastRun = s.now()
	if err := s.store.SaveBrokerQuery(ctx, q); err != nil {
		return recordErr(span, fmt.Errorf("query %s: save last run: %w", q.Name, err))
	}
	return nil
}

func (s *Service) ingestAlert(ctx context.Context, L log.Logger, q *catalog.BrokerQuery, raw broker.Alert) error {
	g, err := s.lasair.ToGenericAlert(raw)
	if err != nil {
		return err
	}

	t, err := s.store.GetTargetByName(ctx, g.Name)
	switch {
	case err == nil:
		L.Info(ctx, "updating target", "target", t.Name)
		if s.hooks.OnTarget != nil {
			s.hooks.OnTarget(false)
		}
	case errors.Is(err, catalog.ErrNotFound):
		t, err = s.createTarget(ctx, L, q, g)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("look up target %s: %w", g.Name, err)
	}

	name := q.QueryName()
	if name == "" {
		return fmt.Errorf("missing %q parameter", catalog.ExtraQueryName)
	}
	merged := catalog.AppendQueryName(t, name)
	if err := s.store.SaveTarget(ctx, t, map[string]string{catalog.ExtraQueryName: merged}); err != nil {
		return fmt.Errorf("save target %s: %w", t.Name, err)
	}

	if _, err := s.UpdateDatumsFromALeRCE(ctx, t); err != nil {
		return fmt.Errorf("update datums for %s: %w", t.Name, err)
	}
	return nil
}

func (s *Service) createTarget(ctx context.Context, L log.Logger, q *catalog.BrokerQuery, g *broker.GenericAlert) (*catalog.Target, error) {
	t, extras := g.ToTarget()
	if err := s.store.SaveTarget(ctx, t, extras); err != nil {
		return nil, fmt.Errorf("create target %s: %w", g.Name, err)
	}

	list, _, err := s.store.GetOrCreateTargetList(ctx, catalog.NewTargetListName)
	if err != nil {
		return nil, fmt.Errorf("target list %q: %w", catalog.NewTargetListName, err)
	}
	if err := s.store.AddTargetToList(ctx, list.ID, t.ID); err != nil {
		return nil, fmt.Errorf("add %s to %q: %w", t.Name, list.Name, err)
	}

	L.Info(ctx, "created target", "target", t.Name, "target_id", t.ID)
	if s.hooks.OnTarget != nil {
		s.hooks.OnTarget(true)
	}

	ev := &TargetEvent{
		TargetID: t.ID,
		Name:     t.Name,
		RA:       t.RA,
		Dec:      t.Dec,
		Query:    q.Name,
		Broker:   q.Broker,
		URL:      g.URL,
		Mag:      g.Mag,
		Created:  t.Created,
	}
	if err := s.notifier.TargetCreated(ctx, ev); err != nil {
		L.Warn(ctx, "new target notification failed", "target", t.Name, "error", err)
		if s.hooks.OnNotifyErr != nil {
			s.hooks.OnNotifyErr()
		}
	}
	return t, nil
}
