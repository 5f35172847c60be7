package jobs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sdtom/internal/broker"
	"github.com/linnemanlabs/sdtom/internal/cache"
	"github.com/linnemanlabs/sdtom/internal/catalog"
)

// UpdateDatumsFromMARS stores the photometry of the target's latest MARS
// alert and caches its latest magnitude. A target with no alerts is not an
// error. cached reports whether the cache write succeeded.
func (s *Service) UpdateDatumsFromMARS(ctx context.Context, t *catalog.Target) (cached bool, err error) {
	ctx, span := startTargetSpan(ctx, "MARS", t)
	defer span.End()

	alerts, err := s.mars.FetchAlerts(ctx, broker.Params{"objectId": t.Name})
	if err != nil {
		return false, recordErr(span, fmt.Errorf("fetch mars alerts for %s: %w", t.Name, err))
	}

	// newest first
	alert, ok, err := alerts.Next(ctx)
	if err != nil {
		return false, recordErr(span, fmt.Errorf("read mars alerts for %s: %w", t.Name, err))
	}
	if !ok {
		s.logger.Info(ctx, "no alerts for this target", "target", t.Name, "broker", "MARS")
		return false, nil
	}

	if _, err := s.mars.ProcessReducedData(ctx, t, alert); err != nil {
		return false, recordErr(span, err)
	}

	cached = s.cacheLatestMagnitude(ctx, t)
	span.SetAttributes(attribute.Bool("sdtom.cache.written", cached))
	return cached, nil
}

// UpdateDatumsFromALeRCE stores the target's ALeRCE light curve and caches
// its latest magnitude. cached reports whether the cache write succeeded.
func (s *Service) UpdateDatumsFromALeRCE(ctx context.Context, t *catalog.Target) (cached bool, err error) {
	ctx, span := startTargetSpan(ctx, "ALeRCE", t)
	defer span.End()

	if _, err := s.alerce.ProcessReducedData(ctx, t); err != nil {
		return false, recordErr(span, err)
	}

	cached = s.cacheLatestMagnitude(ctx, t)
	span.SetAttributes(attribute.Bool("sdtom.cache.written", cached))
	return cached, nil
}

// cacheLatestMagnitude writes the magnitude of the target's newest reduced
// datum to the cache. Failures are logged and reported as false.
func (s *Service) cacheLatestMagnitude(ctx context.Context, t *catalog.Target) bool {
	ok := s.writeLatestMagnitude(ctx, t)
	if s.hooks.OnCacheWrite != nil {
		s.hooks.OnCacheWrite(ok)
	}
	return ok
}

func (s *Service) writeLatestMagnitude(ctx context.Context, t *catalog.Target) bool {
	d, err := s.store.LatestReducedDatum(ctx, t.ID)
	if err != nil {
		s.logger.Warn(ctx, "could not cache latest magnitude", "target", t.Name, "error", err)
		return false
	}

	// a datum without a magnitude caches null
	var mag *float64
	if m, ok := d.Magnitude(); ok {
		mag = &m
	}

	if err := s.cache.Set(ctx, cache.LatestMagKey(t.ID), mag, cache.LatestMagTTL); err != nil {
		s.logger.Warn(ctx, "could not cache latest magnitude", "target", t.Name, "error", err)
		return false
	}
	return true
}

func startTargetSpan(ctx context.Context, brokerName string, t *catalog.Target) (context.Context, trace.Span) {
	return tracer.Start(ctx, "jobs.update_datums", trace.WithAttributes(
		attribute.String("sdtom.broker", brokerName),
		attribute.String("sdtom.target.name", t.Name),
		attribute.Int64("sdtom.target.id", t.ID),
	))
}
