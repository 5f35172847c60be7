package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/sdtom/internal/broker"
	"github.com/linnemanlabs/sdtom/internal/catalog"
)

func TestFetchNewLasairAlerts_CreatesTargetInNewList(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveQuery(t, "fast-risers", "Lasair", time.Time{}, map[string]any{"stream": "fast", "query_name": "Fast risers"})
	f.lasair.alerts = []broker.Alert{{"objectId": "ZTF24new", "ra": 10.5, "dec": -3.25, "classification": "SN"}}
	f.alerce.mags["ZTF24new"] = 18.5

	if err := f.svc.FetchNewLasairAlerts(context.Background()); err != nil {
		t.Fatalf("FetchNewLasairAlerts: %v", err)
	}

	tg, err := f.store.GetTargetByName(context.Background(), "ZTF24new")
	if err != nil {
		t.Fatalf("GetTargetByName: %v", err)
	}
	if tg.Type != catalog.TargetTypeSidereal || tg.RA != 10.5 || tg.Dec != -3.25 {
		t.Errorf("target = %+v", tg)
	}
	if tg.Extra(catalog.ExtraQueryName) != "Fast risers" {
		t.Errorf("query_name = %q", tg.Extra(catalog.ExtraQueryName))
	}
	if tg.Extra("classification") != "SN" {
		t.Errorf("classification = %q", tg.Extra("classification"))
	}
	if f.store.TargetCount() != 1 {
		t.Errorf("targets = %d, want 1", f.store.TargetCount())
	}

	list, created, err := f.store.GetOrCreateTargetList(context.Background(), catalog.NewTargetListName)
	if err != nil {
		t.Fatalf("GetOrCreateTargetList: %v", err)
	}
	if created {
		t.Error("New list should already exist")
	}
	if members := f.store.ListMembers(list.ID); len(members) != 1 || members[0] != tg.ID {
		t.Errorf("New list members = %v, want [%d]", members, tg.ID)
	}

	if mag, ok := f.cachedMag(t, tg.ID); !ok || mag == nil || *mag != 18.5 {
		t.Errorf("cached mag = %v (%v), want 18.5", mag, ok)
	}

	if len(f.notifier.events) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.events))
	}
	ev := f.notifier.events[0]
	if ev.Name != "ZTF24new" || ev.TargetID != tg.ID || ev.Query != "fast-risers" || ev.Broker != "Lasair" {
		t.Errorf("event = %+v", ev)
	}
}

func TestFetchNewLasairAlerts_ExistingTargetUpdatedInPlace(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	existing := f.saveTarget(t, "ZTF24old", map[string]string{catalog.ExtraQueryName: "Older query", "note": "keep"})
	f.saveQuery(t, "fast-risers", "Lasair", time.Time{}, map[string]any{"query_name": "Fast risers"})
	f.lasair.alerts = []broker.Alert{{"objectId": "ZTF24old", "ra": 99.0}}

	if err := f.svc.FetchNewLasairAlerts(context.Background()); err != nil {
		t.Fatalf("FetchNewLasairAlerts: %v", err)
	}

	if f.store.TargetCount() != 1 {
		t.Errorf("targets = %d, want 1", f.store.TargetCount())
	}
	tg, err := f.store.GetTargetByName(context.Background(), "ZTF24old")
	if err != nil {
		t.Fatalf("GetTargetByName: %v", err)
	}
	if tg.ID != existing.ID {
		t.Errorf("ID = %d, want %d", tg.ID, existing.ID)
	}
	if got := tg.Extra(catalog.ExtraQueryName); got != "Older query, Fast risers" {
		t.Errorf("query_name = %q", got)
	}
	if tg.Extra("note") != "keep" {
		t.Errorf("other extras lost: %v", tg.Extras)
	}
	if tg.RA != 0 {
		t.Errorf("RA = %v, existing target coordinates should not change", tg.RA)
	}
	if len(f.notifier.events) != 0 {
		t.Errorf("notifications = %d, want 0", len(f.notifier.events))
	}
	if len(f.alerce.calls) != 1 {
		t.Errorf("alerce calls = %d, want 1", len(f.alerce.calls))
	}
}

func TestFetchNewLasairAlerts_RerunDoesNotDuplicateQueryName(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveQuery(t, "q", "Lasair", time.Time{}, map[string]any{"query_name": "Fast risers"})
	f.lasair.alerts = []broker.Alert{{"objectId": "ZTF24dup"}}

	for i := 0; i < 2; i++ {
		if err := f.svc.FetchNewLasairAlerts(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	tg, _ := f.store.GetTargetByName(context.Background(), "ZTF24dup")
	if got := tg.Extra(catalog.ExtraQueryName); got != "Fast risers" {
		t.Errorf("query_name = %q, want %q", got, "Fast risers")
	}
	if f.store.TargetCount() != 1 {
		t.Errorf("targets = %d, want 1", f.store.TargetCount())
	}
}

func TestFetchNewLasairAlerts_SinceAndParams(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	lastRun := epoch.Add(-2 * time.Hour)
	f.saveQuery(t, "a", "Lasair", time.Time{}, map[string]any{"stream": "one", "query_name": "A"})
	f.saveQuery(t, "b", "Lasair", lastRun, map[string]any{"stream": "two", "query_name": "B"})
	f.saveQuery(t, "other", "ANTARES", time.Time{}, map[string]any{"query_name": "X"})

	if err := f.svc.FetchNewLasairAlerts(context.Background()); err != nil {
		t.Fatalf("FetchNewLasairAlerts: %v", err)
	}

	if len(f.lasair.gotParams) != 2 {
		t.Fatalf("fetches = %d, want 2 (other brokers ignored)", len(f.lasair.gotParams))
	}
	first, second := f.lasair.gotParams[0], f.lasair.gotParams[1]
	if got := first["since"].(time.Time); !got.Equal(epoch.Add(-24 * time.Hour)) {
		t.Errorf("first since = %v, want now-24h", got)
	}
	if first["stream"] != "one" || first["query_name"] != "A" {
		t.Errorf("first params = %v", first)
	}
	if got := second["since"].(time.Time); !got.Equal(lastRun) {
		t.Errorf("second since = %v, want %v", got, lastRun)
	}
}

func TestFetchNewLasairAlerts_AdvancesLastRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveQuery(t, "q", "Lasair", time.Time{}, map[string]any{"query_name": "Q"})
	f.lasair.alerts = []broker.Alert{{"objectId": "a"}, {"objectId": "b"}}

	start := f.now
	f.now = start.Add(5 * time.Minute)
	if err := f.svc.FetchNewLasairAlerts(context.Background()); err != nil {
		t.Fatalf("FetchNewLasairAlerts: %v", err)
	}

	if got := f.query(t, "q").LastRun; got.Before(start) {
		t.Errorf("LastRun = %v, want at or after %v", got, start)
	}
}

func TestFetchNewLasairAlerts_EmptyStreamStillAdvancesLastRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveQuery(t, "q", "Lasair", time.Time{}, map[string]any{"query_name": "Q"})

	if err := f.svc.FetchNewLasairAlerts(context.Background()); err != nil {
		t.Fatalf("FetchNewLasairAlerts: %v", err)
	}
	if got := f.query(t, "q").LastRun; !got.Equal(epoch) {
		t.Errorf("LastRun = %v, want %v", got, epoch)
	}
	if f.store.TargetCount() != 0 {
		t.Errorf("targets = %d, want 0", f.store.TargetCount())
	}
}

func TestFetchNewLasairAlerts_MidStreamFailureKeepsLastRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	lastRun := epoch.Add(-time.Hour)
	f.saveQuery(t, "q", "Lasair", lastRun, map[string]any{"query_name": "Q"})
	f.lasair.alerts = []broker.Alert{{"objectId": "a"}, {"objectId": "b"}}
	f.lasair.failAfter = 1
	f.lasair.streamErr = errors.New("connection reset")

	err := f.svc.FetchNewLasairAlerts(context.Background())
	if !errors.Is(err, f.lasair.streamErr) {
		t.Fatalf("err = %v, want %v", err, f.lasair.streamErr)
	}

	if got := f.query(t, "q").LastRun; !got.Equal(lastRun) {
		t.Errorf("LastRun = %v, want unchanged %v", got, lastRun)
	}
	// the alert before the failure was processed and is reprocessed next run
	if _, err := f.store.GetTargetByName(context.Background(), "a"); err != nil {
		t.Errorf("target a: %v", err)
	}
}

func TestFetchNewLasairAlerts_FailureStopsLaterQueries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveQuery(t, "first", "Lasair", time.Time{}, map[string]any{})
	f.saveQuery(t, "second", "Lasair", time.Time{}, map[string]any{"query_name": "S"})
	f.lasair.alerts = []broker.Alert{{"objectId": "a"}}

	err := f.svc.FetchNewLasairAlerts(context.Background())
	if err == nil || !strings.Contains(err.Error(), "query_name") {
		t.Fatalf("err = %v, want missing query_name", err)
	}
	if len(f.lasair.gotParams) != 1 {
		t.Errorf("fetches = %d, want 1", len(f.lasair.gotParams))
	}
	if !f.query(t, "second").LastRun.IsZero() {
		t.Error("second query should not have run")
	}
}

func TestFetchNewLasairAlerts_ConversionAndBrokerErrorsPropagate(t *testing.T) {
	t.Parallel()

	t.Run("conversion", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.saveQuery(t, "q", "Lasair", time.Time{}, map[string]any{"query_name": "Q"})
		f.lasair.alerts = []broker.Alert{{"ra": 1.0}}
		if err := f.svc.FetchNewLasairAlerts(context.Background()); err == nil {
			t.Error("expected conversion error")
		}
		if !f.query(t, "q").LastRun.IsZero() {
			t.Error("LastRun advanced after failure")
		}
	})

	t.Run("fetch", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.saveQuery(t, "q", "Lasair", time.Time{}, map[string]any{"query_name": "Q"})
		f.lasair.fetchErr = errors.New("401")
		if err := f.svc.FetchNewLasairAlerts(context.Background()); !errors.Is(err, f.lasair.fetchErr) {
			t.Errorf("err = %v, want %v", err, f.lasair.fetchErr)
		}
	})

	t.Run("alerce", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.saveQuery(t, "q", "Lasair", time.Time{}, map[string]any{"query_name": "Q"})
		f.lasair.alerts = []broker.Alert{{"objectId": "a"}}
		f.alerce.err = errors.New("alerce down")
		if err := f.svc.FetchNewLasairAlerts(context.Background()); !errors.Is(err, f.alerce.err) {
			t.Errorf("err = %v, want %v", err, f.alerce.err)
		}
	})
}

func TestFetchNewLasairAlerts_NotifyFailureIsNotAnError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.notifier.err = errors.New("slack 500")
	notifyErrs := 0
	f.svc.hooks.OnNotifyErr = func() { notifyErrs++ }
	f.saveQuery(t, "q", "Lasair", time.Time{}, map[string]any{"query_name": "Q"})
	f.lasair.alerts = []broker.Alert{{"objectId": "a"}}

	if err := f.svc.FetchNewLasairAlerts(context.Background()); err != nil {
		t.Fatalf("FetchNewLasairAlerts: %v", err)
	}
	if notifyErrs != 1 {
		t.Errorf("notify errors = %d, want 1", notifyErrs)
	}
}

func TestFetchNewLasairAlerts_Hooks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveTarget(t, "old", nil)
	f.saveQuery(t, "q", "Lasair", time.Time{}, map[string]any{"query_name": "Q"})
	f.lasair.alerts = []broker.Alert{{"objectId": "old"}, {"objectId": "new"}}

	var alerts int
	var created, updated int
	f.svc.hooks.OnAlert = func(string) { alerts++ }
	f.svc.hooks.OnTarget = func(c bool) {
		if c {
			created++
		} else {
			updated++
		}
	}

	if err := f.svc.FetchNewLasairAlerts(context.Background()); err != nil {
		t.Fatalf("FetchNewLasairAlerts: %v", err)
	}
	if alerts != 2 || created != 1 || updated != 1 {
		t.Errorf("alerts=%d created=%d updated=%d, want 2/1/1", alerts, created, updated)
	}
}

func TestNotifiers_FanOut(t *testing.T) {
	t.Parallel()

	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("b failed")}
	c := &recordingNotifier{}

	err := Notifiers{a, b, c}.TargetCreated(context.Background(), &TargetEvent{Name: "x"})
	if !errors.Is(err, b.err) {
		t.Errorf("err = %v, want %v", err, b.err)
	}
	if len(a.events) != 1 || len(c.events) != 1 {
		t.Errorf("events a=%d c=%d, want 1 each", len(a.events), len(c.events))
	}

	if err := Notifiers(nil).TargetCreated(context.Background(), &TargetEvent{}); err != nil {
		t.Errorf("empty fan-out err = %v", err)
	}
}
