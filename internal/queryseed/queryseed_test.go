package queryseed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/sdtom/internal/catalog"
	"github.com/linnemanlabs/sdtom/internal/catalog/memstore"
)

const sample = `
queries:
  - name: Fast risers
    broker: Lasair
    parameters:
      stream: lasair_2fast_risers
      limit: 500
  - name: Nuclear
    broker: Lasair
    parameters:
      stream: lasair_nuclear
      query_name: "Nuclear transients"
`

func TestParse(t *testing.T) {
	t.Parallel()

	qs, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("got %d queries, want 2", len(qs))
	}

	fast := qs[0]
	if fast.Name != "Fast risers" || fast.Broker != "Lasair" {
		t.Errorf("first query = %+v", fast)
	}
	if fast.Parameters["stream"] != "lasair_2fast_risers" {
		t.Errorf("stream = %v", fast.Parameters["stream"])
	}
	if fast.Parameters["limit"] != 500 {
		t.Errorf("limit = %#v, want int 500", fast.Parameters["limit"])
	}
	if fast.QueryName() != "Fast risers" {
		t.Errorf("default query_name = %q, want query name", fast.QueryName())
	}
	if qs[1].QueryName() != "Nuclear transients" {
		t.Errorf("explicit query_name = %q", qs[1].QueryName())
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantSub string
	}{
		{"empty", "", "no queries"},
		{"no queries key", "other: 1\n", "decode yaml"},
		{"missing name", "queries:\n  - broker: Lasair\n", "name is required"},
		{"missing broker", "queries:\n  - name: a\n", "broker is required"},
		{"duplicate", "queries:\n  - {name: a, broker: Lasair}\n  - {name: a, broker: Lasair}\n", "duplicate name"},
		{"unknown field", "queries:\n  - {name: a, broker: Lasair, schedule: hourly}\n", "decode yaml"},
		{"not yaml", "queries: [", "decode yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queries.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	qs, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(qs) != 2 {
		t.Errorf("got %d queries", len(qs))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSeed_UpsertKeepsLastRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()

	qs, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if err := Seed(ctx, store, nil, qs); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	stored, _ := store.ListBrokerQueries(ctx, "Lasair")
	if len(stored) != 2 {
		t.Fatalf("stored %d queries, want 2", len(stored))
	}
	lastRun := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stored[0].LastRun = lastRun
	if err := store.SaveBrokerQuery(ctx, stored[0]); err != nil {
		t.Fatal(err)
	}

	// reseed with changed parameters
	qs, _ = Parse([]byte(strings.Replace(sample, "limit: 500", "limit: 50", 1)))
	if err := Seed(ctx, store, nil, qs); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	stored, _ = store.ListBrokerQueries(ctx, "Lasair")
	if len(stored) != 2 {
		t.Fatalf("reseed created duplicates: %d queries", len(stored))
	}
	if !stored[0].LastRun.Equal(lastRun) {
		t.Errorf("LastRun = %v, want %v", stored[0].LastRun, lastRun)
	}
	if stored[0].Parameters["limit"] != 50 {
		t.Errorf("limit = %v, want 50", stored[0].Parameters["limit"])
	}
}

type failingWriter struct{ err error }

func (f failingWriter) SaveBrokerQuery(context.Context, *catalog.BrokerQuery) error { return f.err }

func TestSeed_PropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	qs, _ := Parse([]byte(sample))
	err := Seed(context.Background(), failingWriter{boom}, nil, qs)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if !strings.Contains(err.Error(), "Fast risers") {
		t.Errorf("err = %q, want query name", err)
	}
}
