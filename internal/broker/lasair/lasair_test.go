package lasair

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/sdtom/internal/broker"
)

const streamBody = `[
	{"objectId": "ZTF24aaa", "UTC": "2024-05-01 10:00:00", "ramean": 150.5, "decmean": 2.25, "rmag": 18.7, "classification": "SN"},
	{"objectId": "ZTF24bbb", "UTC": "2024-05-02 11:30:00", "ramean": 10.0, "decmean": -5.0, "gmag": 19.2},
	{"objectId": "ZTF24ccc", "UTC": "2024-05-03 09:15:00", "ramean": 20.0, "decmean": 30.0}
]`

func newTestBroker(t *testing.T, handler http.HandlerFunc) *Broker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := broker.NewClient(broker.ClientConfig{Name: "lasair", BaseURL: srv.URL + "/api", Token: "tok", RateLimit: 1000})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return New(c)
}

func drainNames(t *testing.T, s broker.Stream) []string {
	t.Helper()
	alerts, err := broker.Drain(context.Background(), s)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	names := make([]string, 0, len(alerts))
	for _, a := range alerts {
		names = append(names, a.String("objectId"))
	}
	return names
}

func TestFetchAlerts_FiltersBySince(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/streams/fast-risers/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "1000" {
			t.Errorf("limit = %q", r.URL.Query().Get("limit"))
		}
		if r.Header.Get("Authorization") != "Token tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_, _ = fmt.Fprint(w, streamBody)
	})

	since := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s, err := b.FetchAlerts(context.Background(), broker.Params{"stream": "fast-risers", "since": since, "query_name": "ignored"})
	if err != nil {
		t.Fatalf("FetchAlerts: %v", err)
	}
	got := drainNames(t, s)
	if len(got) != 2 || got[0] != "ZTF24bbb" || got[1] != "ZTF24ccc" {
		t.Errorf("names = %v, want [ZTF24bbb ZTF24ccc]", got)
	}
}

func TestFetchAlerts_NoSinceReturnsAll(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("limit = %q, want 5", r.URL.Query().Get("limit"))
		}
		_, _ = fmt.Fprint(w, streamBody)
	})

	s, err := b.FetchAlerts(context.Background(), broker.Params{"stream": "fast-risers", "limit": 5.0})
	if err != nil {
		t.Fatalf("FetchAlerts: %v", err)
	}
	if got := drainNames(t, s); len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestFetchAlerts_RequiresStream(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("should not have made HTTP request")
	})
	_, err := b.FetchAlerts(context.Background(), broker.Params{})
	if err == nil || !strings.Contains(err.Error(), "stream parameter is required") {
		t.Errorf("err = %v", err)
	}
}

func TestFetchAlerts_HTTPError(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	_, err := b.FetchAlerts(context.Background(), broker.Params{"stream": "x"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want 502", err)
	}
}

func TestToGenericAlert(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, func(_ http.ResponseWriter, _ *http.Request) {})
	a := broker.Alert{"objectId": "ZTF24aaa", "UTC": "2024-05-01 10:00:00", "ramean": 150.5, "decmean": 2.25, "rmag": 18.7, "classification": "SN"}

	g, err := b.ToGenericAlert(a)
	if err != nil {
		t.Fatalf("ToGenericAlert: %v", err)
	}
	if g.Name != "ZTF24aaa" || g.RA != 150.5 || g.Dec != 2.25 || g.Mag != 18.7 {
		t.Errorf("generic = %+v", g)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !g.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", g.Timestamp, want)
	}
	if !strings.HasSuffix(g.URL, "/objects/ZTF24aaa/") || strings.Contains(g.URL, "/api/") {
		t.Errorf("URL = %q", g.URL)
	}
	if g.Extras["classification"] != "SN" {
		t.Errorf("Extras = %v", g.Extras)
	}
}

func TestToGenericAlert_Invalid(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, func(_ http.ResponseWriter, _ *http.Request) {})
	tests := []struct {
		name  string
		alert broker.Alert
	}{
		{"no objectId", broker.Alert{"UTC": "2024-05-01 10:00:00"}},
		{"no UTC", broker.Alert{"objectId": "x"}},
		{"bad UTC", broker.Alert{"objectId": "x", "UTC": "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := b.ToGenericAlert(tt.alert); err == nil {
				t.Error("expected error")
			}
		})
	}
}
