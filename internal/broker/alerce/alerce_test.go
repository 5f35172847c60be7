package alerce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/linnemanlabs/sdtom/internal/broker"
	"github.com/linnemanlabs/sdtom/internal/catalog"
)

type recordingWriter struct {
	got []catalog.ReducedDatum
	err error
}

func (w *recordingWriter) AddReducedData(_ context.Context, data []catalog.ReducedDatum) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.got = append(w.got, data...)
	return len(data), nil
}

func newTestBroker(t *testing.T, handler http.HandlerFunc, w DatumWriter) *Broker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := broker.NewClient(broker.ClientConfig{Name: "alerce", BaseURL: srv.URL + "/ztf/v1", RateLimit: 1000})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return New(c, w)
}

func TestProcessReducedData(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	b := newTestBroker(t, func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ztf/v1/objects/ZTF24abc/lightcurve" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = fmt.Fprint(rw, `{
			"detections": [
				{"candid": "1", "mjd": 60310.5, "fid": 1, "magpsf": 18.5, "sigmapsf": 0.05},
				{"candid": "2", "mjd": 60311.5, "fid": 2, "magpsf": 18.1},
				{"candid": "3", "mjd": 60312.5, "fid": 2}
			],
			"non_detections": [{"mjd": 60300.0, "fid": 1, "diffmaglim": 20.1}]
		}`)
	}, w)

	n, err := b.ProcessReducedData(context.Background(), &catalog.Target{ID: 7, Name: "ZTF24abc"})
	if err != nil {
		t.Fatalf("ProcessReducedData: %v", err)
	}
	if n != 2 || len(w.got) != 2 {
		t.Fatalf("stored = %d (%d), want 2", n, len(w.got))
	}

	first := w.got[0]
	if first.TargetID != 7 || first.Source != Name || first.DataType != catalog.DataTypePhotometry {
		t.Errorf("datum = %+v", first)
	}
	if mag, _ := first.Magnitude(); mag != 18.5 {
		t.Errorf("magnitude = %v, want 18.5", mag)
	}
	if first.Value["filter"] != "g" || first.Value["error"] != 0.05 {
		t.Errorf("value = %v", first.Value)
	}
	if _, ok := w.got[1].Value["error"]; ok {
		t.Errorf("missing sigmapsf should not set error: %v", w.got[1].Value)
	}
	if w.got[1].Timestamp.Sub(first.Timestamp).Hours() != 24 {
		t.Errorf("timestamps = %v, %v", first.Timestamp, w.got[1].Timestamp)
	}
}

func TestProcessReducedData_EmptyLightcurve(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	b := newTestBroker(t, func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(rw, `{"detections": [], "non_detections": []}`)
	}, w)

	n, err := b.ProcessReducedData(context.Background(), &catalog.Target{ID: 1, Name: "x"})
	if err != nil || n != 0 {
		t.Fatalf("ProcessReducedData = (%d, %v), want (0, nil)", n, err)
	}
}

func TestProcessReducedData_Errors(t *testing.T) {
	t.Parallel()

	t.Run("http", func(t *testing.T) {
		t.Parallel()
		b := newTestBroker(t, func(rw http.ResponseWriter, _ *http.Request) {
			http.Error(rw, "not found", http.StatusNotFound)
		}, &recordingWriter{})
		_, err := b.ProcessReducedData(context.Background(), &catalog.Target{ID: 1, Name: "x"})
		if !broker.IsNotFound(err) {
			t.Errorf("err = %v, want wrapped 404", err)
		}
	})

	t.Run("store", func(t *testing.T) {
		t.Parallel()
		storeErr := errors.New("db down")
		b := newTestBroker(t, func(rw http.ResponseWriter, _ *http.Request) {
			_, _ = fmt.Fprint(rw, `{"detections": [{"mjd": 60310.5, "fid": 1, "magpsf": 18.5}]}`)
		}, &recordingWriter{err: storeErr})
		_, err := b.ProcessReducedData(context.Background(), &catalog.Target{ID: 1, Name: "x"})
		if !errors.Is(err, storeErr) {
			t.Errorf("err = %v, want %v", err, storeErr)
		}
	})
}
