package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{Name: "test", BaseURL: srv.URL + "/api/v1", Token: token, RateLimit: 1000, RateBurst: 10})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"missing name", ClientConfig{BaseURL: "https://x"}, "name is required"},
		{"missing base", ClientConfig{Name: "b"}, "base url is required"},
		{"bad scheme", ClientConfig{Name: "b", BaseURL: "ftp://x"}, "http or https"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewClient(tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestClient_URLKeepsBasePath(t *testing.T) {
	t.Parallel()

	c, err := NewClient(ClientConfig{Name: "b", BaseURL: "https://api.example.org/ztf/v1/"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	got := c.URL("/objects/ZTF1/lightcurve", url.Values{"a": {"1"}})
	want := "https://api.example.org/ztf/v1/objects/ZTF1/lightcurve?a=1"
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestClient_GetJSON(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/things" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "x" {
			t.Errorf("q = %q, want x", got)
		}
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"value": 1.5}`)
	}, "secret")

	var out struct {
		Value float64 `json:"value"`
	}
	if err := c.GetJSON(context.Background(), "things", url.Values{"q": {"x"}}, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Value != 1.5 {
		t.Errorf("value = %v, want 1.5", out.Value)
	}
}

func TestClient_NoTokenHeaderWhenUnset(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want empty", got)
		}
		_, _ = fmt.Fprint(w, `{}`)
	}, "")

	var out map[string]any
	if err := c.GetJSON(context.Background(), "x", nil, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
}

func TestClient_StatusError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such object", http.StatusNotFound)
	}, "")

	var out map[string]any
	err := c.GetJSON(context.Background(), "missing", nil, &out)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false", err)
	}
	if !strings.Contains(err.Error(), "test returned 404") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestClient_InvalidJSON(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{bad`)
	}, "")

	var out map[string]any
	err := c.GetJSON(context.Background(), "x", nil, &out)
	if err == nil || !strings.Contains(err.Error(), "decode response") {
		t.Errorf("err = %v, want decode error", err)
	}
	if IsNotFound(err) {
		t.Error("decode error reported as not found")
	}
}
