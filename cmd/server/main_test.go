package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sdtom/internal/app"
	"github.com/linnemanlabs/sdtom/internal/cfg"
	"github.com/linnemanlabs/sdtom/internal/jobapi"
)

func TestNotifySystemd_Errors(t *testing.T) {
	tests := []struct {
		name    string
		socket  func(t *testing.T) string
		wantSub string
	}{
		{"no socket", func(*testing.T) string { return "" }, "NOTIFY_SOCKET not set"},
		{"missing socket", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nonexistent.sock") }, "dial failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NOTIFY_SOCKET", tt.socket(t))
			err := notifySystemd()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestNotifySystemd_SendsReady(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)
	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 64)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestMountAPI_RequiresToken(t *testing.T) {
	t.Parallel()

	a, err := app.Build(context.Background(), &cfg.Config{
		LasairURL: "https://lasair.example/api", LasairRateLimit: 1,
		ALeRCEURL: "https://alerce.example", ALeRCERateLimit: 1,
		MARSURL: "https://mars.example", MARSRateLimit: 1,
		BrokerTimeout: 5,
	}, nil, nil)
	if err != nil {
		t.Fatalf("app.Build: %v", err)
	}
	defer a.Close()

	r := chi.NewRouter()
	r.Get("/-/healthy", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mountAPI(r, "s3cret", jobapi.New(log.Nop(), a.Runner, a.Service))

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"health is open", http.MethodGet, "/-/healthy", "", http.StatusOK},
		{"api without token", http.MethodGet, "/api/v1/targets/ZTF24abc/latest-mag", "", http.StatusUnauthorized},
		{"api with wrong token", http.MethodGet, "/api/v1/targets/ZTF24abc/latest-mag", "Bearer nope", http.StatusUnauthorized},
		{"api with token", http.MethodGet, "/api/v1/targets/ZTF24abc/latest-mag", "Bearer s3cret", http.StatusNotFound},
		{"unknown job with token", http.MethodPost, "/api/v1/jobs/nope/runs", "Bearer s3cret", http.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
		if tt.auth != "" {
			req.Header.Set("Authorization", tt.auth)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}
