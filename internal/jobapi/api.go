// Package jobapi exposes job runs and per-target updates over HTTP.
package jobapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/sdtom/internal/cache"
	"github.com/linnemanlabs/sdtom/internal/catalog"
	"github.com/linnemanlabs/sdtom/internal/jobs"
)

// Runner starts jobs and reports on their runs.
type Runner interface {
	Submit(ctx context.Context, name string) (*jobs.SubmitResult, error)
	Get(id string) (*jobs.Run, bool)
}

// Targets are the per-target operations behind the target routes.
type Targets interface {
	UpdateDatumsFromMARS(ctx context.Context, t *catalog.Target) (bool, error)
	UpdateDatumsFromALeRCE(ctx context.Context, t *catalog.Target) (bool, error)
	Store() catalog.Store
	Cache() cache.Cache
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	runner  Runner
	targets Targets
}

// New creates a new API handler.
func New(logger log.Logger, runner Runner, targets Targets) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if runner == nil {
		panic(xerrors.New("job runner is required"))
	}
	if targets == nil {
		panic(xerrors.New("target service is required"))
	}
	return &API{
		logger:  logger,
		runner:  runner,
		targets: targets,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs/{name}/runs", a.handleSubmitRun)
		r.Get("/runs/{id}", a.handleGetRun)
		r.Post("/targets/{name}/datums/{broker}", a.handleUpdateDatums)
		r.Get("/targets/{name}/latest-mag", a.handleLatestMag)
	})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sdtom.run.id", id))

	run, ok := a.runner.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("sdtom.run.status", string(run.Status)))
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
