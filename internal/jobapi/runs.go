package jobapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sdtom/internal/jobs"
)

// handleSubmitRun starts a job in the background. A job that is already
// pending or running is reported as skipped with 200.
func (a *API) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("sdtom.job", name))

	sr, err := a.runner.Submit(r.Context(), name)
	if errors.Is(err, jobs.ErrUnknownJob) {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to submit job", "job", name)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if sr.Skipped {
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     name,
			"skipped": true,
			"reason":  sr.Reason,
		})
		return
	}

	a.logger.Info(r.Context(), "job submitted", "job", name, "run_id", sr.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job":    name,
		"run_id": sr.ID,
	})
}
