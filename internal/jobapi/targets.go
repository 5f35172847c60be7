package jobapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sdtom/internal/broker"
	"github.com/linnemanlabs/sdtom/internal/cache"
	"github.com/linnemanlabs/sdtom/internal/catalog"
)

// handleUpdateDatums refreshes one target's photometry from a broker and
// reports whether the latest magnitude was cached.
func (a *API) handleUpdateDatums(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	brokerName := strings.ToLower(chi.URLParam(r, "broker"))

	var update func(context.Context, *catalog.Target) (bool, error)
	switch brokerName {
	case "mars":
		update = a.targets.UpdateDatumsFromMARS
	case "alerce":
		update = a.targets.UpdateDatumsFromALeRCE
	default:
		writeError(w, http.StatusBadRequest, "broker must be mars or alerce")
		return
	}

	t, ok := a.lookupTarget(w, r, name)
	if !ok {
		return
	}

	cached, err := update(r.Context(), t)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to update datums", "target", name, "broker", brokerName)
		status := http.StatusBadGateway
		if broker.IsNotFound(err) {
			status = http.StatusNotFound
		}
		writeError(w, status, "broker update failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"target": t.Name,
		"broker": brokerName,
		"cached": cached,
	})
}

func (a *API) handleLatestMag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	t, ok := a.lookupTarget(w, r, name)
	if !ok {
		return
	}

	var mag *float64
	found, err := a.targets.Cache().Get(r.Context(), cache.LatestMagKey(t.ID), &mag)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read cache", "target", name)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no cached magnitude")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"target":    t.Name,
		"magnitude": mag,
	})
}

func (a *API) lookupTarget(w http.ResponseWriter, r *http.Request, name string) (*catalog.Target, bool) {
	t, err := a.targets.Store().GetTargetByName(r.Context(), name)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "target not found")
		return nil, false
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to look up target", "target", name)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return t, true
}
