package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/replication"
	"github.com/eldtechnologies/peerchat/internal/store"
)

// Store applies a peer's write envelope to the local record store and
// acknowledges it with the done token.
func (h *Handler) Store(w http.ResponseWriter, r *http.Request) {
	var env models.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if _, err := h.store.Update(r.Context(), &env); err != nil {
		h.storeError(w, r, err)
		return
	}

	h.Text(w, http.StatusOK, replication.DoneToken)
}

// Retrieve long-polls the local record store for a change against the
// envelope's version. An empty body means nothing changed within the budget.
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var env models.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	view, err := h.store.LongPollRead(r.Context(), &env)
	if err != nil {
		if r.Context().Err() != nil {
			// Caller went away.
			return
		}
		h.storeError(w, r, err)
		return
	}

	if view == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.JSON(w, http.StatusOK, view)
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrMalformed):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrMismatch):
		h.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("record store failure")
		h.Error(w, http.StatusInternalServerError, "storage unavailable")
	}
}
