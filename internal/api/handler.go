package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/jorgepascosoto/vaultdb/internal/api/response"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

type triggerResponse struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, errors.ErrEnqueueFailed):
		return http.StatusServiceUnavailable
	case errors.As(err, &verrs):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	response.WriteError(w, status, err.Error())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	settingsID := chi.URLParam(r, "id")
	if settingsID == "" {
		response.WriteError(w, http.StatusBadRequest, "missing settings id")
		return
	}

	jobID, err := s.enqueuer.Enqueue(r.Context(), settingsID)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, triggerResponse{
		JobID:   jobID,
		Message: "Backup job enqueued",
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tracker.Latest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, rec)
}

func queryInt(r *http.Request, key string) int64 {
	n, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := s.tracker.List(r.Context(), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, page)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tracker.Stats(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
