package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/flowstate/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	OK            bool              `json:"ok"`
	Error         string            `json:"error"`
	ServerVersion int               `json:"serverVersion,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

func errorBody(code string) errResponse {
	return errResponse{Error: code}
}

// writeError maps domain errors onto status codes and stable error codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		conflict *apperr.VersionConflictError
		verr     *apperr.ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		body := errorBody("version_conflict")
		body.ServerVersion = conflict.Current
		writeJSON(w, http.StatusConflict, body)
	case errors.As(err, &verr):
		body := errorBody(verr.Reason)
		body.Fields = verr.Fields
		writeJSON(w, validationStatus(verr.Reason), body)
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not_found"))
	case errors.Is(err, apperr.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
	default:
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error"))
	}
}

func validationStatus(reason string) int {
	switch reason {
	case "missing_fields":
		return http.StatusUnprocessableEntity
	case "missing_if_match":
		return http.StatusPreconditionRequired
	default:
		return http.StatusBadRequest
	}
}
