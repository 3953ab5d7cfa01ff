package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"riskrun/internal/models"
	"riskrun/internal/pricer"

	"go.uber.org/zap"
)

type apiEnvelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error interface{} `json:"error,omitempty"`
}

func writeAPIResponse(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(apiEnvelope{Data: data})
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiEnvelope{
		Error: map[string]string{"message": message},
	})
}

// writeErr maps the error taxonomy onto HTTP statuses. Every 5xx comes
// with a structured log entry carrying the request context fields.
func (s *Server) writeErr(w http.ResponseWriter, err error, fields ...zap.Field) {
	status := statusForError(err)
	if status >= 500 {
		s.log.Error("request failed", append(fields, zap.Error(err))...)
	}
	writeAPIError(w, status, err.Error())
}

func statusForError(err error) int {
	var perr *pricer.Error
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.As(err, &perr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
