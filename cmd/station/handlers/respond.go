// Package handlers provides the station's local REST API handlers.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/lightera/checkin-station/internal/errors"
	"github.com/lightera/checkin-station/internal/logging"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}

// writeError maps an application error code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrInvalid, errors.ErrValidation:
		status = http.StatusBadRequest
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrSyncInProgress, errors.ErrDuplicate:
		status = http.StatusConflict
	case errors.ErrQueueFull, errors.ErrStorage:
		status = http.StatusInsufficientStorage
	case errors.ErrOffline, errors.ErrValidationNetwork:
		status = http.StatusServiceUnavailable
	case errors.ErrValidationRejected:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err, nil)
	}
	writeJSON(w, status, ErrorResponse{Error: errors.MessageOf(err), Code: string(code)})
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(v); err != nil {
		return errors.Wrap(errors.ErrInvalid, "invalid request body", err)
	}
	return nil
}
