package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"goeverbridge/pipeline"
	"goeverbridge/sessions"
	"goeverbridge/types"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func responseError(w http.ResponseWriter, err error, field string) {
	responseJSON(w, &APIResponse{
		Status:  "error",
		Message: err.Error(),
		Field:   field,
	}, errorCode(err))
}

// errorCode maps pipeline errors onto HTTP statuses. Anything unknown is a
// failed chain call.
func errorCode(err error) int {
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrDisposed):
		return http.StatusGone
	case errors.Is(err, pipeline.ErrInvalidAmount),
		errors.Is(err, pipeline.ErrUnsupportedVariant),
		errors.Is(err, types.ErrUnsupportedCorridor),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotResolved),
		errors.Is(err, pipeline.ErrNotReady),
		errors.Is(err, pipeline.ErrAlreadyInProgress),
		pipeline.IsUserRejected(err):
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

var errBadRequest = errors.New("bad request")
