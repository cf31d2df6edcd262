package utils

import (
	"encoding/json"
	"net/http"

	"github.com/rohits-web03/clientvault/internal/apperr"
)

type ErrorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

type Payload struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// JSONResponse sends a JSON response with given status, success flag, and payload
func JSONResponse(w http.ResponseWriter, status int, payload Payload) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAccessDenied:
		return http.StatusForbidden
	case apperr.KindExpired:
		return http.StatusGone
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindEmptyResult:
		return http.StatusUnprocessableEntity
	case apperr.KindBuildInProgress:
		return http.StatusConflict
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindPartialFailure:
		// partial results are delivered, the skips travel in the body
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse writes err as a classified failure.
func ErrorResponse(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.MessageOf(err)
	JSONResponse(w, StatusFor(kind), Payload{
		Success: false,
		Message: msg,
		Error:   &ErrorBody{Kind: kind, Message: msg},
	})
}
