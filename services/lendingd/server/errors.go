package server

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "p2plend/native/common"
	"p2plend/native/lending"
)

type errorBody struct {
	Code    uint32 `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// statusFor maps a failure to its HTTP status. Typed lending failures map by
// kind; anything untyped is an internal error.
func statusFor(err error) int {
	if errors.Is(err, nativecommon.ErrModulePaused) {
		return http.StatusServiceUnavailable
	}
	typed, ok := lending.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch typed {
	case lending.ErrNotFound:
		return http.StatusNotFound
	case lending.ErrAlreadyInitialized:
		return http.StatusConflict
	}
	switch typed.Kind {
	case lending.KindAuthorization:
		return http.StatusForbidden
	case lending.KindValidation:
		return http.StatusBadRequest
	case lending.KindState:
		return http.StatusConflict
	case lending.KindArithmetic:
		return http.StatusUnprocessableEntity
	case lending.KindCustody:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func failureName(err error) string {
	if errors.Is(err, nativecommon.ErrModulePaused) {
		return "ModulePaused"
	}
	if typed, ok := lending.AsError(err); ok {
		return typed.Name
	}
	return "Internal"
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Name: failureName(err), Message: err.Error()}
	if typed, ok := lending.AsError(err); ok {
		body.Code = typed.Code
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		body.Message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func writeStatusError(w http.ResponseWriter, status int, name, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Name: name, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
