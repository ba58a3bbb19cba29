// Package httputil centralizes JSON response writing for the local admin
// surface, so error bodies stay consistent across handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "veil/pkg/domain-errors"
)

// WriteJSON writes a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError maps a coded error onto an HTTP status and JSON body. Internal
// errors omit the description so infrastructure detail never reaches a
// client.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		if de, ok := err.(*dErrors.Error); ok {
			body["error_description"] = de.Message()
		} else {
			body["error_description"] = err.Error()
		}
	}
	WriteJSON(w, statusFor(code), body)
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeUngeneralizable:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodePHIDetected, dErrors.CodeGuaranteeViolation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeBudgetExhausted, dErrors.CodePipelineDisabled, dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
