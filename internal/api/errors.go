package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"litagent/internal/util"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "LA-API-4000"

	switch {
	case status == http.StatusServiceUnavailable && errors.Is(err, errWorkflowsDisabled):
		return apiError{
			Code:    "LA-WF-5031",
			Message: "Durable library growth is not configured on this server.",
		}
	case status == http.StatusServiceUnavailable:
		return apiError{
			Code:    "LA-DB-5030",
			Message: "Library storage is unavailable. Check local services and retry.",
		}
	case status == http.StatusBadGateway:
		return apiError{
			Code:    "LA-API-5020",
			Message: "Upstream provider unavailable. Retry shortly.",
		}
	case status == http.StatusGatewayTimeout:
		return apiError{
			Code:    "LA-API-5040",
			Message: "The request timed out before the answer was ready.",
		}
	case status >= 500:
		return apiError{
			Code:    "LA-API-5000",
			Message: "Internal server error. Please retry or check service logs.",
		}
	case status == http.StatusBadRequest:
		code = "LA-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "LA-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "LA-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusRequestEntityTooLarge:
		code = "LA-API-4013"
		msg = "Uploaded document exceeds the size limit."
	case status == http.StatusUnprocessableEntity:
		code = "LA-API-4022"
		msg = "The document contains no extractable text."
	case status == http.StatusMethodNotAllowed:
		code = "LA-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case errors.Is(err, util.ErrMalformedIdentifier):
			msg = "One or more paper identifiers are malformed."
		case strings.Contains(low, "only pdf"):
			msg = "Only PDF uploads are supported."
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		case errors.Is(err, util.ErrInvalidInput) && strings.Contains(low, "required"):
			msg = "Required fields are missing: " + requiredFields(low) + "."
		}
	}

	return apiError{Code: code, Message: msg}
}

// requiredFields pulls the "a and b are required" clause out of a validation
// error.
func requiredFields(low string) string {
	end := strings.Index(low, " is required")
	if end < 0 {
		end = strings.Index(low, " are required")
	}
	if end < 0 {
		return "see request documentation"
	}
	start := strings.LastIndex(low[:end], ": ")
	return strings.TrimSpace(low[start+1 : end])
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
