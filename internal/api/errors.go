package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-xbox/internal/consoles"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// consoleStatus maps a bus error code to an HTTP status.
var consoleStatus = map[string]int{
	consoles.CodeNotConfigured:     http.StatusNotFound,
	consoles.CodeInvalidCommand:    http.StatusBadRequest,
	consoles.CodeInvalidArgument:   http.StatusBadRequest,
	consoles.CodeNotConnected:      http.StatusConflict,
	consoles.CodeTimeout:           http.StatusGatewayTimeout,
	consoles.CodePowerOnTimeout:    http.StatusGatewayTimeout,
	consoles.CodeDeviceUnreachable: http.StatusBadGateway,
	consoles.CodeAuthRejected:      http.StatusBadGateway,
	consoles.CodeSessionLost:       http.StatusServiceUnavailable,
	consoles.CodeSessionClosed:     http.StatusServiceUnavailable,
}

// writeConsoleError writes the response for an error from the console
// manager. The bus error code is reported in lower case.
func writeConsoleError(w http.ResponseWriter, err error) {
	code := consoles.ErrorCode(err)
	status, ok := consoleStatus[code]
	if !ok {
		status = http.StatusInternalServerError
		if errors.Is(err, consoles.ErrNotStarted) {
			status = http.StatusServiceUnavailable
			code = ErrCodeUnavailable
		}
	}
	writeError(w, status, strings.ToLower(code), err.Error())
}
