package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"argus/core"
	"argus/service"

	"go.uber.org/zap"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// maxErrorMessageLength bounds error text returned to clients.
const maxErrorMessageLength = 512

var (
	credentialPattern = regexp.MustCompile(`(?i)(password|secret|token|api_key|apikey|authorization)[:=]\s*["']?[^"'\s]+["']?`)
	userinfoPattern   = regexp.MustCompile(`(https?|redis|clickhouse)://[^@\s/]+@`)
)

// sanitizeErrorMessage removes credentials from messages before sending them
// to clients.
func sanitizeErrorMessage(message string) string {
	message = userinfoPattern.ReplaceAllString(message, "$1://[REDACTED]@")
	message = credentialPattern.ReplaceAllString(message, "$1=[REDACTED]")
	if len(message) > maxErrorMessageLength {
		message = message[:maxErrorMessageLength-3] + "..."
	}
	return message
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response and logs the underlying cause.
// Server errors log at error level, client errors at debug.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		fields := []any{"status_code", statusCode}
		if err != nil {
			fields = append(fields, "error", err.Error())
		}
		if statusCode >= http.StatusInternalServerError {
			logger.Errorw(message, fields...)
		} else {
			logger.Debugw(message, fields...)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: sanitizeErrorMessage(message)})
}

// respondJSON writes a JSON response with proper error handling
func (a *API) respondJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// writeServiceError maps dashboard errors onto status codes: unknown rules
// and alerts are 404, a stopped engine is 503, anything else 500.
func (a *API) writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case service.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), err, a.logger)
	case errors.Is(err, core.ErrWorkerPoolNotRunning):
		writeError(w, http.StatusServiceUnavailable, "Execution engine is not running", err, a.logger)
	default:
		writeError(w, http.StatusInternalServerError, message, err, a.logger)
	}
}

// decodeJSONBody decodes a size-limited JSON body. An empty body leaves dst
// untouched when allowEmpty is set.
func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	err := decoder.Decode(dst)
	if err == nil {
		return nil
	}
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}

	var syntaxError *json.SyntaxError
	var unmarshalTypeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError
	switch {
	case errors.As(err, &syntaxError):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON syntax at byte offset %d", syntaxError.Offset), err, a.logger)
	case errors.As(err, &unmarshalTypeError):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid type for field '%s'", unmarshalTypeError.Field), err, a.logger)
	case errors.As(err, &maxBytesError):
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err, a.logger)
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		writeError(w, http.StatusBadRequest, "JSON contains "+strings.TrimPrefix(err.Error(), "json: "), err, a.logger)
	default:
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
	}
	return err
}

// queryInt parses an optional integer query parameter within [minValue,
// maxValue].
func queryInt(r *http.Request, name string, def, minValue, maxValue int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < minValue || n > maxValue {
		return 0, fmt.Errorf("%s must be between %d and %d", name, minValue, maxValue)
	}
	return n, nil
}

// queryBool parses an optional boolean query parameter; absent is nil.
func queryBool(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be true or false", name)
	}
	return &b, nil
}

// querySeverity parses an optional severity query parameter.
func querySeverity(r *http.Request) (core.Severity, error) {
	raw := r.URL.Query().Get("severity")
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return core.ParseSeverity(raw)
}
