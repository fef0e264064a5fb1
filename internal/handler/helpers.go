package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/model"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeAppError renders err at the HTTP boundary. Validation errors use the
// {message, errors} envelope; everything else uses the success/error_code
// envelope. Errors outside the taxonomy are classified as storage errors.
func writeAppError(w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = classifyDBError(err, "Request failed")
	}
	if e.Kind == apperr.KindValidation {
		writeJSON(w, e.Status(), model.ValidationResponse{Message: e.Message, Errors: e.Fields})
		return
	}
	if e.Status() >= 500 {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, e.Status(), model.ErrorResponse{Success: false, Message: e.Message, ErrorCode: e.Code})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure. Numbers decode as json.Number
// so integers beyond 2^53 keep their digits. Decode failures come back as
// BadRequest errors.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.BadRequest("Request body is required.", err)
		}
		return apperr.BadRequest("Invalid request body: "+err.Error(), err)
	}
	return nil
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// pathID parses a numeric path segment.
func pathID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NotFound(what + " '" + raw + "' not found.")
	}
	return id, nil
}

// classifyDBError maps common database errors to the error taxonomy,
// keeping the driver message.
func classifyDBError(err error, fallbackMsg string) *apperr.Error {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	// Unique constraint violations → 409 Conflict
	case strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry") ||
		strings.Contains(lower, "violation of unique"):
		return apperr.Conflict(fallbackMsg+": "+msg, err)

	// NOT NULL violations → 400 Bad Request
	case strings.Contains(lower, "not null constraint") ||
		strings.Contains(lower, "cannot insert null") ||
		strings.Contains(lower, "null value in column") ||
		strings.Contains(lower, "column cannot be null"):
		return apperr.BadRequest(fallbackMsg+": "+msg, err)

	// Table/relation not found → 404
	case strings.Contains(lower, "no such table") ||
		strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "invalid object name") ||
		strings.Contains(lower, "doesn't exist"):
		return apperr.NotFound(fallbackMsg + ": " + msg)

	// Foreign key violations → 400 Bad Request
	case strings.Contains(lower, "foreign key") ||
		strings.Contains(lower, "fk constraint"):
		return apperr.BadRequest(fallbackMsg+": "+msg, err)

	// Check constraint → 400 Bad Request
	case strings.Contains(lower, "check constraint"):
		return apperr.BadRequest(fallbackMsg+": "+msg, err)

	default:
		return apperr.Internal(fallbackMsg+": "+msg, err)
	}
}
