package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/auth"
	"accessgate.dev/internal/obs"
)

// Messages shown to external stakeholders. They never say which check failed.
const (
	msgInvalidLink     = "invalid or expired link"
	msgUnauthorized    = "unauthorized"
	msgTooManyAttempts = "too many attempts"
	msgInvalidRequest  = "invalid request"
	msgUnavailable     = "service unavailable"
	msgInternal        = "internal error"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parseLimit(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < 1 || val > 1000 {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

// handleStaffError maps domain errors for authenticated staff callers, who
// may see validation details.
func handleStaffError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, access.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, msgUnauthorized)
	case errors.Is(err, access.ErrConflict), errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, access.ErrRateLimited):
		if d, ok := access.RetryAfter(err); ok {
			setRetryAfter(w, d)
		}
		writeError(w, r, http.StatusTooManyRequests, msgTooManyAttempts)
	default:
		unexpected(w, r, err)
	}
}

// handlePortalError maps domain errors for external callers with generic messages.
func handlePortalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, msgInvalidLink)
	case errors.Is(err, access.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, msgUnauthorized)
	case errors.Is(err, access.ErrRateLimited):
		if d, ok := access.RetryAfter(err); ok {
			setRetryAfter(w, d)
		}
		writeError(w, r, http.StatusTooManyRequests, msgTooManyAttempts)
	case errors.Is(err, access.ErrConflict):
		writeError(w, r, http.StatusConflict, "request conflicted, retry")
	default:
		unexpected(w, r, err)
	}
}

func unexpected(w http.ResponseWriter, r *http.Request, err error) {
	fields := map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"path":       obs.CanonicalPath(r.URL.Path),
		"error":      err.Error(),
	}
	if errors.Is(err, access.ErrUnavailable) {
		obs.Error("dependency unavailable", fields)
		writeError(w, r, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	obs.Error("unhandled error", fields)
	writeError(w, r, http.StatusInternalServerError, msgInternal)
}
