package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/ops"
)

// maxBodyBytes caps request bodies; documents are markdown, not blobs.
const maxBodyBytes = 4 << 20

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderHTML writes a pre-rendered HTML fragment.
func renderHTML(w http.ResponseWriter, status int, html string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, html)
}

// renderError writes an error payload. The status comes from the error code;
// internal and storage messages are replaced with a generic one.
func (h *Handlers) renderError(w http.ResponseWriter, r *http.Request, err error) {
	sErr, ok := errors.As(err)
	if !ok {
		sErr = errors.NewInternal(err)
	}

	message := err.Error()
	if errors.Internal(err) {
		h.env.Log.Sugar().Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "an internal error occurred"
	}

	errObj := map[string]any{
		"code":    string(sErr.Code),
		"message": message,
		"status":  statusFor(sErr.Code),
	}
	if !errors.Internal(err) && sErr.Details != nil {
		errObj["details"] = sErr.Details
	}
	renderJSON(w, statusFor(sErr.Code), map[string]any{"error": errObj})
}

// renderResult writes out, or the error when there is one. Batch operations
// return both an output and a PARTIAL_FAILURE error; the output is written
// with 207 so callers see per-item results.
func (h *Handlers) renderResult(w http.ResponseWriter, r *http.Request, status int, out any, err error) {
	if err != nil {
		if errors.Is(err, errors.ErrPartialFailure) && out != nil {
			renderJSON(w, http.StatusMultiStatus, out)
			return
		}
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, status, out)
}

// statusFor maps an error code to its HTTP status.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrInvalidRequest:
		return http.StatusBadRequest
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrInvalidState, errors.ErrImmutableState, errors.ErrConflict, errors.ErrAlreadyExists:
		return http.StatusConflict
	case errors.ErrPartialFailure:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody unmarshals a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return nil
		}
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// actor returns the X-Actor-ID header, or nil.
func actor(r *http.Request) *string {
	return ptrString(strings.TrimSpace(r.Header.Get("X-Actor-ID")))
}

// projectID returns the X-Project-ID header; blank means the default project.
func projectID(r *http.Request) string {
	if p := strings.TrimSpace(r.Header.Get("X-Project-ID")); p != "" {
		return p
	}
	return ops.DefaultProject
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}

// ptrString returns a pointer to s if non-empty, nil otherwise.
func ptrString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func queryPtr(r *http.Request, name string) *string {
	return ptrString(r.URL.Query().Get(name))
}
