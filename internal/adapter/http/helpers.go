package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
)

const maxRequestBodySize = 1 << 20

// readJSON decodes exactly one JSON value from the request body. Oversized
// bodies get 413 and malformed ones 400.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	err := dec.Decode(&v)
	if err == nil && dec.Decode(&struct{}{}) != io.EOF {
		err = errors.New("trailing data after JSON body")
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// readOptionalJSON treats an empty body as the zero value.
func readOptionalJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	if r.ContentLength == 0 {
		var v T
		return v, true
	}
	return readJSON[T](w, r)
}

// urlID returns the named URL parameter in canonical UUID form. A value that
// is not a UUID cannot name an entity, so it is answered with 404.
func urlID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return "", false
	}
	return id.String(), true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("http.write_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// domainStatus maps each domain sentinel to its status and error code.
var domainStatus = []struct {
	sentinel error
	status   int
	code     string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation_failed"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrUnavailable, http.StatusBadGateway, "upstream_unavailable"},
}

// writeDomainError answers err with the status of the first sentinel it
// wraps. Not-found errors use notFoundMsg; upstream failures hide their
// cause; anything unrecognized is a logged 500.
func writeDomainError(w http.ResponseWriter, err error, notFoundMsg string) {
	for _, m := range domainStatus {
		if !errors.Is(err, m.sentinel) {
			continue
		}
		msg := detail(err, m.sentinel)
		switch m.sentinel {
		case domain.ErrNotFound:
			msg = notFoundMsg
		case domain.ErrUnavailable:
			slog.Warn("http.upstream_unavailable", "error", err)
			msg = "agent gateway unavailable"
		}
		writeJSON(w, m.status, errorResponse{Error: msg, Code: m.code})
		return
	}
	writeInternalError(w, err)
}

// detail strips everything up to and including the sentinel prefix.
func detail(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}

func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("http.internal_error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: "internal"})
}
