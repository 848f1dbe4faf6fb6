// Package handler maps the REST API onto the services. Handlers decode and
// validate input, call one service method and write either the resource or
// the {"error":{"code","message"}} envelope.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rankwatch/rankwatch/internal/auth"
	"github.com/rankwatch/rankwatch/internal/handler/dto"
	"github.com/rankwatch/rankwatch/internal/model"
)

// Version is reported by GET /.
const Version = "0.1.0"

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Root serves GET / and the router fallbacks.
type Root struct {
	apiBase string
}

// NewRoot creates the root handler. apiBase is advertised by Index.
func NewRoot(apiBase string) *Root {
	return &Root{apiBase: apiBase}
}

// Index handles GET /.
func (h *Root) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "Rankwatch",
		"version": Version,
		"api":     h.apiBase,
	})
}

func (h *Root) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "No route for "+r.Method+" "+r.URL.Path)
}

func (h *Root) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" is not supported here")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the API error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: dto.ErrorBody{Code: code, Message: message},
	})
}

// decodeJSON reads a JSON request body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// requireAuth returns the calling principal or writes 401.
func requireAuth(w http.ResponseWriter, r *http.Request) (*model.Principal, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	}
	return p, ok
}

// pageLimit reads ?limit. Missing, malformed or out of range values give the
// default.
func pageLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 || n > maxPageLimit {
		return defaultPageLimit
	}
	return n
}
