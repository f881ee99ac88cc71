package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/escrowhub/internal/api/middleware"
	"github.com/kiranshivaraju/escrowhub/internal/api/response"
	"github.com/kiranshivaraju/escrowhub/internal/escrow"
	"github.com/kiranshivaraju/escrowhub/internal/rail"
	"github.com/kiranshivaraju/escrowhub/internal/store"
)

const maxBodyBytes = 1 << 20

// errorMapping pairs a domain error with the HTTP status and stable code it
// is reported as. Order matters: more specific errors come first.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{escrow.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{escrow.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED_ACTOR"},
	{escrow.ErrAlreadyFunded, http.StatusConflict, "ALREADY_FUNDED"},
	{escrow.ErrAlreadyAssigned, http.StatusConflict, "ALREADY_ASSIGNED"},
	{escrow.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
	{escrow.ErrConflict, http.StatusConflict, "CONFLICT"},
	{store.ErrConflict, http.StatusConflict, "CONFLICT"},
	{store.ErrDuplicateKey, http.StatusConflict, "CONFLICT"},
	{rail.ErrNotSubmitted, http.StatusConflict, "NOT_SUBMITTED"},
	{escrow.ErrInvalidSplit, http.StatusUnprocessableEntity, "INVALID_SPLIT"},
	{escrow.ErrInvalidInput, http.StatusBadRequest, "INVALID_REQUEST"},
}

// writeError reports err using the first matching mapping. Anything
// unrecognised is logged and hidden behind a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			response.Error(w, m.status, m.code, err.Error(), nil)
			return
		}
	}
	slog.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
		"An unexpected error occurred", nil)
}

func badRequest(w http.ResponseWriter, msg string) {
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
}

// requireActor returns the authenticated identity or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor, ok := mw.GetActor(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing actor", nil)
		return "", false
	}
	return actor, true
}

// pathID parses the named chi URL parameter as a UUID or writes a 400.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody reads a JSON request body into dst. An empty body leaves dst
// untouched when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		badRequest(w, "Invalid JSON body")
		return false
	}
	return true
}
