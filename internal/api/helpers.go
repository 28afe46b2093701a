// Package api exposes stores and the file codec over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/micro-nova/statekit/internal/storage"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an AppError as a JSON response. Other errors become 500s.
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	var appErr *AppError
	if errors.As(err, &appErr) {
		w.WriteHeader(appErr.Status)
		_ = json.NewEncoder(w).Encode(appErr)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(ErrInternal(err.Error()))
}

// areaParams reads the {area} and {key} path parameters.
func areaParams(r *http.Request) (storage.Kind, string, error) {
	kind, err := storage.ParseKind(chi.URLParam(r, "area"))
	if err != nil {
		return 0, "", ErrNotFound(err.Error())
	}
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		return 0, "", ErrBadRequest("invalid key parameter")
	}
	return kind, key, nil
}
