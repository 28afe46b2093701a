package api

import (
	"encoding/json"
	"net/http"

	"github.com/micro-nova/statekit/internal/store"
)

// storeResponse is the JSON view of one store.
type storeResponse struct {
	Area  string `json:"area"`
	Key   string `json:"key"`
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`
}

func (h *Handlers) getValue(w http.ResponseWriter, r *http.Request) {
	kind, key, err := areaParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.stores.Get(kind, key)
	if err != nil {
		writeError(w, ErrInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, newStoreResponse(kind.String(), key, st.Value(), st.Err()))
}

func (h *Handlers) putValue(w http.ResponseWriter, r *http.Request) {
	kind, key, err := areaParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var v any
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}
	st, err := h.stores.Get(kind, key)
	if err != nil {
		writeError(w, ErrInternal(err.Error()))
		return
	}
	st.Set(store.Value[any](v))
	writeJSON(w, http.StatusOK, newStoreResponse(kind.String(), key, st.Value(), st.Err()))
}

func (h *Handlers) deleteValue(w http.ResponseWriter, r *http.Request) {
	kind, key, err := areaParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.stores.Get(kind, key)
	if err != nil {
		writeError(w, ErrInternal(err.Error()))
		return
	}
	st.Remove()
	writeJSON(w, http.StatusOK, newStoreResponse(kind.String(), key, st.Value(), st.Err()))
}

func newStoreResponse(area, key string, v any, err error) storeResponse {
	resp := storeResponse{Area: area, Key: key, Value: v}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}
