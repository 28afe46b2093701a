package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// subscribeValue streams a store's value as Server-Sent Events.
// Clients receive the current value immediately, then every change.
func (h *Handlers) subscribeValue(w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	id := uuid.New().String()
	ch := st.Subscribe(id)
	defer st.Unsubscribe(id)

	sendSSE(w, flusher, st.Value())

	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			sendSSE(w, flusher, v)
		case <-r.Context().Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
