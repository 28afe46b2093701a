package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

const apiKeyQueryParam = "api-key"

// Middleware enforces access keys. Keys come from an "Authorization: Bearer"
// header or the api-key query parameter (for EventSource clients). Read-only
// tokens may only use GET, HEAD and OPTIONS. In open mode every request
// passes.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsOpenMode() || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		_, tok, ok := s.Lookup(requestKey(r))
		if !ok {
			deny(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or unknown access key")
			return
		}
		if tok.ReadOnly && r.Method != http.MethodGet && r.Method != http.MethodHead {
			deny(w, http.StatusForbidden, "FORBIDDEN", "access key is read-only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if key, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	return r.URL.Query().Get(apiKeyQueryParam)
}

func deny(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="statekit"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}
