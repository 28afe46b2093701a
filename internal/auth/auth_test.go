package auth_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/micro-nova/statekit/internal/auth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const tokensYAML = `
admin:
  key: s3cret
viewer:
  key: look-only
  read_only: true
`

// writeTokens writes tokens.yaml to dir.
func writeTokens(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, auth.TokensFileName), []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile tokens.yaml: %v", err)
	}
}

func newService(t *testing.T, dir string) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

// serve runs one request through the middleware and reports whether the
// wrapped handler was reached.
func serve(svc *auth.Service, req *http.Request) (*httptest.ResponseRecorder, bool) {
	called := false
	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, called
}

// --- Open mode (no tokens file) ---

func TestService_OpenMode(t *testing.T) {
	svc := newService(t, t.TempDir())

	if !svc.IsOpenMode() {
		t.Error("IsOpenMode() = false, want true when no tokens file")
	}
	if _, _, ok := svc.Lookup(""); ok {
		t.Error("Lookup(\"\") matched, want empty key always rejected")
	}
	if _, _, ok := svc.Lookup("any-key-at-all"); ok {
		t.Error("Lookup matched with no tokens configured")
	}
}

func TestMiddleware_OpenMode_PassesThrough(t *testing.T) {
	svc := newService(t, t.TempDir())

	rr, called := serve(svc, httptest.NewRequest(http.MethodPut, "/api/store/durable/k", nil))
	if !called {
		t.Error("middleware in open mode did not call next handler")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("response code = %d, want 200", rr.Code)
	}
}

// --- Secured mode ---

func TestService_SecuredMode_Lookup(t *testing.T) {
	dir := t.TempDir()
	writeTokens(t, dir, tokensYAML)
	svc := newService(t, dir)

	if svc.IsOpenMode() {
		t.Fatal("IsOpenMode() = true with tokens configured")
	}
	name, tok, ok := svc.Lookup("look-only")
	if !ok || name != "viewer" || !tok.ReadOnly {
		t.Errorf("Lookup(look-only) = %q, %+v, %v", name, tok, ok)
	}
	if _, _, ok := svc.Lookup("wrong"); ok {
		t.Error("Lookup(wrong) matched")
	}
}

func TestMiddleware_SecuredMode(t *testing.T) {
	dir := t.TempDir()
	writeTokens(t, dir, tokensYAML)
	svc := newService(t, dir)

	tests := []struct {
		name     string
		method   string
		target   string
		header   string
		wantCode int
		wantNext bool
	}{
		{"bearer header", http.MethodPut, "/api/store/durable/k", "Bearer s3cret", 200, true},
		{"query param", http.MethodGet, "/api/store/durable/k/subscribe?api-key=s3cret", "", 200, true},
		{"no credentials", http.MethodGet, "/api/store/durable/k", "", 401, false},
		{"wrong key", http.MethodGet, "/api/store/durable/k", "Bearer nope", 401, false},
		{"read-only GET", http.MethodGet, "/api/store/durable/k", "Bearer look-only", 200, true},
		{"read-only PUT", http.MethodPut, "/api/store/durable/k", "Bearer look-only", 403, false},
		{"preflight", http.MethodOptions, "/api/encode", "", 200, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr, called := serve(svc, req)
			if rr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rr.Code, tt.wantCode)
			}
			if called != tt.wantNext {
				t.Errorf("next called = %v, want %v", called, tt.wantNext)
			}
		})
	}
}

func TestService_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, dir)
	if !svc.IsOpenMode() {
		t.Fatal("expected open mode before tokens file exists")
	}

	writeTokens(t, dir, tokensYAML)

	deadline := time.Now().Add(2 * time.Second)
	for svc.IsOpenMode() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if svc.IsOpenMode() {
		t.Fatal("tokens file was not picked up by the watcher")
	}

	if err := os.Remove(filepath.Join(dir, auth.TokensFileName)); err != nil {
		t.Fatal(err)
	}
	if err := svc.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !svc.IsOpenMode() {
		t.Error("removing the tokens file did not reopen the API")
	}
}

func TestService_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeTokens(t, dir, "admin: [unclosed")
	if _, err := auth.NewService(dir); err == nil {
		t.Error("NewService accepted a malformed tokens file")
	}
}

func TestService_MissingDir_NoError(t *testing.T) {
	svc := newService(t, filepath.Join(t.TempDir(), "does-not-exist"))
	if !svc.IsOpenMode() {
		t.Error("IsOpenMode() = false for missing dir")
	}
}
