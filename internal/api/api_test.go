package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/micro-nova/statekit/internal/api"
	"github.com/micro-nova/statekit/internal/auth"
	"github.com/micro-nova/statekit/internal/filecodec"
	"github.com/micro-nova/statekit/internal/storage"
)

// newTestServer spins up a full router over a file-backed durable area and a
// memory session area.
func newTestServer(t *testing.T, opts api.Options) (*httptest.Server, *storage.FileArea) {
	t.Helper()

	durable, err := storage.NewFileArea(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileArea: %v", err)
	}
	session := storage.NewMemArea(0)
	stores := api.NewStores(durable, session)

	srv := httptest.NewServer(api.NewRouter(stores, filecodec.NewConverter(), opts))
	t.Cleanup(func() {
		srv.Close()
		stores.Close()
		durable.Close()
		session.Close()
	})
	return srv, durable
}

// do is a convenience helper for making requests to the test server.
func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("NewRequest %s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do %s %s: %v", method, path, err)
	}
	return resp
}

// decodeJSON reads and decodes a JSON response body into v.
func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

// requireStatus fails the test if the response status doesn't match.
func requireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, body)
	}
}

type storeBody struct {
	Area  string          `json:"area"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Error string          `json:"error"`
}

func TestStoreLifecycle(t *testing.T) {
	srv, durable := newTestServer(t, api.Options{})

	resp := do(t, srv, "GET", "/api/store/durable/prefs", "")
	requireStatus(t, resp, http.StatusOK)
	var got storeBody
	decodeJSON(t, resp, &got)
	if string(got.Value) != "null" {
		t.Errorf("initial value = %s, want null", got.Value)
	}

	resp = do(t, srv, "PUT", "/api/store/durable/prefs", `{"theme":"light"}`)
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &got)
	if string(got.Value) != `{"theme":"light"}` || got.Area != "durable" || got.Key != "prefs" {
		t.Errorf("PUT response = %+v", got)
	}

	raw, ok, err := durable.GetItem("prefs")
	if err != nil || !ok || raw != `{"theme":"light"}` {
		t.Errorf("durable entry = %q, %v, %v", raw, ok, err)
	}

	resp = do(t, srv, "DELETE", "/api/store/durable/prefs", "")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &got)
	if string(got.Value) != "null" {
		t.Errorf("value after DELETE = %s, want null", got.Value)
	}
	if _, ok, _ := durable.GetItem("prefs"); ok {
		t.Error("durable entry still present after DELETE")
	}
}

func TestSessionAreaIsSeparate(t *testing.T) {
	srv, durable := newTestServer(t, api.Options{})

	resp := do(t, srv, "PUT", "/api/store/session/prefs", `42`)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	if _, ok, _ := durable.GetItem("prefs"); ok {
		t.Error("session write leaked into durable area")
	}
	resp = do(t, srv, "GET", "/api/store/session/prefs", "")
	var got storeBody
	decodeJSON(t, resp, &got)
	if string(got.Value) != "42" {
		t.Errorf("session value = %s, want 42", got.Value)
	}
}

func TestStoreErrors(t *testing.T) {
	srv, _ := newTestServer(t, api.Options{})

	resp := do(t, srv, "GET", "/api/store/cookies/prefs", "")
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = do(t, srv, "PUT", "/api/store/durable/prefs", `{not json`)
	requireStatus(t, resp, http.StatusBadRequest)
	var appErr api.AppError
	decodeJSON(t, resp, &appErr)
	if appErr.Code != "BAD_REQUEST" {
		t.Errorf("error code = %q", appErr.Code)
	}
}

func TestSubscribeStreamsChanges(t *testing.T) {
	srv, _ := newTestServer(t, api.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/store/durable/counter/subscribe", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	next := func() string {
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
		t.Fatalf("stream ended: %v", scanner.Err())
		return ""
	}

	if got := next(); got != "null" {
		t.Errorf("first event = %s, want null", got)
	}

	put := do(t, srv, "PUT", "/api/store/durable/counter", `7`)
	requireStatus(t, put, http.StatusOK)
	put.Body.Close()

	if got := next(); got != "7" {
		t.Errorf("second event = %s, want 7", got)
	}
}

func multipartUpload(t *testing.T, name, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="file"; filename="` + name + `"`}
	h["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, api.Options{})

	body, ct := multipartUpload(t, "abc.txt", "text/plain", []byte("ABC"))
	resp, err := srv.Client().Post(srv.URL+"/api/encode", ct, body)
	if err != nil {
		t.Fatalf("POST /api/encode: %v", err)
	}
	requireStatus(t, resp, http.StatusOK)
	var enc struct {
		Text     string          `json:"text"`
		MIMEType string          `json:"mime_type"`
		Name     string          `json:"name"`
		State    filecodec.State `json:"state"`
	}
	decodeJSON(t, resp, &enc)
	if enc.Text != "data:text/plain;base64,QUJD" {
		t.Errorf("text = %q", enc.Text)
	}
	if enc.State.Loading {
		t.Error("state reports loading after completion")
	}

	reqBody, _ := json.Marshal(map[string]string{"text": enc.Text, "filename": "copy.txt", "mime_type": "text/csv"})
	resp = do(t, srv, "POST", "/api/decode", string(reqBody))
	requireStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "ABC" {
		t.Errorf("decoded body = %q", data)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", got)
	}
	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename=copy.txt` {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	srv, _ := newTestServer(t, api.Options{})

	resp := do(t, srv, "POST", "/api/decode", `{"text":"not-base64!!","filename":"x.txt","mime_type":"text/plain"}`)
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = do(t, srv, "GET", "/api/codec", "")
	requireStatus(t, resp, http.StatusOK)
	var st filecodec.State
	decodeJSON(t, resp, &st)
	if st.Err == "" {
		t.Error("codec state has no error after malformed decode")
	}
}

func TestEncodeRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, api.Options{EncodeRate: 0.001, EncodeBurst: 1})

	var last int
	for i := 0; i < 2; i++ {
		body, ct := multipartUpload(t, "a.bin", "application/octet-stream", []byte{1})
		resp, err := srv.Client().Post(srv.URL+"/api/encode", ct, body)
		if err != nil {
			t.Fatal(err)
		}
		last = resp.StatusCode
		resp.Body.Close()
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("second encode status = %d, want 429", last)
	}
}

func TestEncodeTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, api.Options{MaxUploadBytes: 64})

	body, ct := multipartUpload(t, "big.bin", "application/octet-stream", bytes.Repeat([]byte{1}, 4096))
	resp, err := srv.Client().Post(srv.URL+"/api/encode", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	requireStatus(t, resp, http.StatusRequestEntityTooLarge)
	resp.Body.Close()
}

func TestCORSOptions(t *testing.T) {
	srv, _ := newTestServer(t, api.Options{})
	resp := do(t, srv, "OPTIONS", "/api/codec", "")
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestAccessKeysRequired(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, auth.TokensFileName), []byte("admin:\n  key: s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	authSvc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(authSvc.Close)

	srv, _ := newTestServer(t, api.Options{Auth: authSvc})

	resp := do(t, srv, "GET", "/api/store/session/k", "")
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = do(t, srv, "GET", "/api/store/session/k?api-key=s3cret", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}
