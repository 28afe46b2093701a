package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/micro-nova/statekit/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// run executes the CLI against dataDir and returns stdout.
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSetGetRemove(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()

			if _, err := run(t, dir, "--backend", backend, "set", "prefs", `{"theme":"dark"}`); err != nil {
				t.Fatalf("set: %v", err)
			}
			out, err := run(t, dir, "--backend", backend, "get", "prefs")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			var got map[string]string
			if err := json.Unmarshal([]byte(out), &got); err != nil {
				t.Fatalf("get output %q: %v", out, err)
			}
			if got["theme"] != "dark" {
				t.Errorf("theme = %q, want dark", got["theme"])
			}

			if _, err := run(t, dir, "--backend", backend, "rm", "prefs"); err != nil {
				t.Fatalf("rm: %v", err)
			}
			out, err = run(t, dir, "--backend", backend, "get", "prefs")
			if err != nil {
				t.Fatalf("get after rm: %v", err)
			}
			if strings.TrimSpace(out) != "null" {
				t.Errorf("get after rm = %q, want null", out)
			}
		})
	}
}

func TestGetYAML(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, dir, "set", "n", `3`); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := run(t, dir, "-o", "yaml", "get", "n")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if strings.TrimSpace(out) != "3" {
		t.Errorf("yaml output = %q, want 3", out)
	}
}

func TestSetRejectsInvalidJSON(t *testing.T) {
	if _, err := run(t, t.TempDir(), "set", "k", "{nope"); err == nil {
		t.Error("set with invalid JSON succeeded")
	}
}

func TestUnknownBackend(t *testing.T) {
	if _, err := run(t, t.TempDir(), "--backend", "redis", "get", "k"); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestEncodeDecode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "abc.txt")
	if err := os.WriteFile(src, []byte("ABC"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, dir, "encode", "--mime", "text/plain", src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	text := strings.TrimSpace(out)
	if text != "data:text/plain;base64,QUJD" {
		t.Fatalf("encode output = %q", text)
	}

	outDir := filepath.Join(dir, "out")
	if _, err := run(t, dir, "decode", "--name", "copy.txt", "--dir", outDir, text); err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(outDir, "copy.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ABC" {
		t.Errorf("decoded file = %q, want ABC", data)
	}
}

func TestDecodeToStdout(t *testing.T) {
	out, err := run(t, t.TempDir(), "decode", "QUJD")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != "ABC" {
		t.Errorf("stdout = %q, want ABC", out)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := run(t, t.TempDir(), "decode", "not-base64!!"); err == nil {
		t.Error("malformed input decoded")
	}
}

func TestFailedWriteClosesArea(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			cfgPath := filepath.Join(dir, "statekit.yaml")
			if err := os.WriteFile(cfgPath, []byte("max_bytes: 16\n"), 0644); err != nil {
				t.Fatal(err)
			}

			c, root := newCLI()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetErr(&out)
			root.SetArgs([]string{"--config", cfgPath, "--data-dir", dir, "--backend", backend,
				"set", "prefs", `"a value that does not fit the quota"`})
			err := root.ExecuteContext(context.Background())
			if !store.IsPersistenceError(err) {
				t.Fatalf("set over quota: err = %v, want a persistence error", err)
			}
			if c.area != nil {
				t.Error("durable area left open after a failed command")
			}
		})
	}
}
