package filecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Blob is an immutable byte sequence with a MIME type.
type Blob struct {
	Type string
	data []byte
}

// NewBlob copies data into a new Blob.
func NewBlob(data []byte, mimeType string) *Blob {
	return &Blob{Type: mimeType, data: bytes.Clone(data)}
}

// Size returns the byte length.
func (b *Blob) Size() int { return len(b.data) }

// Bytes returns a copy of the contents.
func (b *Blob) Bytes() []byte { return bytes.Clone(b.data) }

// Reader returns a reader over the contents.
func (b *Blob) Reader() *bytes.Reader { return bytes.NewReader(b.data) }

// WriteTo writes the contents to w.
func (b *Blob) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.data)
	return int64(n), err
}

// File is a named Blob, ready to upload again or save.
type File struct {
	*Blob
	Name         string
	LastModified time.Time
}

// DecodeToBinary decodes a bare base64 payload or a data URL into a Blob of
// the given type. Everything after the first comma is the payload when a
// comma is present. Input must be standard, padded base64; anything else is
// a *DecodeError and no Blob is returned.
func DecodeToBinary(text, mimeType string) (*Blob, error) {
	payload := text
	if _, after, ok := strings.Cut(text, ","); ok {
		payload = after
	}
	data, err := base64.StdEncoding.Strict().DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &Blob{Type: mimeType, data: data}, nil
}

// DecodeToFile decodes text like DecodeToBinary and names the result.
// filename is kept verbatim and mimeType replaces any type embedded in text.
func DecodeToFile(text, filename, mimeType string) (*File, error) {
	b, err := DecodeToBinary(text, mimeType)
	if err != nil {
		return nil, err
	}
	return &File{Blob: b, Name: filename, LastModified: time.Now()}, nil
}

var errUnsafeName = errors.New("file name must be a plain base name")

// Save writes the file into dir under its own name through a temp file and
// a rename, and returns the final path. Names containing path separators are
// rejected rather than altered.
func (f *File) Save(dir string) (string, error) {
	if f.Name == "" || f.Name == "." || f.Name == ".." || filepath.Base(f.Name) != f.Name {
		return "", fmt.Errorf("filecodec: save %q: %w", f.Name, errUnsafeName)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("filecodec: save %q: %w", f.Name, err)
	}
	path := filepath.Join(dir, f.Name)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("filecodec: save %q: %w", f.Name, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(f.data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("filecodec: save %q: %w", f.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("filecodec: save %q: %w", f.Name, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("filecodec: save %q: %w", f.Name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("filecodec: save %q: %w", f.Name, err)
	}
	return path, nil
}
