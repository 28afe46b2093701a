package filecodec

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
)

// Source is a file-like binary object that can be read in full.
type Source interface {
	// Name is used in error messages and as the suggested file name.
	Name() string
	// MIMEType is the declared type, or "" when unknown.
	MIMEType() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// BytesSource is an in-memory Source.
type BytesSource struct {
	name     string
	mimeType string
	data     []byte
}

// NewBytesSource returns a Source over data. data is not copied.
func NewBytesSource(name, mimeType string, data []byte) *BytesSource {
	return &BytesSource{name: name, mimeType: mimeType, data: data}
}

func (s *BytesSource) Name() string     { return s.name }
func (s *BytesSource) MIMEType() string { return s.mimeType }

func (s *BytesSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

// PathSource reads a file from disk. Its MIME type comes from the file
// extension unless set explicitly.
type PathSource struct {
	path     string
	mimeType string
}

// NewPathSource returns a Source for the file at path.
func NewPathSource(path string) *PathSource {
	return &PathSource{path: path, mimeType: mime.TypeByExtension(filepath.Ext(path))}
}

// WithMIMEType overrides the inferred type.
func (s *PathSource) WithMIMEType(mimeType string) *PathSource {
	s.mimeType = mimeType
	return s
}

func (s *PathSource) Name() string     { return filepath.Base(s.path) }
func (s *PathSource) MIMEType() string { return s.mimeType }

func (s *PathSource) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(s.path)
}

// MultipartSource is an uploaded multipart file.
type MultipartSource struct {
	fh *multipart.FileHeader
}

// NewMultipartSource wraps an uploaded file header.
func NewMultipartSource(fh *multipart.FileHeader) *MultipartSource {
	return &MultipartSource{fh: fh}
}

func (s *MultipartSource) Name() string     { return s.fh.Filename }
func (s *MultipartSource) MIMEType() string { return s.fh.Header.Get("Content-Type") }

func (s *MultipartSource) Open(context.Context) (io.ReadCloser, error) {
	return s.fh.Open()
}
