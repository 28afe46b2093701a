// Package filecodec converts file-like binary objects to data-URL text and
// back.
//
// Encoding reads a Source asynchronously with respect to the codec state: a
// Converter tracks whether any read is in flight and the error of the most
// recently started operation. Decoding is synchronous and strict: malformed
// base64 is an error and never yields partial bytes.
package filecodec

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMIMEType is used when a source declares no type and none can be
// inferred.
const DefaultMIMEType = "application/octet-stream"

// EncodedFile is a data-URL text together with the MIME type it declares.
type EncodedFile struct {
	Text     string `json:"text"`
	MIMEType string `json:"mime_type"`
	Name     string `json:"name,omitempty"`
}

// SourceReadError reports a failure reading a Source.
type SourceReadError struct {
	Name string
	Err  error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("filecodec: read %s: %v", e.Name, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// DecodeError reports text that is not valid base64 or not a data URL.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "filecodec: decode: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

var errNotDataURL = errors.New("not a base64 data URL")

// DataURL formats payload (already base64) as data:<mime>;base64,<payload>.
func DataURL(mimeType, payload string) string {
	return "data:" + mimeType + ";base64," + payload
}

// ParseDataURL splits a data URL into its MIME type and base64 payload.
// Only base64 data URLs are accepted. An empty media type yields
// DefaultMIMEType.
func ParseDataURL(text string) (mimeType, payload string, err error) {
	rest, ok := strings.CutPrefix(text, "data:")
	if !ok {
		return "", "", &DecodeError{Err: errNotDataURL}
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", &DecodeError{Err: errNotDataURL}
	}
	mimeType, ok = strings.CutSuffix(header, ";base64")
	if !ok {
		return "", "", &DecodeError{Err: errNotDataURL}
	}
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return mimeType, payload, nil
}
