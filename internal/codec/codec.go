// Package codec converts application values to and from the text form kept in
// a storage area.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DecodeError reports persisted text that could not be turned back into a value.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "codec: decode: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

var errEmpty = errors.New("empty text")

// Encode returns the canonical JSON text for v. Map keys are sorted and HTML
// characters are left unescaped, so equal values always encode identically.
func Encode[T any](v T) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("codec: encode: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Decode parses text produced by Encode. Anything else, including empty text
// and trailing garbage, yields a *DecodeError.
func Decode[T any](text string) (T, error) {
	var v T
	if len(bytes.TrimSpace([]byte(text))) == 0 {
		return v, &DecodeError{Err: errEmpty}
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	if err := dec.Decode(&v); err != nil {
		var zero T
		return zero, &DecodeError{Err: err}
	}
	// Only whitespace may follow the value. More() alone would accept a
	// stray closing bracket or brace.
	if _, err := dec.Token(); err != io.EOF {
		var zero T
		return zero, &DecodeError{Err: errors.New("trailing data after value")}
	}
	return v, nil
}
