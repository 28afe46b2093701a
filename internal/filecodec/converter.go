package filecodec

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultEncodeLimit = 4

// State is the codec status visible to callers.
type State struct {
	// Loading is true while at least one encode is in flight.
	Loading bool `json:"loading"`
	// Err is the message of the most recently started operation's failure,
	// or "" when it succeeded or is still running.
	Err string `json:"error,omitempty"`
}

// Result is the outcome of EncodeAsync.
type Result struct {
	File EncodedFile
	Err  error
}

// Converter encodes and decodes files while tracking State. It is safe for
// concurrent use; each operation owns its own buffers.
type Converter struct {
	mu       sync.Mutex
	inflight int
	seq      uint64
	err      string
	limit    int
	log      *slog.Logger
}

// ConverterOption configures a Converter.
type ConverterOption func(*Converter)

// WithEncodeLimit bounds concurrent reads in EncodeAll. Values <= 0 keep the
// default of 4.
func WithEncodeLimit(n int) ConverterOption {
	return func(c *Converter) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithConverterLogger sets the logger used for failures.
func WithConverterLogger(l *slog.Logger) ConverterOption {
	return func(c *Converter) {
		if l != nil {
			c.log = l
		}
	}
}

// NewConverter returns a Converter.
func NewConverter(opts ...ConverterOption) *Converter {
	c := &Converter{limit: defaultEncodeLimit, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the codec status.
func (c *Converter) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Loading: c.inflight > 0, Err: c.err}
}

// begin starts an operation: it clears the error and, for reads, marks the
// converter as loading.
func (c *Converter) begin(loading bool) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.err = ""
	if loading {
		c.inflight++
	}
	return c.seq
}

// finish ends an operation. Failures of superseded operations are logged but
// not recorded.
func (c *Converter) finish(op uint64, loading bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if loading {
		c.inflight--
	}
	if err != nil && op == c.seq {
		c.err = humanize(err)
	}
}

func humanize(err error) string {
	return strings.TrimPrefix(err.Error(), "filecodec: ")
}

// Encode reads src in full and returns data:<mime>;base64,<payload>.
// Loading stays true until Encode returns, on success and failure alike.
// Read failures are returned as *SourceReadError.
func (c *Converter) Encode(ctx context.Context, src Source) (string, error) {
	f, err := c.EncodeFile(ctx, src)
	return f.Text, err
}

// EncodeFile is Encode returning the resolved MIME type and name as well.
func (c *Converter) EncodeFile(ctx context.Context, src Source) (f EncodedFile, err error) {
	op := c.begin(true)
	defer func() { c.finish(op, true, err) }()

	data, err := readAll(ctx, src)
	if err != nil {
		c.log.Warn("filecodec: read failed", "name", src.Name(), "err", err)
		return EncodedFile{}, &SourceReadError{Name: src.Name(), Err: err}
	}
	mt := resolveMIME(src, data)
	return EncodedFile{
		Text:     DataURL(mt, base64.StdEncoding.EncodeToString(data)),
		MIMEType: mt,
		Name:     src.Name(),
	}, nil
}

// EncodeAsync starts Encode on its own goroutine. The returned channel
// receives exactly one Result and is then closed. There is no way to stop a
// read once started other than cancelling ctx.
func (c *Converter) EncodeAsync(ctx context.Context, src Source) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		f, err := c.EncodeFile(ctx, src)
		ch <- Result{File: f, Err: err}
	}()
	return ch
}

// EncodeAll encodes srcs concurrently and returns results in input order.
// The first failure cancels the remaining reads.
func (c *Converter) EncodeAll(ctx context.Context, srcs ...Source) ([]EncodedFile, error) {
	out := make([]EncodedFile, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for i, src := range srcs {
		g.Go(func() error {
			f, err := c.EncodeFile(gctx, src)
			if err != nil {
				return err
			}
			out[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeToBinary is the package DecodeToBinary, recording failures in State.
func (c *Converter) DecodeToBinary(text, mimeType string) (b *Blob, err error) {
	op := c.begin(false)
	defer func() { c.finish(op, false, err) }()
	return DecodeToBinary(text, mimeType)
}

// DecodeToFile is the package DecodeToFile, recording failures in State.
func (c *Converter) DecodeToFile(text, filename, mimeType string) (f *File, err error) {
	op := c.begin(false)
	defer func() { c.finish(op, false, err) }()
	return DecodeToFile(text, filename, mimeType)
}

func readAll(ctx context.Context, src Source) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(ctxReader{ctx: ctx, r: rc})
}

// ctxReader stops a read between chunks once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// resolveMIME prefers the declared type, then the name's extension, then
// content sniffing. Parameters are kept but spaces are dropped so the result
// fits in a data URL header.
func resolveMIME(src Source, data []byte) string {
	mt := src.MIMEType()
	if mt == "" {
		mt = mime.TypeByExtension(filepath.Ext(src.Name()))
	}
	if mt == "" && len(data) > 0 {
		mt = http.DetectContentType(data)
	}
	if mt == "" {
		mt = DefaultMIMEType
	}
	return strings.ReplaceAll(mt, " ", "")
}
