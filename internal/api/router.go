package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/micro-nova/statekit/internal/auth"
	"github.com/micro-nova/statekit/internal/filecodec"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	stores    *Stores
	codec     *filecodec.Converter
	limiter   *rate.Limiter
	maxUpload int64
}

// Options tunes the router. Zero fields take defaults.
type Options struct {
	// EncodeRate is the sustained number of encode requests per second (default 5).
	EncodeRate float64
	// EncodeBurst is the encode burst size (default 10).
	EncodeBurst int
	// MaxUploadBytes caps one upload (default 32 MiB).
	MaxUploadBytes int64
	// Auth, when set, requires access keys on every route.
	Auth *auth.Service
}

func (o Options) withDefaults() Options {
	if o.EncodeRate <= 0 {
		o.EncodeRate = 5
	}
	if o.EncodeBurst <= 0 {
		o.EncodeBurst = 10
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 32 << 20
	}
	return o
}

// NewRouter creates and returns the main HTTP router.
func NewRouter(stores *Stores, codec *filecodec.Converter, opts Options) http.Handler {
	opts = opts.withDefaults()
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)
	if opts.Auth != nil {
		r.Use(opts.Auth.Middleware)
	}

	h := &Handlers{
		stores:    stores,
		codec:     codec,
		limiter:   rate.NewLimiter(rate.Limit(opts.EncodeRate), opts.EncodeBurst),
		maxUpload: opts.MaxUploadBytes,
	}

	r.Route("/api/store/{area}/{key}", func(r chi.Router) {
		r.Get("/", h.getValue)
		r.Put("/", h.putValue)
		r.Delete("/", h.deleteValue)
		r.Get("/subscribe", h.subscribeValue)
	})

	r.Post("/api/encode", h.encodeFile)
	r.Post("/api/decode", h.decodeFile)
	r.Get("/api/codec", h.codecState)

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
