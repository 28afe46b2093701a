// Command statekitd serves persisted stores and the file codec over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/micro-nova/statekit/internal/api"
	"github.com/micro-nova/statekit/internal/auth"
	"github.com/micro-nova/statekit/internal/config"
	"github.com/micro-nova/statekit/internal/filecodec"
	"github.com/micro-nova/statekit/internal/storage"
	"github.com/micro-nova/statekit/internal/zeroconf"
)

const version = "0.1.0"

func main() {
	var (
		addr    = flag.String("addr", "", "HTTP listen address (default :8080)")
		cfgPath = flag.String("config", "", "YAML config file")
		dataDir = flag.String("data-dir", "", "durable area directory (default: ~/.config/statekit)")
		backend = flag.String("backend", "", "durable backend: file or sqlite")
		mdns    = flag.Bool("mdns", false, "advertise the daemon via mDNS")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("cannot load config", "path", *cfgPath, "err", err)
		os.Exit(1)
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "data-dir":
			cfg.DataDir = *dataDir
		case "backend":
			cfg.Backend = *backend
		case "mdns":
			cfg.MDNS = *mdns
		case "debug":
			cfg.Debug = *debug
		}
	})
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	cfg = cfg.WithDefaults()

	// Configure logging
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	durable, err := storage.OpenDurable(cfg.Backend, cfg.DataDir, cfg.MaxBytes)
	if err != nil {
		slog.Error("cannot open durable area", "dir", cfg.DataDir, "backend", cfg.Backend, "err", err)
		os.Exit(1)
	}
	session := storage.NewMemArea(cfg.SessionMaxBytes)

	// Access keys (tokens.yaml in the data dir; absent means open)
	authSvc, err := auth.NewService(cfg.DataDir)
	if err != nil {
		slog.Error("auth service initialization failed", "err", err)
		os.Exit(1)
	}
	defer authSvc.Close()

	stores := api.NewStores(durable, session)
	router := api.NewRouter(stores, filecodec.NewConverter(), api.Options{
		EncodeRate:     cfg.EncodeRate,
		EncodeBurst:    cfg.EncodeBurst,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Auth:           authSvc,
	})

	if cfg.MDNS {
		hostname, _ := os.Hostname()
		zc := zeroconf.New(hostname, listenPort(cfg.Addr), "version="+version, "backend="+cfg.Backend)
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// SSE streams stay open.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("statekitd listening", "addr", cfg.Addr, "backend", cfg.Backend, "data", cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	// Closing the stores ends open SSE streams so Shutdown can finish.
	stores.Close()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if err := durable.Close(); err != nil {
		slog.Warn("durable area close error", "err", err)
	}
	session.Close()

	slog.Info("shutdown complete")
}

// listenPort extracts the port from a listen address, defaulting to 80.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 80
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 80
	}
	return port
}
