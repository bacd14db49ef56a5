package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accessgate.dev/internal/app"
	"accessgate.dev/internal/config"
	"accessgate.dev/internal/httpapi"
	"accessgate.dev/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	backend, err := app.OpenBackend(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer backend.Close()

	svc, err := app.NewServices(cfg, backend, nil)
	if err != nil {
		log.Fatalf("build services: %v", err)
	}
	if svc.Identity == nil {
		log.Fatal("ACCESSGATE_STAFF_TOKEN_SECRET is required")
	}

	proxies, err := cfg.Proxies()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	api, err := httpapi.New(httpapi.Options{
		Links:          svc.Links,
		Authz:          svc.Authz,
		Identity:       svc.Identity,
		Audit:          svc.Audit,
		Ready:          backend,
		Version:        version,
		PortalRPS:      cfg.PortalRPS,
		PortalBurst:    cfg.PortalBurst,
		TrustedProxies: proxies,
	})
	if err != nil {
		log.Fatalf("build api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Info("starting accessgate", map[string]any{
		"version": version,
		"addr":    srv.Addr,
		"store":   backend.Driver,
	})

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Info("shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		obs.Error("shutdown failed", map[string]any{"error": err.Error()})
	}
	obs.Info("stopped", nil)
}
