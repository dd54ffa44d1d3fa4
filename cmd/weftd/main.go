// Command weftd runs a service host behind an HTTP gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/weftlabs/weft/filter"
	"github.com/weftlabs/weft/gateway"
	"github.com/weftlabs/weft/host"
	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.NewDefault("weftd").Error("configuration load failed", "error", err)
		os.Exit(1)
	}
	log := logger.New("weftd", os.Stderr, cfg.Logging.Level)

	if err := run(cfg, log); err != nil {
		log.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	h, err := host.New(host.Config{
		PublicURI:                cfg.PublicURI(),
		MaintenanceCheckInterval: cfg.Host.MaintenanceCheckInterval,
		CacheClearDelay:          cfg.Host.CacheClearDelay,
		PrivilegedPrefixes:       cfg.Host.PrivilegedPrefixes,
		TokenSecret:              []byte(cfg.Auth.TokenSecret),
	})
	if err != nil {
		return err
	}
	defer h.Close()

	mgmt := host.NewManagementService(h)
	if cfg.RateLimit.Enabled {
		mgmt.SetFilterChain(filter.NewChain(
			filter.NewRateLimiter(cfg.RateLimit.PerSec, cfg.RateLimit.Burst),
		))
	}
	if err := h.StartService(host.ManagementLink, mgmt); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           gateway.New(h).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "address", cfg.Server.ListenAddress, "public_uri", cfg.PublicURI())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
