package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"platewatch/internal/auth"
	handler "platewatch/internal/http"
)

func runServe(args []string) error {
	fs := newFlagSet("serve")
	fs.String("http.addr", "", "listen address (default :5000)")
	cfg, log, err := setup(fs, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, err := openOwner(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := o.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close record store")
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	r := handler.NewRouter(handler.RouterConfig{
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
	}, log.With().Str("component", "http").Logger())
	handler.NewHandler(o.service, log).Register(r, auth.Middleware(cfg.Auth.JWTSecret, log))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Str("store", cfg.Store.Driver).Msg("access service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
