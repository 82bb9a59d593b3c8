package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/coder-combat/internal/app"
	"github.com/DoyleJ11/coder-combat/internal/config"
	"github.com/DoyleJ11/coder-combat/internal/httpapi"
	"github.com/DoyleJ11/coder-combat/internal/logging"
	"github.com/DoyleJ11/coder-combat/internal/operator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	op, err := operator.New(ctx, a.Service, log, a.Metrics)
	if err != nil {
		return err
	}
	if cfg.PasswordHash == "" {
		log.Warn("OPERATOR_PASSWORD_HASH is not set, operator routes will refuse every request")
	}

	// Build the router with the operator injected
	handler := httpapi.SetupRoutes(op, httpapi.Options{
		PasswordHash: []byte(cfg.PasswordHash),
		Origins:      cfg.CORSOrigins,
		Gatherer:     a.Registry,
		Log:          log,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}
	op.Inbox() <- operator.Shutdown{}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
