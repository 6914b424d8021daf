package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/app"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/config"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/handler"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	a, err := app.New(gctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var authHandler *handler.AuthHandler
	if a.Credentials != nil {
		authHandler = handler.NewAuthHandler(a.Credentials, a.Maintainer)
	}

	e := handler.NewRouter(handler.RouterConfig{
		Queue:       a.Queue,
		Scanner:     a.Scanner,
		Tokens:      a.APIAuth,
		Auth:        authHandler,
		Price:       a.Pricing,
		EventBuffer: 64,
		Done:        gctx.Done(),
		Logger:      logger,
	})

	host := ""
	if !a.APIAuth.Enabled() {
		host = "127.0.0.1"
		logger.Warn("JWT_SECRET not set; control API is unauthenticated and bound to loopback")
	}
	srv := &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No write timeout: the event stream stays open.
	}

	g.Go(func() error {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := srv.Shutdown(sctx)
		if err := a.Queue.Wait(sctx); err != nil {
			logger.Warn("worker did not finish its current job before shutdown", "error", err)
		}
		if shutdownErr != nil {
			return fmt.Errorf("server shutdown: %w", shutdownErr)
		}
		return nil
	})

	if a.Maintainer != nil {
		g.Go(func() error { return a.Maintainer.Run(gctx) })
	}
	if a.Scanner != nil {
		g.Go(func() error { return a.Scanner.Run(gctx, cfg.PollInterval) })
	}

	// Pick up jobs left pending (or recovered from processing) by the last run.
	if a.Queue.Stats().Pending > 0 {
		a.Queue.Start()
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped gracefully")
	return nil
}
