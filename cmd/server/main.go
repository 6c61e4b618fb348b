package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcoot/creditshop-go/internal/config"
	"github.com/mcoot/creditshop-go/internal/factory"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up logging with JSON output
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := factory.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Bind everything before serving so a taken port fails fast
	if err := app.Server.Listen(); err != nil {
		logger.Error("failed to bind listener", slog.String("error", err.Error()))
		_ = app.Storage.Close()
		os.Exit(1)
	}
	if app.HTTPServer != nil {
		if err := app.HTTPServer.Listen(); err != nil {
			logger.Error("failed to bind HTTP server", slog.String("error", err.Error()))
			_ = app.Shutdown(context.Background())
			os.Exit(1)
		}
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- app.Server.Serve()
	}()
	if app.HTTPServer != nil {
		go func() {
			errCh <- app.HTTPServer.Serve()
		}()
	}

	logger.Info("server started",
		slog.String("addr", app.Server.Addr()),
		slog.String("storage", cfg.Storage.Type),
	)

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			exitCode = 1
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// Shutdown gets its own deadline; ctx is already cancelled here
	if err := app.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		exitCode = 1
	}

	logger.Info("server stopped")
	os.Exit(exitCode)
}
