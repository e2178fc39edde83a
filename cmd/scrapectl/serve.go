package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pevans/scrapectl/config"
	"github.com/pevans/scrapectl/runlog"
)

// handleServe serves the run history API until ctx is cancelled.
func handleServe(ctx context.Context, cfg *config.FileConfig, args []string, stderr io.Writer) int {
	d := resolveDefaults(cfg)

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	history := fs.String("history", d.history, "Run history database")
	addr := fs.String("addr", getEnv("SCRAPECTL_API_ADDR", "localhost:8080"), "Listen address")
	verbose := fs.Bool("verbose", false, "Show debug output")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if *history == "" {
		fmt.Fprintln(stderr, "Error: --history is required")
		return exitUsage
	}

	logger, err := newLogger(stderr, d.logLevel, *verbose)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if !*verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := runlog.NewStore(*history)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open run history: %v\n", err)
		return exitFail
	}
	defer store.Close()

	server := &http.Server{
		Addr:              *addr,
		Handler:           runlog.NewAPIServer(store).SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", *addr).Info("Starting run history API on http://" + *addr + "/api/v1/runs")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server failed")
			return exitFail
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Shutdown failed")
			return exitFail
		}
	}
	return exitOK
}
