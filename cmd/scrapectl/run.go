package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/pevans/scrapectl/config"
	"github.com/pevans/scrapectl/control"
	"github.com/pevans/scrapectl/fetch"
	"github.com/pevans/scrapectl/runlog"
	"github.com/pevans/scrapectl/runner"
)

// defaults are flag defaults: environment first, then the config file, then
// built-in values.
type defaults struct {
	dir       string
	settings  string
	delay     string
	history   string
	userAgent string
	logLevel  string
}

func resolveDefaults(cfg *config.FileConfig) defaults {
	return defaults{
		dir:       getEnv("SCRAPECTL_JOBS_DIR", firstNonEmpty(cfg.JobsDir, "scrape")),
		settings:  getEnv("SCRAPECTL_SETTINGS", cfg.Settings),
		delay:     getEnv("SCRAPECTL_DELAY", firstNonEmpty(cfg.Delay, fetch.DefaultDelay.String())),
		history:   getEnv("SCRAPECTL_HISTORY_DSN", firstNonEmpty(cfg.History, "runs.db")),
		userAgent: getEnv("SCRAPECTL_USER_AGENT", firstNonEmpty(cfg.UserAgent, fetch.DefaultUserAgent)),
		logLevel:  getEnv("LOG_LEVEL", cfg.LogLevel),
	}
}

func handleRun(ctx context.Context, cfg *config.FileConfig, args []string, stdout, stderr io.Writer) int {
	d := resolveDefaults(cfg)

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", d.dir, "Directory of routine files")
	settings := fs.String("settings", d.settings, "Database settings file")
	delay := fs.String("delay", d.delay, "Minimum delay between requests")
	history := fs.String("history", d.history, "Run history database (empty disables)")
	userAgent := fs.String("user-agent", d.userAgent, "User-Agent header")
	verbose := fs.Bool("verbose", false, "Show debug output")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if fs.NArg() > 2 {
		fmt.Fprintf(stderr, "Error: expected at most [files] [routines], got %d arguments\n", fs.NArg())
		return exitUsage
	}
	opts := runner.Options{Dir: *dir, SettingsFile: *settings}
	if fs.NArg() > 0 {
		opts.Files = runner.ParseNames(fs.Arg(0))
	}
	if fs.NArg() > 1 {
		opts.Routines = runner.ParseNames(fs.Arg(1))
	}

	interval, err := parseDelay(*delay)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	logger, err := newLogger(stderr, d.logLevel, *verbose)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	var historyStore *runlog.Store
	if *history != "" {
		historyStore, err = runlog.NewStore(*history)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open run history: %v\n", err)
			return exitFail
		}
		defer historyStore.Close()
	}

	limiter := fetch.SharedLimiter()
	limiter.SetInterval(interval)
	fetcher := fetch.New(fetch.Options{
		Limiter:   limiter,
		Logger:    logger,
		UserAgent: *userAgent,
	})
	r := runner.New(control.NewLoop(fetcher, nil, logger), historyStore, logger)

	result, err := r.Run(ctx, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: run failed: %v\n", err)
		return exitFail
	}

	// Display results
	fmt.Fprintln(stdout, "Run completed:")
	fmt.Fprintf(stdout, "  Routines succeeded: %d\n", result.RoutinesSucceeded)
	fmt.Fprintf(stdout, "  Routines failed: %d\n", result.RoutinesFailed)
	fmt.Fprintf(stdout, "  Pages: %d\n", result.Totals.Pages)
	fmt.Fprintf(stdout, "  Rows written: %d\n", result.Totals.Rows)
	fmt.Fprintf(stdout, "  Pages downloaded: %d\n", result.Totals.Downloads)

	if len(result.Errors) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Errors:")
		for _, routineErr := range result.Errors {
			fmt.Fprintf(stdout, "  - %v\n", routineErr)
		}
	}

	// Exit with error code if any routines failed
	if result.RoutinesFailed > 0 {
		return exitFail
	}
	return exitOK
}
