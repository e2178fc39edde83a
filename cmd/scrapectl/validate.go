package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/pevans/scrapectl/config"
	"github.com/pevans/scrapectl/runner"
	"github.com/pevans/scrapectl/scraper"
)

// handleValidate loads every selected routine file and the settings file
// without touching the network.
func handleValidate(cfg *config.FileConfig, args []string, stdout, stderr io.Writer) int {
	d := resolveDefaults(cfg)

	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", d.dir, "Directory of routine files")
	settings := fs.String("settings", d.settings, "Database settings file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 1 {
		fmt.Fprintf(stderr, "Error: expected at most [files], got %d arguments\n", fs.NArg())
		return exitUsage
	}

	files, err := runner.SelectFiles(*dir, runner.ParseNames(fs.Arg(0)))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}

	invalid := 0

	settingsPath := *settings
	if settingsPath == "" {
		settingsPath = config.FindSettingsFile(*dir)
	}
	if settingsPath != "" {
		if _, err := config.LoadDatabaseSettings(settingsPath); err != nil {
			fmt.Fprintf(stdout, "✗ %s: %v\n", filepath.Base(settingsPath), err)
			invalid++
		}
	}

	for _, file := range files {
		routines, err := scraper.LoadFile(file)
		if err != nil {
			var configErr *scraper.ConfigError
			if errors.As(err, &configErr) {
				fmt.Fprintf(stdout, "✗ %s: %s: %s\n", filepath.Base(file), configErr.Path, configErr.Msg)
			} else {
				fmt.Fprintf(stdout, "✗ %s: %v\n", filepath.Base(file), err)
			}
			invalid++
			continue
		}
		fmt.Fprintf(stdout, "✓ %s: %d routines\n", filepath.Base(file), len(routines))
	}

	if invalid > 0 {
		return exitFail
	}
	return exitOK
}
