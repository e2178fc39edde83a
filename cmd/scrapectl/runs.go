package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/pevans/scrapectl/config"
	"github.com/pevans/scrapectl/runlog"
)

func handleRuns(cfg *config.FileConfig, args []string, stdout, stderr io.Writer) int {
	d := resolveDefaults(cfg)

	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	history := fs.String("history", d.history, "Run history database")
	limit := fs.Int("limit", 20, "Maximum number of runs to show")
	routine := fs.String("routine", "", "Only show runs of this routine")
	status := fs.String("status", "", "Only show runs with this status (running, succeeded, failed)")
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

	store, err := runlog.NewStore(*history)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open run history: %v\n", err)
		return exitFail
	}
	defer store.Close()

	filter := runlog.RunFilter{Limit: *limit}
	if *routine != "" {
		filter.Routine = routine
	}
	if *status != "" {
		filter.Status = status
	}

	runs, err := store.ListRuns(filter)
	if errors.Is(err, runlog.ErrInvalidRunStatus) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to list runs: %v\n", err)
		return exitFail
	}

	if len(runs) == 0 {
		fmt.Fprintln(stdout, "No runs recorded.")
		return exitOK
	}

	// Print table header
	fmt.Fprintf(stdout, "%-36s %-24s %-10s %-19s %10s %6s %6s  %s\n", "ID", "ROUTINE", "STATUS", "STARTED", "DURATION", "PAGES", "ROWS", "ERROR")
	fmt.Fprintln(stdout, "---------------------------------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		errText := ""
		if run.Error != nil {
			errText = truncate(*run.Error, 60)
		}
		fmt.Fprintf(stdout, "%-36s %-24s %-10s %-19s %10s %6d %6d  %s\n",
			run.RunID.String(),
			truncate(run.Routine, 24),
			run.Status,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Duration().Round(time.Millisecond),
			run.Counts.Pages,
			run.Counts.Rows,
			errText,
		)
	}
	return exitOK
}
