package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pevans/scrapectl/config"

	// Every backend is built in; database settings choose one.
	_ "github.com/pevans/scrapectl/storage/mssql"
	_ "github.com/pevans/scrapectl/storage/postgres"
	_ "github.com/pevans/scrapectl/storage/sqlite"
)

// Exit codes.
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a subcommand and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	fileCfg, err := config.LoadConfigFile()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	if fileCfg == nil {
		fileCfg = &config.FileConfig{}
	}

	switch args[0] {
	case "run":
		return handleRun(ctx, fileCfg, args[1:], stdout, stderr)
	case "validate":
		return handleValidate(fileCfg, args[1:], stdout, stderr)
	case "runs":
		return handleRuns(fileCfg, args[1:], stdout, stderr)
	case "serve":
		return handleServe(ctx, fileCfg, args[1:], stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Error: unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return exitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "scrapectl - Config-driven web scraper")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  scrapectl <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run [flags] [files] [routines]   Run routines (names or comma lists)")
	fmt.Fprintln(w, "  validate [flags] [files]         Check routine files without fetching")
	fmt.Fprintln(w, "  runs [flags]                     Show the run history")
	fmt.Fprintln(w, "  serve [flags]                    Serve the run history over HTTP")
	fmt.Fprintln(w, "  help                             Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment Variables:")
	fmt.Fprintln(w, "  SCRAPECTL_JOBS_DIR     Directory of routine files (default: scrape)")
	fmt.Fprintln(w, "  SCRAPECTL_SETTINGS     Database settings file (default: <dir>/database_settings.json)")
	fmt.Fprintln(w, "  SCRAPECTL_DELAY        Minimum delay between requests (default: 2s)")
	fmt.Fprintln(w, "  SCRAPECTL_HISTORY_DSN  Run history database (default: runs.db)")
	fmt.Fprintln(w, "  SCRAPECTL_API_ADDR     Listen address for serve (default: localhost:8080)")
	fmt.Fprintln(w, "  LOG_LEVEL              Log level (default: info)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Defaults may also be set in ~/.scrapectl/config.yaml.")
}
