// Package runner executes routine files: it selects files and routines,
// resolves each routine's database settings, drives the navigation loop and
// keeps going when a single routine fails.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pevans/scrapectl/config"
	"github.com/pevans/scrapectl/control"
	"github.com/pevans/scrapectl/runlog"
	"github.com/pevans/scrapectl/scraper"
	"github.com/sirupsen/logrus"
)

// ErrNoRoutineFiles is returned when the selection matches no routine file.
var ErrNoRoutineFiles = errors.New("no routine files found")

// Options selects what to run.
type Options struct {
	Dir          string   // directory holding routine files
	SettingsFile string   // database settings; "" looks in Dir
	Files        []string // file names, with or without extension; empty means all
	Routines     []string // routine names; empty means all
}

// RoutineError records the failure of one routine, or of a whole file when
// Routine is empty.
type RoutineError struct {
	File    string
	Routine string
	Err     error
}

func (e RoutineError) Error() string {
	if e.Routine == "" {
		return fmt.Sprintf("%s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.File, e.Routine, e.Err)
}

// Result summarizes a run.
type Result struct {
	RoutinesSucceeded int
	RoutinesFailed    int
	Totals            control.Stats
	Errors            []RoutineError
}

// Runner runs routines through a Loop. History may be nil.
type Runner struct {
	loop    *control.Loop
	history *runlog.Store
	logger  logrus.FieldLogger
}

// New creates a runner.
func New(loop *control.Loop, history *runlog.Store, logger logrus.FieldLogger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{loop: loop, history: history, logger: logger}
}

// ParseNames splits a command-line selection: a single name or a comma
// separated list. Blank entries are dropped.
func ParseNames(arg string) []string {
	var names []string
	for _, n := range strings.Split(arg, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// ListRoutineFiles returns the routine files in dir in name order. The
// database settings file is not a routine file.
func ListRoutineFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read routine directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		if config.IsSettingsFile(name) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// SelectFiles lists the routine files in dir matching names. A name matches
// a file's base name with or without its extension.
func SelectFiles(dir string, names []string) ([]string, error) {
	files, err := ListRoutineFiles(dir)
	if err != nil {
		return nil, err
	}

	if len(names) > 0 {
		var selected []string
		for _, f := range files {
			if matchesFile(f, names) {
				selected = append(selected, f)
			}
		}
		files = selected
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoRoutineFiles)
	}
	return files, nil
}

func matchesFile(path string, names []string) bool {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	for _, n := range names {
		if n == base || n == stem {
			return true
		}
	}
	return false
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Run executes the selected routines in file order, then routine order
// within each file. A failing routine is logged and recorded and the run
// continues. Run itself fails only for setup errors or cancellation.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	files, err := SelectFiles(opts.Dir, opts.Files)
	if err != nil {
		return nil, err
	}

	settingsPath := opts.SettingsFile
	if settingsPath == "" {
		settingsPath = config.FindSettingsFile(opts.Dir)
	}
	settings, err := config.LoadDatabaseSettings(settingsPath)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		name := filepath.Base(file)
		routines, err := scraper.LoadFile(file)
		if err != nil {
			r.logger.WithField("file", name).WithError(err).Error("Failed to load routine file")
			result.RoutinesFailed++
			result.Errors = append(result.Errors, RoutineError{File: name, Err: err})
			continue
		}

		for _, routine := range routines {
			if len(opts.Routines) > 0 && !contains(opts.Routines, routine.Name) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return result, err
			}

			if err := r.runRoutine(ctx, name, routine, settings, result); err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.RoutinesFailed++
				result.Errors = append(result.Errors, RoutineError{File: name, Routine: routine.Name, Err: err})
				continue
			}
			result.RoutinesSucceeded++
		}
	}

	return result, nil
}

// runRoutine runs one routine and records it in the history.
func (r *Runner) runRoutine(ctx context.Context, file string, routine *scraper.Routine, settings *config.DatabaseSettings, result *Result) error {
	log := r.logger.WithFields(logrus.Fields{"file": file, "routine": routine.Name})
	startTime := time.Now()

	var run *runlog.Run
	if r.history != nil {
		var err error
		run, err = r.history.StartRun(file, routine.Name)
		if err != nil {
			log.WithError(err).Warn("Failed to record run start")
		} else {
			log = log.WithField("run_id", run.RunID.String())
		}
	}

	log.Info("Running routine")

	stats, err := r.execute(ctx, routine, settings)
	if stats != nil {
		addStats(&result.Totals, stats)
	}

	if run != nil {
		var counts runlog.Counts
		if stats != nil {
			counts = runlog.Counts{
				Pages:      stats.Pages,
				Containers: stats.Containers,
				Rows:       stats.Rows,
				Downloads:  stats.Downloads,
			}
		}
		if ferr := r.history.FinishRun(run.RunID, counts, err); ferr != nil {
			log.WithError(ferr).Warn("Failed to record run result")
		}
	}

	duration := time.Since(startTime)
	if err != nil {
		log.WithError(err).WithField("duration", duration).Error("Routine failed")
		return err
	}

	log.WithFields(logrus.Fields{
		"pages":      stats.Pages,
		"containers": stats.Containers,
		"rows":       stats.Rows,
		"downloads":  stats.Downloads,
		"duration":   duration,
	}).Info("Routine finished")
	return nil
}

func (r *Runner) execute(ctx context.Context, routine *scraper.Routine, settings *config.DatabaseSettings) (*control.Stats, error) {
	dbSettings, err := settings.Resolve(routine.Name, routine.Parameters.Database, routine.Parameters.Settings)
	if err != nil {
		return nil, err
	}
	return r.loop.Run(ctx, routine, dbSettings)
}

func addStats(total *control.Stats, s *control.Stats) {
	total.Pages += s.Pages
	total.Containers += s.Containers
	total.Rows += s.Rows
	total.Downloads += s.Downloads
}
