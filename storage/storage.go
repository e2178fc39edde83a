// Package storage persists scraped records. Backends register themselves by
// driver name from their package init; importing a backend package makes it
// available to Open.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pevans/scrapectl/scraper"
)

// DefaultDriver is used when the settings name no driver.
const DefaultDriver = "postgres"

// Store is one open connection to a destination database.
type Store interface {
	// RowCount returns the current number of rows in table.
	RowCount(ctx context.Context, table string) (int, error)

	// Insert executes one literal INSERT statement in its own transaction.
	Insert(ctx context.Context, statement string) error

	// Close releases the connection.
	Close() error
}

// Factory opens a Store for a registered driver.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under driver. It panics on an empty
// driver, a nil factory, or a driver registered twice.
func Register(driver string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if driver == "" {
		panic("storage: Register called with empty driver")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[driver]; exists {
		panic(fmt.Sprintf("storage: factory already registered for driver=%q", driver))
	}
	factories[driver] = f
}

// Drivers lists the registered drivers in sorted order.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open connects to the database described by cfg. Connection failures are
// reported as *scraper.ConnectivityError.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DefaultDriver
	}

	mu.RLock()
	f := factories[driver]
	mu.RUnlock()

	if f == nil {
		return nil, &scraper.ConfigError{Path: "settings.driver", Msg: fmt.Sprintf("unsupported driver %q (registered: %v)", driver, Drivers())}
	}
	cfg.Driver = driver
	return f(ctx, cfg)
}

// OpenTarget opens the store for a routine's database target using its
// resolved settings. The csv target is accepted by the schema but has no
// backend yet.
func OpenTarget(ctx context.Context, database string, settings map[string]any) (Store, error) {
	switch database {
	case scraper.DatabaseSQL:
		cfg, err := ParseConfig(settings)
		if err != nil {
			return nil, err
		}
		return Open(ctx, cfg)
	case scraper.DatabaseCSV:
		return nil, fmt.Errorf("csv database: %w", scraper.ErrNotImplemented)
	}
	return nil, &scraper.ConfigError{Path: "parameters.database", Msg: fmt.Sprintf("database %q not 'sql' or 'csv'", database)}
}
