// Package sqlite registers the "sqlite" storage driver backed by
// github.com/mattn/go-sqlite3.
package sqlite

import (
	"context"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pevans/scrapectl/scraper"
	"github.com/pevans/scrapectl/storage"
)

// Driver is the settings value selecting this backend.
const Driver = "sqlite"

func init() {
	storage.Register(Driver, Open)
}

// Open connects to the sqlite file named by cfg.Database (or cfg.DSN).
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	dsn := cfg.SQLiteDSN()
	if dsn == "" {
		return nil, &scraper.ConfigError{Path: "settings.database", Msg: "sqlite needs a database file"}
	}
	return storage.OpenSQL(ctx, Driver, "sqlite3", dsn)
}
