// Package mssql registers the "mssql" storage driver backed by
// github.com/microsoft/go-mssqldb.
package mssql

import (
	"context"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/pevans/scrapectl/storage"
)

// Driver is the settings value selecting this backend.
const Driver = "mssql"

func init() {
	storage.Register(Driver, Open)
}

// Open connects to SQL Server and verifies the connection with a ping.
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	return storage.OpenSQL(ctx, Driver, "sqlserver", cfg.MSSQLDSN())
}
