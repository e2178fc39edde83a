package mssql

import (
	"context"
	"testing"

	"github.com/pevans/scrapectl/scraper"
	"github.com/pevans/scrapectl/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistered(t *testing.T) {
	assert.Contains(t, storage.Drivers(), Driver)
}

func TestOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := storage.Open(ctx, storage.Config{Driver: Driver, Host: "127.0.0.1", Database: "news"})

	var connErr *scraper.ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, Driver, connErr.Driver)
	assert.ErrorIs(t, err, context.Canceled)
}
