package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pevans/scrapectl/scraper"
	"github.com/pevans/scrapectl/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: open a sqlite store with an items table
func setupTestStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(ctx, storage.Config{
		Driver:   Driver,
		Database: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sqlStore, ok := store.(*storage.SQLStore)
	require.True(t, ok)
	_, err = sqlStore.DB().ExecContext(ctx, `CREATE TABLE items (id INTEGER, title TEXT)`)
	require.NoError(t, err)
	return store
}

func TestInsertAndRowCount(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	n, err := store.RowCount(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, store.Insert(ctx, "INSERT INTO items (id, title) VALUES (1, 'Hello');"))
	require.NoError(t, store.Insert(ctx, "INSERT INTO items (id, title) VALUES (2, NULL);"))

	n, err = store.RowCount(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInsert_FailureRollsBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Insert(ctx, "INSERT INTO items (missing) VALUES (1);")
	assert.Error(t, err)

	n, err := store.RowCount(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRowCount_UnknownTable(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.RowCount(context.Background(), "nope")
	assert.Error(t, err)
}

func TestOpen_Unreachable(t *testing.T) {
	_, err := Open(context.Background(), storage.Config{
		Database: filepath.Join(t.TempDir(), "missing", "dir", "test.db"),
	})

	var connErr *scraper.ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, Driver, connErr.Driver)
	assert.Contains(t, err.Error(), "couldn't connect to sqlite database")
}

func TestOpen_NoDatabase(t *testing.T) {
	_, err := Open(context.Background(), storage.Config{})

	var configErr *scraper.ConfigError
	assert.ErrorAs(t, err, &configErr)
}
