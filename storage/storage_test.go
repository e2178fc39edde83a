package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pevans/scrapectl/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	rows []string
}

func (m *memStore) RowCount(context.Context, string) (int, error) { return len(m.rows), nil }

func (m *memStore) Insert(_ context.Context, statement string) error {
	m.rows = append(m.rows, statement)
	return nil
}

func (m *memStore) Close() error { return nil }

func init() {
	Register("memory-test", func(context.Context, Config) (Store, error) {
		return &memStore{}, nil
	})
}

func TestOpen_RegisteredDriver(t *testing.T) {
	store, err := Open(context.Background(), Config{Driver: "memory-test"})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Insert(context.Background(), "INSERT INTO t (a) VALUES (1);"))
	n, err := store.RowCount(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})

	var configErr *scraper.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, err.Error(), "oracle")
	assert.Contains(t, err.Error(), "memory-test")
}

func TestRegister_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register("memory-test", func(context.Context, Config) (Store, error) { return nil, nil })
	})
	assert.Panics(t, func() { Register("", nil) })
}

func TestOpenTarget(t *testing.T) {
	store, err := OpenTarget(context.Background(), scraper.DatabaseSQL, map[string]any{"driver": "memory-test"})
	require.NoError(t, err)
	assert.NotNil(t, store)

	_, err = OpenTarget(context.Background(), scraper.DatabaseCSV, nil)
	assert.ErrorIs(t, err, scraper.ErrNotImplemented)

	_, err = OpenTarget(context.Background(), scraper.DatabaseSQL, nil)
	var configErr *scraper.ConfigError
	assert.ErrorAs(t, err, &configErr)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		"driver":   "Postgres",
		"host":     "db.internal",
		"port":     json.Number("6543"),
		"database": "news",
		"user":     "scraper",
		"password": "p@ss word",
		"sslmode":  "disable",
	})
	require.NoError(t, err)
	assert.Equal(t, Config{
		Driver:   "postgres",
		Host:     "db.internal",
		Port:     6543,
		Database: "news",
		User:     "scraper",
		Password: "p@ss word",
		SSLMode:  "disable",
	}, cfg)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		path     string
	}{
		{"empty", map[string]any{}, "settings"},
		{"unknown key", map[string]any{"hostname": "x"}, "settings.hostname"},
		{"bad port", map[string]any{"port": "http"}, "settings.port"},
		{"port out of range", map[string]any{"port": json.Number("70000")}, "settings.port"},
		{"non-string value", map[string]any{"user": true}, "settings.user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.settings)
			var configErr *scraper.ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.Equal(t, tt.path, configErr.Path)
		})
	}
}

func TestConfig_DSNs(t *testing.T) {
	cfg := Config{Host: "db", Database: "news", User: "u", Password: "p w", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p%20w@db:5432/news?sslmode=require", cfg.PostgresDSN())
	assert.Equal(t, "sqlserver://u:p%20w@db:1433?database=news", cfg.MSSQLDSN())
	assert.Equal(t, "news", cfg.SQLiteDSN())

	assert.Equal(t, "postgres://localhost:5432/", Config{}.PostgresDSN())

	raw := Config{DSN: "host=x dbname=y", Database: "ignored"}
	assert.Equal(t, "host=x dbname=y", raw.PostgresDSN())
	assert.Equal(t, "host=x dbname=y", raw.MSSQLDSN())
	assert.Equal(t, "host=x dbname=y", raw.SQLiteDSN())
}
