package storage

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pevans/scrapectl/scraper"
)

// Config holds the connection settings of a sql target, as read from
// parameters.settings or the database settings file.
type Config struct {
	Driver   string // postgres (default), sqlite or mssql
	Host     string
	Port     int
	Database string // database name, or the file path for sqlite
	User     string
	Password string
	SSLMode  string
	DSN      string // used verbatim when set
}

var configKeys = map[string]bool{
	"driver": true, "host": true, "port": true, "database": true,
	"user": true, "password": true, "sslmode": true, "dsn": true,
}

// ParseConfig reads sql settings. Unknown keys are rejected so typos surface
// before any connection attempt.
func ParseConfig(settings map[string]any) (Config, error) {
	var cfg Config
	if len(settings) == 0 {
		return cfg, &scraper.ConfigError{Path: "settings", Msg: "no database settings found for sql"}
	}

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !configKeys[k] {
			return cfg, &scraper.ConfigError{Path: "settings." + k, Msg: "unknown database setting"}
		}
		v := settings[k]
		if k == "port" {
			port, err := parsePort(v)
			if err != nil {
				return cfg, &scraper.ConfigError{Path: "settings.port", Msg: err.Error()}
			}
			cfg.Port = port
			continue
		}

		s, ok := v.(string)
		if !ok {
			return cfg, &scraper.ConfigError{Path: "settings." + k, Msg: fmt.Sprintf("expected a string, got %v", v)}
		}
		switch k {
		case "driver":
			cfg.Driver = strings.ToLower(s)
		case "host":
			cfg.Host = s
		case "database":
			cfg.Database = s
		case "user":
			cfg.User = s
		case "password":
			cfg.Password = s
		case "sslmode":
			cfg.SSLMode = s
		case "dsn":
			cfg.DSN = s
		}
	}
	return cfg, nil
}

func parsePort(v any) (int, error) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = t
	case int:
		return t, nil
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return 0, fmt.Errorf("port %v is not a number", v)
	}
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port %q is not a valid port number", s)
	}
	return port, nil
}

func (c Config) hostPort(defaultPort int) string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (c Config) userinfo() *url.Userinfo {
	switch {
	case c.User == "":
		return nil
	case c.Password == "":
		return url.User(c.User)
	}
	return url.UserPassword(c.User, c.Password)
}

// PostgresDSN returns a postgres:// connection URL.
func (c Config) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   c.userinfo(),
		Host:   c.hostPort(5432),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// MSSQLDSN returns a sqlserver:// connection URL.
func (c Config) MSSQLDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "sqlserver",
		User:   c.userinfo(),
		Host:   c.hostPort(1433),
	}
	if c.Database != "" {
		u.RawQuery = url.Values{"database": {c.Database}}.Encode()
	}
	return u.String()
}

// SQLiteDSN returns the database file path.
func (c Config) SQLiteDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return c.Database
}
