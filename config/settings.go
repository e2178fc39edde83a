// Package config loads scrapectl configuration: the optional per-user
// config file and the database settings file shared by routine files.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pevans/scrapectl/scraper"
)

// DefaultSettingsName is the settings file looked up in the jobs directory.
const DefaultSettingsName = "database_settings"

// DatabaseSettings holds the parsed database settings file. Top-level keys
// are either database targets ("sql", "csv") holding default settings, or
// routine names holding per-routine settings keyed by target.
type DatabaseSettings struct {
	entries map[string]any
}

// FindSettingsFile returns the database settings file in dir, trying the
// .json, .yaml and .yml extensions in that order. It returns "" when none
// exists.
func FindSettingsFile(dir string) string {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(dir, DefaultSettingsName+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// IsSettingsFile reports whether path is a database settings file rather
// than a routine file.
func IsSettingsFile(path string) bool {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))] == DefaultSettingsName
}

// LoadDatabaseSettings reads a settings file. An empty path or a missing file
// yields empty settings, not an error; routines then need inline settings.
func LoadDatabaseSettings(path string) (*DatabaseSettings, error) {
	if path == "" {
		return &DatabaseSettings{}, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &DatabaseSettings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if scraper.IsYAMLFile(path) {
		data, err = scraper.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse settings file: %w", err)
		}
	}

	s, err := ParseDatabaseSettings(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// ParseDatabaseSettings decodes a JSON settings document.
func ParseDatabaseSettings(data []byte) (*DatabaseSettings, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var entries map[string]any
	if err := dec.Decode(&entries); err != nil {
		return nil, &scraper.ConfigError{Path: "(settings)", Msg: err.Error()}
	}
	return &DatabaseSettings{entries: entries}, nil
}

// Resolve returns the settings for routine's database target. Inline
// settings (parameters.settings) win over the routine's own entry in the
// file, which wins over the file's default for the target. A string value
// that is exactly $VAR or ${VAR} is replaced from the environment; any other
// "$" is kept as written. Resolve returns nil when no settings apply.
func (s *DatabaseSettings) Resolve(routine, database string, inline map[string]any) (map[string]any, error) {
	if inline != nil {
		return expandEnv(inline), nil
	}
	if s == nil || database == "" {
		return nil, nil
	}

	if entry, ok := s.entries[routine]; ok {
		perRoutine, ok := entry.(map[string]any)
		if !ok {
			return nil, &scraper.ConfigError{Path: "(settings)." + routine, Msg: "routine settings must be an object"}
		}
		if v, ok := perRoutine[database]; ok {
			return settingsObject("(settings)."+routine+"."+database, v)
		}
	}

	if v, ok := s.entries[database]; ok {
		return settingsObject("(settings)."+database, v)
	}
	return nil, nil
}

func settingsObject(path string, v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &scraper.ConfigError{Path: path, Msg: "database settings must be an object"}
	}
	return expandEnv(m), nil
}

// envRefPattern matches a value that is a single environment reference.
var envRefPattern = regexp.MustCompile(`^\$(?:\{([A-Za-z_][A-Za-z0-9_]*)\}|([A-Za-z_][A-Za-z0-9_]*))$`)

// expandEnv returns a copy of m with whole-value environment references
// replaced, nested objects included.
func expandEnv(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = expandValue(t)
		case map[string]any:
			out[k] = expandEnv(t)
		default:
			out[k] = v
		}
	}
	return out
}

func expandValue(s string) string {
	m := envRefPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return os.Getenv(m[1] + m[2])
}
