// Package download stores fetched pages on disk as <name>.html files under a
// routine's path_out directory.
package download

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PageStore represents a directory of saved pages
type PageStore struct {
	dir string
}

// NewPageStore creates a page store rooted at dir, creating the directory if
// it doesn't exist.
func NewPageStore(dir string) (*PageStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("page store directory is empty")
	}

	// 0750: owner and group may browse saved pages
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create page directory: %w", err)
	}

	return &PageStore{
		dir: dir,
	}, nil
}

// Path returns the file a page named name is saved to.
func (ps *PageStore) Path(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("page name is empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("page name %q must not contain path separators", name)
	}
	return filepath.Join(ps.dir, name+".html"), nil
}

// Save writes body as <name>.html, replacing any previous copy.
func (ps *PageStore) Save(name string, body []byte) (string, error) {
	filename, err := ps.Path(name)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(filename, body, 0o640); err != nil {
		return "", fmt.Errorf("failed to write page: %w", err)
	}

	return filename, nil
}

// FileName renders a configured or scraped file_name value as a page name.
// Serials arrive as ints and are written in decimal.
func FileName(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
