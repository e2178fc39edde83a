// Package urlresolve resolves URL fragments found in scraped pages against
// the URL of the page they were found on.
package urlresolve

import (
	"errors"
	"strings"

	"github.com/pevans/scrapectl/scraper"
)

// Resolve returns the URL candidate points to when found on base.
//
//   - "?query" replaces the query string of base.
//   - "/path" or "\path" is appended to base cut after the first path segment
//     that follows its last dot, which for "https://www.example.com/a/b" is
//     "https://www.example.com".
//   - anything else is returned unchanged.
//
// No scheme validation or ".." collapsing is performed.
func Resolve(base, candidate string) (string, error) {
	if candidate == "" {
		return "", &scraper.InvalidURLError{Base: base, Candidate: candidate, Msg: "empty url"}
	}

	switch candidate[0] {
	case '?':
		if i := strings.IndexByte(base, '?'); i >= 0 {
			base = base[:i]
		}
		return base + candidate, nil

	case '/', '\\':
		root, err := Root(base)
		if err != nil {
			return "", &scraper.InvalidURLError{Base: base, Candidate: candidate, Msg: err.Error()}
		}
		return root + candidate, nil
	}

	return candidate, nil
}

// ErrNoDot is returned by Root for bases without any dot.
var ErrNoDot = errors.New("base url has no dot-delimited host")

// Root cuts base after the first "/" or "\" that follows its last dot.
func Root(base string) (string, error) {
	dot := strings.LastIndexByte(base, '.')
	if dot < 0 {
		return "", ErrNoDot
	}
	tail := base[dot+1:]
	if i := strings.IndexAny(tail, `/\`); i >= 0 {
		tail = tail[:i]
	}
	return base[:dot+1] + tail, nil
}
