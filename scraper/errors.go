package scraper

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned for configuration values that are accepted by
// the schema but have no behavior yet (the "csv" database target).
var ErrNotImplemented = errors.New("not implemented")

// ConfigError reports a missing or malformed configuration key. It is always
// raised before any network activity for the routine.
type ConfigError struct {
	Path string // dotted path of the offending key, e.g. "news.parameters.url"
	Msg  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error at %s: %s", e.Path, e.Msg)
}

// configErrorf builds a ConfigError with a formatted message.
func configErrorf(path, format string, args ...any) *ConfigError {
	return &ConfigError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// ConnectivityError reports a storage connection failure. Reason holds the
// server-side reason when the driver exposes one.
type ConnectivityError struct {
	Driver string
	Reason string
	Err    error
}

func (e *ConnectivityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("couldn't connect to %s database: %s", e.Driver, e.Reason)
	}
	return fmt.Sprintf("couldn't connect to %s database: %v", e.Driver, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// FetchError reports a non-success response status. Fetches are never retried.
type FetchError struct {
	Method string
	URL    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: status code %d", e.Method, e.URL, e.Status)
}

// ExtractionError reports a selector that yielded nothing where a value was
// mandatory, or a value of the wrong type for slicing, date parsing or
// persistence.
type ExtractionError struct {
	Msg string
	Err error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction error: %s: %v", e.Msg, e.Err)
	}
	return "extraction error: " + e.Msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ExtractionErrorf builds an ExtractionError with a formatted message.
func ExtractionErrorf(format string, args ...any) *ExtractionError {
	return &ExtractionError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidURLError reports an empty or unresolvable URL fragment.
type InvalidURLError struct {
	Base      string
	Candidate string
	Msg       string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid url %q (base %q): %s", e.Candidate, e.Base, e.Msg)
}
