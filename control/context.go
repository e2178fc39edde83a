package control

import (
	"maps"

	"github.com/pevans/scrapectl/download"
	"github.com/pevans/scrapectl/fetch"
	"github.com/pevans/scrapectl/records"
	"github.com/pevans/scrapectl/scraper"
	"github.com/pevans/scrapectl/storage"
)

// State is a step of the per-URL navigation state machine.
type State int

const (
	// StateLanding fetches the base URL with the routine's request method.
	StateLanding State = iota
	// StateBounce follows the first_page link of the landing page.
	StateBounce
	// StateApply runs the routine's functions on the current page.
	StateApply
	// StatePaginate looks for the next page and fetches it.
	StatePaginate
	// StateDone ends processing of the base URL.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateLanding:
		return "landing"
	case StateBounce:
		return "bounce"
	case StateApply:
		return "apply"
	case StatePaginate:
		return "paginate"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Container is one node matched by scrape_values and the values extracted
// within it.
type Container struct {
	Index  int
	Values records.Record
}

// RoutineContext is the mutable state of one routine while it processes one
// base URL. It is created per base URL; the store and page store are shared
// by all base URLs of the routine.
type RoutineContext struct {
	Routine *scraper.Routine
	BaseURL string

	State State
	URL   string // URL of the current page, used to resolve relative links
	Page  *fetch.Page
	Pages int // pages processed for this base URL

	// Payload is this base URL's copy of the configured POST payload. The
	// pagination counter is incremented here, never in the routine.
	Payload map[string]any

	Containers []Container

	Store     storage.Store
	PageStore *download.PageStore
}

func newRoutineContext(r *scraper.Routine, baseURL string, store storage.Store, pages *download.PageStore) *RoutineContext {
	var payload map[string]any
	if r.Parameters.Payload != nil {
		payload = maps.Clone(r.Parameters.Payload)
	}
	return &RoutineContext{
		Routine:   r,
		BaseURL:   baseURL,
		State:     StateLanding,
		Payload:   payload,
		Store:     store,
		PageStore: pages,
	}
}

// setPage makes page the current document.
func (rc *RoutineContext) setPage(page *fetch.Page) {
	rc.Page = page
	rc.URL = page.URL
}

// Records returns the values of the current containers in order. The maps
// are shared with the containers, so serial write-back is visible in both.
func (rc *RoutineContext) Records() []records.Record {
	out := make([]records.Record, len(rc.Containers))
	for i, c := range rc.Containers {
		out[i] = c.Values
	}
	return out
}
