// Package control runs routines: it fetches each base URL, optionally
// bounces to a first page, applies the routine's functions to every page and
// follows pagination until no next page is found.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pevans/scrapectl/download"
	"github.com/pevans/scrapectl/fetch"
	"github.com/pevans/scrapectl/scraper"
	"github.com/pevans/scrapectl/selector"
	"github.com/pevans/scrapectl/storage"
	"github.com/pevans/scrapectl/urlresolve"
	"github.com/sirupsen/logrus"
)

// Fetcher retrieves documents.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Page, error)
}

// StoreOpener opens the destination store of a routine.
type StoreOpener func(ctx context.Context, database string, settings map[string]any) (storage.Store, error)

// Stats summarizes one routine run.
type Stats struct {
	Pages      int // documents the functions were applied to
	Containers int // containers scraped over all pages
	Rows       int // rows inserted
	Downloads  int // pages saved to path_out
}

// Loop executes routines. The zero value is not usable; create one with
// NewLoop.
type Loop struct {
	fetcher   Fetcher
	openStore StoreOpener
	logger    logrus.FieldLogger
}

// NewLoop creates a loop. A nil opener selects storage.OpenTarget.
func NewLoop(fetcher Fetcher, openStore StoreOpener, logger logrus.FieldLogger) *Loop {
	if openStore == nil {
		openStore = storage.OpenTarget
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loop{fetcher: fetcher, openStore: openStore, logger: logger}
}

// Run executes r against every configured base URL in order. settings are
// the resolved database settings for r. The store, when the routine writes
// records, is opened once and closed when Run returns. The first error stops
// the routine.
func (l *Loop) Run(ctx context.Context, r *scraper.Routine, settings map[string]any) (*Stats, error) {
	log := l.logger.WithField("routine", r.Name)
	stats := &Stats{}

	var pages *download.PageStore
	if r.Parameters.PathOut != "" {
		var err error
		pages, err = download.NewPageStore(r.Parameters.PathOut)
		if err != nil {
			return stats, err
		}
	}

	var store storage.Store
	if usesFunction(r, scraper.FuncEntryToDB) {
		var err error
		store, err = l.openStore(ctx, r.Parameters.Database, settings)
		if err != nil {
			return stats, err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warn("Failed to close store")
			}
		}()
	}

	for _, base := range r.Parameters.URLs {
		rc := newRoutineContext(r, base, store, pages)
		if err := l.runURL(ctx, rc, stats, log.WithField("base_url", base)); err != nil {
			return stats, fmt.Errorf("%s: %w", base, err)
		}
	}
	return stats, nil
}

func usesFunction(r *scraper.Routine, kind scraper.FunctionKind) bool {
	for _, fn := range r.Functions {
		if fn.Kind == kind {
			return true
		}
	}
	return false
}

// runURL drives the state machine for one base URL until StateDone.
func (l *Loop) runURL(ctx context.Context, rc *RoutineContext, stats *Stats, log logrus.FieldLogger) error {
	for rc.State != StateDone {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch rc.State {
		case StateLanding:
			err = l.landing(ctx, rc)
		case StateBounce:
			err = l.bounce(ctx, rc, log)
		case StateApply:
			err = l.apply(ctx, rc, stats, log)
		case StatePaginate:
			err = l.paginate(ctx, rc, log)
		default:
			err = fmt.Errorf("unexpected state %s", rc.State)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", rc.State, err)
		}
	}
	return nil
}

func (l *Loop) landing(ctx context.Context, rc *RoutineContext) error {
	p := &rc.Routine.Parameters
	req := fetch.Request{Method: p.Request, URL: rc.BaseURL, Headers: p.Headers}
	if p.Request == scraper.RequestPost {
		req.Payload = rc.Payload
	}

	page, err := l.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	rc.setPage(page)

	if p.FirstPage != nil {
		rc.State = StateBounce
	} else {
		rc.State = StateApply
	}
	return nil
}

// ErrMissingLink is wrapped by the ExtractionError returned when a required
// first_page link is absent.
var ErrMissingLink = errors.New("required link not found")

func (l *Loop) bounce(ctx context.Context, rc *RoutineContext, log logrus.FieldLogger) error {
	rule := rc.Routine.Parameters.FirstPage
	rc.State = StateApply

	link, found, err := findLink(&rule.SelectorSpec, rc)
	if err != nil {
		return err
	}
	if !found {
		if rule.IsOptional(true) {
			log.Debug("No first_page link, staying on landing page")
			return nil
		}
		return &scraper.ExtractionError{Msg: "first_page", Err: ErrMissingLink}
	}

	log.WithField("url", link).Debug("Bouncing to first page")
	return l.get(ctx, rc, link)
}

// apply runs every function, in configured order, on the current page.
func (l *Loop) apply(ctx context.Context, rc *RoutineContext, stats *Stats, log logrus.FieldLogger) error {
	rc.Pages++
	stats.Pages++
	log.WithFields(logrus.Fields{"url": rc.URL, "page": rc.Pages}).Info("Processing page")

	for i := range rc.Routine.Functions {
		fn := &rc.Routine.Functions[i]
		if err := l.call(ctx, rc, fn, stats); err != nil {
			return fmt.Errorf("%s: %w", fn.Name, err)
		}
	}

	if rc.Routine.Parameters.HasPagination() {
		rc.State = StatePaginate
	} else {
		rc.State = StateDone
	}
	return nil
}

func (l *Loop) paginate(ctx context.Context, rc *RoutineContext, log logrus.FieldLogger) error {
	p := &rc.Routine.Parameters
	rc.State = StateDone

	if p.MaxPages > 0 && rc.Pages >= p.MaxPages {
		log.WithField("max_pages", p.MaxPages).Info("Reached page limit")
		return nil
	}

	if pp := p.PostPaging; pp != nil {
		current, err := scraper.PayloadInt(rc.Payload[pp.PayloadKey])
		if err != nil {
			return fmt.Errorf("payload %q: %w", pp.PayloadKey, err)
		}
		next := current + 1
		if next > pp.Max {
			log.WithField(pp.PayloadKey, current).Debug("Reached last page")
			return nil
		}
		rc.Payload[pp.PayloadKey] = next

		page, err := l.fetcher.Fetch(ctx, fetch.Request{
			Method:  scraper.RequestPost,
			URL:     rc.BaseURL,
			Payload: rc.Payload,
			Headers: p.Headers,
		})
		if err != nil {
			return err
		}
		rc.setPage(page)
		rc.State = StateApply
		return nil
	}

	for i := range p.NextPage {
		link, found, err := findLink(&p.NextPage[i].SelectorSpec, rc)
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		log.WithField("url", link).Debug("Following next page")
		if err := l.get(ctx, rc, link); err != nil {
			return err
		}
		rc.State = StateApply
		return nil
	}

	log.Debug("No next page")
	return nil
}

// findLink evaluates a page rule on the current document and resolves the
// first result against the current URL.
func findLink(spec *scraper.SelectorSpec, rc *RoutineContext) (string, bool, error) {
	results, err := selector.Select(spec, rc.Page.Doc.Selection)
	if err != nil {
		return "", false, err
	}
	if len(results) == 0 {
		return "", false, nil
	}

	candidate, ok := results[0].(string)
	if !ok {
		return "", false, scraper.ExtractionErrorf("link selector must yield a string, got %T; set 'attr'", results[0])
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false, nil
	}
	link, err := urlresolve.Resolve(rc.URL, candidate)
	if err != nil {
		return "", false, err
	}
	return link, true, nil
}

// get fetches link with GET and makes it the current page.
func (l *Loop) get(ctx context.Context, rc *RoutineContext, link string) error {
	page, err := l.fetcher.Fetch(ctx, fetch.Request{
		Method:  scraper.RequestGet,
		URL:     link,
		Headers: rc.Routine.Parameters.Headers,
	})
	if err != nil {
		return err
	}
	rc.setPage(page)
	return nil
}
