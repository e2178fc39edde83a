package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/scrapectl/download"
	"github.com/pevans/scrapectl/fetch"
	"github.com/pevans/scrapectl/records"
	"github.com/pevans/scrapectl/scraper"
	"github.com/pevans/scrapectl/selector"
	"github.com/pevans/scrapectl/urlresolve"
	"github.com/sirupsen/logrus"
)

// call dispatches one configured function.
func (l *Loop) call(ctx context.Context, rc *RoutineContext, fn *scraper.Function, stats *Stats) error {
	switch fn.Kind {
	case scraper.FuncScrapeValues:
		n, err := ScrapeValues(fn.ScrapeValues, rc)
		stats.Containers += n
		return err

	case scraper.FuncEntryToDB:
		return l.entryToDB(ctx, rc, fn.Entry, stats)

	case scraper.FuncDownloadPage:
		return l.downloadPage(ctx, rc, fn.Download, stats)
	}
	return fmt.Errorf("unsupported function kind %s", fn.Kind)
}

// ScrapeValues selects the containers on the current page and extracts the
// configured values within each. The result replaces rc.Containers. A value
// with exactly one result is stored as that result; otherwise the full list
// (possibly empty) is stored.
func ScrapeValues(spec *scraper.ScrapeValuesSpec, rc *RoutineContext) (int, error) {
	found, err := selector.Select(&spec.Containers, rc.Page.Doc.Selection)
	if err != nil {
		return 0, err
	}
	if len(found) == 0 {
		return 0, scraper.ExtractionErrorf("no containers")
	}

	containers := make([]Container, 0, len(found))
	for i, c := range found {
		node, ok := c.(*goquery.Selection)
		if !ok {
			return 0, scraper.ExtractionErrorf("containers must select nodes, got %T; remove 'attr'", c)
		}

		rec := records.Record{}
		for _, v := range spec.Values {
			if v.Spec.Serial {
				rec[v.Name] = i
				continue
			}
			results, err := selector.Select(v.Spec.Selector, node)
			if err != nil {
				return 0, fmt.Errorf("value %q: %w", v.Name, err)
			}
			if len(results) == 1 {
				rec[v.Name] = results[0]
			} else {
				rec[v.Name] = results
			}
		}
		containers = append(containers, Container{Index: i, Values: rec})
	}

	rc.Containers = containers
	return len(containers), nil
}

func (l *Loop) entryToDB(ctx context.Context, rc *RoutineContext, spec *scraper.EntrySpec, stats *Stats) error {
	if rc.Store == nil {
		return fmt.Errorf("no database open for entry_to_db")
	}

	var afterInsert func(records.Record) error
	if dl := rc.Routine.Parameters.DownloadEntry; dl != nil {
		afterInsert = func(rec records.Record) error {
			if err := l.download(ctx, rc, dl, rec); err != nil {
				return fmt.Errorf("download_entry: %w", err)
			}
			stats.Downloads++
			return nil
		}
	}

	n, err := records.Persist(ctx, rc.Store, spec, rc.URL, rc.Records(), afterInsert)
	stats.Rows += n
	return err
}

// downloadPage saves one page per container when the file name references
// container values, otherwise one page.
func (l *Loop) downloadPage(ctx context.Context, rc *RoutineContext, spec *scraper.DownloadSpec, stats *Stats) error {
	if !spec.HasReferences() {
		if err := l.download(ctx, rc, spec, nil); err != nil {
			return err
		}
		stats.Downloads++
		return nil
	}

	for _, c := range rc.Containers {
		if err := l.download(ctx, rc, spec, c.Values); err != nil {
			return fmt.Errorf("container %d: %w", c.Index, err)
		}
		stats.Downloads++
	}
	return nil
}

// download fetches the page spec points to and saves it under path_out.
func (l *Loop) download(ctx context.Context, rc *RoutineContext, spec *scraper.DownloadSpec, rec records.Record) error {
	if rc.PageStore == nil {
		return &scraper.ConfigError{Path: rc.Routine.Name + ".parameters.path_out", Msg: "path_out is required to download pages"}
	}

	rawURL, err := sourceValue(spec.URL, rec)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	target, ok := rawURL.(string)
	if !ok {
		return scraper.ExtractionErrorf("download url must be a string, got %T", rawURL)
	}
	link, err := urlresolve.Resolve(rc.URL, target)
	if err != nil {
		return err
	}

	rawName, err := sourceValue(spec.FileName, rec)
	if err != nil {
		return fmt.Errorf("file_name: %w", err)
	}
	name := download.FileName(rawName)

	page, err := l.fetcher.Fetch(ctx, fetch.Request{
		Method:  scraper.RequestGet,
		URL:     link,
		Headers: rc.Routine.Parameters.Headers,
	})
	if err != nil {
		return err
	}

	path, err := rc.PageStore.Save(name, page.Body)
	if err != nil {
		return err
	}
	l.logger.WithFields(logrus.Fields{"routine": rc.Routine.Name, "url": link, "path": path}).Debug("Saved page")
	return nil
}

// sourceValue resolves a download source against a container's values.
func sourceValue(src scraper.FieldSource, rec records.Record) (any, error) {
	switch src.Kind {
	case scraper.SourceLiteral:
		if n, ok := src.Literal.(json.Number); ok {
			return n.String(), nil
		}
		return src.Literal, nil
	case scraper.SourceReference:
		v, ok := rec[src.Ref]
		if !ok {
			return nil, scraper.ExtractionErrorf("reference %q was not scraped", "."+src.Ref)
		}
		if list, ok := v.([]any); ok {
			if len(list) != 1 {
				return nil, scraper.ExtractionErrorf("reference %q has %d values, expected one", "."+src.Ref, len(list))
			}
			v = list[0]
		}
		return v, nil
	}
	return nil, scraper.ExtractionErrorf("no value")
}
