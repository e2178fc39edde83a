package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pevans/scrapectl/fetch"
	"github.com/pevans/scrapectl/scraper"
	"github.com/pevans/scrapectl/storage"
	_ "github.com/pevans/scrapectl/storage/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listPage1 = `<html><body>
<ul>
  <li class="item"><a href="/item/1">One</a><span>01/02/2024</span></li>
  <li class="item"><a href="/item/2">Two</a><span>02/02/2024</span></li>
</ul>
<a class="next" href="?page=2">next</a>
</body></html>`

const listPage2 = `<html><body>
<ul>
  <li class="item"><a href="/item/3">Three</a><span>03/02/2024</span></li>
</ul>
</body></html>`

// testSite serves a two-page listing plus item pages and counts requests.
type testSite struct {
	*httptest.Server
	mu       sync.Mutex
	requests []string
}

func newTestSite(t *testing.T) *testSite {
	site := &testSite{}
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		site.record(r)
		if r.URL.Query().Get("page") == "2" {
			io.WriteString(w, listPage2)
			return
		}
		io.WriteString(w, listPage1)
	})
	mux.HandleFunc("/item/", func(w http.ResponseWriter, r *http.Request) {
		site.record(r)
		fmt.Fprintf(w, "<html><body><h1>%s</h1></body></html>", r.URL.Path)
	})
	site.Server = httptest.NewServer(mux)
	t.Cleanup(site.Close)
	return site
}

func (s *testSite) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+r.URL.RequestURI())
}

func (s *testSite) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Test helper: loop with an unthrottled fetcher and a silent logger
func newTestLoop() *Loop {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	f := fetch.New(fetch.Options{Limiter: fetch.NewLimiter(0), Logger: logger})
	return NewLoop(f, nil, logger)
}

// Test helper: decode a single routine from JSON text
func parseRoutine(t *testing.T, format string, args ...any) *scraper.Routine {
	t.Helper()
	routines, err := scraper.ParseRoutines([]byte(fmt.Sprintf(format, args...)))
	require.NoError(t, err)
	require.Len(t, routines, 1)
	return routines[0]
}

// Test helper: sqlite database with an items table
func setupTestDatabase(t *testing.T) map[string]any {
	t.Helper()
	settings := map[string]any{
		"driver":   "sqlite",
		"database": filepath.Join(t.TempDir(), "items.db"),
	}
	store, err := storage.OpenTarget(context.Background(), scraper.DatabaseSQL, settings)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.(*storage.SQLStore).DB().Exec(`CREATE TABLE items (id INTEGER, title TEXT, href TEXT, published TEXT, source TEXT)`)
	require.NoError(t, err)
	return settings
}

type itemRow struct {
	ID        int
	Title     string
	Href      string
	Published string
	Source    string
}

func readItems(t *testing.T, settings map[string]any) []itemRow {
	t.Helper()
	store, err := storage.OpenTarget(context.Background(), scraper.DatabaseSQL, settings)
	require.NoError(t, err)
	defer store.Close()

	rows, err := store.(*storage.SQLStore).DB().Query(`SELECT id, title, href, published, source FROM items ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []itemRow
	for rows.Next() {
		var r itemRow
		require.NoError(t, rows.Scan(&r.ID, &r.Title, &r.Href, &r.Published, &r.Source))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestRun_PaginatesAndPersists(t *testing.T) {
	site := newTestSite(t)
	settings := setupTestDatabase(t)
	pathOut := filepath.Join(t.TempDir(), "pages")

	r := parseRoutine(t, `{"items": {
		"parameters": {
			"url": %q,
			"database": "sql",
			"path_out": %q,
			"next_page": {"tag": "a", "type": "class", "sel": "next", "attr": "href"},
			"download_entry": {"url": ".href", "file_name": ".n"}
		},
		"functions": {
			"scrape_values": {
				"containers": {"tag": "li", "type": "class", "sel": "item"},
				"values": {
					"n": "serial",
					"title": {"tag": "a", "attr": "text"},
					"href": {"tag": "a", "attr": "href"},
					"published": {"tag": "span", "attr": "text", "date_type": "%%d/%%m/%%Y"}
				}
			},
			"entry_to_db": {
				"table": "items",
				"fields": {"id": ".n", "title": ".title", "href": ".href", "published": ".published", "source": "test"},
				"serial": "id"
			}
		}
	}}`, site.URL+"/list", pathOut)

	stats, err := newTestLoop().Run(context.Background(), r, settings)
	require.NoError(t, err)
	assert.Equal(t, &Stats{Pages: 2, Containers: 3, Rows: 3, Downloads: 3}, stats)

	assert.Equal(t, []itemRow{
		{1, "One", site.URL + "/item/1", "2024-02-01", "test"},
		{2, "Two", site.URL + "/item/2", "2024-02-02", "test"},
		{3, "Three", site.URL + "/item/3", "2024-02-03", "test"},
	}, readItems(t, settings))

	for _, name := range []string{"1.html", "2.html", "3.html"} {
		_, err := os.Stat(filepath.Join(pathOut, name))
		assert.NoError(t, err, name)
	}
	saved, err := os.ReadFile(filepath.Join(pathOut, "3.html"))
	require.NoError(t, err)
	assert.Contains(t, string(saved), "/item/3")

	assert.Equal(t, []string{
		"GET /list",
		"GET /item/1",
		"GET /item/2",
		"GET /list?page=2",
		"GET /item/3",
	}, site.seen())
}

func TestRun_MultipleBaseURLs(t *testing.T) {
	site := newTestSite(t)

	r := parseRoutine(t, `{"r": {
		"parameters": {"url": [%q, %q]},
		"functions": {"scrape_values": {"containers": {"tag": "li"}, "values": {"t": {"tag": "a", "attr": "text"}}}}
	}}`, site.URL+"/list", site.URL+"/list?page=2")

	stats, err := newTestLoop().Run(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 3, stats.Containers)
}

func TestRun_FirstPageBounce(t *testing.T) {
	site := newTestSite(t)

	r := parseRoutine(t, `{"r": {
		"parameters": {
			"url": %q,
			"first_page": {"tag": "a", "type": "class", "sel": "next", "attr": "href", "optional": false}
		},
		"functions": {"scrape_values": {"containers": {"tag": "li"}, "values": {"t": {"tag": "a", "attr": "text"}}}}
	}}`, site.URL+"/list")

	stats, err := newTestLoop().Run(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Containers, "functions ran on the bounced page only")
	assert.Equal(t, []string{"GET /list", "GET /list?page=2"}, site.seen())
}

func TestRun_FirstPageRequiredMissing(t *testing.T) {
	site := newTestSite(t)

	r := parseRoutine(t, `{"r": {
		"parameters": {
			"url": %q,
			"first_page": {"tag": "a", "type": "class", "sel": "missing", "attr": "href", "optional": false}
		},
		"functions": {"scrape_values": {"containers": {"tag": "li"}, "values": {"t": {"tag": "a", "attr": "text"}}}}
	}}`, site.URL+"/list")

	_, err := newTestLoop().Run(context.Background(), r, nil)

	var extractionErr *scraper.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.ErrorIs(t, err, ErrMissingLink)
}

func TestRun_FirstPageOptionalMissing(t *testing.T) {
	site := newTestSite(t)

	r := parseRoutine(t, `{"r": {
		"parameters": {
			"url": %q,
			"first_page": {"tag": "a", "type": "class", "sel": "missing", "attr": "href"}
		},
		"functions": {"scrape_values": {"containers": {"tag": "li"}, "values": {"t": {"tag": "a", "attr": "text"}}}}
	}}`, site.URL+"/list")

	stats, err := newTestLoop().Run(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Containers, "functions ran on the landing page")
}

func TestRun_NextPageAlternatives(t *testing.T) {
	site := newTestSite(t)

	r := parseRoutine(t, `{"r": {
		"parameters": {
			"url": %q,
			"next_page": [
				{"tag": "a", "type": "class", "sel": "more", "attr": "href"},
				{"tag": "a", "type": "class", "sel": "next", "attr": "href"}
			]
		},
		"functions": {"scrape_values": {"containers": {"tag": "li"}, "values": {"t": {"tag": "a", "attr": "text"}}}}
	}}`, site.URL+"/list")

	stats, err := newTestLoop().Run(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, []string{"GET /list", "GET /list?page=2"}, site.seen())
}

func TestRun_MaxPagesStopsCycle(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, `<p>x</p><a href="?again=1">loop</a>`)
	}))
	defer server.Close()

	r := parseRoutine(t, `{"r": {
		"parameters": {"url": %q, "max_pages": 3, "next_page": {"tag": "a", "attr": "href"}},
		"functions": {"scrape_values": {"containers": {"tag": "p"}, "values": {"t": {"attr": "text"}}}}
	}}`, server.URL+"/cycle")

	stats, err := newTestLoop().Run(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRun_PostPaging(t *testing.T) {
	var (
		mu    sync.Mutex
		pages []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		pages = append(pages, r.Method+" page="+r.PostForm.Get("page")+" q="+r.PostForm.Get("q"))
		mu.Unlock()
		fmt.Fprintf(w, "<ul><li>row %s</li></ul>", r.PostForm.Get("page"))
	}))
	defer server.Close()

	r := parseRoutine(t, `{"r": {
		"parameters": {
			"url": %q,
			"request": "POST",
			"payload": {"page": 1, "q": "news"},
			"next_page": {"payload": "page", "max": 3}
		},
		"functions": {"scrape_values": {"containers": {"tag": "li"}, "values": {"t": {"attr": "text"}}}}
	}}`, server.URL+"/search")

	stats, err := newTestLoop().Run(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, []string{"POST page=1 q=news", "POST page=2 q=news", "POST page=3 q=news"}, pages)
	assert.Equal(t, json.Number("1"), r.Parameters.Payload["page"], "configured payload is not mutated")
}

func TestRun_NoContainers(t *testing.T) {
	site := newTestSite(t)

	r := parseRoutine(t, `{"r": {
		"parameters": {"url": %q},
		"functions": {"scrape_values": {"containers": {"tag": "table"}, "values": {"t": {"attr": "text"}}}}
	}}`, site.URL+"/list")

	_, err := newTestLoop().Run(context.Background(), r, nil)

	var extractionErr *scraper.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Contains(t, err.Error(), "no containers")
}

func TestRun_DownloadPageOnce(t *testing.T) {
	site := newTestSite(t)
	pathOut := t.TempDir()

	r := parseRoutine(t, `{"r": {
		"parameters": {"url": %q, "path_out": %q},
		"functions": {"download_page": {"url": "/item/9", "file_name": "landing"}}
	}}`, site.URL+"/list", pathOut)

	stats, err := newTestLoop().Run(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Downloads)

	saved, err := os.ReadFile(filepath.Join(pathOut, "landing.html"))
	require.NoError(t, err)
	assert.Contains(t, string(saved), "/item/9")
}

func TestRun_DownloadPagePerContainer(t *testing.T) {
	site := newTestSite(t)
	pathOut := t.TempDir()

	r := parseRoutine(t, `{"r": {
		"parameters": {"url": %q, "path_out": %q},
		"functions": {
			"scrape_values": {"containers": {"tag": "li"}, "values": {"n": "serial", "href": {"tag": "a", "attr": "href"}}},
			"download_page": {"url": ".href", "file_name": ".n"}
		}
	}}`, site.URL+"/list", pathOut)

	stats, err := newTestLoop().Run(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Downloads)

	for _, name := range []string{"0.html", "1.html"} {
		_, err := os.Stat(filepath.Join(pathOut, name))
		assert.NoError(t, err, name)
	}
}

func TestRun_CSVNotImplemented(t *testing.T) {
	site := newTestSite(t)

	r := parseRoutine(t, `{"r": {
		"parameters": {"url": %q, "database": "csv"},
		"functions": {
			"scrape_values": {"containers": {"tag": "li"}, "values": {"t": {"tag": "a", "attr": "text"}}},
			"entry_to_db": {"table": "items", "fields": {"title": ".t"}}
		}
	}}`, site.URL+"/list")

	_, err := newTestLoop().Run(context.Background(), r, nil)
	assert.ErrorIs(t, err, scraper.ErrNotImplemented)
	assert.Empty(t, site.seen(), "nothing is fetched when the store cannot open")
}

func TestRun_FetchError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	r := parseRoutine(t, `{"r": {
		"parameters": {"url": %q},
		"functions": {"scrape_values": {"containers": {"tag": "li"}, "values": {"t": {"attr": "text"}}}}
	}}`, server.URL+"/gone")

	_, err := newTestLoop().Run(context.Background(), r, nil)

	var fetchErr *scraper.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.Status)
}

func TestRun_ContextCancelled(t *testing.T) {
	site := newTestSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := parseRoutine(t, `{"r": {
		"parameters": {"url": %q},
		"functions": {"scrape_values": {"containers": {"tag": "li"}, "values": {"t": {"attr": "text"}}}}
	}}`, site.URL+"/list")

	_, err := newTestLoop().Run(ctx, r, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, site.seen())
}

func TestScrapeValues_CollapsesSingleResults(t *testing.T) {
	site := newTestSite(t)
	f := fetch.New(fetch.Options{Limiter: fetch.NewLimiter(0)})
	page, err := f.Fetch(context.Background(), fetch.Request{Method: scraper.RequestGet, URL: site.URL + "/list"})
	require.NoError(t, err)

	rc := &RoutineContext{Page: page, URL: page.URL}
	n, err := ScrapeValues(&scraper.ScrapeValuesSpec{
		Containers: scraper.SelectorSpec{Tag: "ul"},
		Values: []scraper.NamedValue{
			{Name: "links", Spec: scraper.ValueSpec{Selector: &scraper.SelectorSpec{Tag: "a", Attr: "text"}}},
			{Name: "none", Spec: scraper.ValueSpec{Selector: &scraper.SelectorSpec{Tag: "img", Attr: "src"}}},
			{Name: "first", Spec: scraper.ValueSpec{Selector: &scraper.SelectorSpec{Tag: "span", Attr: "text", Index: &scraper.IndexSelect{Single: new(int)}}}},
		},
	}, rc)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	values := rc.Containers[0].Values
	assert.Equal(t, []any{"One", "Two"}, values["links"])
	assert.Empty(t, values["none"])
	assert.Equal(t, "01/02/2024", values["first"])
}
