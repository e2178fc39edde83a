// Package fetch retrieves documents for routines: remote pages over HTTP
// (GET or form-encoded POST, rate limited) and local .html files from disk.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/scrapectl/scraper"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 10 * time.Second

// DefaultUserAgent identifies scrapectl to remote servers unless a routine
// overrides it through its headers.
const DefaultUserAgent = "scrapectl/1.0 (config-driven web scraper)"

// Request describes one document to retrieve.
type Request struct {
	Method  scraper.RequestMethod
	URL     string
	Payload map[string]any    // form fields, sent with POST only
	Headers map[string]string // added to every remote request
}

// Page is a retrieved document. Body is always UTF-8.
type Page struct {
	URL  string
	Body []byte
	Doc  *goquery.Document
}

// Options configures a Fetcher. Zero values select the defaults.
type Options struct {
	Client    *http.Client
	Limiter   *Limiter
	Logger    logrus.FieldLogger
	UserAgent string
}

// Fetcher retrieves documents. It is safe for concurrent use, although the
// shared limiter serializes remote requests anyway.
type Fetcher struct {
	client    *http.Client
	limiter   *Limiter
	logger    logrus.FieldLogger
	userAgent string
}

// New creates a Fetcher from opts.
func New(opts Options) *Fetcher {
	f := &Fetcher{
		client:    opts.Client,
		limiter:   opts.Limiter,
		logger:    opts.Logger,
		userAgent: opts.UserAgent,
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: DefaultTimeout}
	}
	if f.limiter == nil {
		f.limiter = SharedLimiter()
	}
	if f.logger == nil {
		f.logger = logrus.StandardLogger()
	}
	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}
	return f
}

// IsLocal reports whether target names a local HTML file rather than a
// remote URL: it has no scheme and an .html or .htm extension.
func IsLocal(target string) bool {
	if strings.Contains(target, "://") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(target))
	return ext == ".html" || ext == ".htm"
}

// Fetch retrieves and parses the document described by req. Local files
// bypass the limiter. Any remote status other than 200 is a
// *scraper.FetchError; nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Page, error) {
	if req.URL == "" {
		return nil, &scraper.InvalidURLError{Candidate: req.URL, Msg: "empty url"}
	}

	var (
		body []byte
		err  error
	)
	if IsLocal(req.URL) {
		body, err = f.readLocal(req.URL)
	} else {
		body, err = f.fetchRemote(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Page{URL: req.URL, Body: body, Doc: doc}, nil
}

func (f *Fetcher) readLocal(path string) ([]byte, error) {
	f.logger.WithField("path", path).Debug("Reading local page")

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read local page: %w", err)
	}
	return body, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, req Request) ([]byte, error) {
	method := http.MethodGet
	var reqBody io.Reader
	if req.Method == scraper.RequestPost {
		method = http.MethodPost
		form, err := EncodeForm(req.Payload)
		if err != nil {
			return nil, err
		}
		reqBody = strings.NewReader(form)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	log := f.logger.WithFields(logrus.Fields{"method": method, "url": req.URL})
	log.Debug("Fetching page")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &scraper.FetchError{Method: method, URL: req.URL, Status: resp.StatusCode}
	}

	r, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("failed to detect charset: %w", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	log.WithField("bytes", len(body)).Debug("Fetched page")
	return body, nil
}

// EncodeForm renders a routine payload as an urlencoded form body. Keys are
// sorted; scalar values are written in their plain text form.
func EncodeForm(payload map[string]any) (string, error) {
	form := url.Values{}
	for k, v := range payload {
		s, err := formValue(v)
		if err != nil {
			return "", fmt.Errorf("payload %q: %w", k, err)
		}
		form.Set(k, s)
	}
	return form.Encode(), nil
}

func formValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool, int, int64, float64:
		return fmt.Sprint(t), nil
	}
	return "", fmt.Errorf("unsupported form value %v", v)
}
