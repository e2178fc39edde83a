package scraper

import (
	"strings"
)

// Routine is one named scraping task: parameters plus an ordered list of
// built-in functions applied to every page.
type Routine struct {
	Name       string
	Parameters Parameters
	Functions  []Function
}

// RequestMethod selects how landing and paginated pages are requested.
type RequestMethod string

const (
	RequestGet  RequestMethod = "get"
	RequestPost RequestMethod = "post"
)

// Database targets accepted in parameters.database.
const (
	DatabaseSQL = "sql"
	DatabaseCSV = "csv"
)

// Parameters holds the routine-wide settings.
type Parameters struct {
	URLs          []string
	PathOut       string
	Database      string
	Settings      map[string]any
	Request       RequestMethod
	Payload       map[string]any
	Headers       map[string]string
	FirstPage     *PageRule
	NextPage      []PageRule  // GET pagination alternatives, tried in order
	PostPaging    *PostPaging // POST pagination counter
	DownloadEntry *DownloadSpec
	MaxPages      int // 0 means unlimited
}

// HasPagination reports whether a next_page block was configured.
func (p Parameters) HasPagination() bool {
	return len(p.NextPage) > 0 || p.PostPaging != nil
}

// SelectorSpec describes how to locate and transform nodes in a parsed
// document. Field names follow the routine file keys.
type SelectorSpec struct {
	Tag       string        `json:"tag,omitempty"`
	AttrName  string        `json:"type,omitempty"` // attribute to match on
	AttrValue string        `json:"sel,omitempty"`  // expected attribute value
	Index     *IndexSelect  `json:"index,omitempty"`
	Child     *SelectorSpec `json:"child,omitempty"`
	Attr      string        `json:"attr,omitempty"` // attribute to extract, or "text"
	Slice     *Range        `json:"slice,omitempty"`
	DateType  string        `json:"date_type,omitempty"`
}

// AttrText is the Attr sentinel selecting a node's text content.
const AttrText = "text"

// HasAttributeMatch reports whether candidates are filtered by attribute.
func (s *SelectorSpec) HasAttributeMatch() bool {
	return s.AttrName != ""
}

// Range is a half-open [Start, End) interval with Python slice semantics. A
// nil bound means "from the beginning" or "to the end".
type Range struct {
	Start *int
	End   *int
}

// Bounds clamps the range against a sequence of length n and returns the
// concrete [lo, hi) pair. Negative bounds count from the end.
func (r Range) Bounds(n int) (int, int) {
	lo, hi := 0, n
	if r.Start != nil {
		lo = clampIndex(*r.Start, n)
	}
	if r.End != nil {
		hi = clampIndex(*r.End, n)
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
		if i < 0 {
			return 0
		}
	}
	if i > n {
		return n
	}
	return i
}

// IndexSelect is either a single position or a Range.
type IndexSelect struct {
	Single *int
	Range  *Range
}

// PageRule is a selector used to find a follow-up URL (first_page and GET
// next_page). Optional is nil when the key was absent, so first_page and
// next_page can apply their own defaults.
type PageRule struct {
	SelectorSpec
	Optional *bool `json:"optional,omitempty"`
}

// IsOptional returns the configured optional flag or def when absent.
func (r PageRule) IsOptional(def bool) bool {
	if r.Optional == nil {
		return def
	}
	return *r.Optional
}

// PostPaging increments an integer payload field between POST requests until
// it exceeds Max.
type PostPaging struct {
	PayloadKey string `json:"payload"`
	Max        int    `json:"max"`
}

// FunctionKind is the closed set of built-in operations a routine can apply
// to each page.
type FunctionKind int

const (
	FuncScrapeValues FunctionKind = iota + 1
	FuncEntryToDB
	FuncDownloadPage
)

var functionNames = map[string]FunctionKind{
	"scrape_values": FuncScrapeValues,
	"entry_to_db":   FuncEntryToDB,
	"download_page": FuncDownloadPage,
}

func (k FunctionKind) String() string {
	for name, kind := range functionNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// ParseFunctionKind maps a configured function name to its kind. A "#tag"
// suffix and any digits only disambiguate repeated functions and are ignored,
// so "scrape_values2" and "scrape_values#links" are both FuncScrapeValues.
func ParseFunctionKind(name string) (FunctionKind, bool) {
	if i := strings.IndexByte(name, '#'); i >= 0 {
		name = name[:i]
	}
	name = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return -1
		}
		return r
	}, name)
	kind, ok := functionNames[name]
	return kind, ok
}

// Function is one configured built-in call. Exactly one of the argument
// pointers is set, matching Kind.
type Function struct {
	Name         string
	Kind         FunctionKind
	ScrapeValues *ScrapeValuesSpec
	Entry        *EntrySpec
	Download     *DownloadSpec
}

// ScrapeValuesSpec selects containers and the named values extracted within
// each of them.
type ScrapeValuesSpec struct {
	Containers SelectorSpec
	Values     []NamedValue
}

// NamedValue pairs a value name with how it is produced.
type NamedValue struct {
	Name string
	Spec ValueSpec
}

// ValueSpec is either the "serial" marker (the container's zero-based index)
// or a selector evaluated within the container.
type ValueSpec struct {
	Serial   bool
	Selector *SelectorSpec
}

// EntrySpec maps container values onto a destination table.
type EntrySpec struct {
	Table  string
	Fields []FieldMapping
	Serial []string
}

// IsSerial reports whether field receives the table-length offset.
func (e *EntrySpec) IsSerial(field string) bool {
	for _, s := range e.Serial {
		if s == field {
			return true
		}
	}
	return false
}

// FieldMapping is one destination column and its source.
type FieldMapping struct {
	Name   string
	Source FieldSource
}

// SourceKind tags a FieldSource.
type SourceKind int

const (
	SourceLiteral SourceKind = iota
	SourceNull
	SourceReference
)

// FieldSource is a literal value, the NULL marker, or a reference to a value
// extracted in the current container. It is decided once at load time.
type FieldSource struct {
	Kind    SourceKind
	Literal any    // string, json.Number or bool
	Ref     string // value name, without the leading dot
}

// Literal builds a literal FieldSource.
func Literal(v any) FieldSource { return FieldSource{Kind: SourceLiteral, Literal: v} }

// Null builds the NULL FieldSource.
func Null() FieldSource { return FieldSource{Kind: SourceNull} }

// Reference builds a FieldSource pointing at a container value.
func Reference(name string) FieldSource { return FieldSource{Kind: SourceReference, Ref: name} }

// DownloadSpec saves a page locally: URL is fetched and written to
// <path_out>/<FileName>.html.
type DownloadSpec struct {
	URL      FieldSource
	FileName FieldSource
}

// HasReferences reports whether either source points at a container value.
func (d *DownloadSpec) HasReferences() bool {
	return d.URL.Kind == SourceReference || d.FileName.Kind == SourceReference
}
