// Package records maps scraped container values onto destination rows and
// persists them as literal INSERT statements.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/scrapectl/scraper"
	"github.com/pevans/scrapectl/storage"
	"github.com/pevans/scrapectl/urlresolve"
)

// Record holds the named values extracted from one container. Values are
// string, time.Time, int (serials), *goquery.Selection, []any (multi-valued
// or empty selector results) or nil.
type Record map[string]any

// NullLiteral is the SQL rendering of a missing value.
const NullLiteral = "NULL"

// Row is one mapped record ready to be written. Fields and Values are
// index-aligned.
type Row struct {
	Table  string
	Fields []string
	Values []string
}

// Statement renders the row as a literal INSERT statement.
func (r Row) Statement() string {
	return "INSERT INTO " + r.Table + " (" + strings.Join(r.Fields, ", ") + ") VALUES (" + strings.Join(r.Values, ", ") + ");"
}

// Mapper maps records for one entry specification. Offset is the destination
// row count read before the first row; serial fields receive
// local serial + Offset + 1.
type Mapper struct {
	Spec    *scraper.EntrySpec
	Offset  int
	BaseURL string // page the records were scraped from, for href/url fields
}

// Map resolves every configured field of rec in order. Serial fields are
// written back into rec under the referenced name, so fields mapped later
// and any download step see the resolved serial.
func (m *Mapper) Map(rec Record) (Row, error) {
	row := Row{
		Table:  m.Spec.Table,
		Fields: make([]string, 0, len(m.Spec.Fields)),
		Values: make([]string, 0, len(m.Spec.Fields)),
	}

	for _, f := range m.Spec.Fields {
		value, err := m.resolve(f, rec)
		if err != nil {
			return Row{}, err
		}
		literal, err := m.render(f.Name, value)
		if err != nil {
			return Row{}, err
		}
		row.Fields = append(row.Fields, f.Name)
		row.Values = append(row.Values, literal)
	}
	return row, nil
}

// resolve returns the Go value a field maps to. nil means NULL.
func (m *Mapper) resolve(f scraper.FieldMapping, rec Record) (any, error) {
	switch f.Source.Kind {
	case scraper.SourceNull:
		return nil, nil
	case scraper.SourceLiteral:
		return f.Source.Literal, nil
	}

	v, ok := rec[f.Source.Ref]
	if !ok {
		return nil, scraper.ExtractionErrorf("field %q references %q, which was not scraped", f.Name, "."+f.Source.Ref)
	}
	v, err := single(f.Name, v)
	if err != nil {
		return nil, err
	}

	if m.Spec.IsSerial(f.Name) {
		local, err := serialValue(v)
		if err != nil {
			return nil, scraper.ExtractionErrorf("serial field %q: %v", f.Name, err)
		}
		v = local + m.Offset + 1
		rec[f.Source.Ref] = v
	}
	return v, nil
}

// single unwraps multi-valued selector results: none is NULL, one is the
// value itself and more than one cannot be stored in a column.
func single(field string, v any) (any, error) {
	list, ok := v.([]any)
	if !ok {
		return v, nil
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	}
	return nil, scraper.ExtractionErrorf("field %q has %d values, expected one", field, len(list))
}

func serialValue(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case json.Number:
		n, err := strconv.Atoi(t.String())
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", t.String())
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", t)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%v is not an integer", v)
}

// render turns a resolved value into its SQL literal.
func (m *Mapper) render(field string, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return NullLiteral, nil
	case time.Time:
		return quote(t.Format("2006-01-02")), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	case bool:
		if t {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		if isDigits(t) {
			return t, nil
		}
		if IsURLField(field) {
			resolved, err := urlresolve.Resolve(m.BaseURL, strings.TrimSpace(t))
			if err != nil {
				return "", fmt.Errorf("field %q: %w", field, err)
			}
			t = resolved
		}
		return quote(t), nil
	case *goquery.Selection:
		return "", scraper.ExtractionErrorf("field %q is a node, set 'attr' to store its text or an attribute", field)
	}
	return "", scraper.ExtractionErrorf("field %q has unsupported value type %T", field, v)
}

// IsURLField reports whether values of field are resolved as URLs.
func IsURLField(field string) bool {
	return field == "href" || field == "url"
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// quote trims s, replaces apostrophes with spaces and single-quotes it.
func quote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "'", " ")
	return "'" + s + "'"
}

// Persist maps and inserts every record in order, one transaction per row.
// The destination row count is read once, before the first row. After each
// successful insert, afterInsert (when non-nil) is called with the record,
// whose serials are already resolved. It returns the number of rows written.
func Persist(ctx context.Context, store storage.Store, spec *scraper.EntrySpec, baseURL string, recs []Record, afterInsert func(Record) error) (int, error) {
	offset, err := store.RowCount(ctx, spec.Table)
	if err != nil {
		return 0, err
	}
	m := &Mapper{Spec: spec, Offset: offset, BaseURL: baseURL}

	written := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		row, err := m.Map(rec)
		if err != nil {
			return written, err
		}
		if err := store.Insert(ctx, row.Statement()); err != nil {
			return written, err
		}
		written++

		if afterInsert != nil {
			if err := afterInsert(rec); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}
