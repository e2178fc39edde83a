package records

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/scrapectl/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records statements in memory and starts with a fixed row count.
type fakeStore struct {
	existing   int
	statements []string
	counted    int
	failOn     int // 1-based insert that fails, 0 for never
}

func (s *fakeStore) RowCount(context.Context, string) (int, error) {
	s.counted++
	return s.existing + len(s.statements), nil
}

func (s *fakeStore) Insert(_ context.Context, statement string) error {
	if s.failOn == len(s.statements)+1 {
		return errors.New("disk full")
	}
	s.statements = append(s.statements, statement)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func TestMap_SingleTitle(t *testing.T) {
	m := &Mapper{Spec: &scraper.EntrySpec{
		Table:  "t",
		Fields: []scraper.FieldMapping{{Name: "title", Source: scraper.Reference("title")}},
	}}

	row, err := m.Map(Record{"title": "  Hello  "})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO t (title) VALUES ('Hello');", row.Statement())
}

func TestMap_Coercion(t *testing.T) {
	m := &Mapper{
		Spec: &scraper.EntrySpec{
			Table: "articles",
			Fields: []scraper.FieldMapping{
				{Name: "source", Source: scraper.Literal("daily")},
				{Name: "missing", Source: scraper.Null()},
				{Name: "published", Source: scraper.Reference("date")},
				{Name: "views", Source: scraper.Reference("views")},
				{Name: "rank", Source: scraper.Literal(json.Number("3"))},
				{Name: "quote", Source: scraper.Reference("quote")},
				{Name: "href", Source: scraper.Reference("link")},
				{Name: "tags", Source: scraper.Reference("tags")},
				{Name: "active", Source: scraper.Literal(true)},
			},
		},
		BaseURL: "https://www.example.com/news/list?page=1",
	}

	row, err := m.Map(Record{
		"date":  time.Date(2024, time.March, 5, 14, 0, 0, 0, time.UTC),
		"views": "1200",
		"quote": " it's fine ",
		"link":  "/story/42",
		"tags":  []any{},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"source", "missing", "published", "views", "rank", "quote", "href", "tags", "active"}, row.Fields)
	assert.Equal(t, []string{
		"'daily'",
		"NULL",
		"'2024-03-05'",
		"1200",
		"3",
		"'it s fine'",
		"'https://www.example.com/story/42'",
		"NULL",
		"TRUE",
	}, row.Values)
}

func TestMap_URLFieldAbsolutePassesThrough(t *testing.T) {
	m := &Mapper{
		Spec: &scraper.EntrySpec{
			Table:  "t",
			Fields: []scraper.FieldMapping{{Name: "url", Source: scraper.Reference("u")}},
		},
		BaseURL: "https://www.example.com/list",
	}

	row, err := m.Map(Record{"u": "https://other.org/a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"'https://other.org/a'"}, row.Values)
}

func TestMap_Serial(t *testing.T) {
	spec := &scraper.EntrySpec{
		Table: "t",
		Fields: []scraper.FieldMapping{
			{Name: "id", Source: scraper.Reference("n")},
			{Name: "title", Source: scraper.Reference("title")},
		},
		Serial: []string{"id"},
	}
	m := &Mapper{Spec: spec, Offset: 10}

	recs := []Record{
		{"n": 0, "title": "a"},
		{"n": 1, "title": "b"},
		{"n": 2, "title": "c"},
	}
	var ids []string
	for _, rec := range recs {
		row, err := m.Map(rec)
		require.NoError(t, err)
		ids = append(ids, row.Values[0])
	}
	assert.Equal(t, []string{"11", "12", "13"}, ids)

	assert.Equal(t, 11, recs[0]["n"])
	assert.Equal(t, 12, recs[1]["n"])
	assert.Equal(t, 13, recs[2]["n"])
}

func TestMap_MultipleValuesFail(t *testing.T) {
	m := &Mapper{Spec: &scraper.EntrySpec{
		Table:  "t",
		Fields: []scraper.FieldMapping{{Name: "title", Source: scraper.Reference("title")}},
	}}

	_, err := m.Map(Record{"title": []any{"a", "b"}})

	var extractionErr *scraper.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Contains(t, err.Error(), `"title"`)
}

func TestMap_NodeFails(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<p>x</p>"))
	require.NoError(t, err)
	m := &Mapper{Spec: &scraper.EntrySpec{
		Table:  "t",
		Fields: []scraper.FieldMapping{{Name: "body", Source: scraper.Reference("p")}},
	}}

	_, err = m.Map(Record{"p": doc.Find("p")})

	var extractionErr *scraper.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
}

func TestMap_SerialNotInteger(t *testing.T) {
	m := &Mapper{Spec: &scraper.EntrySpec{
		Table:  "t",
		Fields: []scraper.FieldMapping{{Name: "id", Source: scraper.Reference("n")}},
		Serial: []string{"id"},
	}}

	_, err := m.Map(Record{"n": "abc"})

	var extractionErr *scraper.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
}

func TestMap_UnresolvableURL(t *testing.T) {
	m := &Mapper{
		Spec: &scraper.EntrySpec{
			Table:  "t",
			Fields: []scraper.FieldMapping{{Name: "href", Source: scraper.Reference("h")}},
		},
		BaseURL: "http://localhost/list",
	}

	_, err := m.Map(Record{"h": "/item"})

	var invalid *scraper.InvalidURLError
	assert.ErrorAs(t, err, &invalid)
}

func TestPersist(t *testing.T) {
	store := &fakeStore{existing: 10}
	spec := &scraper.EntrySpec{
		Table: "items",
		Fields: []scraper.FieldMapping{
			{Name: "id", Source: scraper.Reference("n")},
			{Name: "title", Source: scraper.Reference("title")},
		},
		Serial: []string{"id"},
	}
	recs := []Record{
		{"n": 0, "title": "a"},
		{"n": 1, "title": "b"},
		{"n": 2, "title": "c"},
	}

	var seen []any
	n, err := Persist(context.Background(), store, spec, "", recs, func(rec Record) error {
		seen = append(seen, rec["n"])
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, store.counted, "row count is read once")
	assert.Equal(t, []string{
		"INSERT INTO items (id, title) VALUES (11, 'a');",
		"INSERT INTO items (id, title) VALUES (12, 'b');",
		"INSERT INTO items (id, title) VALUES (13, 'c');",
	}, store.statements)
	assert.Equal(t, []any{11, 12, 13}, seen)
}

func TestPersist_StopsOnInsertError(t *testing.T) {
	store := &fakeStore{failOn: 2}
	spec := &scraper.EntrySpec{
		Table:  "items",
		Fields: []scraper.FieldMapping{{Name: "title", Source: scraper.Reference("title")}},
	}

	n, err := Persist(context.Background(), store, spec, "", []Record{{"title": "a"}, {"title": "b"}, {"title": "c"}}, nil)
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, n)
	assert.Len(t, store.statements, 1)
}
