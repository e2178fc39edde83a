// Package selector evaluates selector specs against parsed HTML documents.
//
// A selector picks candidate nodes by tag (optionally filtered by one attribute),
// narrows them by position, and then either recurses into each candidate with
// a child selector or turns each candidate into a value: its text, one of its
// attributes, or the node itself. String values can then be sliced and parsed
// as dates. Results always come back in document order.
package selector

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ncruces/go-strftime"
	"github.com/pevans/scrapectl/scraper"
)

// Select evaluates spec against root and returns one value per matched leaf
// node. An empty result means nothing matched and is not an error.
//
// Value types are string (text or attribute), *goquery.Selection (the node
// itself, when spec names no attribute) and time.Time (when date_type is set).
func Select(spec *scraper.SelectorSpec, root *goquery.Selection) ([]any, error) {
	if spec == nil {
		return nil, &scraper.ConfigError{Path: "selector", Msg: "no selector given"}
	}
	if err := scraper.ValidateSelector("selector", spec); err != nil {
		return nil, err
	}
	return selectFrom(spec, root)
}

// selectFrom is the recursive step. Each call builds and returns its own
// slice; callers append it to theirs.
func selectFrom(spec *scraper.SelectorSpec, root *goquery.Selection) ([]any, error) {
	nodes := candidates(spec, root)
	if spec.Index != nil {
		nodes = applyIndex(spec.Index, nodes)
	}

	var out []any
	for _, node := range nodes {
		if spec.Child != nil {
			sub, err := selectFrom(spec.Child, node)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}

		v, err := leafValue(spec, node)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// candidates returns the nodes a selector level works on: every descendant with
// its tag (and attribute, when set), or root itself without a tag.
func candidates(spec *scraper.SelectorSpec, root *goquery.Selection) []*goquery.Selection {
	if spec.Tag == "" {
		return []*goquery.Selection{root}
	}

	found := root.Find(spec.Tag)
	if spec.HasAttributeMatch() {
		found = found.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return attributeMatches(s, spec.AttrName, spec.AttrValue)
		})
	}

	nodes := make([]*goquery.Selection, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, s)
	})
	return nodes
}

// attributeMatches compares an attribute with want. class is multi-valued:
// any single class name matches, as does the full attribute value.
func attributeMatches(s *goquery.Selection, name, want string) bool {
	val, ok := s.Attr(name)
	if !ok {
		return false
	}
	if val == want {
		return true
	}
	if name == "class" {
		for _, c := range strings.Fields(val) {
			if c == want {
				return true
			}
		}
	}
	return false
}

// applyIndex narrows nodes to a single position or a half-open range.
// Negative positions count from the end; out-of-range positions select
// nothing and ranges are clamped.
func applyIndex(ix *scraper.IndexSelect, nodes []*goquery.Selection) []*goquery.Selection {
	n := len(nodes)
	if ix.Single != nil {
		i := *ix.Single
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil
		}
		return nodes[i : i+1]
	}
	if ix.Range != nil {
		lo, hi := ix.Range.Bounds(n)
		return nodes[lo:hi]
	}
	return nodes
}

// leafValue turns one node into a value and applies slice and date_type.
func leafValue(spec *scraper.SelectorSpec, node *goquery.Selection) (any, error) {
	var v any
	switch spec.Attr {
	case "":
		v = node
	case scraper.AttrText:
		v = node.Text()
	default:
		attr, ok := node.Attr(spec.Attr)
		if !ok {
			return nil, scraper.ExtractionErrorf("attribute %q not found on <%s>", spec.Attr, goquery.NodeName(node))
		}
		v = attr
	}

	if spec.Slice != nil {
		s, ok := v.(string)
		if !ok {
			return nil, scraper.ExtractionErrorf("tried to slice a %s, not a string", describe(v))
		}
		runes := []rune(s)
		lo, hi := spec.Slice.Bounds(len(runes))
		v = string(runes[lo:hi])
	}

	if spec.DateType != "" {
		s, ok := v.(string)
		if !ok {
			return nil, scraper.ExtractionErrorf("date to parse is a %s, not a string", describe(v))
		}
		t, err := ParseDate(spec.DateType, s)
		if err != nil {
			return nil, err
		}
		v = t
	}

	return v, nil
}

// ParseDate parses value (surrounding whitespace removed) with format. A
// format containing "%" is a strptime format ("%d/%m/%Y"); anything else is a
// Go reference layout ("02/01/2006").
func ParseDate(format, value string) (time.Time, error) {
	value = strings.TrimSpace(value)

	var (
		t   time.Time
		err error
	)
	if strings.Contains(format, "%") {
		t, err = strftime.Parse(format, value)
	} else {
		t, err = time.Parse(format, value)
	}
	if err != nil {
		return time.Time{}, &scraper.ExtractionError{
			Msg: fmt.Sprintf("date %q does not match format %q", value, format),
			Err: err,
		}
	}
	return t, nil
}

func describe(v any) string {
	if _, ok := v.(*goquery.Selection); ok {
		return "node"
	}
	return fmt.Sprintf("%T", v)
}
