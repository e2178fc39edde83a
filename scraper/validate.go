package scraper

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// identifierPattern matches table and column names accepted in INSERT
// statements; tables may be schema qualified.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Validate checks a decoded routine against the rules that cannot be
// expressed by the wire schema alone. It never touches the network.
func Validate(r *Routine) error {
	path := r.Name + ".parameters"
	p := &r.Parameters

	if len(p.URLs) == 0 {
		return configErrorf(path+".url", "'url' not found in parameters")
	}
	for i, u := range p.URLs {
		if u == "" {
			return configErrorf(fmt.Sprintf("%s.url[%d]", path, i), "empty url")
		}
	}

	switch p.Request {
	case RequestGet:
	case RequestPost:
		if p.Payload == nil {
			return configErrorf(path+".payload", "no payload for post request")
		}
		if p.FirstPage != nil {
			return configErrorf(path+".first_page", "first_page is only supported for get requests")
		}
	default:
		return configErrorf(path+".request", "request %q not 'get' or 'post'", p.Request)
	}

	switch p.Database {
	case "", DatabaseSQL, DatabaseCSV:
	default:
		return configErrorf(path+".database", "database %q not 'sql' or 'csv'", p.Database)
	}

	if p.MaxPages < 0 {
		return configErrorf(path+".max_pages", "must not be negative")
	}

	if p.FirstPage != nil {
		if err := ValidateSelector(path+".first_page", &p.FirstPage.SelectorSpec); err != nil {
			return err
		}
	}
	for i := range p.NextPage {
		if err := ValidateSelector(fmt.Sprintf("%s.next_page[%d]", path, i), &p.NextPage[i].SelectorSpec); err != nil {
			return err
		}
	}
	if pp := p.PostPaging; pp != nil {
		if err := validatePostPaging(path+".next_page", pp, p.Payload); err != nil {
			return err
		}
	}

	if len(r.Functions) == 0 {
		return configErrorf(r.Name+".functions", "no functions configured")
	}

	values := map[string]bool{}
	for _, fn := range r.Functions {
		fpath := r.Name + ".functions." + fn.Name
		switch fn.Kind {
		case FuncScrapeValues:
			if err := validateScrapeValues(fpath, fn.ScrapeValues); err != nil {
				return err
			}
			for _, v := range fn.ScrapeValues.Values {
				values[v.Name] = true
			}
		case FuncEntryToDB:
			if p.Database == "" {
				return configErrorf(path+".database", "entry_to_db requires a database")
			}
			if err := validateEntry(fpath, fn.Entry, values); err != nil {
				return err
			}
			if p.DownloadEntry != nil {
				if err := validateDownload(path+".download_entry", p.DownloadEntry, values); err != nil {
					return err
				}
			}
		case FuncDownloadPage:
			if err := validateDownload(fpath, fn.Download, values); err != nil {
				return err
			}
		}
	}

	if (p.DownloadEntry != nil || hasFunction(r, FuncDownloadPage)) && p.PathOut == "" {
		return configErrorf(path+".path_out", "path_out is required to download pages")
	}
	return nil
}

func hasFunction(r *Routine, kind FunctionKind) bool {
	for _, fn := range r.Functions {
		if fn.Kind == kind {
			return true
		}
	}
	return false
}

// ValidateSelector checks one selector level and its children.
func ValidateSelector(path string, s *SelectorSpec) error {
	if s.Tag == "" && s.Attr == "" {
		return configErrorf(path, "selector needs a 'tag' or an 'attr'")
	}
	if (s.AttrName == "") != (s.AttrValue == "") {
		return configErrorf(path, "attribute match needs both 'type' and 'sel'")
	}
	if s.AttrName != "" && s.Tag == "" {
		return configErrorf(path, "attribute match needs a 'tag'")
	}
	if s.Child != nil {
		return ValidateSelector(path+".child", s.Child)
	}
	return nil
}

func validatePostPaging(path string, pp *PostPaging, payload map[string]any) error {
	if pp.PayloadKey == "" {
		return configErrorf(path+".payload", "payload counter key is required")
	}
	v, ok := payload[pp.PayloadKey]
	if !ok {
		return configErrorf(path+".payload", "payload has no key %q", pp.PayloadKey)
	}
	if _, err := PayloadInt(v); err != nil {
		return configErrorf(path+".payload", "payload %q: %v", pp.PayloadKey, err)
	}
	if pp.Max <= 0 {
		return configErrorf(path+".max", "max must be a positive integer")
	}
	return nil
}

// PayloadInt reads an integer payload counter.
func PayloadInt(v any) (int, error) {
	switch t := v.(type) {
	case json.Number:
		n, err := strconv.Atoi(t.String())
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", t.String())
		}
		return n, nil
	case int:
		return t, nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", t)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%v is not an integer", v)
}

func validateScrapeValues(path string, spec *ScrapeValuesSpec) error {
	if err := ValidateSelector(path+".containers", &spec.Containers); err != nil {
		return err
	}
	for _, v := range spec.Values {
		if v.Spec.Selector == nil {
			continue
		}
		if err := ValidateSelector(path+".values."+v.Name, v.Spec.Selector); err != nil {
			return err
		}
	}
	return nil
}

func validateEntry(path string, spec *EntrySpec, values map[string]bool) error {
	if spec.Table == "" {
		return configErrorf(path+".table", "table is required")
	}
	if !identifierPattern.MatchString(spec.Table) {
		return configErrorf(path+".table", "invalid table name %q", spec.Table)
	}
	if len(spec.Fields) == 0 {
		return configErrorf(path+".fields", "no fields configured")
	}

	byName := map[string]FieldSource{}
	for _, f := range spec.Fields {
		if !identifierPattern.MatchString(f.Name) || strings.Contains(f.Name, ".") {
			return configErrorf(path+".fields."+f.Name, "invalid field name %q", f.Name)
		}
		if f.Source.Kind == SourceReference && !values[f.Source.Ref] {
			return configErrorf(path+".fields."+f.Name, "reference %q matches no scraped value", "."+f.Source.Ref)
		}
		byName[f.Name] = f.Source
	}

	for _, s := range spec.Serial {
		src, ok := byName[s]
		if !ok {
			return configErrorf(path+".serial", "serial field %q is not a configured field", s)
		}
		if src.Kind != SourceReference {
			return configErrorf(path+".serial", "serial field %q must reference a scraped value", s)
		}
	}
	return nil
}

func validateDownload(path string, spec *DownloadSpec, values map[string]bool) error {
	if src := spec.URL; src.Kind == SourceReference && !values[src.Ref] {
		return configErrorf(path+".url", "reference %q matches no scraped value", "."+src.Ref)
	}
	if src := spec.FileName; src.Kind == SourceReference && !values[src.Ref] {
		return configErrorf(path+".file_name", "reference %q matches no scraped value", "."+src.Ref)
	}
	return nil
}
