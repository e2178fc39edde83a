package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// decodeStrict decodes data into v, rejecting unknown keys and keeping
// numbers as json.Number so integer payload counters survive untouched.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// member is one key/value pair of a JSON object, kept in document order.
type member struct {
	Key   string
	Value json.RawMessage
}

// members decodes a JSON object while preserving key order, which Go maps
// cannot do. Functions and fields are applied in the order they are written.
type members []member

func (m *members) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("expected an object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*m = append(*m, member{Key: key, Value: raw})
	}

	_, err = dec.Token()
	return err
}

// StringList accepts either a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.New("expected a string or a list of strings")
	}
	*l = list
	return nil
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var bounds []*int
	if err := json.Unmarshal(data, &bounds); err != nil {
		return errors.New("expected a [start, end] list")
	}
	if len(bounds) != 2 {
		return fmt.Errorf("expected a [start, end] list, got %d values", len(bounds))
	}
	r.Start, r.End = bounds[0], bounds[1]
	return nil
}

func (ix *IndexSelect) UnmarshalJSON(data []byte) error {
	var single int
	if err := json.Unmarshal(data, &single); err == nil {
		ix.Single = &single
		return nil
	}
	var r Range
	if err := r.UnmarshalJSON(data); err != nil {
		return errors.New("index must be an integer or a [start, end] list")
	}
	ix.Range = &r
	return nil
}

func (v *ValueSpec) UnmarshalJSON(data []byte) error {
	var marker string
	if err := json.Unmarshal(data, &marker); err == nil {
		if marker != "serial" {
			return fmt.Errorf("unknown value marker %q (only \"serial\" is supported)", marker)
		}
		v.Serial = true
		return nil
	}
	var spec SelectorSpec
	if err := decodeStrict(data, &spec); err != nil {
		return err
	}
	v.Selector = &spec
	return nil
}

func (s *FieldSource) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*s = Null()
	case string:
		switch {
		case t == "":
			*s = Null()
		case strings.HasPrefix(t, "."):
			if len(t) == 1 {
				return errors.New(`reference "." names no value`)
			}
			*s = Reference(t[1:])
		default:
			*s = Literal(t)
		}
	case json.Number, bool:
		*s = Literal(t)
	default:
		return fmt.Errorf("unsupported field value %s", string(data))
	}
	return nil
}

func (d *DownloadSpec) UnmarshalJSON(data []byte) error {
	var raw struct {
		URL      *FieldSource `json:"url"`
		FileName *FieldSource `json:"file_name"`
	}
	if err := decodeStrict(data, &raw); err != nil {
		return err
	}
	if raw.URL == nil || raw.URL.Kind == SourceNull {
		return errors.New("url is required")
	}
	if raw.FileName == nil || raw.FileName.Kind == SourceNull {
		return errors.New("file_name is required")
	}
	d.URL, d.FileName = *raw.URL, *raw.FileName
	return nil
}

// rawRoutine is the wire shape of a routine before typed decoding.
type rawRoutine struct {
	Parameters json.RawMessage `json:"parameters"`
	Functions  *members        `json:"functions"`
}

type rawParameters struct {
	URL           StringList        `json:"url"`
	PathOut       string            `json:"path_out"`
	Database      string            `json:"database"`
	Settings      map[string]any    `json:"settings"`
	Request       string            `json:"request"`
	Payload       map[string]any    `json:"payload"`
	Headers       map[string]string `json:"headers"`
	FirstPage     *PageRule         `json:"first_page"`
	NextPage      json.RawMessage   `json:"next_page"`
	DownloadEntry *DownloadSpec     `json:"download_entry"`
	MaxPages      int               `json:"max_pages"`
}

type rawScrapeValues struct {
	Containers *SelectorSpec `json:"containers"`
	Values     *members      `json:"values"`
}

type rawEntry struct {
	Table  string     `json:"table"`
	Fields *members   `json:"fields"`
	Serial StringList `json:"serial"`
}

// decodeRoutine turns a raw routine object into a typed Routine. Structural
// problems are reported as ConfigErrors rooted at the routine name.
func decodeRoutine(name string, data []byte) (*Routine, error) {
	var raw rawRoutine
	if err := decodeStrict(data, &raw); err != nil {
		return nil, configErrorf(name, "%v", err)
	}
	if len(raw.Parameters) == 0 {
		return nil, configErrorf(name, "parameters not found in routine")
	}
	if raw.Functions == nil {
		return nil, configErrorf(name, "functions not found in routine")
	}

	params, err := decodeParameters(name+".parameters", raw.Parameters)
	if err != nil {
		return nil, err
	}

	r := &Routine{Name: name, Parameters: *params}
	for _, m := range *raw.Functions {
		fn, err := decodeFunction(name+".functions."+m.Key, m.Key, m.Value)
		if err != nil {
			return nil, err
		}
		r.Functions = append(r.Functions, *fn)
	}
	return r, nil
}

func decodeParameters(path string, data []byte) (*Parameters, error) {
	var raw rawParameters
	if err := decodeStrict(data, &raw); err != nil {
		return nil, configErrorf(path, "%v", err)
	}

	p := &Parameters{
		URLs:          raw.URL,
		PathOut:       raw.PathOut,
		Database:      raw.Database,
		Settings:      raw.Settings,
		Request:       RequestMethod(strings.ToLower(raw.Request)),
		Payload:       raw.Payload,
		Headers:       raw.Headers,
		FirstPage:     raw.FirstPage,
		DownloadEntry: raw.DownloadEntry,
		MaxPages:      raw.MaxPages,
	}
	if p.Request == "" {
		p.Request = RequestGet
	}

	if len(raw.NextPage) > 0 && string(raw.NextPage) != "null" {
		if err := decodeNextPage(path+".next_page", p, raw.NextPage); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// decodeNextPage interprets next_page according to the request method: a
// payload counter for POST, one rule or a list of rules for GET.
func decodeNextPage(path string, p *Parameters, data []byte) error {
	if p.Request == RequestPost {
		var pp PostPaging
		if err := decodeStrict(data, &pp); err != nil {
			return configErrorf(path, "%v", err)
		}
		p.PostPaging = &pp
		return nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return configErrorf(path, "%v", err)
		}
		for i, item := range items {
			var rule PageRule
			if err := decodeStrict(item, &rule); err != nil {
				return configErrorf(fmt.Sprintf("%s[%d]", path, i), "%v", err)
			}
			p.NextPage = append(p.NextPage, rule)
		}
		return nil
	}

	var rule PageRule
	if err := decodeStrict(trimmed, &rule); err != nil {
		return configErrorf(path, "%v", err)
	}
	p.NextPage = []PageRule{rule}
	return nil
}

func decodeFunction(path, name string, data []byte) (*Function, error) {
	kind, ok := ParseFunctionKind(name)
	if !ok {
		return nil, configErrorf(path, "unknown function %q", name)
	}

	fn := &Function{Name: name, Kind: kind}
	switch kind {
	case FuncScrapeValues:
		spec, err := decodeScrapeValues(path, data)
		if err != nil {
			return nil, err
		}
		fn.ScrapeValues = spec
	case FuncEntryToDB:
		spec, err := decodeEntry(path, data)
		if err != nil {
			return nil, err
		}
		fn.Entry = spec
	case FuncDownloadPage:
		var spec DownloadSpec
		if err := spec.UnmarshalJSON(data); err != nil {
			return nil, configErrorf(path, "%v", err)
		}
		fn.Download = &spec
	}
	return fn, nil
}

func decodeScrapeValues(path string, data []byte) (*ScrapeValuesSpec, error) {
	var raw rawScrapeValues
	if err := decodeStrict(data, &raw); err != nil {
		return nil, configErrorf(path, "%v", err)
	}
	if raw.Containers == nil {
		return nil, configErrorf(path, "containers not found")
	}
	if raw.Values == nil {
		return nil, configErrorf(path, "values not found")
	}

	spec := &ScrapeValuesSpec{Containers: *raw.Containers}
	for _, m := range *raw.Values {
		var v ValueSpec
		if err := v.UnmarshalJSON(m.Value); err != nil {
			return nil, configErrorf(path+".values."+m.Key, "%v", err)
		}
		spec.Values = append(spec.Values, NamedValue{Name: m.Key, Spec: v})
	}
	return spec, nil
}

func decodeEntry(path string, data []byte) (*EntrySpec, error) {
	var raw rawEntry
	if err := decodeStrict(data, &raw); err != nil {
		return nil, configErrorf(path, "%v", err)
	}
	if raw.Fields == nil {
		return nil, configErrorf(path, "fields not found")
	}

	spec := &EntrySpec{Table: raw.Table, Serial: raw.Serial}
	for _, m := range *raw.Fields {
		var src FieldSource
		if err := src.UnmarshalJSON(m.Value); err != nil {
			return nil, configErrorf(path+".fields."+m.Key, "%v", err)
		}
		spec.Fields = append(spec.Fields, FieldMapping{Name: m.Key, Source: src})
	}
	return spec, nil
}
