package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a routine file (JSON or YAML, chosen by extension), decodes
// every routine in file order and validates each one.
func LoadFile(path string) ([]*Routine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routine file: %w", err)
	}

	if IsYAMLFile(path) {
		data, err = YAMLToJSON(data)
		if err != nil {
			return nil, &ConfigError{Path: filepath.Base(path), Msg: err.Error()}
		}
	}

	routines, err := ParseRoutines(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return routines, nil
}

// IsYAMLFile reports whether path has a YAML extension.
func IsYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ParseRoutines decodes a JSON object of routine name -> routine, keeping the
// file order, and validates every routine before returning.
func ParseRoutines(data []byte) ([]*Routine, error) {
	var all members
	if err := all.UnmarshalJSON(data); err != nil {
		return nil, &ConfigError{Path: "(root)", Msg: err.Error()}
	}

	routines := make([]*Routine, 0, len(all))
	for _, m := range all {
		r, err := decodeRoutine(m.Key, m.Value)
		if err != nil {
			return nil, err
		}
		if err := Validate(r); err != nil {
			return nil, err
		}
		routines = append(routines, r)
	}
	return routines, nil
}

// YAMLToJSON converts a YAML document into equivalent JSON, keeping mapping
// order so YAML routine files decode exactly like JSON ones.
func YAMLToJSON(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if doc.Kind == 0 {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	if err := writeYAMLNode(&buf, &doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeYAMLNode(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeYAMLNode(buf, n.Content[0])

	case yaml.AliasNode:
		return writeYAMLNode(buf, n.Alias)

	case yaml.MappingNode:
		pairs, err := mappingPairs(n)
		if err != nil {
			return err
		}
		buf.WriteByte('{')
		for i, p := range pairs {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(p.key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeYAMLNode(buf, p.value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeYAMLNode(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case yaml.ScalarNode:
		return writeYAMLScalar(buf, n)
	}
	return fmt.Errorf("line %d: unsupported yaml node", n.Line)
}

type yamlPair struct {
	key   string
	value *yaml.Node
}

// mappingPairs returns the key/value pairs of a mapping in document order
// with merge keys (<<) expanded in place. Keys written in the mapping win
// over merged ones, and earlier merge sources win over later ones.
func mappingPairs(n *yaml.Node) ([]yamlPair, error) {
	own := make(map[string]bool)
	for i := 0; i+1 < len(n.Content); i += 2 {
		if !isMergeKey(n.Content[i]) {
			own[n.Content[i].Value] = true
		}
	}

	var pairs []yamlPair
	index := make(map[string]int)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], n.Content[i+1]
		if !isMergeKey(key) {
			if j, ok := index[key.Value]; ok {
				pairs[j].value = value
				continue
			}
			index[key.Value] = len(pairs)
			pairs = append(pairs, yamlPair{key: key.Value, value: value})
			continue
		}

		sources, err := mergeSources(value)
		if err != nil {
			return nil, err
		}
		for _, src := range sources {
			merged, err := mappingPairs(src)
			if err != nil {
				return nil, err
			}
			for _, p := range merged {
				if own[p.key] {
					continue
				}
				if _, ok := index[p.key]; ok {
					continue
				}
				index[p.key] = len(pairs)
				pairs = append(pairs, p)
			}
		}
	}
	return pairs, nil
}

func isMergeKey(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!merge"
}

// mergeSources returns the mappings a merge value refers to: one mapping or
// a sequence of them, through aliases.
func mergeSources(n *yaml.Node) ([]*yaml.Node, error) {
	for n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	switch n.Kind {
	case yaml.MappingNode:
		return []*yaml.Node{n}, nil
	case yaml.SequenceNode:
		out := make([]*yaml.Node, 0, len(n.Content))
		for _, c := range n.Content {
			for c.Kind == yaml.AliasNode {
				c = c.Alias
			}
			if c.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("line %d: merge key (<<) must reference mappings", c.Line)
			}
			out = append(out, c)
		}
		return out, nil
	}
	return nil, fmt.Errorf("line %d: merge key (<<) must reference a mapping", n.Line)
}

func writeYAMLScalar(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.ShortTag() {
	case "!!null":
		buf.WriteString("null")
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return err
		}
		buf.WriteString(strconv.FormatBool(b))
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return err
		}
		buf.WriteString(strconv.FormatInt(i, 10))
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return err
		}
		out, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		buf.Write(out)
	default:
		out, err := json.Marshal(n.Value)
		if err != nil {
			return err
		}
		buf.Write(out)
	}
	return nil
}
