package spec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Format selects the document syntax of a Source.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// object is a decoded JSON object that remembers key order.
type object struct {
	keys   []string
	values map[string]any
}

// number keeps the literal text of a JSON number.
type number string

func newObject(n int) *object {
	return &object{keys: make([]string, 0, n), values: make(map[string]any, n)}
}

func (o *object) get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *object) has(key string) bool {
	_, ok := o.values[key]
	return ok
}

func (o *object) set(key string, v any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

func (o *object) str(key string) string {
	if s, ok := o.values[key].(string); ok {
		return s
	}
	return ""
}

func (o *object) boolean(key string) bool {
	b, _ := o.values[key].(bool)
	return b
}

func (o *object) obj(key string) *object {
	m, _ := o.values[key].(*object)
	return m
}

func (o *object) list(key string) []any {
	l, _ := o.values[key].([]any)
	return l
}

// DuplicateKeyError reports a repeated key inside one mapping.
type DuplicateKeyError struct {
	Key  string
	Line int // 0 when unknown (JSON input)
	Col  int
}

func (e *DuplicateKeyError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("duplicate key %q at %d:%d", e.Key, e.Line, e.Col)
	}
	return fmt.Sprintf("duplicate key %q", e.Key)
}

// sniff picks a format from the file name, then from the first byte.
func sniff(name string, data []byte) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".json"):
		return FormatJSON
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return FormatYAML
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatYAML
}

func decodeTree(f Format, data []byte) (any, error) {
	switch f {
	case FormatJSON:
		return decodeJSON(data)
	case FormatYAML:
		return decodeYAML(data)
	}
	return nil, fmt.Errorf("unknown format %q", f)
}

// ---- JSON via go-json token stream ----

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readJSONValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func readJSONValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			obj := newObject(8)
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key must be a string, got %v", kt)
				}
				if obj.has(key) {
					return nil, &DuplicateKeyError{Key: key}
				}
				val, err := readJSONValue(dec)
				if err != nil {
					return nil, err
				}
				obj.set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := make([]any, 0, 4)
			for dec.More() {
				val, err := readJSONValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", rune(v))
	case json.Number:
		return number(v), nil
	case float64:
		return number(strconv.FormatFloat(v, 'g', -1, 64)), nil
	case string, bool, nil:
		return v, nil
	}
	return nil, fmt.Errorf("unexpected token %T", tok)
}

// ---- YAML via yaml.Node ----

func decodeYAML(data []byte) (any, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, errors.New("empty document")
	}
	return yamlToTree(root.Content[0])
}

func yamlToTree(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return yamlToTree(n.Content[0])
	case yaml.AliasNode:
		return yamlToTree(n.Alias)
	case yaml.MappingNode:
		obj := newObject(len(n.Content) / 2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if obj.has(k.Value) {
				return nil, &DuplicateKeyError{Key: k.Value, Line: k.Line, Col: k.Column}
			}
			val, err := yamlToTree(v)
			if err != nil {
				return nil, err
			}
			obj.set(k.Value, val)
		}
		return obj, nil
	case yaml.SequenceNode:
		arr := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := yamlToTree(c)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return nil, nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, err
			}
			return b, nil
		case "!!int", "!!float":
			return number(n.Value), nil
		default:
			return n.Value, nil
		}
	}
	return nil, fmt.Errorf("unsupported YAML node kind %d at %d:%d", n.Kind, n.Line, n.Column)
}

// ---- helpers over decoded values ----

// bigInt converts a number literal to an integer, truncating any fraction.
func bigInt(v any) (*big.Int, bool) {
	n, ok := v.(number)
	if !ok {
		return nil, false
	}
	s := string(n)
	if i, ok := new(big.Int).SetString(s, 0); ok {
		return i, true
	}
	f, ok := new(big.Float).SetString(s)
	if !ok {
		return nil, false
	}
	i, _ := f.Int(nil)
	return i, true
}

func intValue(v any) (int64, bool) {
	i, ok := bigInt(v)
	if !ok || !i.IsInt64() {
		return 0, false
	}
	return i.Int64(), true
}

// equalTree compares two decoded values structurally, including key order.
func equalTree(a, b any) bool {
	switch x := a.(type) {
	case *object:
		y, ok := b.(*object)
		if !ok || len(x.keys) != len(y.keys) {
			return false
		}
		for i, k := range x.keys {
			if y.keys[i] != k || !equalTree(x.values[k], y.values[k]) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equalTree(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}
