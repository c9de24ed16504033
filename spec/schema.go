package spec

import (
	"fmt"
	"math/big"

	"github.com/reoring/openrpc2proto/diag"
)

// decoder turns decoded JSON trees into schema nodes for one source document.
type decoder struct {
	source string
}

func (d *decoder) unsupported(ptr, format string, a ...any) error {
	return &diag.Error{Code: diag.CodeUnsupportedSchemaConstruct, Path: d.source + ptr, Message: fmt.Sprintf(format, a...)}
}

func (d *decoder) malformed(ptr, format string, a ...any) error {
	return &diag.Error{Code: diag.CodeMalformedSpec, Path: d.source + ptr, Message: fmt.Sprintf(format, a...)}
}

// decode maps one schema value. Keyword precedence: $ref, oneOf/anyOf,
// allOf, enum/const, type (or implied type from properties/items).
func (d *decoder) decode(v any, ptr string) (Node, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return &Primitive{Annotations: Annotations{Pointer: d.source + ptr}, Type: Any}, nil
		}
		return nil, d.unsupported(ptr, "schema false matches nothing")
	case *object:
		n, err := d.decodeObject(t, ptr)
		if err != nil {
			return nil, err
		}
		if t.boolean("nullable") {
			if _, already := n.(*Nullable); !already {
				n = &Nullable{Annotations: *n.Annot(), Inner: n}
			}
		}
		return n, nil
	}
	return nil, d.malformed(ptr, "schema must be an object or boolean, got %T", v)
}

func (d *decoder) annotations(o *object, ptr string) Annotations {
	return Annotations{
		Pointer:     d.source + ptr,
		Title:       o.str("title"),
		Description: o.str("description"),
		Stream:      o.boolean("x-stream"),
	}
}

func (d *decoder) decodeObject(o *object, ptr string) (Node, error) {
	ann := d.annotations(o, ptr)

	if o.has("$ref") {
		ref := o.str("$ref")
		target, ok := refName(ref, "/components/schemas/")
		if !ok {
			target, ok = refName(ref, "/$defs/")
		}
		if !ok {
			target, ok = refName(ref, "/definitions/")
		}
		if !ok {
			return nil, d.unsupported(ptr+"/$ref", "unsupported reference %q", ref)
		}
		return &Ref{Annotations: ann, Target: target}, nil
	}

	for _, kw := range []string{"oneOf", "anyOf"} {
		if !o.has(kw) {
			continue
		}
		return d.decodeOneOf(o, kw, ann, ptr)
	}

	if o.has("allOf") {
		items, ok := o.values["allOf"].([]any)
		if !ok || len(items) == 0 {
			return nil, d.malformed(ptr+"/allOf", "allOf must be a non-empty array")
		}
		all := &AllOf{Annotations: ann}
		for i, it := range items {
			n, err := d.decode(it, fmt.Sprintf("%s/allOf/%d", ptr, i))
			if err != nil {
				return nil, err
			}
			all.Members = append(all.Members, n)
		}
		// Sibling properties form one more fragment.
		if o.has("properties") {
			extra, err := d.decodeObjectType(o, Annotations{Pointer: ann.Pointer}, ptr)
			if err != nil {
				return nil, err
			}
			all.Members = append(all.Members, extra)
		}
		return all, nil
	}

	if o.has("enum") {
		items, ok := o.values["enum"].([]any)
		if !ok || len(items) == 0 {
			return nil, d.malformed(ptr+"/enum", "enum must be a non-empty array")
		}
		e := &Enum{Annotations: ann}
		nullable := false
		for i, it := range items {
			switch s := it.(type) {
			case string:
				e.Values = append(e.Values, s)
			case nil:
				nullable = true
			default:
				return nil, d.unsupported(fmt.Sprintf("%s/enum/%d", ptr, i), "only string enums are supported, got %T", it)
			}
		}
		if len(e.Values) == 0 {
			return nil, d.unsupported(ptr+"/enum", "enum of only null")
		}
		if nullable {
			return &Nullable{Annotations: ann, Inner: e}, nil
		}
		return e, nil
	}

	if c, ok := o.get("const"); ok {
		s, isString := c.(string)
		if !isString {
			return nil, d.unsupported(ptr+"/const", "only string const is supported, got %T", c)
		}
		return &Enum{Annotations: ann, Values: []string{s}}, nil
	}

	switch tv := o.values["type"].(type) {
	case string:
		return d.decodeTyped(o, tv, ann, ptr)
	case []any:
		return d.decodeTypeList(o, tv, ann, ptr)
	case nil:
		if o.has("type") {
			return nil, d.malformed(ptr+"/type", "type must not be null")
		}
	default:
		return nil, d.malformed(ptr+"/type", "type must be a string or array")
	}

	switch {
	case o.has("properties"), o.has("additionalProperties"), o.has("required"):
		return d.decodeObjectType(o, ann, ptr)
	case o.has("items"):
		return d.decodeArray(o, ann, ptr)
	}
	if known := schemaKeywords(o); known > 0 {
		return nil, d.unsupported(ptr, "schema has no rule for its keywords")
	}
	return &Primitive{Annotations: ann, Type: Any}, nil
}

// schemaKeywords counts keywords that carry shape information.
func schemaKeywords(o *object) int {
	n := 0
	for _, k := range o.keys {
		switch k {
		case "not", "if", "then", "else", "patternProperties", "prefixItems", "contains", "dependentSchemas":
			n++
		}
	}
	return n
}

func (d *decoder) decodeOneOf(o *object, kw string, ann Annotations, ptr string) (Node, error) {
	items, ok := o.values[kw].([]any)
	if !ok || len(items) == 0 {
		return nil, d.malformed(ptr+"/"+kw, "%s must be a non-empty array", kw)
	}
	u := &OneOf{Annotations: ann}
	nullable := false
	for i, it := range items {
		if isNullSchema(it) {
			nullable = true
			continue
		}
		n, err := d.decode(it, fmt.Sprintf("%s/%s/%d", ptr, kw, i))
		if err != nil {
			return nil, err
		}
		u.Members = append(u.Members, n)
	}
	var out Node = u
	switch len(u.Members) {
	case 0:
		return nil, d.unsupported(ptr+"/"+kw, "%s of only null", kw)
	case 1:
		if nullable {
			return &Nullable{Annotations: ann, Inner: u.Members[0]}, nil
		}
	}
	if nullable {
		out = &Nullable{Annotations: ann, Inner: u}
	}
	return out, nil
}

func isNullSchema(v any) bool {
	o, ok := v.(*object)
	if !ok {
		return false
	}
	return o.str("type") == "null" && len(o.keys) <= 3 && !o.has("properties")
}

func (d *decoder) decodeTypeList(o *object, types []any, ann Annotations, ptr string) (Node, error) {
	var names []string
	nullable := false
	for i, tv := range types {
		s, ok := tv.(string)
		if !ok {
			return nil, d.malformed(fmt.Sprintf("%s/type/%d", ptr, i), "type entries must be strings")
		}
		if s == "null" {
			nullable = true
			continue
		}
		names = append(names, s)
	}
	var inner Node
	switch len(names) {
	case 0:
		return nil, d.unsupported(ptr+"/type", "type of only null")
	case 1:
		n, err := d.decodeTyped(o, names[0], ann, ptr)
		if err != nil {
			return nil, err
		}
		inner = n
	default:
		u := &OneOf{Annotations: ann}
		for _, name := range names {
			n, err := d.decodeTyped(o, name, Annotations{Pointer: ann.Pointer}, ptr)
			if err != nil {
				return nil, err
			}
			u.Members = append(u.Members, n)
		}
		inner = u
	}
	if nullable {
		return &Nullable{Annotations: ann, Inner: inner}, nil
	}
	return inner, nil
}

func (d *decoder) decodeTyped(o *object, typ string, ann Annotations, ptr string) (Node, error) {
	switch typ {
	case "string":
		return &Primitive{Annotations: ann, Type: String, Pattern: o.str("pattern"), Format: o.str("format")}, nil
	case "integer":
		p := &Primitive{Annotations: ann, Type: Integer, Format: o.str("format")}
		if v, ok := o.get("minimum"); ok {
			p.Minimum, _ = bigInt(v)
		}
		if v, ok := o.get("exclusiveMinimum"); ok {
			if i, ok := bigInt(v); ok {
				p.Minimum = new(big.Int).Add(i, big.NewInt(1))
			}
		}
		if v, ok := o.get("maximum"); ok {
			p.Maximum, _ = bigInt(v)
		}
		if v, ok := o.get("exclusiveMaximum"); ok {
			if i, ok := bigInt(v); ok {
				p.Maximum = new(big.Int).Sub(i, big.NewInt(1))
			}
		}
		return p, nil
	case "number":
		return &Primitive{Annotations: ann, Type: Number, Format: o.str("format")}, nil
	case "boolean":
		return &Primitive{Annotations: ann, Type: Boolean}, nil
	case "object":
		return d.decodeObjectType(o, ann, ptr)
	case "array":
		return d.decodeArray(o, ann, ptr)
	case "null":
		return nil, d.unsupported(ptr+"/type", "standalone null type")
	}
	return nil, d.malformed(ptr+"/type", "unknown type %q", typ)
}

func (d *decoder) decodeObjectType(o *object, ann Annotations, ptr string) (Node, error) {
	obj := &Object{Annotations: ann}
	if pv, ok := o.get("properties"); ok {
		props, ok := pv.(*object)
		if !ok {
			return nil, d.malformed(ptr+"/properties", "properties must be an object")
		}
		for _, name := range props.keys {
			n, err := d.decode(props.values[name], ptr+"/properties/"+escapePointer(name))
			if err != nil {
				return nil, err
			}
			obj.Properties = append(obj.Properties, Property{Name: name, Node: n})
		}
	}
	for i, rv := range o.list("required") {
		s, ok := rv.(string)
		if !ok {
			return nil, d.malformed(fmt.Sprintf("%s/required/%d", ptr, i), "required entries must be strings")
		}
		obj.Required = append(obj.Required, s)
	}
	switch av := o.values["additionalProperties"].(type) {
	case bool:
		obj.Closed = !av
	case *object:
		n, err := d.decode(av, ptr+"/additionalProperties")
		if err != nil {
			return nil, err
		}
		obj.Additional = n
	}
	return obj, nil
}

func (d *decoder) decodeArray(o *object, ann Annotations, ptr string) (Node, error) {
	iv, ok := o.get("items")
	if !ok {
		return &Array{Annotations: ann, Items: &Primitive{Annotations: Annotations{Pointer: ann.Pointer}, Type: Any}}, nil
	}
	if _, tuple := iv.([]any); tuple {
		return nil, d.unsupported(ptr+"/items", "tuple arrays are not supported")
	}
	items, err := d.decode(iv, ptr+"/items")
	if err != nil {
		return nil, err
	}
	return &Array{Annotations: ann, Items: items}, nil
}
