package mapper

import (
	"fmt"
	"strings"

	"github.com/reoring/openrpc2proto/diag"
	"github.com/reoring/openrpc2proto/internal/ir"
	"github.com/reoring/openrpc2proto/internal/naming"
	"github.com/reoring/openrpc2proto/spec"
)

// OneofName is the group name of every synthesized union.
const OneofName = "value"

// buildEnum fills e from a string enum. Duplicate literals are dropped; two
// distinct literals with the same identifier are an error.
func buildEnum(e *ir.Enum, src *spec.Enum) error {
	seen := map[string]string{}
	for _, lit := range src.Values {
		id := naming.EnumValueName(lit)
		if prev, ok := seen[id]; ok {
			if prev == lit {
				continue
			}
			return &diag.Error{
				Code:    diag.CodeEnumNameCollision,
				Type:    e.Name,
				Path:    src.Pointer,
				Message: fmt.Sprintf("%q and %q both normalize to %s", prev, lit, id),
			}
		}
		seen[id] = lit
		e.Values = append(e.Values, ir.EnumValue{Name: id, Original: lit, Number: len(e.Values)})
	}
	if first := e.Values[0]; !defaultLike(first.Name) {
		e.Notes = append(e.Notes, fmt.Sprintf("%q is numbered 0 and doubles as the proto3 default", first.Original))
	}
	return nil
}

func defaultLike(id string) bool {
	for _, w := range []string{"UNKNOWN", "UNSPECIFIED", "NONE", "DEFAULT"} {
		if id == w || strings.HasSuffix(id, "_"+w) {
			return true
		}
	}
	return false
}

// buildOneOf turns an untagged union into a message with one oneof group.
// When every alternative is an object whose "type" property is pinned to a
// distinct literal, a discriminant enum and a type field are added after
// the group.
func (s *Scope) buildOneOf(msg *ir.Message, u *spec.OneOf) error {
	var members []*ir.Field
	folded := map[string]bool{}
	for i, mem := range u.Members {
		ctx := fmt.Sprintf("%sVariant%d", msg.Name, i+1)
		r, err := s.Resolve(mem, ctx)
		if err != nil {
			return err
		}
		switch {
		case r.Repeated:
			r = s.listWrapper(NodeKey(mem), ctx, r)
		case r.Type.IsMap():
			r = Resolved{Type: ir.WellKnownRef(ir.WellKnownStruct)}
		}
		base := fmt.Sprintf("%s_%d", naming.SnakeCase(altName(r.Type)), i+1)
		name := naming.Unique(base, "_", func(c string) bool { return folded[naming.FoldedKey(c)] })
		folded[naming.FoldedKey(name)] = true
		members = append(members, &ir.Field{
			Name:     name,
			JSONName: name,
			Type:     r.Type,
			Comment:  describe(mem.Annot()),
			Notes:    r.Notes,
		})
	}
	msg.AddOneof(OneofName, members...)

	lits, ok := s.discriminator(u)
	if !ok {
		return nil
	}
	e := &ir.Enum{Name: s.Claim(NodeKey(u)+"#type", msg.Name+"Type"), Comment: "Discriminant of " + msg.Name + ".", Origin: u.Pointer}
	s.mod.Add(e)
	if err := buildEnum(e, &spec.Enum{Annotations: spec.Annotations{Pointer: u.Pointer}, Values: lits}); err != nil {
		return err
	}
	s.AddField(msg, "type", Resolved{Type: s.Ref(e.Name)}, true, "")
	return nil
}

// altName names a union alternative after its mapped type.
func altName(t ir.TypeRef) string {
	switch t.Kind() {
	case ir.RefNamed:
		return t.Named.Name
	case ir.RefWellKnown:
		return strings.ToLower(t.WellKnown[strings.LastIndexByte(t.WellKnown, '.')+1:])
	case ir.RefMap:
		return "map"
	}
	return string(t.Scalar)
}

// discriminator returns the literal of each alternative's "type" property.
func (s *Scope) discriminator(u *spec.OneOf) ([]string, bool) {
	var lits []string
	seen := map[string]bool{}
	for _, mem := range u.Members {
		p := s.property(mem, "type", map[string]bool{})
		if p == nil {
			return nil, false
		}
		e, ok := s.enumOf(p, map[string]bool{})
		if !ok || len(e.Values) != 1 || seen[e.Values[0]] {
			return nil, false
		}
		seen[e.Values[0]] = true
		lits = append(lits, e.Values[0])
	}
	return lits, len(lits) > 1
}

// property finds a named property through refs and allOf fragments. The last
// fragment declaring it wins, matching the merge rule.
func (s *Scope) property(n spec.Node, name string, visiting map[string]bool) spec.Node {
	switch t := n.(type) {
	case *spec.Ref:
		if visiting[t.Target] {
			return nil
		}
		visiting[t.Target] = true
		target, ok := s.m.g.Resolve(t.Target)
		if !ok {
			return nil
		}
		return s.property(target, name, visiting)
	case *spec.Object:
		p, _ := t.Property(name)
		return p
	case *spec.AllOf:
		var found spec.Node
		for _, m := range t.Members {
			if p := s.property(m, name, visiting); p != nil {
				found = p
			}
		}
		return found
	}
	return nil
}

// enumOf follows refs and nullable wrappers to a string enum.
func (s *Scope) enumOf(n spec.Node, visiting map[string]bool) (*spec.Enum, bool) {
	switch t := n.(type) {
	case *spec.Enum:
		return t, true
	case *spec.Nullable:
		return s.enumOf(t.Inner, visiting)
	case *spec.Ref:
		if visiting[t.Target] {
			return nil, false
		}
		visiting[t.Target] = true
		target, ok := s.m.g.Resolve(t.Target)
		if !ok {
			return nil, false
		}
		return s.enumOf(target, visiting)
	}
	return nil, false
}

type fragment struct {
	obj   *spec.Object
	index int // position in the allOf list it came from

	// union is set instead of obj for a oneOf member, which is embedded as
	// one field named json.
	union spec.Node
	json  string
}

// NoteEmbedded marks an allOf member that a message cannot flatten.
const NoteEmbedded = "union embedded from allOf; its JSON properties sit on the parent"

type mergedProp struct {
	name string
	node spec.Node
	frag int
}

// buildAllOf merges the properties of every object fragment. A property
// declared again keeps its first position and takes the later schema; the
// required set is the union. Union fragments become one required field each.
func (s *Scope) buildAllOf(msg *ir.Message, all *spec.AllOf) error {
	var frags []fragment
	for i, mem := range all.Members {
		if err := s.flatten(mem, i, map[string]bool{}, &frags); err != nil {
			return err
		}
	}
	var props []mergedProp
	pos := map[string]int{}
	required := map[string]bool{}
	embedded := map[string]bool{}
	for _, fr := range frags {
		obj := fr.obj
		if fr.union != nil {
			obj = &spec.Object{Properties: []spec.Property{{Name: fr.json, Node: fr.union}}, Required: []string{fr.json}}
			embedded[fr.json] = true
		}
		for _, p := range obj.Properties {
			j, dup := pos[p.Name]
			if !dup {
				pos[p.Name] = len(props)
				props = append(props, mergedProp{name: p.Name, node: p.Node, frag: fr.index})
				continue
			}
			if !s.compatible(props[j].node, p.Node) {
				return &diag.Error{
					Code: diag.CodeConflictingFieldType,
					Type: msg.Name,
					Path: all.Pointer,
					Message: fmt.Sprintf("field %q: fragment %d declares %s, fragment %d declares %s",
						p.Name, props[j].frag, s.typeKey(props[j].node, map[string]bool{}), fr.index, s.typeKey(p.Node, map[string]bool{})),
				}
			}
			props[j].node, props[j].frag = p.Node, fr.index
		}
		for _, r := range obj.Required {
			required[r] = true
		}
	}
	merged := make([]spec.Property, len(props))
	for i, p := range props {
		merged[i] = spec.Property{Name: p.name, Node: p.node}
	}
	if err := s.buildObject(msg, merged, func(name string) bool { return required[name] }); err != nil {
		return err
	}
	for _, p := range props {
		if f := msg.FieldByJSON(p.name); embedded[p.name] && f != nil {
			f.Notes = append(f.Notes, NoteEmbedded)
		}
	}
	return nil
}

// flatten collects the object fragments of an allOf member, expanding refs
// and nested allOf lists. A union, inline or referenced, is kept whole.
func (s *Scope) flatten(n spec.Node, index int, visiting map[string]bool, out *[]fragment) error {
	switch t := n.(type) {
	case *spec.Object:
		*out = append(*out, fragment{obj: t, index: index})
		return nil
	case *spec.OneOf:
		*out = append(*out, fragment{union: t, json: OneofName, index: index})
		return nil
	case *spec.Nullable:
		return s.flatten(t.Inner, index, visiting, out)
	case *spec.AllOf:
		for _, m := range t.Members {
			if err := s.flatten(m, index, visiting, out); err != nil {
				return err
			}
		}
		return nil
	case *spec.Ref:
		if visiting[t.Target] {
			return &diag.Error{Code: diag.CodeUnsupportedSchemaConstruct, Path: t.Pointer, Message: fmt.Sprintf("allOf includes itself through %q", t.Target)}
		}
		target, ok := s.m.g.Resolve(t.Target)
		if !ok {
			return &diag.Error{Code: diag.CodeUnresolvedReference, Path: t.Pointer, Message: fmt.Sprintf("$ref target %q not found", t.Target)}
		}
		if body, _ := declBody(target); body.Kind() == spec.KindOneOf {
			*out = append(*out, fragment{union: t, json: naming.SnakeCase(naming.TypeName(t.Target)), index: index})
			return nil
		}
		visiting[t.Target] = true
		defer delete(visiting, t.Target)
		return s.flatten(target, index, visiting, out)
	}
	return &diag.Error{
		Code:    diag.CodeUnsupportedSchemaConstruct,
		Path:    n.Annot().Pointer,
		Message: fmt.Sprintf("allOf fragment %d is %s, not an object", index, n.Kind()),
	}
}

// compatible reports whether two declarations of one property may merge.
// Equal types merge; so does an enum narrowing a string or a wider enum.
func (s *Scope) compatible(a, b spec.Node) bool {
	ka, kb := s.typeKey(a, map[string]bool{}), s.typeKey(b, map[string]bool{})
	if ka == kb {
		return true
	}
	ea, aIsEnum := s.enumOf(a, map[string]bool{})
	eb, bIsEnum := s.enumOf(b, map[string]bool{})
	switch {
	case aIsEnum && bIsEnum:
		return subset(ea.Values, eb.Values) || subset(eb.Values, ea.Values)
	case aIsEnum:
		return kb == string(ir.String)
	case bIsEnum:
		return ka == string(ir.String)
	}
	return false
}

func subset(a, b []string) bool {
	in := map[string]bool{}
	for _, v := range b {
		in[v] = true
	}
	for _, v := range a {
		if !in[v] {
			return false
		}
	}
	return true
}

// typeKey renders the mapped type of n without synthesizing anything.
// Named dictionary types compare by name; aliases compare by what they
// expand to.
func (s *Scope) typeKey(n spec.Node, visiting map[string]bool) string {
	switch t := n.(type) {
	case *spec.Primitive:
		ref, _ := scalar(t)
		return ref.String()
	case *spec.Ref:
		target, ok := s.m.g.Resolve(t.Target)
		if !ok || visiting[t.Target] {
			return "ref:" + t.Target
		}
		if body, _ := declBody(target); isDecl(body) {
			return "ref:" + t.Target
		}
		visiting[t.Target] = true
		defer delete(visiting, t.Target)
		return s.typeKey(target, visiting)
	case *spec.Nullable:
		return s.typeKey(t.Inner, visiting)
	case *spec.Array:
		return "[]" + s.typeKey(t.Items, visiting)
	case *spec.Object:
		if len(t.Properties) == 0 {
			if t.Additional != nil {
				return "map<" + s.typeKey(t.Additional, visiting) + ">"
			}
			return ir.WellKnownStruct
		}
		parts := make([]string, len(t.Properties))
		for i, p := range t.Properties {
			parts[i] = p.Name + ":" + s.typeKey(p.Node, visiting)
		}
		return "{" + strings.Join(parts, ",") + "}"
	case *spec.Enum:
		return "enum[" + strings.Join(t.Values, ",") + "]"
	case *spec.OneOf:
		return "oneof(" + s.keys(t.Members, visiting) + ")"
	case *spec.AllOf:
		if len(t.Members) == 1 {
			return s.typeKey(t.Members[0], visiting)
		}
		return "allof(" + s.keys(t.Members, visiting) + ")"
	}
	return fmt.Sprintf("%T", n)
}

func (s *Scope) keys(ns []spec.Node, visiting map[string]bool) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = s.typeKey(n, visiting)
	}
	return strings.Join(parts, "|")
}
