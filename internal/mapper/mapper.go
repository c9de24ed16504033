// Package mapper converts schema nodes into proto IR declarations, one
// namespace at a time.
package mapper

import (
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"regexp"

	"github.com/reoring/openrpc2proto/diag"
	"github.com/reoring/openrpc2proto/internal/graph"
	"github.com/reoring/openrpc2proto/internal/ir"
	"github.com/reoring/openrpc2proto/internal/naming"
	"github.com/reoring/openrpc2proto/spec"
)

// NoteHex marks strings that carry a 0x-prefixed hex value.
const NoteHex = "hex-encoded value"

var (
	minInt32 = big.NewInt(-1 << 31)
	maxInt32 = big.NewInt(1<<31 - 1)

	hexPattern = regexp.MustCompile(`^\^0x.*\[[^\]]*(a-f|A-F)`)
)

// Mapper maps the dictionary of one VersionedSpec into a ModuleSet.
type Mapper struct {
	vs     *spec.VersionedSpec
	g      *graph.Graph
	set    *ir.ModuleSet
	log    *slog.Logger
	scopes map[string]*Scope
	names  map[string]string // naming key → declaration name
	owners map[string]string // declaration name → naming key
}

// New returns a Mapper writing into set. A nil logger discards output.
func New(vs *spec.VersionedSpec, g *graph.Graph, set *ir.ModuleSet, log *slog.Logger) *Mapper {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Mapper{
		vs:     vs,
		g:      g,
		set:    set,
		log:    log,
		scopes: map[string]*Scope{},
		names:  map[string]string{},
		owners: map[string]string{},
	}
}

// Resolved is the use-site form of a schema node.
type Resolved struct {
	Type     ir.TypeRef
	Repeated bool
	Nullable bool
	Notes    []string
}

// Scope is the mapping state of one namespace. Service synthesis reuses it so
// inline method schemas share name reservation with dictionary types.
type Scope struct {
	m        *Mapper
	ns       string
	mod      *ir.Module
	reserved map[string]bool
	named    map[string]string // dictionary name → declaration name
	nullable map[string]bool   // dictionary entries wrapped in Nullable
	aliases  map[string]Resolved
	aliasing map[string]bool
	nodes    map[spec.Node]Resolved
}

// Scope returns the scope of ns, creating it (and its module) on first use.
func (m *Mapper) Scope(ns string) *Scope {
	if s, ok := m.scopes[ns]; ok {
		return s
	}
	s := &Scope{
		m:        m,
		ns:       ns,
		mod:      m.set.Module(ns),
		reserved: map[string]bool{},
		named:    map[string]string{},
		nullable: map[string]bool{},
		aliases:  map[string]Resolved{},
		aliasing: map[string]bool{},
		nodes:    map[spec.Node]Resolved{},
	}
	for _, d := range s.mod.Decls {
		s.reserved[d.DeclName()] = true
	}
	m.scopes[ns] = s
	return s
}

// MapNamespace maps every dictionary type reachable from roots into ns.
// Types are visited in topological order; names of all declarations are
// reserved first, so references inside a cycle resolve by name.
func (m *Mapper) MapNamespace(ns string, roots []string) error {
	s := m.Scope(ns)
	order := m.g.Reachable(roots...)
	var decls []string
	for _, name := range order {
		if _, done := s.named[name]; done {
			continue
		}
		n, _ := m.g.Resolve(name)
		body, nullable := declBody(n)
		if !isDecl(body) {
			continue
		}
		s.named[name] = s.Claim(SchemaKey(name), naming.TypeName(name))
		s.nullable[name] = nullable
		decls = append(decls, name)
	}
	for _, name := range decls {
		if err := s.buildEntry(name); err != nil {
			return diag.InNamespace(err, ns)
		}
	}
	m.log.Debug("namespace mapped", "namespace", ns, "reachable", len(order), "declarations", len(s.mod.Decls))
	return nil
}

// Namespace returns the namespace this scope writes into.
func (s *Scope) Namespace() string { return s.ns }

// Module returns the module this scope writes into.
func (s *Scope) Module() *ir.Module { return s.mod }

// Claim returns the declaration name of key, deriving one from base on first
// use. Names are allocated per run: a key keeps its name in every namespace
// and no two keys share one, so a type reached from several namespaces is
// declared identically in each.
func (s *Scope) Claim(key, base string) string {
	name, ok := s.m.names[key]
	if !ok {
		name = naming.Unique(base, "", func(c string) bool {
			_, owned := s.m.owners[c]
			return owned || s.reserved[c] || s.mod.Has(c)
		})
		s.m.names[key], s.m.owners[name] = name, key
	}
	s.reserved[name] = true
	return name
}

// NewMessage claims the name of key and adds an empty message under it.
func (s *Scope) NewMessage(key, base string) *ir.Message {
	msg := &ir.Message{Name: s.Claim(key, base)}
	s.mod.Add(msg)
	return msg
}

// SchemaKey is the naming key of a dictionary type.
func SchemaKey(name string) string { return "schema:" + name }

// NodeKey is the naming key of an inline schema node: its kind and JSON
// pointer, or its identity when it has no pointer. Members of a type list
// share their parent's pointer but never its kind.
func NodeKey(n spec.Node) string {
	if p := n.Annot().Pointer; p != "" {
		return fmt.Sprintf("node:%s:%s", n.Kind(), p)
	}
	return fmt.Sprintf("node:%p", n)
}

// Ref returns a reference to a declaration of this namespace.
func (s *Scope) Ref(name string) ir.TypeRef { return ir.NamedRef(s.ns, name) }

// AddField appends a field for the JSON property json. Repeated and map
// fields are never optional; other fields are optional when nullable or not
// required.
func (s *Scope) AddField(msg *ir.Message, json string, r Resolved, required bool, comment string) *ir.Field {
	f := &ir.Field{
		Name:     UniqueFieldName(msg, naming.FieldName(json)),
		JSONName: json,
		Type:     r.Type,
		Repeated: r.Repeated,
		Comment:  comment,
		Notes:    r.Notes,
	}
	f.Optional = !f.Repeated && !f.Type.IsMap() && (r.Nullable || !required)
	return msg.Add(f)
}

// UniqueFieldName de-duplicates name against msg's fields the way protoc
// compares proto3 names: lowercased with underscores removed.
func UniqueFieldName(msg *ir.Message, name string) string {
	return naming.Unique(name, "_", func(c string) bool {
		k := naming.FoldedKey(c)
		for _, f := range msg.Fields {
			if naming.FoldedKey(f.Name) == k {
				return true
			}
		}
		return false
	})
}

func (s *Scope) buildEntry(name string) error {
	n, _ := s.m.g.Resolve(name)
	body, _ := declBody(n)
	declName := s.named[name]
	err := s.buildDecl(declName, body, n.Annot())
	if err != nil {
		if d, ok := diag.As(err); ok {
			return d.ForType(declName, n.Annot().Pointer)
		}
		return err
	}
	return nil
}

// buildDecl adds the declaration for body under an already reserved name.
func (s *Scope) buildDecl(name string, body spec.Node, ann *spec.Annotations) error {
	comment := describe(ann, body.Annot())
	switch b := body.(type) {
	case *spec.Enum:
		e := &ir.Enum{Name: name, Comment: comment, Origin: b.Pointer}
		s.mod.Add(e)
		return buildEnum(e, b)
	case *spec.Object:
		msg := &ir.Message{Name: name, Comment: comment, Origin: b.Pointer}
		s.mod.Add(msg)
		return s.buildObject(msg, b.Properties, b.IsRequired)
	case *spec.OneOf:
		msg := &ir.Message{Name: name, Comment: comment, Origin: b.Pointer}
		s.mod.Add(msg)
		return s.buildOneOf(msg, b)
	case *spec.AllOf:
		msg := &ir.Message{Name: name, Comment: comment, Origin: b.Pointer}
		s.mod.Add(msg)
		return s.buildAllOf(msg, b)
	}
	return &diag.Error{Code: diag.CodeUnsupportedSchemaConstruct, Path: body.Annot().Pointer, Message: fmt.Sprintf("%s cannot be declared", body.Kind())}
}

func (s *Scope) buildObject(msg *ir.Message, props []spec.Property, required func(string) bool) error {
	for _, p := range props {
		r, err := s.Resolve(p.Node, msg.Name+naming.TypeName(p.Name))
		if err != nil {
			return err
		}
		s.AddField(msg, p.Name, r, required(p.Name), describe(p.Node.Annot()))
	}
	return nil
}

// Resolve returns the use-site type of n. Inline declarations are named
// after ctx.
func (s *Scope) Resolve(n spec.Node, ctx string) (Resolved, error) {
	if r, ok := s.nodes[n]; ok {
		return r, nil
	}
	r, err := s.resolve(n, ctx)
	if err != nil {
		return Resolved{}, err
	}
	s.nodes[n] = r
	return r, nil
}

func (s *Scope) resolve(n spec.Node, ctx string) (Resolved, error) {
	switch t := n.(type) {
	case *spec.Primitive:
		ref, notes := scalar(t)
		return Resolved{Type: ref, Notes: notes}, nil

	case *spec.Ref:
		return s.resolveRef(t, ctx)

	case *spec.Nullable:
		r, err := s.Resolve(t.Inner, ctx)
		if err != nil {
			return Resolved{}, err
		}
		r.Nullable = true
		return r, nil

	case *spec.Array:
		item, err := s.Resolve(t.Items, ctx)
		if err != nil {
			return Resolved{}, err
		}
		switch {
		case item.Repeated:
			item = s.listWrapper(NodeKey(t)+"#items", ctx, item)
		case item.Type.IsMap():
			item = Resolved{Type: ir.WellKnownRef(ir.WellKnownStruct)}
		}
		return Resolved{Type: item.Type, Repeated: true, Notes: item.Notes}, nil

	case *spec.Object:
		if len(t.Properties) > 0 {
			msg := s.NewMessage(NodeKey(t), ctx)
			msg.Comment, msg.Origin = describe(t.Annot()), t.Pointer
			if err := s.buildObject(msg, t.Properties, t.IsRequired); err != nil {
				return Resolved{}, err
			}
			return Resolved{Type: s.Ref(msg.Name)}, nil
		}
		return s.openObject(t, ctx)

	case *spec.Enum:
		e := &ir.Enum{Name: s.Claim(NodeKey(t), ctx), Comment: describe(t.Annot()), Origin: t.Pointer}
		s.mod.Add(e)
		if err := buildEnum(e, t); err != nil {
			return Resolved{}, err
		}
		return Resolved{Type: s.Ref(e.Name)}, nil

	case *spec.OneOf:
		msg := s.NewMessage(NodeKey(t), ctx)
		msg.Comment, msg.Origin = describe(t.Annot()), t.Pointer
		if err := s.buildOneOf(msg, t); err != nil {
			return Resolved{}, err
		}
		return Resolved{Type: s.Ref(msg.Name)}, nil

	case *spec.AllOf:
		if len(t.Members) == 1 {
			return s.Resolve(t.Members[0], ctx)
		}
		msg := s.NewMessage(NodeKey(t), ctx)
		msg.Comment, msg.Origin = describe(t.Annot()), t.Pointer
		if err := s.buildAllOf(msg, t); err != nil {
			return Resolved{}, err
		}
		return Resolved{Type: s.Ref(msg.Name)}, nil
	}
	return Resolved{}, &diag.Error{Code: diag.CodeUnsupportedSchemaConstruct, Path: n.Annot().Pointer, Message: fmt.Sprintf("no rule for %T", n)}
}

func (s *Scope) resolveRef(t *spec.Ref, ctx string) (Resolved, error) {
	if name, ok := s.named[t.Target]; ok {
		return Resolved{Type: s.Ref(name), Nullable: s.nullable[t.Target]}, nil
	}
	if r, ok := s.aliases[t.Target]; ok {
		return r, nil
	}
	target, ok := s.m.g.Resolve(t.Target)
	if !ok {
		return Resolved{}, &diag.Error{Code: diag.CodeUnresolvedReference, Path: t.Pointer, Message: fmt.Sprintf("$ref target %q not found", t.Target)}
	}
	if body, nullable := declBody(target); isDecl(body) {
		// Reached from a scope that did not map the target's closure: map it now.
		s.named[t.Target] = s.Claim(SchemaKey(t.Target), naming.TypeName(t.Target))
		s.nullable[t.Target] = nullable
		if err := s.buildEntry(t.Target); err != nil {
			return Resolved{}, err
		}
		return s.resolveRef(t, ctx)
	}
	if s.aliasing[t.Target] {
		return Resolved{}, &diag.Error{
			Code:    diag.CodeUnsupportedSchemaConstruct,
			Type:    t.Target,
			Path:    t.Pointer,
			Message: "reference cycle through alias types that never reaches a message",
		}
	}
	s.aliasing[t.Target] = true
	defer delete(s.aliasing, t.Target)
	r, err := s.Resolve(target, naming.TypeName(t.Target))
	if err != nil {
		return Resolved{}, err
	}
	s.aliases[t.Target] = r
	return r, nil
}

// openObject maps an object without fixed properties. A homogeneous
// additionalProperties becomes map<string, T>; anything else is raw JSON.
func (s *Scope) openObject(t *spec.Object, ctx string) (Resolved, error) {
	if t.Additional == nil {
		return Resolved{Type: ir.WellKnownRef(ir.WellKnownStruct)}, nil
	}
	v, err := s.Resolve(t.Additional, ctx+"Value")
	if err != nil {
		return Resolved{}, err
	}
	if v.Repeated || v.Type.IsMap() {
		return Resolved{Type: ir.WellKnownRef(ir.WellKnownStruct)}, nil
	}
	return Resolved{Type: ir.MapRef(v.Type), Notes: v.Notes}, nil
}

// listWrapper boxes a repeated type so it can be nested in another repeated
// field or a oneof.
func (s *Scope) listWrapper(key, ctx string, item Resolved) Resolved {
	msg := s.NewMessage(key+"#list", ctx+"List")
	item.Nullable = false
	s.AddField(msg, "items", item, true, "")
	return Resolved{Type: s.Ref(msg.Name)}
}

// scalar applies the primitive mapping table.
func scalar(p *spec.Primitive) (ir.TypeRef, []string) {
	switch p.Type {
	case spec.String:
		if hexPattern.MatchString(p.Pattern) {
			return ir.ScalarRef(ir.String), []string{NoteHex}
		}
		return ir.ScalarRef(ir.String), nil
	case spec.Integer:
		switch p.Format {
		case "int32":
			return ir.ScalarRef(ir.Int32), nil
		case "int64":
			return ir.ScalarRef(ir.Int64), nil
		}
		if fitsInt32(p.Minimum) && fitsInt32(p.Maximum) {
			return ir.ScalarRef(ir.Int32), nil
		}
		return ir.ScalarRef(ir.Int64), nil
	case spec.Number:
		return ir.ScalarRef(ir.Double), nil
	case spec.Boolean:
		return ir.ScalarRef(ir.Bool), nil
	}
	return ir.WellKnownRef(ir.WellKnownValue), nil
}

// fitsInt32 is false for a missing bound: int32 needs both ends pinned.
func fitsInt32(b *big.Int) bool {
	return b != nil && b.Cmp(minInt32) >= 0 && b.Cmp(maxInt32) <= 0
}

// declBody strips wrappers that do not change a declaration's shape.
func declBody(n spec.Node) (spec.Node, bool) {
	nullable := false
	for {
		switch t := n.(type) {
		case *spec.Nullable:
			n, nullable = t.Inner, true
			continue
		case *spec.AllOf:
			if len(t.Members) == 1 {
				if _, isRef := t.Members[0].(*spec.Ref); !isRef {
					n = t.Members[0]
					continue
				}
			}
		}
		return n, nullable
	}
}

// isDecl reports whether a dictionary body becomes a named declaration.
// Everything else is an alias inlined at its use sites.
func isDecl(n spec.Node) bool {
	switch t := n.(type) {
	case *spec.Object:
		return len(t.Properties) > 0
	case *spec.Enum, *spec.OneOf:
		return true
	case *spec.AllOf:
		return len(t.Members) > 1
	}
	return false
}

// describe returns the first non-empty description or title.
func describe(anns ...*spec.Annotations) string {
	for _, a := range anns {
		if a != nil && a.Description != "" {
			return a.Description
		}
	}
	for _, a := range anns {
		if a != nil && a.Title != "" {
			return a.Title
		}
	}
	return ""
}
