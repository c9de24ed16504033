package ir

// Package ir defines the proto intermediate representation shared by the
// mapper, extractor, service builder and emitter. This package is internal
// and not part of the public API.

import (
	"sort"
	"strings"
)

// CommonNamespace holds types shared by more than one service namespace.
const CommonNamespace = "common"

// Well-known types used for raw JSON.
const (
	WellKnownStruct = "google.protobuf.Struct"
	WellKnownValue  = "google.protobuf.Value"
)

// Scalar is a proto scalar type name.
type Scalar string

const (
	String Scalar = "string"
	Int32  Scalar = "int32"
	Int64  Scalar = "int64"
	Double Scalar = "double"
	Bool   Scalar = "bool"
)

// RefKind identifies a TypeRef variant.
type RefKind int

const (
	RefScalar RefKind = iota
	RefNamed
	RefWellKnown
	RefMap
)

// Key addresses a declaration across namespaces.
type Key struct {
	Namespace string
	Name      string
}

func (k Key) String() string { return k.Namespace + "." + k.Name }

// TypeRef is the type of a field. Named types are referenced by key only, so
// declarations can move between namespaces without dangling pointers.
type TypeRef struct {
	Scalar    Scalar
	Named     Key
	WellKnown string
	MapValue  *TypeRef // map<string, *MapValue>
}

func ScalarRef(s Scalar) TypeRef       { return TypeRef{Scalar: s} }
func NamedRef(ns, name string) TypeRef { return TypeRef{Named: Key{Namespace: ns, Name: name}} }
func WellKnownRef(full string) TypeRef { return TypeRef{WellKnown: full} }
func MapRef(value TypeRef) TypeRef     { return TypeRef{MapValue: &value} }
func (t TypeRef) IsNamed() bool        { return t.Kind() == RefNamed }
func (t TypeRef) IsMap() bool          { return t.MapValue != nil }
func (t TypeRef) IsWellKnown() bool    { return t.WellKnown != "" }
func (t TypeRef) Equal(o TypeRef) bool { return t.String() == o.String() }

// Kind reports which variant t holds.
func (t TypeRef) Kind() RefKind {
	switch {
	case t.MapValue != nil:
		return RefMap
	case t.WellKnown != "":
		return RefWellKnown
	case t.Named.Name != "":
		return RefNamed
	}
	return RefScalar
}

// String renders t in a namespace-qualified form, e.g. map<string, main.Block>.
func (t TypeRef) String() string {
	switch t.Kind() {
	case RefMap:
		return "map<string, " + t.MapValue.String() + ">"
	case RefWellKnown:
		return t.WellKnown
	case RefNamed:
		return t.Named.String()
	}
	return string(t.Scalar)
}

// Field is one message field. Number is assigned when the field is added to
// its message and never changes afterwards.
type Field struct {
	Name     string
	JSONName string
	Type     TypeRef
	Number   int
	Repeated bool
	Optional bool
	Oneof    string // name of the containing OneofGroup, empty when none
	Comment  string // description pass-through
	Notes    []string
}

// OneofGroup is a set of fields of which at most one is set. Fields point
// into the owning Message's Fields.
type OneofGroup struct {
	Name   string
	Fields []*Field
}

// Decl is a top-level declaration: *Message or *Enum.
type Decl interface {
	DeclName() string
	isDecl()
}

// Message is a proto message. Fields are in declaration order; oneof members
// are included and appear contiguously.
type Message struct {
	Name    string
	Fields  []*Field
	Oneofs  []*OneofGroup
	Comment string
	Notes   []string
	Origin  string // pointer of the schema node it was built from
}

func (m *Message) DeclName() string { return m.Name }
func (*Message) isDecl()            {}

// Field returns the field with the given proto name.
func (m *Message) Field(name string) *Field {
	for _, f := range m.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FieldByJSON returns the field with the given json_name.
func (m *Message) FieldByJSON(json string) *Field {
	for _, f := range m.Fields {
		if f.JSONName == json {
			return f
		}
	}
	return nil
}

// Add appends f and assigns it the next field number.
func (m *Message) Add(f *Field) *Field {
	f.Number = len(m.Fields) + 1
	m.Fields = append(m.Fields, f)
	return f
}

// AddOneof appends fs as members of a new group named name.
func (m *Message) AddOneof(name string, fs ...*Field) *OneofGroup {
	g := &OneofGroup{Name: name}
	for _, f := range fs {
		f.Oneof = name
		f.Optional = false
		g.Fields = append(g.Fields, m.Add(f))
	}
	m.Oneofs = append(m.Oneofs, g)
	return g
}

// Oneof returns the named group.
func (m *Message) Oneof(name string) *OneofGroup {
	for _, g := range m.Oneofs {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// EnumValue is one enum constant. Original is the source literal.
type EnumValue struct {
	Name     string
	Original string
	Number   int
}

// Enum is a proto enum; the first value is number 0.
type Enum struct {
	Name    string
	Values  []EnumValue
	Comment string
	Notes   []string
	Origin  string
}

func (e *Enum) DeclName() string { return e.Name }
func (*Enum) isDecl()            {}

// RpcMethod is one service method.
type RpcMethod struct {
	Name            string
	Source          string // JSON-RPC method name
	Request         Key
	Response        Key
	ServerStreaming bool
	Deprecated      bool
	Comment         string
}

// Service groups the methods of one namespace.
type Service struct {
	Name    string
	Methods []*RpcMethod
	Comment string
}

// Module is the content of one namespace, declarations in introduction order.
type Module struct {
	Namespace string
	Decls     []Decl
	Service   *Service
	index     map[string]int
}

// Lookup returns the declaration named name.
func (m *Module) Lookup(name string) (Decl, bool) {
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.Decls[i], true
}

// Has reports whether name is declared in m.
func (m *Module) Has(name string) bool {
	_, ok := m.index[name]
	return ok
}

// Add appends d. It reports false and leaves m unchanged when the name is
// already declared.
func (m *Module) Add(d Decl) bool {
	if m.index == nil {
		m.index = map[string]int{}
	}
	if _, dup := m.index[d.DeclName()]; dup {
		return false
	}
	m.index[d.DeclName()] = len(m.Decls)
	m.Decls = append(m.Decls, d)
	return true
}

// Remove deletes the named declarations, keeping the order of the rest.
func (m *Module) Remove(names ...string) {
	drop := map[string]bool{}
	for _, n := range names {
		drop[n] = true
	}
	kept := m.Decls[:0]
	for _, d := range m.Decls {
		if !drop[d.DeclName()] {
			kept = append(kept, d)
		}
	}
	m.Decls = kept
	m.reindex()
}

// Rename changes a declaration's name in place. References are not touched;
// see ModuleSet.Rewrite.
func (m *Module) Rename(old, name string) bool {
	d, ok := m.Lookup(old)
	if !ok || m.Has(name) {
		return false
	}
	switch t := d.(type) {
	case *Message:
		t.Name = name
	case *Enum:
		t.Name = name
	}
	m.reindex()
	return true
}

func (m *Module) reindex() {
	m.index = make(map[string]int, len(m.Decls))
	for i, d := range m.Decls {
		m.index[d.DeclName()] = i
	}
}

// Empty reports whether m would produce no declarations.
func (m *Module) Empty() bool {
	return len(m.Decls) == 0 && (m.Service == nil || len(m.Service.Methods) == 0)
}

// Messages returns the message declarations in order.
func (m *Module) Messages() []*Message {
	var out []*Message
	for _, d := range m.Decls {
		if msg, ok := d.(*Message); ok {
			out = append(out, msg)
		}
	}
	return out
}

// Enums returns the enum declarations in order.
func (m *Module) Enums() []*Enum {
	var out []*Enum
	for _, d := range m.Decls {
		if e, ok := d.(*Enum); ok {
			out = append(out, e)
		}
	}
	return out
}

// ModuleSet owns every module of one run.
type ModuleSet struct {
	modules map[string]*Module
	order   []string
}

func NewModuleSet() *ModuleSet { return &ModuleSet{modules: map[string]*Module{}} }

// Module returns the module for ns, creating it on first use.
func (s *ModuleSet) Module(ns string) *Module {
	if m, ok := s.modules[ns]; ok {
		return m
	}
	m := &Module{Namespace: ns, index: map[string]int{}}
	s.modules[ns] = m
	s.order = append(s.order, ns)
	return m
}

// Get returns the module for ns without creating it.
func (s *ModuleSet) Get(ns string) (*Module, bool) {
	m, ok := s.modules[ns]
	return m, ok
}

// Namespaces lists namespaces with CommonNamespace first, then in creation
// order.
func (s *ModuleSet) Namespaces() []string {
	out := make([]string, 0, len(s.order))
	if _, ok := s.modules[CommonNamespace]; ok {
		out = append(out, CommonNamespace)
	}
	for _, ns := range s.order {
		if ns != CommonNamespace {
			out = append(out, ns)
		}
	}
	return out
}

// Resolve returns the declaration addressed by k.
func (s *ModuleSet) Resolve(k Key) (Decl, bool) {
	m, ok := s.modules[k.Namespace]
	if !ok {
		return nil, false
	}
	return m.Lookup(k.Name)
}

// VisitRefs calls fn for every TypeRef held by a field in s, map values
// included.
func (s *ModuleSet) VisitRefs(fn func(ns string, owner *Message, ref *TypeRef)) {
	for _, ns := range s.Namespaces() {
		m := s.modules[ns]
		for _, msg := range m.Messages() {
			for _, f := range msg.Fields {
				for r := &f.Type; r != nil; r = r.MapValue {
					fn(ns, msg, r)
				}
			}
		}
	}
}

// Rewrite points every reference to from at to, service methods included.
func (s *ModuleSet) Rewrite(from, to Key) {
	s.VisitRefs(func(_ string, _ *Message, r *TypeRef) {
		if r.Kind() == RefNamed && r.Named == from {
			r.Named = to
		}
	})
	for _, m := range s.modules {
		if m.Service == nil {
			continue
		}
		for _, rpc := range m.Service.Methods {
			if rpc.Request == from {
				rpc.Request = to
			}
			if rpc.Response == from {
				rpc.Response = to
			}
		}
	}
}

// Dependencies returns the distinct named keys a declaration refers to,
// sorted.
func Dependencies(d Decl) []Key {
	msg, ok := d.(*Message)
	if !ok {
		return nil
	}
	seen := map[Key]bool{}
	var out []Key
	for _, f := range msg.Fields {
		for r := &f.Type; r != nil; r = r.MapValue {
			if r.Kind() == RefNamed && !seen[r.Named] {
				seen[r.Named] = true
				out = append(out, r.Named)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Shape renders the local structure of d, with every named reference
// replaced by placeholder(key). Comments are not part of the shape.
func Shape(d Decl, placeholder func(Key) string) string {
	var b strings.Builder
	switch t := d.(type) {
	case *Enum:
		b.WriteString("enum{")
		for _, v := range t.Values {
			b.WriteString(v.Name)
			b.WriteByte('=')
			b.WriteString(v.Original)
			b.WriteByte(';')
		}
	case *Message:
		b.WriteString("message{")
		for _, f := range t.Fields {
			b.WriteString(f.Name)
			b.WriteByte('|')
			b.WriteString(f.JSONName)
			b.WriteByte('|')
			b.WriteString(shapeRef(f.Type, placeholder))
			b.WriteByte('|')
			if f.Repeated {
				b.WriteString("rep")
			}
			if f.Optional {
				b.WriteString("opt")
			}
			b.WriteByte('|')
			b.WriteString(f.Oneof)
			b.WriteByte('|')
			b.WriteString(strings.Join(f.Notes, ","))
			b.WriteByte(';')
		}
		b.WriteString("}notes{")
		b.WriteString(strings.Join(t.Notes, ","))
	}
	b.WriteByte('}')
	return b.String()
}

func shapeRef(t TypeRef, placeholder func(Key) string) string {
	switch t.Kind() {
	case RefMap:
		return "map<" + shapeRef(*t.MapValue, placeholder) + ">"
	case RefNamed:
		return placeholder(t.Named)
	}
	return t.String()
}
