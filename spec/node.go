package spec

import "math/big"

// Kind identifies a schema node variant.
type Kind int

const (
	KindPrimitive Kind = iota
	KindObject
	KindArray
	KindEnum
	KindOneOf
	KindAllOf
	KindRef
	KindNullable
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindEnum:
		return "enum"
	case KindOneOf:
		return "oneOf"
	case KindAllOf:
		return "allOf"
	case KindRef:
		return "ref"
	case KindNullable:
		return "nullable"
	}
	return "unknown"
}

// Node is one decoded JSON-Schema fragment. The set of implementations is
// closed: *Primitive, *Object, *Array, *Enum, *OneOf, *AllOf, *Ref and
// *Nullable. Nodes are immutable once Load returns.
type Node interface {
	Kind() Kind
	Annot() *Annotations
	isNode()
}

// Annotations carries the non-semantic parts of a node.
type Annotations struct {
	Pointer     string // source name plus JSON pointer, e.g. main.json#/components/schemas/FELT
	Title       string
	Description string
	// Stream marks a result schema declared as a continuing feed (x-stream: true).
	Stream bool
}

func (a *Annotations) Annot() *Annotations { return a }

// PrimitiveKind selects the JSON primitive type.
type PrimitiveKind int

const (
	String PrimitiveKind = iota
	Integer
	Number
	Boolean
	// Any is the empty schema: any JSON value.
	Any
)

func (p PrimitiveKind) String() string {
	switch p {
	case String:
		return "string"
	case Integer:
		return "integer"
	case Number:
		return "number"
	case Boolean:
		return "boolean"
	case Any:
		return "any"
	}
	return "unknown"
}

// Primitive is a scalar with optional refinements.
type Primitive struct {
	Annotations
	Type    PrimitiveKind
	Pattern string
	Format  string
	Minimum *big.Int // nil when unbounded
	Maximum *big.Int // nil when unbounded
}

// Property is one named member of an object, in declaration order.
type Property struct {
	Name string
	Node Node
}

// Object is a JSON object. Open objects carry no fixed property set.
type Object struct {
	Annotations
	Properties []Property
	Required   []string
	// Additional is the additionalProperties schema, when one was given.
	Additional Node
	// Closed is true when additionalProperties is false.
	Closed bool
}

// IsRequired reports whether name appears in the required list.
func (o *Object) IsRequired(name string) bool {
	for _, r := range o.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Open reports whether o has no fixed property set.
func (o *Object) Open() bool { return len(o.Properties) == 0 }

// Property returns the named property node.
func (o *Object) Property(name string) (Node, bool) {
	for _, p := range o.Properties {
		if p.Name == name {
			return p.Node, true
		}
	}
	return nil, false
}

// Array is an ordered list of Items.
type Array struct {
	Annotations
	Items Node
}

// Enum is a string enumeration, values in declaration order.
type Enum struct {
	Annotations
	Values []string
}

// OneOf is an untagged union; exactly one member applies.
type OneOf struct {
	Annotations
	Members []Node
}

// AllOf is an intersection of object fragments.
type AllOf struct {
	Annotations
	Members []Node
}

// Ref points at a named dictionary entry.
type Ref struct {
	Annotations
	Target string
}

// Nullable admits null in addition to Inner.
type Nullable struct {
	Annotations
	Inner Node
}

func (*Primitive) Kind() Kind { return KindPrimitive }
func (*Object) Kind() Kind    { return KindObject }
func (*Array) Kind() Kind     { return KindArray }
func (*Enum) Kind() Kind      { return KindEnum }
func (*OneOf) Kind() Kind     { return KindOneOf }
func (*AllOf) Kind() Kind     { return KindAllOf }
func (*Ref) Kind() Kind       { return KindRef }
func (*Nullable) Kind() Kind  { return KindNullable }

func (*Primitive) isNode() {}
func (*Object) isNode()    {}
func (*Array) isNode()     {}
func (*Enum) isNode()      {}
func (*OneOf) isNode()     {}
func (*AllOf) isNode()     {}
func (*Ref) isNode()       {}
func (*Nullable) isNode()  {}

// Walk calls fn for n and every node nested inside it, depth first. Ref
// targets are not followed.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch t := n.(type) {
	case *Object:
		for _, p := range t.Properties {
			Walk(p.Node, fn)
		}
		Walk(t.Additional, fn)
	case *Array:
		Walk(t.Items, fn)
	case *OneOf:
		for _, m := range t.Members {
			Walk(m, fn)
		}
	case *AllOf:
		for _, m := range t.Members {
			Walk(m, fn)
		}
	case *Nullable:
		Walk(t.Inner, fn)
	}
}

// Refs returns the distinct ref targets nested in n, in first-seen order.
func Refs(n Node) []*Ref {
	var out []*Ref
	Walk(n, func(x Node) {
		if r, ok := x.(*Ref); ok {
			out = append(out, r)
		}
	})
	return out
}
