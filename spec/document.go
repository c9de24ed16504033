// Package spec loads OpenRPC-style method documents into an immutable
// VersionedSpec: an ordered method list plus a dictionary of decoded schema
// nodes keyed by name.
package spec

// ParamStructure is the JSON-RPC params layout a method accepts.
type ParamStructure string

const (
	ByName     ParamStructure = "by-name"
	ByPosition ParamStructure = "by-position"
	Either     ParamStructure = "either"
)

// ContentDescriptor describes one method parameter or result.
type ContentDescriptor struct {
	Name        string
	Summary     string
	Description string
	Required    bool
	Schema      Node
}

// ErrorDecl is one JSON-RPC error a method may return.
type ErrorDecl struct {
	Name    string // dictionary key; empty for inline errors
	Code    int64
	Message string
	Data    Node // optional
}

// MethodDecl is a single RPC method.
type MethodDecl struct {
	Name        string
	Namespace   string
	Summary     string
	Description string
	Deprecated  bool

	ParamStructure ParamStructure
	Params         []ContentDescriptor
	Result         *ContentDescriptor // nil for methods without a result
	Errors         []ErrorDecl

	// Streaming is set by x-streaming: true.
	Streaming bool
	// Notification is the per-event payload schema from x-notification.
	Notification Node
}

// VersionedSpec is the merged, read-only view of every document of one
// specification version.
type VersionedSpec struct {
	Version    string
	Title      string
	Namespaces []string // in first-seen order
	Methods    []MethodDecl
	Schemas    map[string]Node
	Names      []string // schema names in declaration order
	Errors     map[string]*ErrorDecl
}

// Schema returns the named dictionary entry.
func (vs *VersionedSpec) Schema(name string) (Node, bool) {
	n, ok := vs.Schemas[name]
	return n, ok
}

// MethodsIn returns the methods of one namespace in declaration order.
func (vs *VersionedSpec) MethodsIn(ns string) []MethodDecl {
	var out []MethodDecl
	for _, m := range vs.Methods {
		if m.Namespace == ns {
			out = append(out, m)
		}
	}
	return out
}

// Roots returns every schema node a method hangs off, in a fixed order:
// params, result, error data, notification.
func (m *MethodDecl) Roots() []Node {
	var out []Node
	for _, p := range m.Params {
		out = append(out, p.Schema)
	}
	if m.Result != nil {
		out = append(out, m.Result.Schema)
	}
	for _, e := range m.Errors {
		if e.Data != nil {
			out = append(out, e.Data)
		}
	}
	if m.Notification != nil {
		out = append(out, m.Notification)
	}
	return out
}
