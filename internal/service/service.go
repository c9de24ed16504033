// Package service turns JSON-RPC methods into proto services with
// synthesized request, response and event messages.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/reoring/openrpc2proto/diag"
	"github.com/reoring/openrpc2proto/internal/graph"
	"github.com/reoring/openrpc2proto/internal/ir"
	"github.com/reoring/openrpc2proto/internal/mapper"
	"github.com/reoring/openrpc2proto/internal/naming"
	"github.com/reoring/openrpc2proto/spec"
)

// ErrorMessage is the name of the per-namespace JSON-RPC error envelope.
const ErrorMessage = "RpcError"

// Options configures naming.
type Options struct {
	Product string
	// MethodPrefix is stripped from method names. Empty means Product+"_".
	MethodPrefix string
}

func (o Options) prefix() string {
	if o.MethodPrefix != "" {
		return o.MethodPrefix
	}
	if o.Product == "" {
		return ""
	}
	return o.Product + "_"
}

// Builder adds one service per namespace.
type Builder struct {
	vs   *spec.VersionedSpec
	m    *mapper.Mapper
	opts Options
	log  *slog.Logger
}

// New returns a Builder. A nil logger discards output.
func New(vs *spec.VersionedSpec, m *mapper.Mapper, opts Options, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{vs: vs, m: m, opts: opts, log: log}
}

// Roots lists the dictionary types the methods of ns reach directly through
// params, results and notifications, in first-seen order. Error data
// schemas are not included: the error envelope carries them as raw JSON.
func Roots(vs *spec.VersionedSpec, ns string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(n spec.Node) {
		if n == nil {
			return
		}
		for _, t := range graph.Targets(n) {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	for _, m := range vs.MethodsIn(ns) {
		for _, p := range m.Params {
			add(p.Schema)
		}
		if m.Result != nil {
			add(m.Result.Schema)
		}
		add(m.Notification)
	}
	return out
}

// IsStreaming reports whether a method is server-streaming: flagged as such,
// returning a stream-annotated result, named subscribe*, or naming a stream.
func IsStreaming(m *spec.MethodDecl, prefix string) bool {
	if m.Streaming {
		return true
	}
	if m.Result != nil && m.Result.Schema != nil && m.Result.Schema.Annot().Stream {
		return true
	}
	name := strings.ToLower(strings.TrimPrefix(m.Name, prefix))
	return strings.HasPrefix(name, "subscribe") || strings.Contains(name, "stream")
}

// Build synthesizes the service of ns and attaches it to the namespace
// module. Namespaces without methods get no service.
func (b *Builder) Build(ns string) (*ir.Service, error) {
	methods := b.vs.MethodsIn(ns)
	if len(methods) == 0 {
		return nil, nil
	}
	s := b.m.Scope(ns)
	svc := &ir.Service{
		Name:    naming.Pascal(b.opts.Product) + naming.Pascal(ns) + "Service",
		Comment: serviceComment(b.vs, ns),
	}
	errName := ""
	taken := map[string]bool{}
	for i := range methods {
		md := &methods[i]
		if errName == "" {
			errName = b.errorEnvelope(s)
		}
		rpc, err := b.method(s, md, errName, taken)
		if err != nil {
			return nil, diag.InNamespace(err, ns)
		}
		svc.Methods = append(svc.Methods, rpc)
	}
	s.Module().Service = svc
	b.log.Debug("service built", "namespace", ns, "service", svc.Name, "methods", len(svc.Methods))
	return svc, nil
}

func (b *Builder) method(s *mapper.Scope, md *spec.MethodDecl, errName string, taken map[string]bool) (*ir.RpcMethod, error) {
	name := naming.Unique(naming.RPCName(md.Name, b.opts.prefix()), "", func(c string) bool { return taken[c] })
	taken[name] = true
	rpc := &ir.RpcMethod{
		Name:            name,
		Source:          md.Name,
		ServerStreaming: IsStreaming(md, b.opts.prefix()),
		Deprecated:      md.Deprecated,
		Comment:         methodComment(md),
	}

	req := s.NewMessage("rpc:"+md.Name+"#request", name+"Request")
	req.Comment = "Request message for " + md.Name
	for _, p := range md.Params {
		r, err := s.Resolve(p.Schema, req.Name+naming.TypeName(p.Name))
		if err != nil {
			return nil, forMethod(err, req.Name, p.Schema)
		}
		s.AddField(req, p.Name, r, p.Required, paramComment(p))
	}
	rpc.Request = ir.Key{Namespace: s.Namespace(), Name: req.Name}

	suffix, payload := "Response", md.Result
	if rpc.ServerStreaming {
		suffix = "Event"
		if md.Notification != nil {
			payload = &spec.ContentDescriptor{Name: "result", Required: true, Schema: md.Notification}
		}
	}
	resp := s.NewMessage("rpc:"+md.Name+"#"+suffix, name+suffix)
	resp.Comment = suffix + " message for " + md.Name
	if payload != nil {
		r, err := s.Resolve(payload.Schema, resp.Name+"Result")
		if err != nil {
			return nil, forMethod(err, resp.Name, payload.Schema)
		}
		s.AddField(resp, "result", r, true, paramComment(*payload))
	}
	s.AddField(resp, "error", mapper.Resolved{Type: s.Ref(errName)}, false, "Set when the call failed.")
	rpc.Response = ir.Key{Namespace: s.Namespace(), Name: resp.Name}
	return rpc, nil
}

// errorEnvelope declares the JSON-RPC error object of one namespace.
func (b *Builder) errorEnvelope(s *mapper.Scope) string {
	msg := s.NewMessage("rpc-error", ErrorMessage)
	msg.Comment = "JSON-RPC error object."
	s.AddField(msg, "code", mapper.Resolved{Type: ir.ScalarRef(ir.Int32)}, true, "")
	s.AddField(msg, "message", mapper.Resolved{Type: ir.ScalarRef(ir.String)}, true, "")
	s.AddField(msg, "data", mapper.Resolved{Type: ir.WellKnownRef(ir.WellKnownValue)}, false, "")
	return msg.Name
}

func forMethod(err error, name string, n spec.Node) error {
	if d, ok := diag.As(err); ok {
		return d.ForType(name, n.Annot().Pointer)
	}
	return err
}

func serviceComment(vs *spec.VersionedSpec, ns string) string {
	title := vs.Title
	if title == "" {
		title = "API"
	}
	return fmt.Sprintf("%s %s methods.", title, ns)
}

func paramComment(p spec.ContentDescriptor) string {
	if p.Description != "" {
		return p.Description
	}
	if p.Summary != "" {
		return p.Summary
	}
	if p.Schema != nil {
		a := p.Schema.Annot()
		if a.Description != "" {
			return a.Description
		}
		return a.Title
	}
	return ""
}

// methodComment joins summary, description and the declared errors.
func methodComment(md *spec.MethodDecl) string {
	var parts []string
	if md.Summary != "" {
		parts = append(parts, md.Summary)
	}
	if md.Description != "" && md.Description != md.Summary {
		parts = append(parts, md.Description)
	}
	if len(md.Errors) > 0 {
		lines := []string{"Errors:"}
		for _, e := range md.Errors {
			name := e.Name
			if name == "" {
				name = "error"
			}
			lines = append(lines, fmt.Sprintf("  %s (%d): %s", name, e.Code, e.Message))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}
