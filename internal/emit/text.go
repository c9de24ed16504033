package emit

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/reoring/openrpc2proto/internal/ir"
)

// Header is the first line of every generated file.
const Header = "// Code generated by openrpc2proto. DO NOT EDIT."

type printer struct {
	buf    bytes.Buffer
	indent int
}

func (p *printer) line(format string, a ...any) {
	if format == "" {
		p.buf.WriteByte('\n')
		return
	}
	p.buf.WriteString(strings.Repeat("  ", p.indent))
	fmt.Fprintf(&p.buf, format, a...)
	p.buf.WriteByte('\n')
}

// comment writes text as // lines, one per source line.
func (p *printer) comment(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimRight(l, " \t\r")
		if l == "" {
			p.line("//")
			continue
		}
		p.line("// %s", l)
	}
}

func (l *layout) leading(p *printer, comment string, notes []string) {
	if l.opts.Comments {
		p.comment(comment)
	}
	for _, n := range notes {
		p.comment(n)
	}
}

func (l *layout) render(f *fileLayout) []byte {
	p := &printer{}
	p.line("%s", Header)
	if l.opts.Source != "" {
		p.line("// source: %s", l.opts.Source)
	}
	p.line("")
	p.line(`syntax = "proto3";`)
	p.line("")
	p.line("package %s;", f.pkg)
	if len(f.imports) > 0 {
		p.line("")
		for _, imp := range f.imports {
			p.line("import %s;", strconv.Quote(imp))
		}
	}
	if opts := l.fileOptions(f); len(opts) > 0 {
		p.line("")
		for _, o := range opts {
			p.line("option %s = %s;", o[0], optionLiteral(o[1]))
		}
	}
	for _, e := range f.mod.Enums() {
		p.line("")
		l.renderEnum(p, f, e)
	}
	for _, m := range f.mod.Messages() {
		p.line("")
		l.renderMessage(p, f, m)
	}
	if svc := f.mod.Service; svc != nil && len(svc.Methods) > 0 {
		p.line("")
		l.renderService(p, f, svc)
	}
	return p.buf.Bytes()
}

// optionLiteral leaves booleans and identifiers such as SPEED bare and
// quotes everything else.
func optionLiteral(v string) string {
	if v == "true" || v == "false" {
		return v
	}
	if v != "" && strings.ToUpper(v) == v && strings.Trim(v, "ABCDEFGHIJKLMNOPQRSTUVWXYZ_") == "" {
		return v
	}
	return strconv.Quote(v)
}

func (l *layout) renderEnum(p *printer, f *fileLayout, e *ir.Enum) {
	l.leading(p, e.Comment, e.Notes)
	p.line("enum %s {", e.Name)
	p.indent++
	for i, v := range e.Values {
		name := f.values[e][i]
		if name != v.Original {
			p.line("%s = %d; // %s", name, v.Number, strconv.Quote(v.Original))
			continue
		}
		p.line("%s = %d;", name, v.Number)
	}
	p.indent--
	p.line("}")
}

func (l *layout) renderMessage(p *printer, f *fileLayout, m *ir.Message) {
	l.leading(p, m.Comment, m.Notes)
	p.line("message %s {", m.Name)
	p.indent++
	opened := map[string]bool{}
	for _, fd := range m.Fields {
		if fd.Oneof == "" {
			l.renderField(p, f, fd)
			continue
		}
		if opened[fd.Oneof] {
			continue
		}
		opened[fd.Oneof] = true
		p.line("oneof %s {", fd.Oneof)
		p.indent++
		for _, member := range m.Oneof(fd.Oneof).Fields {
			l.renderField(p, f, member)
		}
		p.indent--
		p.line("}")
	}
	p.indent--
	p.line("}")
}

func (l *layout) renderField(p *printer, f *fileLayout, fd *ir.Field) {
	if l.opts.Comments {
		p.comment(fd.Comment)
	}
	label := ""
	switch {
	case fd.Repeated:
		label = "repeated "
	case fd.Optional:
		label = "optional "
	}
	decl := fmt.Sprintf("%s%s %s = %d [json_name = %s];", label, l.fieldType(f, fd.Type), fd.Name, fd.Number, strconv.Quote(fd.JSONName))
	if len(fd.Notes) > 0 {
		decl += " // " + strings.Join(fd.Notes, "; ")
	}
	p.line("%s", decl)
}

func (l *layout) fieldType(f *fileLayout, t ir.TypeRef) string {
	switch t.Kind() {
	case ir.RefMap:
		return "map<string, " + l.fieldType(f, *t.MapValue) + ">"
	case ir.RefNamed:
		return l.typeName(f, t.Named, false)
	case ir.RefWellKnown:
		return t.WellKnown
	}
	return string(t.Scalar)
}

func (l *layout) renderService(p *printer, f *fileLayout, svc *ir.Service) {
	if l.opts.Comments {
		p.comment(svc.Comment)
	}
	p.line("service %s {", svc.Name)
	p.indent++
	for _, rpc := range svc.Methods {
		if l.opts.Comments {
			p.comment(rpc.Comment)
		}
		stream := ""
		if rpc.ServerStreaming {
			stream = "stream "
		}
		sig := fmt.Sprintf("rpc %s(%s) returns (%s%s)", rpc.Name, l.typeName(f, rpc.Request, false), stream, l.typeName(f, rpc.Response, false))
		if !rpc.Deprecated {
			p.line("%s;", sig)
			continue
		}
		p.line("%s {", sig)
		p.indent++
		p.line("option deprecated = true;")
		p.indent--
		p.line("}")
	}
	p.indent--
	p.line("}")
}
