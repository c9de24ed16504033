package spec

import (
	"fmt"
	"strings"

	"github.com/reoring/openrpc2proto/diag"
)

// DefaultNamespace is used for sources that do not name one.
const DefaultNamespace = "main"

// Source is one input document.
type Source struct {
	Namespace string // service grouping; DefaultNamespace when empty
	Name      string // display name used in node pointers, e.g. main.json
	Data      []byte
	Format    Format // sniffed from Name and Data when empty
	// Err reports a failure to obtain Data; Load returns it as MalformedSpec.
	Err error
}

type rawEntry struct {
	raw    any
	source string
}

type loader struct {
	vs         *VersionedSpec
	schemas    map[string]rawEntry
	errorsRaw  map[string]rawEntry
	errorNames []string
	nsSeen     map[string]bool
	methodSeen map[string]bool
	pending    []pendingMethod
}

type pendingMethod struct {
	index  int
	refs   []string // error names per position; "" for inline
	inline []ErrorDecl
}

// Load parses and merges the documents of one specification version.
//
// Methods are appended in document order and tagged with their source's
// namespace. Schema and error dictionary entries that appear in several
// documents must be identical, or all but one must be a bare $ref; otherwise
// Load fails with MalformedSpec.
func Load(sources ...Source) (*VersionedSpec, error) {
	if len(sources) == 0 {
		return nil, diag.Newf(diag.CodeMalformedSpec, "no documents")
	}
	l := &loader{
		vs: &VersionedSpec{
			Schemas: map[string]Node{},
			Errors:  map[string]*ErrorDecl{},
		},
		schemas:    map[string]rawEntry{},
		errorsRaw:  map[string]rawEntry{},
		nsSeen:     map[string]bool{},
		methodSeen: map[string]bool{},
	}
	for _, src := range sources {
		if err := l.addDocument(src); err != nil {
			return nil, err
		}
	}
	if err := l.decodeSchemas(); err != nil {
		return nil, err
	}
	if err := l.decodeErrors(); err != nil {
		return nil, err
	}
	if err := l.resolveMethodErrors(); err != nil {
		return nil, err
	}
	if err := l.checkMethodRefs(); err != nil {
		return nil, err
	}
	return l.vs, nil
}

func (l *loader) addDocument(src Source) error {
	ns := src.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	name := src.Name
	if name == "" {
		name = ns
	}
	if src.Err != nil {
		return diag.Wrap(diag.CodeMalformedSpec, src.Err, "read %s", name).InNamespace(ns)
	}
	format := src.Format
	if format == "" {
		format = sniff(name, src.Data)
	}
	tree, err := decodeTree(format, src.Data)
	if err != nil {
		return diag.Wrap(diag.CodeMalformedSpec, err, "decode %s", name).InNamespace(ns)
	}
	doc, ok := tree.(*object)
	if !ok {
		return &diag.Error{Code: diag.CodeMalformedSpec, Namespace: ns, Path: name + "#", Message: "document root must be an object"}
	}
	if info := doc.obj("info"); info != nil {
		if l.vs.Version == "" {
			l.vs.Version = info.str("version")
		}
		if l.vs.Title == "" {
			l.vs.Title = info.str("title")
		}
	}
	if !l.nsSeen[ns] {
		l.nsSeen[ns] = true
		l.vs.Namespaces = append(l.vs.Namespaces, ns)
	}

	comps := doc.obj("components")
	if comps != nil {
		if err := l.mergeDict(l.schemas, &l.vs.Names, comps.obj("schemas"), name, "/components/schemas/", ns); err != nil {
			return err
		}
		if err := l.mergeDict(l.errorsRaw, &l.errorNames, comps.obj("errors"), name, "/components/errors/", ns); err != nil {
			return err
		}
	}

	methods, ok := doc.values["methods"].([]any)
	if !ok && (doc.has("methods") || comps == nil) {
		return &diag.Error{Code: diag.CodeMalformedSpec, Namespace: ns, Path: name + "#/methods", Message: "methods must be an array"}
	}
	d := &decoder{source: name}
	for i, mv := range methods {
		ptr := fmt.Sprintf("#/methods/%d", i)
		mo, ok := mv.(*object)
		if !ok {
			return &diag.Error{Code: diag.CodeMalformedSpec, Namespace: ns, Path: name + ptr, Message: "method must be an object"}
		}
		if err := l.addMethod(d, comps, mo, ns, ptr); err != nil {
			return diag.InNamespace(err, ns)
		}
	}
	return nil
}

func (l *loader) mergeDict(dst map[string]rawEntry, order *[]string, dict *object, source, prefix, ns string) error {
	if dict == nil {
		return nil
	}
	for _, key := range dict.keys {
		raw := dict.values[key]
		prev, seen := dst[key]
		switch {
		case !seen:
			dst[key] = rawEntry{raw: raw, source: source}
			*order = append(*order, key)
		case equalTree(prev.raw, raw), isBareRef(raw):
			// keep the first concrete definition
		case isBareRef(prev.raw):
			dst[key] = rawEntry{raw: raw, source: source}
		default:
			return &diag.Error{
				Code:      diag.CodeMalformedSpec,
				Namespace: ns,
				Type:      key,
				Path:      source + "#" + prefix + escapePointer(key),
				Message:   fmt.Sprintf("conflicting definition (first declared in %s)", prev.source),
			}
		}
	}
	return nil
}

func (l *loader) addMethod(d *decoder, comps *object, mo *object, ns, ptr string) error {
	name := mo.str("name")
	if name == "" {
		return &diag.Error{Code: diag.CodeMalformedSpec, Path: d.source + ptr, Message: "method name is required"}
	}
	if l.methodSeen[name] {
		return &diag.Error{Code: diag.CodeMalformedSpec, Type: name, Path: d.source + ptr, Message: "duplicate method name"}
	}
	l.methodSeen[name] = true

	m := MethodDecl{
		Name:        name,
		Namespace:   ns,
		Summary:     mo.str("summary"),
		Description: mo.str("description"),
		Deprecated:  mo.boolean("deprecated"),
		Streaming:   mo.boolean("x-streaming"),
	}
	switch ps := ParamStructure(mo.str("paramStructure")); ps {
	case "", ByName, ByPosition, Either:
		m.ParamStructure = ps
		if ps == "" {
			m.ParamStructure = Either
		}
	default:
		return &diag.Error{Code: diag.CodeMalformedSpec, Type: name, Path: d.source + ptr + "/paramStructure", Message: fmt.Sprintf("unknown paramStructure %q", ps)}
	}

	params, ok := mo.values["params"].([]any)
	if !ok && mo.has("params") {
		return &diag.Error{Code: diag.CodeMalformedSpec, Type: name, Path: d.source + ptr + "/params", Message: "params must be an array"}
	}
	seen := map[string]bool{}
	for i, pv := range params {
		pptr := fmt.Sprintf("%s/params/%d", ptr, i)
		cd, err := l.contentDescriptor(d, comps, pv, pptr)
		if err != nil {
			return diag.InNamespace(err, ns)
		}
		if seen[cd.Name] {
			return &diag.Error{Code: diag.CodeMalformedSpec, Type: name, Path: d.source + pptr, Message: fmt.Sprintf("duplicate param %q", cd.Name)}
		}
		seen[cd.Name] = true
		m.Params = append(m.Params, *cd)
	}
	if rv, ok := mo.get("result"); ok && rv != nil {
		cd, err := l.contentDescriptor(d, comps, rv, ptr+"/result")
		if err != nil {
			return err
		}
		m.Result = cd
	}
	if nv, ok := mo.get("x-notification"); ok {
		n, err := d.decode(nv, ptr+"/x-notification")
		if err != nil {
			return err
		}
		m.Notification = n
	}

	pm := pendingMethod{index: len(l.vs.Methods)}
	for i, ev := range mo.list("errors") {
		eptr := fmt.Sprintf("%s/errors/%d", ptr, i)
		eo, ok := ev.(*object)
		if !ok {
			return &diag.Error{Code: diag.CodeMalformedSpec, Type: name, Path: d.source + eptr, Message: "error must be an object"}
		}
		if ref := eo.str("$ref"); ref != "" {
			target, ok := refName(ref, "/components/errors/")
			if !ok {
				return &diag.Error{Code: diag.CodeMalformedSpec, Type: name, Path: d.source + eptr, Message: fmt.Sprintf("unsupported error reference %q", ref)}
			}
			pm.refs = append(pm.refs, target)
			continue
		}
		decl, err := decodeErrorDecl(d, "", eo, eptr)
		if err != nil {
			return err
		}
		pm.refs = append(pm.refs, "")
		pm.inline = append(pm.inline, *decl)
	}
	l.vs.Methods = append(l.vs.Methods, m)
	l.pending = append(l.pending, pm)
	return nil
}

func (l *loader) contentDescriptor(d *decoder, comps *object, v any, ptr string) (*ContentDescriptor, error) {
	o, ok := v.(*object)
	if !ok {
		return nil, &diag.Error{Code: diag.CodeMalformedSpec, Path: d.source + ptr, Message: "content descriptor must be an object"}
	}
	if ref := o.str("$ref"); ref != "" {
		target, ok := refName(ref, "/components/contentDescriptors/")
		var resolved *object
		if ok && comps != nil {
			if cds := comps.obj("contentDescriptors"); cds != nil {
				resolved = cds.obj(target)
			}
		}
		if resolved == nil {
			return nil, &diag.Error{Code: diag.CodeMalformedSpec, Path: d.source + ptr, Message: fmt.Sprintf("content descriptor %q not found", ref)}
		}
		o = resolved
		ptr = "#/components/contentDescriptors/" + escapePointer(target)
	}
	cd := &ContentDescriptor{
		Name:        o.str("name"),
		Summary:     o.str("summary"),
		Description: o.str("description"),
		Required:    o.boolean("required"),
	}
	if cd.Name == "" {
		return nil, &diag.Error{Code: diag.CodeMalformedSpec, Path: d.source + ptr, Message: "content descriptor name is required"}
	}
	sv, ok := o.get("schema")
	if !ok {
		return nil, &diag.Error{Code: diag.CodeMalformedSpec, Type: cd.Name, Path: d.source + ptr, Message: "content descriptor schema is required"}
	}
	n, err := d.decode(sv, ptr+"/schema")
	if err != nil {
		return nil, err
	}
	cd.Schema = n
	return cd, nil
}

func decodeErrorDecl(d *decoder, name string, o *object, ptr string) (*ErrorDecl, error) {
	code, ok := intValue(o.values["code"])
	if !ok {
		return nil, &diag.Error{Code: diag.CodeMalformedSpec, Type: name, Path: d.source + ptr + "/code", Message: "error code must be an integer"}
	}
	decl := &ErrorDecl{Name: name, Code: code, Message: o.str("message")}
	if dv, ok := o.get("data"); ok {
		n, err := d.decode(dv, ptr+"/data")
		if err != nil {
			return nil, err
		}
		decl.Data = n
	}
	return decl, nil
}

func (l *loader) decodeSchemas() error {
	for _, name := range l.vs.Names {
		e := l.schemas[name]
		d := &decoder{source: e.source}
		n, err := d.decode(e.raw, "#/components/schemas/"+escapePointer(name))
		if err != nil {
			if de, ok := diag.As(err); ok {
				return de.ForType(name, "")
			}
			return err
		}
		l.vs.Schemas[name] = n
	}
	return nil
}

func (l *loader) decodeErrors() error {
	for _, name := range l.errorNames {
		e := l.errorsRaw[name]
		o, ok := e.raw.(*object)
		if !ok {
			return &diag.Error{Code: diag.CodeMalformedSpec, Type: name, Path: e.source + "#/components/errors/" + escapePointer(name), Message: "error must be an object"}
		}
		if o.has("$ref") {
			continue
		}
		d := &decoder{source: e.source}
		decl, err := decodeErrorDecl(d, name, o, "#/components/errors/"+escapePointer(name))
		if err != nil {
			return err
		}
		l.vs.Errors[name] = decl
	}
	// Aliases: an entry that is only a $ref takes the target's definition.
	for _, name := range l.errorNames {
		if _, ok := l.vs.Errors[name]; ok {
			continue
		}
		target, hops := name, 0
		for hops <= len(l.errorNames) {
			o, _ := l.errorsRaw[target].raw.(*object)
			if o == nil || !o.has("$ref") {
				break
			}
			next, ok := refName(o.str("$ref"), "/components/errors/")
			if !ok {
				break
			}
			target, hops = next, hops+1
		}
		decl, ok := l.vs.Errors[target]
		if !ok {
			e := l.errorsRaw[name]
			return &diag.Error{Code: diag.CodeMalformedSpec, Type: name, Path: e.source + "#/components/errors/" + escapePointer(name), Message: fmt.Sprintf("error reference %q not found", target)}
		}
		c := *decl
		c.Name = name
		l.vs.Errors[name] = &c
	}
	return nil
}

func (l *loader) resolveMethodErrors() error {
	for _, pm := range l.pending {
		m := &l.vs.Methods[pm.index]
		inline := 0
		for _, ref := range pm.refs {
			if ref == "" {
				m.Errors = append(m.Errors, pm.inline[inline])
				inline++
				continue
			}
			decl, ok := l.vs.Errors[ref]
			if !ok {
				return &diag.Error{Code: diag.CodeMalformedSpec, Namespace: m.Namespace, Type: m.Name, Message: fmt.Sprintf("error %q not found in components.errors", ref)}
			}
			m.Errors = append(m.Errors, *decl)
		}
	}
	return nil
}

// checkMethodRefs is the shallow existence check: every method root that is
// a direct $ref must name a dictionary entry.
func (l *loader) checkMethodRefs() error {
	for i := range l.vs.Methods {
		m := &l.vs.Methods[i]
		for _, root := range m.Roots() {
			r, ok := root.(*Ref)
			if !ok {
				continue
			}
			if _, ok := l.vs.Schemas[r.Target]; !ok {
				return &diag.Error{
					Code:      diag.CodeMalformedSpec,
					Namespace: m.Namespace,
					Type:      m.Name,
					Path:      r.Pointer,
					Message:   fmt.Sprintf("method references unknown schema %q", r.Target),
				}
			}
		}
	}
	return nil
}

// isBareRef reports whether v is a schema that only points elsewhere.
func isBareRef(v any) bool {
	o, ok := v.(*object)
	if !ok || !o.has("$ref") {
		return false
	}
	for _, k := range o.keys {
		switch k {
		case "$ref", "title", "description", "$comment", "summary":
		default:
			return false
		}
	}
	return true
}

// refName extracts the dictionary name from a reference. Any document part
// before '#' is ignored, so cross-file references resolve by name.
func refName(ref, prefix string) (string, bool) {
	i := strings.IndexByte(ref, '#')
	if i < 0 {
		if ref == "" || strings.Contains(ref, "/") {
			return "", false
		}
		return ref, true
	}
	frag := ref[i+1:]
	if !strings.HasPrefix(frag, prefix) {
		return "", false
	}
	name := frag[len(prefix):]
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return unescapePointer(name), true
}

func escapePointer(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}

func unescapePointer(s string) string {
	return strings.NewReplacer("~1", "/", "~0", "~").Replace(s)
}
