// Package emit renders a ModuleSet as proto3 files, one per namespace, and
// as a linked descriptor set used to prove the output compiles.
package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reoring/openrpc2proto/diag"
	"github.com/reoring/openrpc2proto/internal/ir"
	"github.com/reoring/openrpc2proto/internal/naming"
)

// StructImport is the file declaring google.protobuf.Struct and Value.
const StructImport = "google/protobuf/struct.proto"

// Options controls file layout.
type Options struct {
	Product string
	Version string
	// FileOptions maps a FileOptions field name (go_package, java_package,
	// ...) to a value template. {product}, {version}, {namespace},
	// {package} and {path} are expanded per file.
	FileOptions map[string]string
	// Comments emits schema titles and descriptions. Notes are always
	// emitted.
	Comments bool
	// Source is echoed in the generated header when set.
	Source string
}

// File is one rendered namespace.
type File struct {
	Namespace string
	Path      string // relative to the output root, e.g. v0_8_1/main.proto
	Package   string
	Imports   []string
	Content   []byte
}

// VersionDir renders a spec version as a path and package segment:
// 0.8.1 → v0_8_1. A leading v is not doubled.
func VersionDir(version string) string {
	v := strings.TrimPrefix(strings.TrimPrefix(version, "v"), "V")
	if v == "" {
		v = "1"
	}
	var b strings.Builder
	b.WriteByte('v')
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.ToLower(b.String())
}

// PackageName is <product>.<version>.<namespace>.
func PackageName(product, version, ns string) string {
	parts := []string{}
	if p := naming.SnakeCase(product); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, VersionDir(version), naming.SnakeCase(ns))
	return strings.Join(parts, ".")
}

// FilePath is <version>/<namespace>.proto.
func FilePath(version, ns string) string {
	return VersionDir(version) + "/" + naming.SnakeCase(ns) + ".proto"
}

// layout is the naming decided once for every file so the text and
// descriptor renderers agree.
type layout struct {
	set   *ir.ModuleSet
	opts  Options
	files []*fileLayout
	byNS  map[string]*fileLayout
}

type fileLayout struct {
	ns      string
	mod     *ir.Module
	pkg     string
	path    string
	imports []string
	deps    []string // namespaces imported
	values  map[*ir.Enum][]string
	structs bool // uses google.protobuf.Struct or Value
}

func emissionError(ns, typ, format string, a ...any) error {
	return &diag.Error{Code: diag.CodeEmissionError, Namespace: ns, Type: typ, Message: fmt.Sprintf(format, a...)}
}

// plan validates set and fixes every emitted name.
func plan(set *ir.ModuleSet, opts Options) (*layout, error) {
	l := &layout{set: set, opts: opts, byNS: map[string]*fileLayout{}}
	for _, ns := range set.Namespaces() {
		mod, _ := set.Get(ns)
		if mod.Empty() {
			continue
		}
		f := &fileLayout{
			ns:     ns,
			mod:    mod,
			pkg:    PackageName(opts.Product, opts.Version, ns),
			path:   FilePath(opts.Version, ns),
			values: map[*ir.Enum][]string{},
		}
		l.files = append(l.files, f)
		l.byNS[ns] = f
	}
	for _, f := range l.files {
		if err := l.check(f); err != nil {
			return nil, err
		}
		if err := f.nameValues(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// check enforces the structural invariants protoc would reject.
func (l *layout) check(f *fileLayout) error {
	deps := map[string]bool{}
	ref := func(owner string, t ir.TypeRef) error {
		for r := &t; r != nil; r = r.MapValue {
			switch r.Kind() {
			case ir.RefNamed:
				if _, ok := l.set.Resolve(r.Named); !ok {
					return emissionError(f.ns, owner, "reference to undeclared %s", r.Named)
				}
				if r.Named.Namespace != f.ns {
					deps[r.Named.Namespace] = true
				}
			case ir.RefWellKnown:
				f.structs = true
			}
		}
		return nil
	}

	seen := map[string]bool{}
	for _, d := range f.mod.Decls {
		name := d.DeclName()
		if seen[name] {
			return emissionError(f.ns, name, "duplicate declaration name")
		}
		seen[name] = true
		msg, ok := d.(*ir.Message)
		if !ok {
			continue
		}
		numbers := map[int]string{}
		folded := map[string]string{}
		jsonNames := map[string]string{}
		for _, fd := range msg.Fields {
			if fd.Number <= 0 {
				return emissionError(f.ns, name, "field %s has number %d", fd.Name, fd.Number)
			}
			if prev, dup := numbers[fd.Number]; dup {
				return emissionError(f.ns, name, "fields %s and %s share number %d", prev, fd.Name, fd.Number)
			}
			numbers[fd.Number] = fd.Name
			k := naming.FoldedKey(fd.Name)
			if prev, dup := folded[k]; dup {
				return emissionError(f.ns, name, "field names %s and %s conflict", prev, fd.Name)
			}
			folded[k] = fd.Name
			if prev, dup := jsonNames[fd.JSONName]; dup {
				return emissionError(f.ns, name, "fields %s and %s share json_name %q", prev, fd.Name, fd.JSONName)
			}
			jsonNames[fd.JSONName] = fd.Name
			if fd.Type.IsMap() && (fd.Repeated || fd.Optional || fd.Oneof != "") {
				return emissionError(f.ns, name, "map field %s cannot be repeated, optional or in a oneof", fd.Name)
			}
			if fd.Oneof != "" && (fd.Repeated || fd.Optional) {
				return emissionError(f.ns, name, "oneof member %s cannot be repeated or optional", fd.Name)
			}
			if err := ref(name, fd.Type); err != nil {
				return err
			}
		}
		for _, g := range msg.Oneofs {
			if msg.Field(g.Name) != nil {
				return emissionError(f.ns, name, "oneof %s shadows a field", g.Name)
			}
		}
	}
	if svc := f.mod.Service; svc != nil {
		if seen[svc.Name] {
			return emissionError(f.ns, svc.Name, "service name collides with a declaration")
		}
		rpcs := map[string]bool{}
		for _, rpc := range svc.Methods {
			if rpcs[rpc.Name] {
				return emissionError(f.ns, svc.Name, "duplicate rpc %s", rpc.Name)
			}
			rpcs[rpc.Name] = true
			for _, k := range []ir.Key{rpc.Request, rpc.Response} {
				if err := ref(svc.Name, ir.NamedRef(k.Namespace, k.Name)); err != nil {
					return err
				}
				if d, _ := l.set.Resolve(k); d != nil {
					if _, isMsg := d.(*ir.Message); !isMsg {
						return emissionError(f.ns, svc.Name, "rpc %s uses enum %s as a message", rpc.Name, k)
					}
				}
			}
		}
	}

	for ns := range deps {
		dep, ok := l.byNS[ns]
		if !ok {
			return emissionError(f.ns, "", "imports empty namespace %s", ns)
		}
		f.deps = append(f.deps, ns)
		f.imports = append(f.imports, dep.path)
	}
	sort.Strings(f.deps)
	if f.structs {
		f.imports = append(f.imports, StructImport)
	}
	sort.Strings(f.imports)
	return nil
}

// nameValues picks the emitted identifier of every enum value. Enum values
// share the package scope, so an identifier used twice in the file, equal to
// a declaration name, or starting with a digit is prefixed with its enum's
// UPPER_SNAKE name.
func (f *fileLayout) nameValues() error {
	count := map[string]int{}
	decls := map[string]bool{}
	for _, d := range f.mod.Decls {
		decls[d.DeclName()] = true
		if e, ok := d.(*ir.Enum); ok {
			for _, v := range e.Values {
				count[v.Name]++
			}
		}
	}
	if f.mod.Service != nil {
		decls[f.mod.Service.Name] = true
	}
	scope := map[string]string{}
	for d := range decls {
		scope[d] = d
	}
	for _, e := range f.mod.Enums() {
		if len(e.Values) == 0 {
			return emissionError(f.ns, e.Name, "enum has no values")
		}
		prefix := naming.UpperSnake(e.Name) + "_"
		names := make([]string, len(e.Values))
		stripped := map[string]string{}
		for i, v := range e.Values {
			id := v.Name
			if startsWithDigit(id) || count[id] > 1 || decls[id] {
				id = prefix + id
			}
			if owner, dup := scope[id]; dup {
				return emissionError(f.ns, e.Name, "enum value %s collides with %s", id, owner)
			}
			scope[id] = e.Name
			// protoc also rejects values equal once the enum prefix is stripped.
			k := naming.FoldedKey(strings.TrimPrefix(id, prefix))
			if prev, dup := stripped[k]; dup {
				return emissionError(f.ns, e.Name, "enum values %s and %s conflict without the %s prefix", prev, id, prefix)
			}
			stripped[k] = id
			names[i] = id
		}
		f.values[e] = names
	}
	return nil
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// typeName renders t as seen from file f: local names bare, other
// namespaces package-qualified. full adds a leading dot, as descriptors
// require.
func (l *layout) typeName(f *fileLayout, k ir.Key, full bool) string {
	if !full && k.Namespace == f.ns {
		return k.Name
	}
	pkg := PackageName(l.opts.Product, l.opts.Version, k.Namespace)
	if full {
		return "." + pkg + "." + k.Name
	}
	return pkg + "." + k.Name
}

// fileOptions expands the configured templates for f, sorted by option name.
func (l *layout) fileOptions(f *fileLayout) [][2]string {
	if len(l.opts.FileOptions) == 0 {
		return nil
	}
	r := strings.NewReplacer(
		"{product}", l.opts.Product,
		"{version}", VersionDir(l.opts.Version),
		"{namespace}", f.ns,
		"{package}", f.pkg,
		"{path}", strings.TrimSuffix(f.path, ".proto"),
	)
	names := make([]string, 0, len(l.opts.FileOptions))
	for k := range l.opts.FileOptions {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([][2]string, len(names))
	for i, k := range names {
		out[i] = [2]string{k, r.Replace(l.opts.FileOptions[k])}
	}
	return out
}

// Emit renders one file per non-empty namespace, common first.
func Emit(set *ir.ModuleSet, opts Options) ([]File, error) {
	l, err := plan(set, opts)
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(l.files))
	for _, f := range l.files {
		files = append(files, File{
			Namespace: f.ns,
			Path:      f.path,
			Package:   f.pkg,
			Imports:   f.imports,
			Content:   l.render(f),
		})
	}
	return files, nil
}
