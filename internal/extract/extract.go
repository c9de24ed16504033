// Package extract hoists declarations shared by several namespaces into the
// common namespace.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"

	"github.com/reoring/openrpc2proto/internal/ir"
	"github.com/reoring/openrpc2proto/internal/naming"
)

// Hoist records one declaration moved into common.
type Hoist struct {
	To   ir.Key
	From []ir.Key // every namespace copy it replaced, in namespace order
}

// Report summarizes an extraction.
type Report struct {
	Hoisted []Hoist
	Renamed int // hoisted declarations that needed a namespace suffix
}

type group struct {
	name string
	fp   string
}

// Extract moves every declaration that is structurally identical (same
// name, same deep fingerprint) in two or more service namespaces into
// ir.CommonNamespace, together with the local declarations it depends on.
// Field numbers are untouched. Distinct types are never merged: when a
// hoisted name is already taken in common by a different type, the newcomer
// is renamed <Name><Namespace>.
func Extract(set *ir.ModuleSet, log *slog.Logger) *Report {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fps := Fingerprints(set)

	var services []string
	for _, ns := range set.Namespaces() {
		if ns != ir.CommonNamespace {
			services = append(services, ns)
		}
	}

	// Which namespaces carry each (name, fingerprint) group.
	spread := map[group]map[string]bool{}
	for _, ns := range services {
		mod, _ := set.Get(ns)
		for _, d := range mod.Decls {
			k := group{d.DeclName(), fps[ir.Key{Namespace: ns, Name: d.DeclName()}]}
			if spread[k] == nil {
				spread[k] = map[string]bool{}
			}
			spread[k][ns] = true
		}
	}

	hoist := map[group]bool{}
	var work []ir.Key
	for _, ns := range services {
		mod, _ := set.Get(ns)
		for _, d := range mod.Decls {
			key := ir.Key{Namespace: ns, Name: d.DeclName()}
			g := group{key.Name, fps[key]}
			if len(spread[g]) > 1 {
				hoist[g] = true
				work = append(work, key)
			}
		}
	}
	// Close over local dependencies so common never imports a service
	// namespace.
	for len(work) > 0 {
		key := work[0]
		work = work[1:]
		d, _ := set.Resolve(key)
		for _, dep := range ir.Dependencies(d) {
			if dep.Namespace == ir.CommonNamespace {
				continue
			}
			g := group{dep.Name, fps[dep]}
			if hoist[g] {
				continue
			}
			hoist[g] = true
			for _, ns := range services {
				if spread[g][ns] {
					work = append(work, ir.Key{Namespace: ns, Name: dep.Name})
				}
			}
		}
	}
	if len(hoist) == 0 {
		return &Report{}
	}

	common := set.Module(ir.CommonNamespace)
	commonFP := map[string]string{}
	for _, d := range common.Decls {
		commonFP[d.DeclName()] = fps[ir.Key{Namespace: ir.CommonNamespace, Name: d.DeclName()}]
	}

	report := &Report{}
	target := map[group]int{} // index into report.Hoisted
	moves := map[ir.Key]ir.Key{}
	var order []ir.Key
	for _, ns := range services {
		mod, _ := set.Get(ns)
		var drop []string
		var adds []ir.Decl
		var names []string
		for _, d := range mod.Decls {
			from := ir.Key{Namespace: ns, Name: d.DeclName()}
			g := group{from.Name, fps[from]}
			if !hoist[g] {
				continue
			}
			drop = append(drop, from.Name)
			if i, ok := target[g]; ok {
				report.Hoisted[i].From = append(report.Hoisted[i].From, from)
				moves[from] = report.Hoisted[i].To
				order = append(order, from)
				continue
			}
			name := from.Name
			if fp, taken := commonFP[name]; taken && fp != g.fp {
				name = naming.Unique(name+naming.Pascal(ns), "", func(c string) bool {
					_, taken := commonFP[c]
					return taken
				})
				report.Renamed++
			}
			if _, taken := commonFP[name]; !taken {
				adds = append(adds, d)
				names = append(names, name)
				commonFP[name] = g.fp
			}
			to := ir.Key{Namespace: ir.CommonNamespace, Name: name}
			target[g] = len(report.Hoisted)
			report.Hoisted = append(report.Hoisted, Hoist{To: to, From: []ir.Key{from}})
			moves[from] = to
			order = append(order, from)
		}
		mod.Remove(drop...)
		for i, d := range adds {
			rename(d, names[i])
			common.Add(d)
		}
	}
	for _, from := range order {
		set.Rewrite(from, moves[from])
	}
	log.Debug("common types extracted", "hoisted", len(report.Hoisted), "renamed", report.Renamed)
	return report
}

func rename(d ir.Decl, name string) {
	switch t := d.(type) {
	case *ir.Message:
		t.Name = name
	case *ir.Enum:
		t.Name = name
	}
}

// Fingerprints hashes every declaration's structure together with the names
// and structure of everything it references, transitively. Cycles are
// handled by refining until the partition into distinct fingerprints stops
// changing.
func Fingerprints(set *ir.ModuleSet) map[ir.Key]string {
	type entry struct {
		key  ir.Key
		decl ir.Decl
	}
	var all []entry
	for _, ns := range set.Namespaces() {
		mod, _ := set.Get(ns)
		for _, d := range mod.Decls {
			all = append(all, entry{ir.Key{Namespace: ns, Name: d.DeclName()}, d})
		}
	}

	cur := make(map[ir.Key]string, len(all))
	classes := 0
	for round := 0; round <= len(all); round++ {
		next := make(map[ir.Key]string, len(all))
		distinct := map[string]bool{}
		for _, e := range all {
			shape := ir.Shape(e.decl, func(k ir.Key) string {
				return k.Name + "#" + cur[k]
			})
			sum := sha256.Sum256([]byte(shape))
			next[e.key] = hex.EncodeToString(sum[:])
			distinct[next[e.key]] = true
		}
		cur = next
		if round > 0 && len(distinct) == classes {
			break
		}
		classes = len(distinct)
	}
	return cur
}
