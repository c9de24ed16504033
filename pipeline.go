package openrpc2proto

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/reoring/openrpc2proto/internal/emit"
	"github.com/reoring/openrpc2proto/internal/extract"
	"github.com/reoring/openrpc2proto/internal/graph"
	"github.com/reoring/openrpc2proto/internal/ir"
	"github.com/reoring/openrpc2proto/internal/mapper"
	"github.com/reoring/openrpc2proto/internal/service"
	"github.com/reoring/openrpc2proto/spec"
)

// pipeline owns the state of one run. Stages run strictly in order and
// share nothing with other runs.
type pipeline struct {
	vs   *spec.VersionedSpec
	opts Options
	log  *slog.Logger
	set  *ir.ModuleSet
}

func newPipeline(vs *spec.VersionedSpec, opts Options) *pipeline {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Product == "" {
		opts.Product = productOf(vs)
	}
	if opts.Version == "" {
		opts.Version = vs.Version
	}
	return &pipeline{vs: vs, opts: opts, log: log, set: ir.NewModuleSet()}
}

// productOf takes the part of the first method name before its first
// underscore.
func productOf(vs *spec.VersionedSpec) string {
	for _, m := range vs.Methods {
		if i := strings.IndexByte(m.Name, '_'); i > 0 {
			return m.Name[:i]
		}
	}
	return "api"
}

func (p *pipeline) run(ctx context.Context) (*Result, error) {
	g, err := graph.Build(p.vs)
	if err != nil {
		return nil, err
	}
	p.log.Debug("schema graph built", "types", len(g.VisitOrder()), "components", len(g.Components()))

	m := mapper.New(p.vs, g, p.set, p.log)
	for _, ns := range p.vs.Namespaces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := m.MapNamespace(ns, service.Roots(p.vs, ns)); err != nil {
			return nil, err
		}
	}
	if p.opts.IncludeUnreferenced && len(p.vs.Namespaces) > 0 {
		if err := m.MapNamespace(p.vs.Namespaces[0], p.vs.Names); err != nil {
			return nil, err
		}
	}

	sb := service.New(p.vs, m, service.Options{Product: p.opts.Product, MethodPrefix: p.opts.MethodPrefix}, p.log)
	for _, ns := range p.vs.Namespaces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := sb.Build(ns); err != nil {
			return nil, err
		}
	}

	report := extract.Extract(p.set, p.log)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	eo := emit.Options{
		Product:     p.opts.Product,
		Version:     p.opts.Version,
		FileOptions: p.opts.FileOptions,
		Comments:    p.opts.Comments,
		Source:      p.opts.Source,
	}
	files, err := emit.Emit(p.set, eo)
	if err != nil {
		return nil, err
	}
	fds, _, err := emit.Descriptors(p.set, eo)
	if err != nil {
		return nil, err
	}
	p.log.Debug("emitted", "files", len(files), "hoisted", len(report.Hoisted))

	res := &Result{
		Product: p.opts.Product,
		Version: emit.VersionDir(p.opts.Version),
		Files:   fromEmit(files),
		Hoisted: len(report.Hoisted),
	}
	if p.opts.Descriptors {
		res.Descriptors = fds
	}
	return res, nil
}
