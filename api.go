package openrpc2proto

import (
	"context"
	"log/slog"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/reoring/openrpc2proto/internal/emit"
	"github.com/reoring/openrpc2proto/internal/writeout"
	"github.com/reoring/openrpc2proto/spec"
)

// DescriptorSetFile is the name of the optional binary descriptor set
// written next to the .proto files of a version.
const DescriptorSetFile = "descriptor_set.binpb"

// Options configures one compilation run. The zero value is usable.
type Options struct {
	// Product is the first package segment and the service name prefix.
	// Empty derives it from the first method name (starknet_getBlock → starknet).
	Product string
	// MethodPrefix is stripped from method names. Empty means Product+"_".
	MethodPrefix string
	// Version overrides the spec's info.version.
	Version string
	// FileOptions maps FileOptions field names to value templates; see
	// internal/emit for the placeholders.
	FileOptions map[string]string
	// Comments emits titles and descriptions as proto comments.
	Comments bool
	// Descriptors keeps the linked FileDescriptorSet in the Result so
	// WriteResult writes it. The link check runs regardless.
	Descriptors bool
	// IncludeUnreferenced also maps dictionary types no method reaches,
	// into the first namespace.
	IncludeUnreferenced bool
	// Source is echoed in each file header.
	Source string
	// Logger receives stage progress at Debug. Nil discards.
	Logger *slog.Logger
}

// File is one generated .proto file.
type File struct {
	Namespace string
	Path      string // relative to the output root
	Package   string
	Imports   []string
	Content   []byte
}

// Result is the output of one run.
type Result struct {
	Product     string
	Version     string // as emitted, e.g. v0_8_1
	Files       []File
	Descriptors *descriptorpb.FileDescriptorSet // nil unless Options.Descriptors
	Hoisted     int                             // declarations moved to the common namespace
}

// Compile runs every stage over vs.
func Compile(ctx context.Context, vs *spec.VersionedSpec, opts Options) (*Result, error) {
	return newPipeline(vs, opts).run(ctx)
}

// CompileSources loads the documents of one version and compiles them.
func CompileSources(ctx context.Context, opts Options, sources ...spec.Source) (*Result, error) {
	vs, err := spec.Load(sources...)
	if err != nil {
		return nil, err
	}
	return Compile(ctx, vs, opts)
}

// WriteResult writes r under root, replacing the version directory of an
// earlier run. Either every file lands or the previous tree is kept.
func WriteResult(root string, r *Result) error {
	files := make([]writeout.File, 0, len(r.Files)+1)
	for _, f := range r.Files {
		files = append(files, writeout.File{Path: f.Path, Data: f.Content})
	}
	if r.Descriptors != nil {
		data, err := proto.MarshalOptions{Deterministic: true}.Marshal(r.Descriptors)
		if err != nil {
			return err
		}
		files = append(files, writeout.File{Path: r.Version + "/" + DescriptorSetFile, Data: data})
	}
	return writeout.Write(root, files)
}

func fromEmit(fs []emit.File) []File {
	out := make([]File, len(fs))
	for i, f := range fs {
		out[i] = File{Namespace: f.Namespace, Path: f.Path, Package: f.Package, Imports: f.Imports, Content: f.Content}
	}
	return out
}
