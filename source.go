package openrpc2proto

import (
	"os"
	"path/filepath"

	"github.com/reoring/openrpc2proto/spec"
)

// JSONBytes wraps a JSON document as a spec source of namespace ns.
func JSONBytes(ns, name string, b []byte) spec.Source {
	return spec.Source{Namespace: ns, Name: name, Data: b, Format: spec.FormatJSON}
}

// YAMLBytes wraps a YAML document as a spec source of namespace ns.
func YAMLBytes(ns, name string, b []byte) spec.Source {
	return spec.Source{Namespace: ns, Name: name, Data: b, Format: spec.FormatYAML}
}

// ReadFile reads a spec document; the format is sniffed from the extension
// or content. Read errors are reported when the source is loaded.
func ReadFile(ns, path string) spec.Source {
	data, err := os.ReadFile(path)
	if err != nil {
		return spec.Source{Namespace: ns, Name: filepath.Base(path), Err: err}
	}
	return spec.Source{Namespace: ns, Name: filepath.Base(path), Data: data}
}
