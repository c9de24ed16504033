// Package config reads the YAML file that drives the openrpc2proto command.
//
// A config lists spec versions, each made of one document per namespace.
// The file is validated against a JSON Schema reflected from Config before
// it is decoded, so unknown keys and missing documents are rejected with a
// pointer to the offending value.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/joeshaw/envdecode"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	openrpc2proto "github.com/reoring/openrpc2proto"
	"github.com/reoring/openrpc2proto/spec"
)

// DefaultOut is the output root used when a config names none.
const DefaultOut = "gen"

const schemaURL = "openrpc2proto.schema.json"

// Config is the root of an openrpc2proto.yaml file. Fields tagged env can be
// overridden from the environment.
type Config struct {
	Product             string            `yaml:"product,omitempty" env:"OPENRPC2PROTO_PRODUCT" jsonschema_description:"First package segment and service name prefix"`
	MethodPrefix        string            `yaml:"method_prefix,omitempty" env:"OPENRPC2PROTO_METHOD_PREFIX" jsonschema_description:"Prefix stripped from method names"`
	Out                 string            `yaml:"out,omitempty" env:"OPENRPC2PROTO_OUT" jsonschema_description:"Output root, relative to the config file"`
	FileOptions         map[string]string `yaml:"file_options,omitempty" jsonschema_description:"FileOptions templates such as go_package"`
	Comments            bool              `yaml:"comments,omitempty" env:"OPENRPC2PROTO_COMMENTS" jsonschema_description:"Emit titles and descriptions as comments"`
	Descriptors         bool              `yaml:"descriptors,omitempty" jsonschema_description:"Write a binary FileDescriptorSet per version"`
	IncludeUnreferenced bool              `yaml:"include_unreferenced,omitempty" jsonschema_description:"Also emit types no method reaches"`
	Versions            []Version         `yaml:"versions" jsonschema:"required,minItems=1"`

	// Dir is the directory of the config file; relative paths resolve
	// against it.
	Dir string `yaml:"-" jsonschema:"-"`
}

// Version is one spec version.
type Version struct {
	Name      string     `yaml:"name,omitempty" jsonschema_description:"Overrides info.version of the documents"`
	Documents []Document `yaml:"documents" jsonschema:"required,minItems=1"`
}

// Document is one spec file and the namespace it is emitted into.
type Document struct {
	Namespace string `yaml:"namespace" jsonschema:"required,minLength=1"`
	Path      string `yaml:"path" jsonschema:"required,minLength=1"`
}

// Schema returns the JSON Schema of the config file.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		FieldNameTag:               "yaml",
		Anonymous:                  true,
		DoNotReference:             true,
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(&Config{})
	s.Title = "openrpc2proto"
	s.Description = "Configuration of the openrpc2proto generator"
	return s
}

var compiled = sync.OnceValues(func() (*validator.Schema, error) {
	raw, err := json.Marshal(Schema())
	if err != nil {
		return nil, err
	}
	c := validator.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// Validate checks a YAML document against Schema.
func Validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if doc == nil {
		return errors.New("config: empty document")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	sch, err := compiled()
	if err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Parse validates and decodes data, then applies environment overrides and
// defaults. dir anchors relative paths.
func Parse(data []byte, dir string) (*Config, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := envdecode.Decode(&c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config env: %w", err)
	}
	if c.Out == "" {
		c.Out = DefaultOut
	}
	c.Dir = dir
	return &c, nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, filepath.Dir(path))
}

// Resolve anchors p at the config directory unless it is absolute.
func (c *Config) Resolve(p string) string {
	if filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// OutDir is the resolved output root.
func (c *Config) OutDir() string { return c.Resolve(c.Out) }

// Options returns the compile options for v.
func (c *Config) Options(v Version) openrpc2proto.Options {
	return openrpc2proto.Options{
		Product:             c.Product,
		MethodPrefix:        c.MethodPrefix,
		Version:             v.Name,
		FileOptions:         c.FileOptions,
		Comments:            c.Comments,
		Descriptors:         c.Descriptors,
		IncludeUnreferenced: c.IncludeUnreferenced,
	}
}

// Sources reads the documents of v. Read failures surface when the sources
// are loaded.
func (c *Config) Sources(v Version) []spec.Source {
	out := make([]spec.Source, len(v.Documents))
	for i, d := range v.Documents {
		out[i] = openrpc2proto.ReadFile(d.Namespace, c.Resolve(d.Path))
	}
	return out
}

// Paths lists the resolved document paths of every version.
func (c *Config) Paths() []string {
	var out []string
	for _, v := range c.Versions {
		for _, d := range v.Documents {
			out = append(out, c.Resolve(d.Path))
		}
	}
	return out
}
