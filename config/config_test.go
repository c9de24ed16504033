package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reoring/openrpc2proto/config"
)

const sample = `
product: starknet
file_options:
  go_package: example.com/gen/{path};{namespace}pb
comments: true
versions:
  - name: 0.8.1
    documents:
      - namespace: main
        path: specs/main.json
      - namespace: ws
        path: /abs/ws.yaml
`

func TestParse(t *testing.T) {
	c, err := config.Parse([]byte(sample), "/work")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Product != "starknet" || !c.Comments || c.Out != config.DefaultOut {
		t.Fatalf("config = %+v", c)
	}
	if got := c.OutDir(); got != filepath.Join("/work", "gen") {
		t.Fatalf("OutDir = %s", got)
	}
	paths := c.Paths()
	if len(paths) != 2 || paths[0] != filepath.Join("/work", "specs", "main.json") || paths[1] != "/abs/ws.yaml" {
		t.Fatalf("paths = %v", paths)
	}
	opts := c.Options(c.Versions[0])
	if opts.Version != "0.8.1" || opts.FileOptions["go_package"] == "" || !opts.Comments {
		t.Fatalf("options = %+v", opts)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", "versions: [{documents: [{namespace: a, path: b}]}]\nextra: 1\n", "extra"},
		{"no versions", "product: x\n", "versions"},
		{"empty documents", "versions: [{documents: []}]\n", "documents"},
		{"missing path", "versions: [{documents: [{namespace: a}]}]\n", "path"},
		{"wrong type", "comments: yes please\nversions: [{documents: [{namespace: a, path: b}]}]\n", "comments"},
		{"empty", "", "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tc.doc), "")
			if err == nil {
				t.Fatalf("accepted %q", tc.doc)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestValidate_Numbers(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		ok   bool
	}{
		{"integer where a string belongs", "product: 42\nversions: [{documents: [{namespace: a, path: b}]}]\n", false},
		{"float where a string belongs", "versions: [{name: 0.8, documents: [{namespace: a, path: b}]}]\n", false},
		{"quoted version", "versions: [{name: \"0.8\", documents: [{namespace: a, path: b}]}]\n", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := config.Validate([]byte(tc.doc))
			if (err == nil) != tc.ok {
				t.Fatalf("Validate(%q) = %v", tc.doc, err)
			}
		})
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("OPENRPC2PROTO_PRODUCT", "paradex")
	t.Setenv("OPENRPC2PROTO_OUT", "proto")
	c, err := config.Parse([]byte(sample), "/work")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Product != "paradex" || c.Out != "proto" {
		t.Fatalf("config = %+v", c)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openrpc2proto.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Dir != dir {
		t.Fatalf("Dir = %s", c.Dir)
	}
	srcs := c.Sources(c.Versions[0])
	if len(srcs) != 2 || srcs[0].Namespace != "main" || srcs[0].Err == nil {
		t.Fatalf("sources = %+v", srcs)
	}
}

func TestSchema(t *testing.T) {
	s := config.Schema()
	if s.Type != "object" {
		t.Fatalf("type = %s", s.Type)
	}
	if _, ok := s.Properties.Get("versions"); !ok {
		t.Fatalf("versions property missing")
	}
	if len(s.Required) != 1 || s.Required[0] != "versions" {
		t.Fatalf("required = %v", s.Required)
	}
}
