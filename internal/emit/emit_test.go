package emit_test

import (
	"errors"
	"strings"
	"testing"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/reoring/openrpc2proto/diag"
	"github.com/reoring/openrpc2proto/internal/emit"
	"github.com/reoring/openrpc2proto/internal/ir"
)

var opts = emit.Options{
	Product:     "node",
	Version:     "0.8.1",
	FileOptions: map[string]string{"go_package": "example.com/gen/{path};{namespace}"},
	Source:      "node.json",
}

func sample() *ir.ModuleSet {
	set := ir.NewModuleSet()
	felt := &ir.Message{Name: "Felt"}
	felt.Add(&ir.Field{Name: "value", JSONName: "value", Type: ir.ScalarRef(ir.String)})
	set.Module(ir.CommonNamespace).Add(felt)

	main := set.Module("main")
	main.Add(&ir.Enum{
		Name:  "Status",
		Notes: []string{`"ACCEPTED" is numbered 0 and doubles as the proto3 default`},
		Values: []ir.EnumValue{
			{Name: "ACCEPTED", Original: "ACCEPTED", Number: 0},
			{Name: "REJECTED", Original: "rejected", Number: 1},
		},
	})
	block := &ir.Message{Name: "Block"}
	block.Add(&ir.Field{Name: "hash", JSONName: "hash", Type: ir.ScalarRef(ir.String), Notes: []string{"hex-encoded value"}})
	block.Add(&ir.Field{Name: "status", JSONName: "status", Type: ir.NamedRef("main", "Status"), Optional: true})
	block.Add(&ir.Field{Name: "tags", JSONName: "tags", Type: ir.ScalarRef(ir.String), Repeated: true})
	block.Add(&ir.Field{Name: "felt", JSONName: "felt", Type: ir.NamedRef(ir.CommonNamespace, "Felt")})
	main.Add(block)
	main.Service = &ir.Service{Name: "NodeMainService", Methods: []*ir.RpcMethod{
		{Name: "GetBlock", Request: ir.Key{Namespace: "main", Name: "Block"}, Response: ir.Key{Namespace: "main", Name: "Block"}},
		{Name: "OldBlock", Request: ir.Key{Namespace: "main", Name: "Block"}, Response: ir.Key{Namespace: "main", Name: "Block"}, ServerStreaming: true, Deprecated: true},
	}}
	return set
}

const wantMain = `// Code generated by openrpc2proto. DO NOT EDIT.
// source: node.json

syntax = "proto3";

package node.v0_8_1.main;

import "v0_8_1/common.proto";

option go_package = "example.com/gen/v0_8_1/main;main";

// "ACCEPTED" is numbered 0 and doubles as the proto3 default
enum Status {
  ACCEPTED = 0;
  REJECTED = 1; // "rejected"
}

message Block {
  string hash = 1 [json_name = "hash"]; // hex-encoded value
  optional Status status = 2 [json_name = "status"];
  repeated string tags = 3 [json_name = "tags"];
  node.v0_8_1.common.Felt felt = 4 [json_name = "felt"];
}

service NodeMainService {
  rpc GetBlock(Block) returns (Block);
  rpc OldBlock(Block) returns (stream Block) {
    option deprecated = true;
  }
}
`

func TestEmit_Text(t *testing.T) {
	files, err := emit.Emit(sample(), opts)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(files) != 2 || files[0].Namespace != ir.CommonNamespace || files[1].Namespace != "main" {
		t.Fatalf("files = %+v", files)
	}
	main := files[1]
	if main.Path != "v0_8_1/main.proto" || main.Package != "node.v0_8_1.main" {
		t.Fatalf("path/package = %s %s", main.Path, main.Package)
	}
	if got := string(main.Content); got != wantMain {
		t.Fatalf("main.proto mismatch\n--- got ---\n%s\n--- want ---\n%s", got, wantMain)
	}
	if len(files[0].Imports) != 0 {
		t.Fatalf("common imports = %v", files[0].Imports)
	}
}

func TestEmit_Deterministic(t *testing.T) {
	a, err := emit.Emit(sample(), opts)
	if err != nil {
		t.Fatal(err)
	}
	b, err := emit.Emit(sample(), opts)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if string(a[i].Content) != string(b[i].Content) {
			t.Fatalf("%s differs between runs", a[i].Path)
		}
	}
}

func TestEmit_CommentsOptIn(t *testing.T) {
	set := sample()
	mod, _ := set.Get("main")
	d, _ := mod.Lookup("Block")
	d.(*ir.Message).Comment = "A block.\nSecond line."
	without, _ := emit.Emit(set, opts)
	if strings.Contains(string(without[1].Content), "A block.") {
		t.Fatalf("comment emitted without Comments")
	}
	with := opts
	with.Comments = true
	files, err := emit.Emit(set, with)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(files[1].Content), "// A block.\n// Second line.\nmessage Block {") {
		t.Fatalf("comment missing:\n%s", files[1].Content)
	}
}

func TestEmit_EnumValuePrefixes(t *testing.T) {
	set := ir.NewModuleSet()
	mod := set.Module("main")
	mod.Add(&ir.Enum{Name: "TxStatus", Values: []ir.EnumValue{
		{Name: "PENDING", Original: "PENDING"},
		{Name: "2X", Original: "2x", Number: 1},
	}})
	mod.Add(&ir.Enum{Name: "BlockStatus", Values: []ir.EnumValue{
		{Name: "PENDING", Original: "PENDING"},
		{Name: "ACCEPTED", Original: "ACCEPTED", Number: 1},
	}})
	files, err := emit.Emit(set, opts)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	out := string(files[0].Content)
	for _, want := range []string{
		"TX_STATUS_PENDING = 0; // \"PENDING\"",
		"TX_STATUS_2X = 1; // \"2x\"",
		"BLOCK_STATUS_PENDING = 0; // \"PENDING\"",
		"  ACCEPTED = 1;\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
	if _, _, err := emit.Descriptors(set, opts); err != nil {
		t.Fatalf("Descriptors: %v", err)
	}
}

func TestEmit_Failures(t *testing.T) {
	cases := []struct {
		name  string
		build func(*ir.ModuleSet)
		want  string
	}{
		{"duplicate number", func(set *ir.ModuleSet) {
			m := &ir.Message{Name: "Dup"}
			m.Fields = []*ir.Field{
				{Name: "a", JSONName: "a", Type: ir.ScalarRef(ir.String), Number: 1},
				{Name: "b", JSONName: "b", Type: ir.ScalarRef(ir.String), Number: 1},
			}
			set.Module("main").Add(m)
		}, "share number 1"},
		{"dangling reference", func(set *ir.ModuleSet) {
			m := &ir.Message{Name: "Holder"}
			m.Add(&ir.Field{Name: "x", JSONName: "x", Type: ir.NamedRef("ws", "Missing")})
			set.Module("main").Add(m)
		}, "reference to undeclared ws.Missing"},
		{"folded names", func(set *ir.ModuleSet) {
			m := &ir.Message{Name: "Folded"}
			m.Add(&ir.Field{Name: "block_hash", JSONName: "block_hash", Type: ir.ScalarRef(ir.String)})
			m.Add(&ir.Field{Name: "blockhash", JSONName: "blockHash", Type: ir.ScalarRef(ir.String)})
			set.Module("main").Add(m)
		}, "conflict"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			set := ir.NewModuleSet()
			tc.build(set)
			_, err := emit.Emit(set, opts)
			if !errors.Is(err, diag.ErrEmissionError) {
				t.Fatalf("err = %v, want emission error", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestDescriptors_Link(t *testing.T) {
	set := sample()
	holder := &ir.Message{Name: "Holder"}
	holder.AddOneof("value",
		&ir.Field{Name: "string_1", JSONName: "string_1", Type: ir.ScalarRef(ir.String)},
		&ir.Field{Name: "block_2", JSONName: "block_2", Type: ir.NamedRef("main", "Block")},
	)
	holder.Add(&ir.Field{Name: "counts", JSONName: "counts", Type: ir.MapRef(ir.ScalarRef(ir.Int64))})
	holder.Add(&ir.Field{Name: "raw", JSONName: "raw", Type: ir.WellKnownRef(ir.WellKnownStruct), Optional: true})
	holder.Add(&ir.Field{Name: "type_", JSONName: "type", Type: ir.NamedRef("main", "Status")})
	set.Module("main").Add(holder)

	fds, files, err := emit.Descriptors(set, opts)
	if err != nil {
		t.Fatalf("Descriptors: %v", err)
	}
	if got := fds.GetFile()[0].GetName(); got != emit.StructImport {
		t.Fatalf("first file = %s", got)
	}
	d, err := files.FindDescriptorByName("node.v0_8_1.main.Holder")
	if err != nil {
		t.Fatalf("Holder not linked: %v", err)
	}
	md := d.(protoreflect.MessageDescriptor)
	if !md.Fields().ByName("counts").IsMap() {
		t.Fatalf("counts is not a map")
	}
	if f := md.Fields().ByName("type_"); f.JSONName() != "type" || f.Kind() != protoreflect.EnumKind {
		t.Fatalf("type_ = %v %v", f.JSONName(), f.Kind())
	}
	if f := md.Fields().ByName("raw"); !f.HasOptionalKeyword() {
		t.Fatalf("raw lost proto3 optional")
	}
	if o := md.Oneofs().ByName("value"); o == nil || o.IsSynthetic() || o.Fields().Len() != 2 {
		t.Fatalf("value oneof = %v", o)
	}
	b, err := files.FindDescriptorByName("node.v0_8_1.main.Block")
	if err != nil {
		t.Fatal(err)
	}
	if f := b.(protoreflect.MessageDescriptor).Fields().ByName("felt"); f.Message().FullName() != "node.v0_8_1.common.Felt" {
		t.Fatalf("felt -> %v", f.Message().FullName())
	}
	if _, err := files.FindDescriptorByName("node.v0_8_1.main.NodeMainService"); err != nil {
		t.Fatalf("service missing: %v", err)
	}
}

func TestVersionDir(t *testing.T) {
	cases := map[string]string{
		"0.8.1":     "v0_8_1",
		"v0.7.0":    "v0_7_0",
		"1.0.0-rc1": "v1_0_0_rc1",
		"":          "v1",
	}
	for in, want := range cases {
		if got := emit.VersionDir(in); got != want {
			t.Errorf("VersionDir(%q) = %q, want %q", in, got, want)
		}
	}
}
