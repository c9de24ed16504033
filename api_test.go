package openrpc2proto_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"

	openrpc2proto "github.com/reoring/openrpc2proto"
	"github.com/reoring/openrpc2proto/diag"
	"github.com/reoring/openrpc2proto/spec"
)

func starknet() []spec.Source {
	return []spec.Source{
		openrpc2proto.ReadFile("main", filepath.Join("testdata", "starknet", "main.json")),
		openrpc2proto.ReadFile("ws", filepath.Join("testdata", "starknet", "ws.yaml")),
		openrpc2proto.ReadFile("trace", filepath.Join("testdata", "starknet", "trace.json")),
	}
}

func compileStarknet(t *testing.T, opts openrpc2proto.Options) *openrpc2proto.Result {
	t.Helper()
	res, err := openrpc2proto.CompileSources(context.Background(), opts, starknet()...)
	if err != nil {
		t.Fatalf("CompileSources: %v", err)
	}
	return res
}

func fileFor(t *testing.T, res *openrpc2proto.Result, ns string) string {
	t.Helper()
	for _, f := range res.Files {
		if f.Namespace == ns {
			return string(f.Content)
		}
	}
	t.Fatalf("no file for namespace %s", ns)
	return ""
}

func assertContains(t *testing.T, content string, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if !strings.Contains(content, l) {
			t.Errorf("missing %q in\n%s", l, content)
		}
	}
}

func TestCompile_Layout(t *testing.T) {
	res := compileStarknet(t, openrpc2proto.Options{})
	if res.Product != "starknet" || res.Version != "v0_8_1" {
		t.Fatalf("product/version = %s %s", res.Product, res.Version)
	}
	var paths []string
	for _, f := range res.Files {
		paths = append(paths, f.Path)
	}
	if got := strings.Join(paths, ","); got != "v0_8_1/common.proto,v0_8_1/main.proto,v0_8_1/ws.proto,v0_8_1/trace.proto" {
		t.Fatalf("paths = %s", got)
	}
	if res.Hoisted == 0 {
		t.Fatalf("nothing hoisted")
	}
	assertContains(t, fileFor(t, res, "main"),
		"package starknet.v0_8_1.main;",
		`import "v0_8_1/common.proto";`,
		"service StarknetMainService {",
		"rpc GetBlockWithTxHashes(GetBlockWithTxHashesRequest) returns (GetBlockWithTxHashesResponse);",
		"rpc BlockNumber(BlockNumberRequest) returns (BlockNumberResponse);",
	)
}

func TestCompile_NamePreservationAndNumbering(t *testing.T) {
	main := fileFor(t, compileStarknet(t, openrpc2proto.Options{}), "main")
	assertContains(t, main,
		"message BlockWithTxHashes {\n"+
			`  string block_hash = 1 [json_name = "block_hash"]; // hex-encoded value`+"\n"+
			`  string parent_hash = 2 [json_name = "parent_hash"]; // hex-encoded value`+"\n"+
			`  int64 block_number = 3 [json_name = "block_number"];`+"\n"+
			`  string new_root = 4 [json_name = "new_root"]; // hex-encoded value`+"\n"+
			`  int64 timestamp = 5 [json_name = "timestamp"];`+"\n"+
			`  BlockStatus status = 6 [json_name = "status"];`+"\n"+
			`  repeated string transactions = 7 [json_name = "transactions"]; // hex-encoded value`+"\n"+
			"}",
		"message TxnStatusResult {\n"+
			`  TxnStatus finality_status = 1 [json_name = "finality_status"];`+"\n"+
			`  optional string failure_reason = 2 [json_name = "failure_reason"];`+"\n"+
			"}",
	)
}

func TestCompile_EnumValuesShareScope(t *testing.T) {
	main := fileFor(t, compileStarknet(t, openrpc2proto.Options{}), "main")
	assertContains(t, main,
		"enum BlockStatus {\n  PENDING = 0;\n  BLOCK_STATUS_ACCEPTED_ON_L2 = 1; // \"ACCEPTED_ON_L2\"\n",
		"enum TxnStatus {\n  RECEIVED = 0;\n  TXN_STATUS_REJECTED = 1; // \"REJECTED\"\n",
		`// "PENDING" is numbered 0 and doubles as the proto3 default`,
	)
}

func TestCompile_CommonExtraction(t *testing.T) {
	res := compileStarknet(t, openrpc2proto.Options{})
	common := fileFor(t, res, "common")
	assertContains(t, common,
		"package starknet.v0_8_1.common;",
		"message BlockId {",
		"message BlockHeader {",
		"message RpcError {",
		"enum BlockTag {",
	)
	if strings.Contains(common, "import \"v0_8_1/") {
		t.Fatalf("common imports a service namespace:\n%s", common)
	}
	for _, ns := range []string{"main", "ws", "trace"} {
		content := fileFor(t, res, ns)
		if strings.Contains(content, "message BlockId {") || strings.Contains(content, "message RpcError {") {
			t.Errorf("%s still declares a shared type", ns)
		}
		assertContains(t, content, "starknet.v0_8_1.common.BlockId block_id = 1")
	}
}

func TestCompile_SharedTypeNamedOnceAcrossNamespaces(t *testing.T) {
	a := `{"info": {"version": "1.0.0"},
		"methods": [{"name": "x_getBlock", "params": [],
			"result": {"name": "result", "schema": {"$ref": "#/components/schemas/BLOCK"}}}],
		"components": {"schemas": {"BLOCK": {"type": "object", "properties": {
			"hash": {"type": "string"},
			"status": {"type": "string", "enum": ["PENDING", "ACCEPTED"]}}}}}}`
	b := `{"info": {"version": "1.0.0"},
		"methods": [
			{"name": "x_getLatest", "params": [],
				"result": {"name": "result", "schema": {"$ref": "#/components/schemas/BLOCK"}}},
			{"name": "x_getStatus", "params": [],
				"result": {"name": "result", "schema": {"$ref": "#/components/schemas/BLOCK_STATUS"}}}],
		"components": {"schemas": {"BLOCK_STATUS": {"type": "string", "enum": ["RECEIVED", "REJECTED"]}}}}`
	res, err := openrpc2proto.CompileSources(context.Background(), openrpc2proto.Options{},
		openrpc2proto.JSONBytes("a", "a.json", []byte(a)),
		openrpc2proto.JSONBytes("b", "b.json", []byte(b)),
	)
	if err != nil {
		t.Fatalf("CompileSources: %v", err)
	}
	count := map[string]map[string]int{}
	for _, f := range res.Files {
		for _, decl := range []string{"message Block {", "enum BlockStatus {", "enum BlockStatus2 {"} {
			if n := strings.Count(string(f.Content), decl); n > 0 {
				if count[decl] == nil {
					count[decl] = map[string]int{}
				}
				count[decl][f.Namespace] += n
			}
		}
	}
	cases := map[string]map[string]int{
		"message Block {":     {"common": 1},
		"enum BlockStatus {":  {"common": 1},
		"enum BlockStatus2 {": {"b": 1},
	}
	for decl, want := range cases {
		t.Run(decl, func(t *testing.T) {
			got := count[decl]
			if len(got) != len(want) {
				t.Fatalf("declared in %v, want %v", got, want)
			}
			for ns, n := range want {
				if got[ns] != n {
					t.Fatalf("declared in %v, want %v", got, want)
				}
			}
		})
	}
	assertContains(t, fileFor(t, res, "b"),
		`x.v1_0_0.common.Block result = 1 [json_name = "result"];`,
		`BlockStatus2 result = 1 [json_name = "result"];`,
	)
}

func TestCompile_StreamingAndCycle(t *testing.T) {
	res := compileStarknet(t, openrpc2proto.Options{})
	assertContains(t, fileFor(t, res, "ws"),
		"rpc SubscribeNewHeads(SubscribeNewHeadsRequest) returns (stream SubscribeNewHeadsEvent);",
		`  starknet.v0_8_1.common.BlockHeader result = 1 [json_name = "result"];`,
		`optional starknet.v0_8_1.common.BlockId block_id = 1 [json_name = "block_id"];`,
	)
	assertContains(t, fileFor(t, res, "trace"),
		"message NestedCall {\n"+
			`  string entry_point = 1 [json_name = "entry_point"]; // hex-encoded value`+"\n"+
			`  repeated NestedCall calls = 2 [json_name = "calls"];`+"\n"+
			`  optional string revert_reason = 3 [json_name = "revert_reason"];`+"\n"+
			"}",
		"rpc TraceCall(TraceCallRequest) returns (TraceCallResponse) {\n    option deprecated = true;\n  }",
	)
}

func TestCompile_Deterministic(t *testing.T) {
	a := compileStarknet(t, openrpc2proto.Options{Comments: true})
	b := compileStarknet(t, openrpc2proto.Options{Comments: true})
	for i := range a.Files {
		if string(a.Files[i].Content) != string(b.Files[i].Content) {
			t.Fatalf("%s differs between runs", a.Files[i].Path)
		}
	}
}

func TestCompile_CommentsAndOptions(t *testing.T) {
	res := compileStarknet(t, openrpc2proto.Options{
		Comments:    true,
		FileOptions: map[string]string{"go_package": "example.com/starknet/{path};{namespace}pb"},
	})
	assertContains(t, fileFor(t, res, "main"),
		`option go_package = "example.com/starknet/v0_8_1/main;mainpb";`,
		"// Get block information with transaction hashes given the block id",
		"//   BLOCK_NOT_FOUND (24): Block not found",
	)
}

const tinyJSON = `{
  "info": {"version": "1.2.0"},
  "methods": [{"name": "shop_getItem",
    "params": [{"name": "id", "required": true, "schema": {"type": "integer", "minimum": 1, "maximum": 2147483647}}],
    "result": {"name": "result", "schema": {"$ref": "#/components/schemas/ITEM"}}}],
  "components": {"schemas": {"ITEM": {"type": "object", "required": ["name"],
    "properties": {"name": {"type": "string"}, "price": {"type": "number", "nullable": true}}}}}
}`

const tinyYAML = `
info:
  version: 1.2.0
methods:
  - name: shop_getItem
    params:
      - name: id
        required: true
        schema: {type: integer, minimum: 1, maximum: 2147483647}
    result:
      name: result
      schema: {$ref: '#/components/schemas/ITEM'}
components:
  schemas:
    ITEM:
      type: object
      required: [name]
      properties:
        name: {type: string}
        price: {type: number, nullable: true}
`

func TestCompile_YAMLMatchesJSON(t *testing.T) {
	ctx := context.Background()
	fromJSON, err := openrpc2proto.CompileSources(ctx, openrpc2proto.Options{}, openrpc2proto.JSONBytes("main", "shop", []byte(tinyJSON)))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	fromYAML, err := openrpc2proto.CompileSources(ctx, openrpc2proto.Options{}, openrpc2proto.YAMLBytes("main", "shop", []byte(tinyYAML)))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if len(fromJSON.Files) != 1 || string(fromJSON.Files[0].Content) != string(fromYAML.Files[0].Content) {
		t.Fatalf("outputs differ:\n%s\n---\n%s", fromJSON.Files[0].Content, fromYAML.Files[0].Content)
	}
	assertContains(t, string(fromJSON.Files[0].Content),
		"package shop.v1_2_0.main;",
		`int32 id = 1 [json_name = "id"];`,
		`optional double price = 2 [json_name = "price"];`,
	)
}

func TestCompile_MissingReferenceProducesNothing(t *testing.T) {
	doc := `{"methods": [{"name": "x_get", "params": [],
		"result": {"name": "result", "schema": {"$ref": "#/components/schemas/A"}}}],
		"components": {"schemas": {"A": {"type": "object", "properties": {"b": {"$ref": "#/components/schemas/MISSING"}}}}}}`
	res, err := openrpc2proto.CompileSources(context.Background(), openrpc2proto.Options{}, openrpc2proto.JSONBytes("main", "x.json", []byte(doc)))
	if res != nil {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(err, diag.ErrUnresolvedReference) {
		t.Fatalf("err = %v", err)
	}
	d, _ := openrpc2proto.AsError(err)
	if !strings.Contains(d.Message, "MISSING") || d.Type != "A" {
		t.Fatalf("diag = %+v", d)
	}
}

func TestCompile_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := openrpc2proto.CompileSources(ctx, openrpc2proto.Options{}, starknet()...); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestWriteResult_DescriptorSet(t *testing.T) {
	res := compileStarknet(t, openrpc2proto.Options{Descriptors: true})
	root := t.TempDir()
	if err := openrpc2proto.WriteResult(root, res); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}
	for _, f := range res.Files {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(f.Path))); err != nil {
			t.Fatalf("%s not written: %v", f.Path, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(root, res.Version, openrpc2proto.DescriptorSetFile))
	if err != nil {
		t.Fatal(err)
	}
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &fds); err != nil {
		t.Fatal(err)
	}
	files, err := protodesc.NewFiles(&fds)
	if err != nil {
		t.Fatalf("descriptor set does not link: %v", err)
	}
	if _, err := files.FindDescriptorByName("starknet.v0_8_1.ws.StarknetWsService"); err != nil {
		t.Fatalf("ws service missing: %v", err)
	}
}

func TestReadFile_MissingIsMalformed(t *testing.T) {
	_, err := openrpc2proto.CompileSources(context.Background(), openrpc2proto.Options{},
		openrpc2proto.ReadFile("main", filepath.Join("testdata", "does-not-exist.json")))
	if !errors.Is(err, diag.ErrMalformedSpec) {
		t.Fatalf("err = %v", err)
	}
}
