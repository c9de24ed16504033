package service_test

import (
	"strings"
	"testing"

	"github.com/reoring/openrpc2proto/internal/graph"
	"github.com/reoring/openrpc2proto/internal/ir"
	"github.com/reoring/openrpc2proto/internal/mapper"
	"github.com/reoring/openrpc2proto/internal/service"
	"github.com/reoring/openrpc2proto/spec"
)

const nodeDoc = `{
  "info": {"version": "0.8.1", "title": "Node API"},
  "methods": [
    {
      "name": "node_getBlockWithTxs",
      "summary": "Get a block with its transactions",
      "params": [
        {"name": "block_id", "required": true, "schema": {"$ref": "#/components/schemas/BLOCK_ID"}},
        {"name": "verbose", "schema": {"type": "boolean"}}
      ],
      "result": {"name": "result", "schema": {"$ref": "#/components/schemas/BLOCK"}},
      "errors": [{"$ref": "#/components/errors/BLOCK_NOT_FOUND"}]
    },
    {
      "name": "node_block_number",
      "params": [],
      "result": {"name": "result", "schema": {"type": "integer"}}
    },
    {
      "name": "node_subscribeNewHeads",
      "params": [],
      "result": {"name": "subscription_id", "schema": {"type": "string"}},
      "x-notification": {"$ref": "#/components/schemas/BLOCK"}
    },
    {
      "name": "node_traceFeed",
      "x-streaming": true,
      "params": [],
      "result": {"name": "result", "schema": {"type": "object", "properties": {"step": {"type": "integer"}}}}
    }
  ],
  "components": {
    "schemas": {
      "BLOCK_ID": {"type": "string"},
      "BLOCK": {"type": "object", "properties": {"hash": {"type": "string"}}}
    },
    "errors": {
      "BLOCK_NOT_FOUND": {"code": 24, "message": "Block not found"}
    }
  }
}`

func build(t *testing.T, doc string) *ir.Module {
	t.Helper()
	vs, err := spec.Load(spec.Source{Name: "main.json", Data: []byte(doc)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	g, err := graph.Build(vs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	set := ir.NewModuleSet()
	m := mapper.New(vs, g, set, nil)
	if err := m.MapNamespace("main", service.Roots(vs, "main")); err != nil {
		t.Fatalf("MapNamespace: %v", err)
	}
	if _, err := service.New(vs, m, service.Options{Product: "node"}, nil).Build("main"); err != nil {
		t.Fatalf("service.Build: %v", err)
	}
	mod, _ := set.Get("main")
	return mod
}

func lookup(t *testing.T, mod *ir.Module, name string) *ir.Message {
	t.Helper()
	d, ok := mod.Lookup(name)
	if !ok {
		t.Fatalf("declaration %q missing", name)
	}
	return d.(*ir.Message)
}

func TestBuild_RequestResponsePairs(t *testing.T) {
	mod := build(t, nodeDoc)
	svc := mod.Service
	if svc == nil || svc.Name != "NodeMainService" {
		t.Fatalf("service = %+v", svc)
	}
	var names []string
	for _, rpc := range svc.Methods {
		names = append(names, rpc.Name)
	}
	if got := strings.Join(names, ","); got != "GetBlockWithTxs,BlockNumber,SubscribeNewHeads,TraceFeed" {
		t.Fatalf("rpc names = %s", got)
	}

	req := lookup(t, mod, "GetBlockWithTxsRequest")
	if len(req.Fields) != 2 {
		t.Fatalf("request fields = %d", len(req.Fields))
	}
	id, verbose := req.Fields[0], req.Fields[1]
	if id.Name != "block_id" || id.Optional || id.Number != 1 || id.Type.String() != "string" {
		t.Fatalf("block_id = %+v", id)
	}
	if verbose.Name != "verbose" || !verbose.Optional || verbose.Number != 2 {
		t.Fatalf("verbose = %+v", verbose)
	}

	resp := lookup(t, mod, "GetBlockWithTxsResponse")
	if resp.Fields[0].JSONName != "result" || resp.Fields[0].Type.String() != "main.Block" || resp.Fields[0].Optional {
		t.Fatalf("result = %+v", resp.Fields[0])
	}
	errField := resp.Fields[1]
	if errField.Name != "error" || !errField.Optional || errField.Type.String() != "main."+service.ErrorMessage {
		t.Fatalf("error = %+v", errField)
	}

	rpcErr := lookup(t, mod, service.ErrorMessage)
	if len(rpcErr.Fields) != 3 || rpcErr.Fields[0].Type.String() != "int32" || !rpcErr.Fields[2].Optional {
		t.Fatalf("RpcError = %+v", rpcErr.Fields)
	}
	if !strings.Contains(svc.Methods[0].Comment, "BLOCK_NOT_FOUND (24): Block not found") {
		t.Fatalf("comment = %q", svc.Methods[0].Comment)
	}
}

func TestBuild_Streaming(t *testing.T) {
	mod := build(t, nodeDoc)
	byName := map[string]*ir.RpcMethod{}
	for _, rpc := range mod.Service.Methods {
		byName[rpc.Name] = rpc
	}
	cases := []struct {
		rpc       string
		streaming bool
		response  string
		payload   string
	}{
		{"GetBlockWithTxs", false, "GetBlockWithTxsResponse", "main.Block"},
		{"BlockNumber", false, "BlockNumberResponse", "int64"},
		{"SubscribeNewHeads", true, "SubscribeNewHeadsEvent", "main.Block"},
		{"TraceFeed", true, "TraceFeedEvent", "main.TraceFeedEventResult"},
	}
	for _, tc := range cases {
		t.Run(tc.rpc, func(t *testing.T) {
			rpc := byName[tc.rpc]
			if rpc.ServerStreaming != tc.streaming {
				t.Fatalf("streaming = %v", rpc.ServerStreaming)
			}
			if rpc.Response.Name != tc.response {
				t.Fatalf("response = %v", rpc.Response)
			}
			msg := lookup(t, mod, tc.response)
			if got := msg.Fields[0].Type.String(); got != tc.payload {
				t.Fatalf("payload = %s", got)
			}
		})
	}
}

func TestRoots(t *testing.T) {
	vs, err := spec.Load(spec.Source{Name: "main.json", Data: []byte(nodeDoc)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(service.Roots(vs, "main"), ","); got != "BLOCK_ID,BLOCK" {
		t.Fatalf("roots = %s", got)
	}
}

func TestIsStreaming(t *testing.T) {
	cases := []struct {
		name string
		m    spec.MethodDecl
		want bool
	}{
		{"prefix", spec.MethodDecl{Name: "node_subscribeEvents"}, true},
		{"snake", spec.MethodDecl{Name: "node_subscribe_events"}, true},
		{"plain", spec.MethodDecl{Name: "node_getEvents"}, false},
		{"stream in name", spec.MethodDecl{Name: "node_streamBlocks"}, true},
		{"stream suffix", spec.MethodDecl{Name: "node_blockStream"}, true},
		{"flag", spec.MethodDecl{Name: "node_feed", Streaming: true}, true},
		{"stream result", spec.MethodDecl{Name: "node_feed", Result: &spec.ContentDescriptor{
			Schema: &spec.Primitive{Annotations: spec.Annotations{Stream: true}, Type: spec.String},
		}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := service.IsStreaming(&tc.m, "node_"); got != tc.want {
				t.Fatalf("IsStreaming = %v, want %v", got, tc.want)
			}
		})
	}
}
