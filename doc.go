// Package openrpc2proto compiles OpenRPC-style JSON-RPC specifications into
// proto3 service and message declarations that keep the exact JSON field
// names of the source schemas.
//
// - Load spec documents (JSON or YAML) per version and namespace
// - Map the JSON-Schema dictionary to messages, enums and oneofs
// - Hoist types shared by several namespaces into a common package
// - Emit one deterministic .proto file per namespace, plus a linked descriptor set
//
// Design policy:
// - Keep only public APIs in the root package; stages live under internal/.
// - The loader (spec), error model (diag) and configuration (config) are public packages.
// - The CLI lives under cmd/openrpc2proto.
//
// Typical usage:
//
//	res, err := openrpc2proto.CompileSources(ctx, openrpc2proto.Options{Product: "starknet"},
//		openrpc2proto.ReadFile("main", "api/main.json"))
//	err = openrpc2proto.WriteResult("gen", res)
package openrpc2proto
