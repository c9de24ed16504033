package naming_test

import (
	"testing"

	"github.com/reoring/openrpc2proto/internal/naming"
)

func TestTypeName(t *testing.T) {
	cases := map[string]string{
		"BLOCK_HASH":        "BlockHash",
		"TXN_HASH":          "TxnHash",
		"FELT":              "Felt",
		"simple":            "Simple",
		"EventFilter":       "EventFilter",
		"BLOCK_HEADERItems": "BlockHeaderItems",
		"0x_thing":          "T0xThing",
		"":                  "Type",
	}
	for in, want := range cases {
		if got := naming.TypeName(in); got != want {
			t.Errorf("TypeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFieldName(t *testing.T) {
	cases := map[string]string{
		"camelCase":       "camel_case",
		"PascalCase":      "pascal_case",
		"snake_case":      "snake_case",
		"type":            "type_",
		"ref":             "ref_",
		"blockNumber":     "block_number",
		"transactionHash": "transaction_hash",
		"l1_gas":          "l1_gas",
		"1st":             "f_1st",
		"package":         "package_",
		"max_fee":         "max_fee",
		"":                "field",
	}
	for in, want := range cases {
		if got := naming.FieldName(in); got != want {
			t.Errorf("FieldName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnumValueName(t *testing.T) {
	cases := map[string]string{
		"ACCEPTED_ON_L2": "ACCEPTED_ON_L2",
		"pending":        "PENDING",
		"0x1":            "0X1",
		"a-b.c":          "A_B_C",
		"":               "EMPTY",
	}
	for in, want := range cases {
		if got := naming.EnumValueName(in); got != want {
			t.Errorf("EnumValueName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRPCName(t *testing.T) {
	cases := []struct{ method, prefix, want string }{
		{"starknet_getBlockWithTxHashes", "starknet_", "GetBlockWithTxHashes"},
		{"starknet_add_invoke_transaction", "starknet_", "AddInvokeTransaction"},
		{"starknet_subscribeNewHeads", "starknet_", "SubscribeNewHeads"},
		{"getBlock", "starknet_", "GetBlock"},
		{"node_chainId", "", "NodeChainid"},
	}
	for _, tc := range cases {
		if got := naming.RPCName(tc.method, tc.prefix); got != tc.want {
			t.Errorf("RPCName(%q, %q) = %q, want %q", tc.method, tc.prefix, got, tc.want)
		}
	}
}

func TestUpperSnakeAndMapEntry(t *testing.T) {
	if got := naming.UpperSnake("BlockStatus"); got != "BLOCK_STATUS" {
		t.Errorf("UpperSnake = %q", got)
	}
	if got := naming.MapEntryName("storage_diffs"); got != "StorageDiffsEntry" {
		t.Errorf("MapEntryName = %q", got)
	}
	if got := naming.FoldedKey("block_Hash"); got != "blockhash" {
		t.Errorf("FoldedKey = %q", got)
	}
}

func TestUnique(t *testing.T) {
	taken := map[string]bool{"a": true, "a_2": true}
	if got := naming.Unique("a", "_", func(s string) bool { return taken[s] }); got != "a_3" {
		t.Fatalf("Unique = %q", got)
	}
	if got := naming.Unique("b", "_", func(s string) bool { return taken[s] }); got != "b" {
		t.Fatalf("Unique = %q", got)
	}
}
