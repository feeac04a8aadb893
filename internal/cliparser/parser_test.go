package cliparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEachCommandShape(t *testing.T) {
	cases := []struct {
		line string
		want Command
	}{
		{"begin(T1)", Command{Kind: Begin, TxnID: "T1", Raw: "begin(T1)"}},
		{"  beginRO( T2 )  ", Command{Kind: Begin, TxnID: "T2", Raw: "beginRO( T2 )"}},
		{"R(T1,x3)", Command{Kind: Read, TxnID: "T1", Var: "x3", Raw: "R(T1,x3)"}},
		{"W(T1, x3, 42)", Command{Kind: Write, TxnID: "T1", Var: "x3", Value: 42, Raw: "W(T1, x3, 42)"}},
		{"end(T1)", Command{Kind: End, TxnID: "T1", Raw: "end(T1)"}},
		{"fail(3)", Command{Kind: Fail, SiteID: 3, Raw: "fail(3)"}},
		{"recover(3)", Command{Kind: Recover, SiteID: 3, Raw: "recover(3)"}},
		{"dump()", Command{Kind: Dump, Raw: "dump()"}},
		{"querystate()", Command{Kind: QueryState, Raw: "querystate()"}},
		{"", Command{Kind: Empty, Raw: ""}},
		{"// a comment", Command{Kind: Comment, Raw: "// a comment"}},
		{"=== section ===", Command{Kind: Comment, Raw: "=== section ==="}},
		{"nonsense", Command{Kind: Unrecognized, Raw: "nonsense"}},
	}

	for _, c := range cases {
		got := Parse(c.line)
		assert.Equal(t, c.want, got, "parsing %q", c.line)
	}
}

func TestParseIsCaseInsensitive(t *testing.T) {
	got := Parse("BEGIN(t1)")
	assert.Equal(t, Begin, got.Kind)
	assert.Equal(t, "t1", got.TxnID)
}
