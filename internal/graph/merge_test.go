// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package graph

import "testing"

func TestMergeHintsNoHints(t *testing.T) {
	nodes := map[string]*Node{
		"a": NewNode("", blockingProtocol(), "80", "ssh", "1.2.3.4"),
	}
	merged := MergeHints(nodes)
	if len(merged) != 1 {
		t.Fatalf("expected 1 node unchanged, got %d", len(merged))
	}
}

func TestMergeHintsCollapsesMatchingEdge(t *testing.T) {
	discovered := NewNode("", Protocol{Ref: "BAZ"}, "9999", "qux", "5.6.7.8")
	discovered.SetServiceName("real-name")

	hint := NewNode("", Protocol{Ref: "BAZ"}, "9999", "hnt", "")
	hint.FromHint = true
	hintName := "hint-name"
	hint.ServiceName = &hintName
	hint.Warnings[WarningDefunct] = true

	nodes := map[string]*Node{
		"discovered": discovered,
		"hint":       hint,
	}

	merged := MergeHints(nodes)
	if len(merged) != 1 {
		t.Fatalf("expected hint and discovered node to collapse into one, got %d: %v", len(merged), merged)
	}

	var result *Node
	for _, n := range merged {
		result = n
	}
	if !result.FromHint {
		t.Error("expected merged node to be marked from_hint")
	}
	if result.ServiceNameOrEmpty() != "real-name" {
		t.Errorf("expected discovered name to win, got %q", result.ServiceNameOrEmpty())
	}
	if !result.Warnings[WarningDefunct] {
		t.Error("expected hint's warnings to be unioned in")
	}
}

func TestMergeHintsLeavesUnmatchedHint(t *testing.T) {
	hint := NewNode("", Protocol{Ref: "BAZ"}, "9999", "hnt", "")
	hint.FromHint = true

	nodes := map[string]*Node{"hint": hint}
	merged := MergeHints(nodes)
	if len(merged) != 1 {
		t.Fatalf("expected unmatched hint retained, got %d", len(merged))
	}
}
