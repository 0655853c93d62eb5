// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package graph

import "fmt"

// MergeHints groups a map of sibling nodes by (protocol, protocol_mux)
// and, for any group containing both a discovered node and a
// hint-derived node, folds the hint into the discovered node with
// non-hint precedence: the discovered node's non-empty fields win,
// warnings/errors are unioned, and children are unioned with the
// discovered node's entries winning on key collision. Unmatched hints
// are left as-is.
//
// This is rendering-time behavior only (spec Design Notes, "hint+non-hint
// merging during crawling vs rendering"): the engine keeps both nodes in
// the live graph, and it's this function — called by consumers of the
// finished tree — that collapses them into a single displayed edge.
func MergeHints(nodes map[string]*Node) map[string]*Node {
	hints := map[string]*Node{}
	for _, n := range nodes {
		if n.FromHint {
			hints[protocolAndMux(n)] = n
		}
	}
	if len(hints) == 0 {
		return nodes
	}

	merged := map[string]*Node{}
	usedHints := map[string]bool{}
	for ref, n := range nodes {
		if n.FromHint {
			continue
		}
		key := protocolAndMux(n)
		hint, ok := hints[key]
		if !ok {
			merged[ref] = n
			continue
		}
		merged[ref] = mergeNodeAndHint(n, hint)
		usedHints[key] = true
	}

	for ref, n := range nodes {
		if !n.FromHint {
			continue
		}
		if usedHints[protocolAndMux(n)] {
			continue
		}
		merged[ref] = n
	}

	return merged
}

func mergeNodeAndHint(n, hint *Node) *Node {
	out := *n
	out.FromHint = true
	if out.Address == "" {
		out.Address = hint.Address
	}
	out.Containerized = out.Containerized || hint.Containerized
	if out.ServiceName == nil {
		out.ServiceName = hint.ServiceName
	}
	out.Warnings = unionSets(n.Warnings, hint.Warnings)
	out.Errors = unionSets(n.Errors, hint.Errors)

	children := map[string]*Node{}
	for k, v := range hint.Children {
		children[k] = v
	}
	for k, v := range n.Children {
		children[k] = v
	}
	out.Children = children

	return &out
}

func unionSets(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func protocolAndMux(n *Node) string {
	return fmt.Sprintf("%s.%s", n.Protocol.Ref, n.ProtocolMux)
}
