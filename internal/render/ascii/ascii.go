// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

// Package ascii renders a fully-crawled tree as an indented text graph,
// the way a terminal user inspects a topology without reaching for a
// graph viewer.
package ascii

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/tomtom215/meshspider/internal/graph"
)

// Options controls what Render shows.
type Options struct {
	// Verbose adds a separate detail line per warning/error beneath the
	// node's own line, which still carries the folded tags.
	Verbose bool
	// HideDefunct skips nodes flagged DEFUNCT entirely.
	HideDefunct bool
	// MaxDepth bounds how deep Render recurses, mirroring the crawl's
	// own depth bound so a render of a partial tree doesn't imply more
	// was discovered than actually was.
	MaxDepth int
}

var (
	cyan   = color.New(color.FgCyan)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

var warningMessages = map[string]string{
	graph.WarningCycle:   "discovered as a parent of itself",
	graph.WarningDefunct: "configuration present on parent, but not in use",
}

var errorMessages = map[string]string{
	graph.ErrorNullAddress:      "detected but an instance address is not available to crawl",
	graph.ErrorTimeout:          "timed out connecting",
	graph.ErrorNameLookupFailed: "name lookup failed",
}

type ancestor struct {
	lastSibling bool
	spacing     int
}

// Render writes tree as an indented ASCII graph to out.
func Render(out io.Writer, tree map[string]*graph.Node, opts Options) {
	renderLayer(out, tree, nil, opts)
}

func renderLayer(out io.Writer, nodes map[string]*graph.Node, parents []ancestor, opts Options) {
	merged := mergeByServiceName(graph.MergeHints(nodes))
	depth := len(parents)

	refs := make([]string, 0, len(merged))
	for ref, node := range merged {
		if opts.HideDefunct && node.Warnings[graph.WarningDefunct] {
			continue
		}
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	for i, ref := range refs {
		node := merged[ref]
		isLastSibling := i == len(refs)-1

		childrensAncestors := append(append([]ancestor{}, parents...), ancestor{
			lastSibling: isLastSibling,
			spacing:     len(node.Protocol.Ref),
		})

		printPrefix := renderPrefix(parents)
		renderNode(out, node, depth, printPrefix, isLastSibling)
		if opts.Verbose {
			renderNodeDetail(out, node, renderPrefix(childrensAncestors))
		}

		if len(childrensAncestors) <= opts.MaxDepth && node.Children != nil {
			renderLayer(out, node.Children, childrensAncestors, opts)
		}
	}
}

func renderPrefix(parents []ancestor) string {
	var b strings.Builder
	for i, p := range parents {
		if i == 0 {
			b.WriteByte(' ')
			continue
		}
		branch := "|"
		if p.lastSibling {
			branch = " "
		}
		b.WriteString(branch + "       " + strings.Repeat(" ", p.spacing))
	}
	return b.String()
}

func renderNode(out io.Writer, node *graph.Node, depth int, prefix string, isLastSibling bool) {
	serviceName := node.ServiceNameOrEmpty()
	if serviceName == "" {
		serviceName = "UNKNOWN"
	}

	terminus := ">"
	switch {
	case node.Warnings[graph.WarningDefunct]:
		terminus = "x"
	case len(node.Errors) > 0:
		terminus = "?"
	}

	branch := ""
	if depth > 0 {
		bud := "|"
		if isLastSibling {
			bud = "└"
		}
		if node.Warnings[graph.WarningCycle] {
			bud = "<"
		}
		branch = fmt.Sprintf("%s--%s--%s ", bud, node.Protocol.Ref, terminus)
	}

	info := ""
	if node.FromHint {
		info = cyan.Sprint("{INFO:FROM_HINT} ")
	}

	concise := ""
	if len(node.Warnings) > 0 {
		concise += yellow.Sprint("{WARN:" + joinKeys(node.Warnings) + "} ")
	}
	if len(node.Errors) > 0 {
		concise += red.Sprint("{ERR:" + joinKeys(node.Errors) + "} ")
	}

	if depth == 0 {
		fmt.Fprintln(out)
	}

	protocolMux := node.ProtocolMux
	if node.Protocol.Blocking && depth > 0 {
		protocolMux = "port:" + protocolMux
	}

	fmt.Fprintf(out, "%s%s%s%s%s [%s]\n", prefix, branch, info, concise, serviceName, protocolMux)
}

func renderNodeDetail(out io.Writer, node *graph.Node, prefix string) {
	for w := range node.Warnings {
		msg, ok := warningMessages[w]
		if !ok {
			msg = "unrecognized warning"
		}
		fmt.Fprintln(out, prefix+yellow.Sprintf("└> WARN: (%s): ", w)+msg)
	}
	for e := range node.Errors {
		msg, ok := errorMessages[e]
		if !ok {
			msg = "unrecognized error"
		}
		fmt.Fprintln(out, prefix+red.Sprintf("└> ERROR: (%s): ", e)+msg)
	}
}

func joinKeys(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

// mergeByServiceName folds nodes that share a protocol and resolved
// service name into one, concatenating their protocol muxes — the same
// node otherwise appearing once per discovered port collapses to a
// single line.
func mergeByServiceName(nodes map[string]*graph.Node) map[string]*graph.Node {
	merged := make(map[string]*graph.Node, len(nodes))
	order := make([]string, 0, len(nodes))
	for ref := range nodes {
		order = append(order, ref)
	}
	sort.Strings(order)

	for _, ref := range order {
		node := nodes[ref]
		key := synthesizeKey(node, ref)
		existing, ok := merged[key]
		if !ok {
			merged[key] = node
			continue
		}
		if !strings.Contains(existing.ProtocolMux, node.ProtocolMux) {
			cp := *existing
			cp.ProtocolMux = existing.ProtocolMux + "," + node.ProtocolMux
			merged[key] = &cp
		}
	}
	return merged
}

func synthesizeKey(node *graph.Node, fallback string) string {
	if node.ServiceNameOrEmpty() == "" {
		return fallback
	}
	return strings.ToLower(node.Protocol.Ref) + "_" + node.ServiceNameOrEmpty()
}
