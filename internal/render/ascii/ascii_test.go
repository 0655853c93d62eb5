// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package ascii

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tomtom215/meshspider/internal/graph"
)

func TestRenderSimpleTree(t *testing.T) {
	root := graph.NewNode("Seed", graph.ProtocolSeed, "", "seed", "1.2.3.4")
	root.SetServiceName("frontend")
	root.Children = map[string]*graph.Node{}

	var buf bytes.Buffer
	Render(&buf, map[string]*graph.Node{"seed-0": root}, Options{MaxDepth: 3})

	out := buf.String()
	if !strings.Contains(out, "frontend") {
		t.Errorf("expected rendered output to mention frontend, got %q", out)
	}
}

func TestRenderMarksCycle(t *testing.T) {
	child := graph.NewNode("Downstream", graph.Protocol{Ref: "TCP", Blocking: true}, "80", "ssh", "5.6.7.8")
	child.SetServiceName("frontend")
	child.Warnings[graph.WarningCycle] = true

	root := graph.NewNode("Seed", graph.ProtocolSeed, "", "seed", "1.2.3.4")
	root.SetServiceName("frontend")
	root.Children = map[string]*graph.Node{"TCP_80": child}

	var buf bytes.Buffer
	Render(&buf, map[string]*graph.Node{"seed-0": root}, Options{MaxDepth: 3})

	if !strings.Contains(buf.String(), "<--TCP--") {
		t.Errorf("expected cycle bud marker in output, got %q", buf.String())
	}
}

func TestRenderHidesDefunctWhenRequested(t *testing.T) {
	child := graph.NewNode("Downstream", graph.Protocol{Ref: "TCP"}, "80", "ssh", "5.6.7.8")
	child.SetServiceName("stale-dep")
	child.Warnings[graph.WarningDefunct] = true

	root := graph.NewNode("Seed", graph.ProtocolSeed, "", "seed", "1.2.3.4")
	root.SetServiceName("frontend")
	root.Children = map[string]*graph.Node{"TCP_80": child}

	var buf bytes.Buffer
	Render(&buf, map[string]*graph.Node{"seed-0": root}, Options{MaxDepth: 3, HideDefunct: true})

	if strings.Contains(buf.String(), "stale-dep") {
		t.Errorf("expected stale-dep to be hidden, got %q", buf.String())
	}
}

func TestRenderVerboseShowsErrorDetail(t *testing.T) {
	root := graph.NewNode("Seed", graph.ProtocolSeed, "", "seed", "1.2.3.4")
	root.Errors[graph.ErrorNameLookupFailed] = true

	var buf bytes.Buffer
	Render(&buf, map[string]*graph.Node{"seed-0": root}, Options{MaxDepth: 3, Verbose: true})

	if !strings.Contains(buf.String(), "NAME_LOOKUP_FAILED") {
		t.Errorf("expected verbose output to detail the error, got %q", buf.String())
	}
}
