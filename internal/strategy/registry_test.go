// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/meshspider/internal/graph"
)

type fakeProtocolLookup struct {
	protocols map[string]graph.Protocol
}

func (f fakeProtocolLookup) Protocol(ref string) (graph.Protocol, bool) {
	p, ok := f.protocols[ref]
	return p, ok
}

func TestRegistryLoadDir(t *testing.T) {
	dir := t.TempDir()
	doc := `
type: CrawlStrategy
description: crawls databases
name: Database
protocol: TCP
providers:
  - ssh
childProvider:
  type: matchAll
  provider: ssh
`
	if err := os.WriteFile(filepath.Join(dir, "database.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	lookup := fakeProtocolLookup{protocols: map[string]graph.Protocol{"TCP": {Ref: "TCP", Blocking: true}}}

	r := NewRegistry()
	if err := r.LoadDir(dir, lookup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cs, ok := r.Get("Database")
	if !ok {
		t.Fatal("expected Database strategy to be registered")
	}
	if cs.Protocol.Ref != "TCP" {
		t.Errorf("got protocol ref %q, want TCP", cs.Protocol.Ref)
	}
	if cs.ChildProvider.Kind != ChildProviderMatchAll || cs.ChildProvider.Provider != "ssh" {
		t.Errorf("unexpected child provider rule: %+v", cs.ChildProvider)
	}
}

func TestRegistryLoadDirUnknownProtocol(t *testing.T) {
	dir := t.TempDir()
	doc := `
type: CrawlStrategy
name: Bogus
protocol: NOPE
providers: [ssh]
childProvider:
  type: matchAll
  provider: ssh
`
	if err := os.WriteFile(filepath.Join(dir, "bogus.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	r := NewRegistry()
	err := r.LoadDir(dir, fakeProtocolLookup{protocols: map[string]graph.Protocol{}})
	if err == nil {
		t.Fatal("expected error for unknown protocol ref")
	}
}

func TestRegistryLoadDirSkipsNonStrategyDocuments(t *testing.T) {
	dir := t.TempDir()
	doc := "type: Web\nprotocols:\n  TCP:\n    name: tcp\n"
	if err := os.WriteFile(filepath.Join(dir, "web.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	r := NewRegistry()
	if err := r.LoadDir(dir, fakeProtocolLookup{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.All()) != 2 {
		t.Errorf("expected only the 2 built-ins, got %d", len(r.All()))
	}
}
