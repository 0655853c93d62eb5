// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package crawl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/meshspider/internal/config"
	"github.com/tomtom215/meshspider/internal/graph"
	"github.com/tomtom215/meshspider/internal/provider"
	"github.com/tomtom215/meshspider/internal/strategy"
)

// fakeProvider is an in-memory topology fixture: downstreams maps an
// address to the transports it should report.
type fakeProvider struct {
	provider.BaseProvider
	ref         string
	names       map[string]string
	downstreams map[string][]graph.NodeTransport
}

func (f *fakeProvider) Ref() string { return f.ref }

func (f *fakeProvider) OpenConnection(ctx context.Context, address string) (provider.Connection, error) {
	return address, nil
}

func (f *fakeProvider) LookupName(ctx context.Context, address string, conn provider.Connection) (*string, error) {
	name, ok := f.names[address]
	if !ok {
		return nil, nil
	}
	return &name, nil
}

func (f *fakeProvider) CrawlDownstream(ctx context.Context, address string, conn provider.Connection, args map[string]any) ([]graph.NodeTransport, error) {
	return f.downstreams[address], nil
}

func writeFixture(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", name, err)
	}
}

func newTestSession(t *testing.T, p provider.Provider, cfg Config) *Session {
	t.Helper()
	dir := t.TempDir()
	writeFixture(t, dir, "web.yaml", `
protocols:
  TCP:
    name: tcp
    blocking: true
`)
	web, err := config.LoadWeb(filepath.Join(dir, "web.yaml"))
	if err != nil {
		t.Fatalf("failed to load web fixture: %v", err)
	}

	writeFixture(t, dir, "downstream.yaml", `
type: CrawlStrategy
name: Downstream
protocol: TCP
providers:
  - `+p.Ref()+`
childProvider:
  type: matchAll
  provider: `+p.Ref()+`
`)
	strategies := strategy.NewRegistry()
	if err := strategies.LoadDir(dir, web); err != nil {
		t.Fatalf("failed to load strategy fixture: %v", err)
	}

	providers := provider.NewRegistry()
	if err := providers.Register(p); err != nil {
		t.Fatalf("failed to register provider: %v", err)
	}

	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = 3
	}
	return NewSession(cfg, web, strategies, providers)
}

func TestRunSimpleTopology(t *testing.T) {
	p := &fakeProvider{
		ref: "ssh",
		names: map[string]string{
			"1.2.3.4": "frontend",
			"5.6.7.8": "backend",
		},
		downstreams: map[string][]graph.NodeTransport{
			"1.2.3.4": {{ProtocolMux: "80", Address: "5.6.7.8"}},
		},
	}
	s := newTestSession(t, p, Config{})

	tree := s.SeedTree([]Seed{{Provider: "ssh", Address: "1.2.3.4"}})
	if err := s.Run(context.Background(), tree); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var frontend *graph.Node
	for _, n := range tree {
		frontend = n
	}
	if frontend.ServiceNameOrEmpty() != "frontend" {
		t.Fatalf("expected frontend name, got %q", frontend.ServiceNameOrEmpty())
	}
	if len(frontend.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(frontend.Children))
	}
}

func TestRunNameLookupFailureIsNotFatal(t *testing.T) {
	p := &fakeProvider{ref: "ssh", names: map[string]string{}}
	s := newTestSession(t, p, Config{})

	tree := s.SeedTree([]Seed{{Provider: "ssh", Address: "9.9.9.9"}})
	if err := s.Run(context.Background(), tree); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var node *graph.Node
	for _, n := range tree {
		node = n
	}
	if !node.Errors[graph.ErrorNameLookupFailed] {
		t.Error("expected NAME_LOOKUP_FAILED error recorded")
	}
}

func TestRunMaxDepthStopsRecursion(t *testing.T) {
	p := &fakeProvider{
		ref:   "ssh",
		names: map[string]string{"1.2.3.4": "a", "5.6.7.8": "b", "9.9.9.9": "c"},
		downstreams: map[string][]graph.NodeTransport{
			"1.2.3.4": {{ProtocolMux: "80", Address: "5.6.7.8"}},
			"5.6.7.8": {{ProtocolMux: "80", Address: "9.9.9.9"}},
		},
	}
	s := newTestSession(t, p, Config{MaxDepth: 1})

	tree := s.SeedTree([]Seed{{Provider: "ssh", Address: "1.2.3.4"}})
	if err := s.Run(context.Background(), tree); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var root *graph.Node
	for _, n := range tree {
		root = n
	}
	if len(root.Children) != 1 {
		t.Fatalf("expected root to have 1 child, got %d", len(root.Children))
	}
	for _, child := range root.Children {
		if len(child.Children) != 0 {
			t.Errorf("expected grandchild crawl to be skipped at max depth, got %d children", len(child.Children))
		}
	}
}

func TestRunCacheHitAvoidsReCrawl(t *testing.T) {
	calls := 0
	p := &countingProvider{fakeProvider: fakeProvider{
		ref:   "ssh",
		names: map[string]string{"1.2.3.4": "shared"},
		downstreams: map[string][]graph.NodeTransport{
			"1.2.3.4": {{ProtocolMux: "80", Address: "9.9.9.9"}},
		},
	}, calls: &calls}

	s := newTestSession(t, p, Config{})
	cachedChild := graph.NewNode("Downstream", graph.Protocol{Ref: "TCP"}, "443", "ssh", "2.2.2.2")
	s.childCache["shared"] = map[string]*graph.Node{"TCP_443": cachedChild}

	tree := s.SeedTree([]Seed{{Provider: "ssh", Address: "1.2.3.4"}})
	if err := s.Run(context.Background(), tree); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 0 {
		t.Errorf("expected child_cache hit to skip CrawlDownstream entirely, called %d times", calls)
	}

	var root *graph.Node
	for _, n := range tree {
		root = n
	}
	if len(root.Children) != 1 {
		t.Fatalf("expected 1 cached child, got %d", len(root.Children))
	}
	for _, child := range root.Children {
		if child.Address != "2.2.2.2" {
			t.Errorf("expected cached child, got address %q", child.Address)
		}
	}
}

type countingProvider struct {
	fakeProvider
	calls *int
}

func (c *countingProvider) CrawlDownstream(ctx context.Context, address string, conn provider.Connection, args map[string]any) ([]graph.NodeTransport, error) {
	*c.calls++
	return c.fakeProvider.CrawlDownstream(ctx, address, conn, args)
}

func TestRunCycleDetection(t *testing.T) {
	p := &fakeProvider{
		ref: "ssh",
		names: map[string]string{
			"1.2.3.4": "frontend",
			"5.6.7.8": "frontend",
		},
		downstreams: map[string][]graph.NodeTransport{
			"1.2.3.4": {{ProtocolMux: "80", Address: "5.6.7.8"}},
		},
	}
	s := newTestSession(t, p, Config{})

	tree := s.SeedTree([]Seed{{Provider: "ssh", Address: "1.2.3.4"}})
	if err := s.Run(context.Background(), tree); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var root *graph.Node
	for _, n := range tree {
		root = n
	}
	if len(root.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(root.Children))
	}
	for _, child := range root.Children {
		if !child.Warnings[graph.WarningCycle] {
			t.Error("expected CYCLE warning on child resolving to an ancestor's name")
		}
	}
}

// erroringProvider fails LookupName with a non-timeout error, which must
// abort the whole run rather than merely excluding the node.
type erroringProvider struct {
	fakeProvider
}

func (e *erroringProvider) LookupName(ctx context.Context, address string, conn provider.Connection) (*string, error) {
	return nil, errors.New("lookup backend unreachable")
}

func TestRunLookupErrorIsFatal(t *testing.T) {
	p := &erroringProvider{fakeProvider: fakeProvider{ref: "ssh"}}
	s := newTestSession(t, p, Config{})

	tree := s.SeedTree([]Seed{{Provider: "ssh", Address: "1.2.3.4"}})
	if err := s.Run(context.Background(), tree); err == nil {
		t.Fatal("expected a fatal error from name lookup failure, got nil")
	}
}

// timeoutOnceProvider times out OpenConnection for one address and
// succeeds normally for every other, so the run as a whole should
// survive with only the timed-out node excluded from its layer.
type timeoutOnceProvider struct {
	fakeProvider
	timeoutAddress string
}

func (p *timeoutOnceProvider) OpenConnection(ctx context.Context, address string) (provider.Connection, error) {
	if address == p.timeoutAddress {
		return nil, provider.ErrTimeout
	}
	return address, nil
}

func TestRunStage1TimeoutExcludesNodeWithoutFailingRun(t *testing.T) {
	p := &timeoutOnceProvider{
		fakeProvider: fakeProvider{
			ref:   "ssh",
			names: map[string]string{"5.6.7.8": "backend"},
		},
		timeoutAddress: "1.2.3.4",
	}
	s := newTestSession(t, p, Config{})

	tree := s.SeedTree([]Seed{
		{Provider: "ssh", Address: "1.2.3.4"},
		{Provider: "ssh", Address: "5.6.7.8"},
	})
	if err := s.Run(context.Background(), tree); err != nil {
		t.Fatalf("a connection timeout must not fail the whole run: %v", err)
	}

	var timedOut, resolved *graph.Node
	for _, n := range tree {
		if n.Address == "1.2.3.4" {
			timedOut = n
		} else {
			resolved = n
		}
	}
	if !timedOut.Errors[graph.ErrorTimeout] {
		t.Error("expected TIMEOUT error recorded on the node that timed out")
	}
	if timedOut.ServiceName != nil {
		t.Error("expected the timed-out node to be excluded from name resolution")
	}
	if resolved.ServiceNameOrEmpty() != "backend" {
		t.Errorf("expected the other seed to resolve normally, got %q", resolved.ServiceNameOrEmpty())
	}
}

// fakeHintProvider resolves a hint edge to a single concrete instance,
// standing in for a provider plugin that exposes no way to discover a
// dependency except via an operator-declared hint.
type fakeHintProvider struct {
	provider.BaseProvider
	ref        string
	transports []graph.NodeTransport
}

func (f *fakeHintProvider) Ref() string { return f.ref }

func (f *fakeHintProvider) TakeAHint(ctx context.Context, hint graph.Hint) ([]graph.NodeTransport, error) {
	return f.transports, nil
}

func TestRunHintResolution(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "web.yaml", `
protocols:
  TCP:
    name: tcp
    blocking: true
hints:
  frontend:
    - protocol: TCP
      protocol_mux: "7000"
      provider: hintprov
      instance_provider: hintprov
`)
	web, err := config.LoadWeb(filepath.Join(dir, "web.yaml"))
	if err != nil {
		t.Fatalf("failed to load web fixture: %v", err)
	}

	main := &fakeProvider{ref: "ssh", names: map[string]string{"1.2.3.4": "frontend"}}
	hintProvider := &fakeHintProvider{
		ref: "hintprov",
		transports: []graph.NodeTransport{
			{ProtocolMux: "7000", Address: "8.8.8.8", DebugIdentifier: "hint-instance"},
		},
	}

	providers := provider.NewRegistry()
	if err := providers.Register(main); err != nil {
		t.Fatalf("failed to register main provider: %v", err)
	}
	if err := providers.Register(hintProvider); err != nil {
		t.Fatalf("failed to register hint provider: %v", err)
	}

	s := NewSession(Config{MaxDepth: 3}, web, strategy.NewRegistry(), providers)

	tree := s.SeedTree([]Seed{{Provider: "ssh", Address: "1.2.3.4"}})
	if err := s.Run(context.Background(), tree); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var root *graph.Node
	for _, n := range tree {
		root = n
	}
	if len(root.Children) != 1 {
		t.Fatalf("expected 1 child resolved via hint, got %d", len(root.Children))
	}
	for _, child := range root.Children {
		if !child.FromHint {
			t.Error("expected child to be marked FromHint")
		}
		if child.ServiceNameOrEmpty() != "hint-instance" {
			t.Errorf("expected hint instance's debug identifier as name, got %q", child.ServiceNameOrEmpty())
		}
		if child.Address != "8.8.8.8" {
			t.Errorf("expected hint-resolved address, got %q", child.Address)
		}
	}
}
