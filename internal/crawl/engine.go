// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package crawl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/meshspider/internal/graph"
	"github.com/tomtom215/meshspider/internal/logging"
	"github.com/tomtom215/meshspider/internal/provider"
	"github.com/tomtom215/meshspider/internal/strategy"
	"github.com/tomtom215/meshspider/internal/telemetry"
)

// crawlEntry pairs a node with the ref it's filed under in its parent
// tree, carried alongside its (possibly nil) open connection once
// Stage 1 has run.
type crawlEntry struct {
	ref  string
	node *graph.Node
	conn provider.Connection
}

// Run crawls tree — typically the output of SeedTree — to completion.
// It returns the first fatal error encountered anywhere in the crawl;
// a fatal error means the resulting tree must not be treated as
// complete. Per-node timeouts during connection opening are not fatal
// and are instead recorded on the affected node.
func (s *Session) Run(ctx context.Context, tree map[string]*graph.Node) error {
	start := time.Now()
	defer func() { telemetry.CrawlDuration.Observe(time.Since(start).Seconds()) }()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.crawl(ctx, g, tree, nil)
	})
	return g.Wait()
}

func (s *Session) crawl(ctx context.Context, g *errgroup.Group, tree map[string]*graph.Node, ancestors []string) error {
	depth := len(ancestors)
	entries := sortedEntries(tree)
	logging.Debug().Int("depth", depth).Int("count", len(entries)).Msg("crawling layer")

	entries, err := s.openConnections(ctx, entries)
	if err != nil {
		return err
	}

	names, err := s.lookupServiceNames(ctx, entries)
	if err != nil {
		return err
	}
	s.assignNamesAndDetectCycles(entries, names, ancestors)

	if depth > s.cfg.MaxDepth-1 {
		logging.Debug().Int("max_depth", s.cfg.MaxDepth).Int("depth", depth).Msg("reached max depth")
		return nil
	}

	crawlable := make([]crawlEntry, 0, len(entries))
	for _, e := range entries {
		if e.node.IsCrawlable(depth, s) {
			crawlable = append(crawlable, e)
		}
	}

	return s.findChildrenAndRecurse(ctx, g, tree, crawlable, depth, ancestors)
}

func sortedEntries(tree map[string]*graph.Node) []crawlEntry {
	refs := make([]string, 0, len(tree))
	for ref := range tree {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	entries := make([]crawlEntry, 0, len(refs))
	for _, ref := range refs {
		entries = append(entries, crawlEntry{ref: ref, node: tree[ref]})
	}
	return entries
}

// --- Stage 1: open connections -------------------------------------

type openResult struct {
	conn provider.Connection
	err  error
}

// openConnections opens a connection per node, excluding any node that
// timed out, or whose provider's circuit breaker refused the call, from
// the entries returned (a TIMEOUT error is recorded on the node itself).
// Any other error is fatal and halts the run.
func (s *Session) openConnections(ctx context.Context, entries []crawlEntry) ([]crawlEntry, error) {
	results := make([]openResult, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e crawlEntry) {
			defer wg.Done()
			results[i] = s.openConnection(ctx, e.node)
		}(i, e)
	}
	wg.Wait()

	clean := make([]crawlEntry, 0, len(entries))
	for i, e := range entries {
		r := results[i]
		if r.err != nil {
			if errors.Is(r.err, provider.ErrTimeout) || errors.Is(r.err, context.DeadlineExceeded) ||
				errors.Is(r.err, gobreaker.ErrOpenState) || errors.Is(r.err, gobreaker.ErrTooManyRequests) {
				logging.Debug().Str("ref", e.ref).Str("address", e.node.Address).Msg("connection timed out")
				e.node.Errors[graph.ErrorTimeout] = true
				continue
			}
			telemetry.RecordCrawlError("open_connection")
			return nil, fmt.Errorf("opening connection for %s (%s): %w", e.ref, e.node.Address, r.err)
		}
		e.conn = r.conn
		clean = append(clean, e)
	}
	return clean, nil
}

func (s *Session) openConnection(ctx context.Context, node *graph.Node) openResult {
	if name, cached := s.nameCache[node.Address]; cached {
		if name == nil {
			return openResult{}
		}
		if s.web.SkipServiceName(*name) {
			return openResult{}
		}
		if _, childrenCached := s.childCache[*name]; childrenCached {
			return openResult{}
		}
	}

	p, err := s.providers.Get(node.Provider)
	if err != nil {
		return openResult{err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CrawlTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.breakerFor(p.Ref()).Execute(func() (any, error) {
		return p.OpenConnection(callCtx, node.Address)
	})
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	telemetry.RecordProviderCall(p.Ref(), "open_connection", time.Since(start), err, timedOut)
	if err != nil {
		if timedOut {
			return openResult{err: context.DeadlineExceeded}
		}
		return openResult{err: err}
	}
	return openResult{conn: result}
}

// --- Stage 2: resolve names ------------------------------------------

type nameResult struct {
	name   *string
	cached bool
	err    error
}

// lookupServiceNames resolves every entry's service name. Any error —
// including a timeout — is fatal: an incomplete name resolution makes
// the rest of the layer meaningless.
func (s *Session) lookupServiceNames(ctx context.Context, entries []crawlEntry) ([]*string, error) {
	results := make([]nameResult, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e crawlEntry) {
			defer wg.Done()
			results[i] = s.lookupServiceName(ctx, e.node, e.conn)
		}(i, e)
	}
	wg.Wait()

	names := make([]*string, len(entries))
	for i, e := range entries {
		r := results[i]
		if r.err != nil {
			telemetry.RecordCrawlError("lookup_name")
			return nil, fmt.Errorf("looking up name for %s (%s): %w", e.ref, e.node.Address, r.err)
		}
		telemetry.RecordNameCacheLookup(r.cached)
		if !r.cached {
			s.nameCache[e.node.Address] = r.name
		}
		names[i] = r.name
	}
	return names, nil
}

func (s *Session) lookupServiceName(ctx context.Context, node *graph.Node, conn provider.Connection) nameResult {
	if name, cached := s.nameCache[node.Address]; cached {
		return nameResult{name: name, cached: true}
	}

	p, err := s.providers.Get(node.Provider)
	if err != nil {
		return nameResult{err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CrawlTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.breakerFor(p.Ref()).Execute(func() (any, error) {
		return p.LookupName(callCtx, node.Address, conn)
	})
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	telemetry.RecordProviderCall(p.Ref(), "lookup_name", time.Since(start), err, timedOut)
	if err != nil {
		return nameResult{err: err}
	}
	name, _ := result.(*string)
	return nameResult{name: name}
}

// assignNamesAndDetectCycles applies strategy-level rewrites and
// obfuscation, flags a name-lookup failure, and marks a cycle when the
// resolved name already appears among ancestors. Rewrite-then-cycle-
// check ordering matters: a rewrite can turn an otherwise-novel name
// into one that matches an ancestor.
func (s *Session) assignNamesAndDetectCycles(entries []crawlEntry, names []*string, ancestors []string) {
	for i, e := range entries {
		name := names[i]
		if name == nil {
			logging.Debug().Str("ref", e.ref).Str("address", e.node.Address).Msg("name lookup failed")
			e.node.Errors[graph.ErrorNameLookupFailed] = true
			continue
		}

		resolved := *name
		if cs, ok := s.strategies.Get(e.node.CrawlStrategyRef); ok {
			resolved = cs.RewriteServiceName(resolved, e.node)
		}
		if s.cfg.Obfuscate {
			resolved = s.obfuscator.ServiceName(resolved)
		}
		if containsString(ancestors, resolved) {
			e.node.Warnings[graph.WarningCycle] = true
			telemetry.RecordCycleDetected()
		}
		e.node.SetServiceName(resolved)
	}
}

// --- Stage 4: find children and recurse ------------------------------

type childrenResult struct {
	ref      string
	children map[string]*graph.Node
	err      error
}

// findChildrenAndRecurse enumerates each crawlable node's downstream
// peers, assigns non-excluded children onto the tree, and schedules a
// recursive crawl of the next layer via g. Any error here — including a
// timeout — is fatal.
func (s *Session) findChildrenAndRecurse(ctx context.Context, g *errgroup.Group, tree map[string]*graph.Node, crawlable []crawlEntry, depth int, ancestors []string) error {
	results := make([]childrenResult, len(crawlable))
	var wg sync.WaitGroup
	for i, e := range crawlable {
		wg.Add(1)
		go func(i int, e crawlEntry) {
			defer wg.Done()
			results[i] = s.crawlChildren(ctx, e)
		}(i, e)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			telemetry.RecordCrawlError("find_children")
			return fmt.Errorf("crawling children of %s: %w", r.ref, r.err)
		}
	}

	childDepth := depth + 1
	for _, r := range results {
		node := tree[r.ref]
		nonexcluded := make(map[string]*graph.Node, len(r.children))
		for ref, child := range r.children {
			if child.IsExcluded(childDepth, s) {
				reason := "nonblocking_grandchild"
				if s.ProviderDisabled(child.Provider) {
					reason = "provider_disabled"
				}
				telemetry.RecordNodeExcluded(reason)
				continue
			}
			nonexcluded[ref] = child
		}
		node.Children = nonexcluded

		childrenWithAddress := make(map[string]*graph.Node, len(nonexcluded))
		for ref, child := range nonexcluded {
			if child.Address != "" {
				childrenWithAddress[ref] = child
			}
		}
		if len(childrenWithAddress) == 0 {
			continue
		}

		nextAncestors := append(append([]string{}, ancestors...), node.ServiceNameOrEmpty())
		g.Go(func() error {
			return s.crawl(ctx, g, childrenWithAddress, nextAncestors)
		})
	}

	return nil
}

type crawlTask struct {
	cs         strategy.CrawlStrategy
	transports []graph.NodeTransport
	err        error
}

func (s *Session) crawlChildren(ctx context.Context, e crawlEntry) childrenResult {
	serviceName := e.node.ServiceNameOrEmpty()

	if cached, ok := s.childCache[serviceName]; ok {
		logging.Debug().Str("service_name", serviceName).Int("count", len(cached)).Msg("children found in cache")
		telemetry.RecordChildCacheLookup(true)
		return childrenResult{ref: e.ref, children: copyCachedChildren(cached)}
	}
	telemetry.RecordChildCacheLookup(false)
	telemetry.RecordNodeCrawled(e.node.Protocol.Ref)

	p, err := s.providers.Get(e.node.Provider)
	if err != nil {
		return childrenResult{ref: e.ref, err: err}
	}

	tasks, err := s.compileCrawlTasks(ctx, e, serviceName, p)
	if err != nil {
		return childrenResult{ref: e.ref, err: err}
	}
	results := make([]crawlTask, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t func() crawlTask) {
			defer wg.Done()
			results[i] = t()
		}(i, t)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return childrenResult{ref: e.ref, err: r.err}
		}
	}

	children := map[string]*graph.Node{}
	for _, r := range results {
		for _, nt := range r.transports {
			if s.web.SkipProtocolMux(nt.ProtocolMux) {
				continue
			}
			childRef, child := s.createNode(r.cs, nt)
			children[childRef] = child
		}
	}
	logging.Debug().Str("service_name", serviceName).Int("count", len(children)).Msg("found children")
	s.childCache[serviceName] = children

	return childrenResult{ref: e.ref, children: children}
}

func (s *Session) compileCrawlTasks(ctx context.Context, e crawlEntry, serviceName string, p provider.Provider) ([]func() crawlTask, error) {
	var tasks []func() crawlTask

	for _, cs := range s.strategies.All() {
		if containsString(s.cfg.SkipProtocols, cs.Protocol.Ref) ||
			cs.FilterServiceName(serviceName) ||
			!containsString(cs.Providers, p.Ref()) {
			continue
		}
		cs := cs
		tasks = append(tasks, func() crawlTask {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.CrawlTimeout)
			defer cancel()
			start := time.Now()
			result, err := s.breakerFor(p.Ref()).Execute(func() (any, error) {
				return p.CrawlDownstream(callCtx, e.node.Address, e.conn, cs.ProviderArgs)
			})
			telemetry.RecordProviderCall(p.Ref(), "crawl_downstream", time.Since(start), err, errors.Is(callCtx.Err(), context.DeadlineExceeded))
			if err != nil {
				return crawlTask{cs: cs, err: err}
			}
			nts, _ := result.([]graph.NodeTransport)
			return crawlTask{cs: cs, transports: nts}
		})
	}

	for _, hint := range s.web.Hints(serviceName) {
		if containsString(s.cfg.DisableProviders, hint.InstanceProvider) {
			continue
		}
		hintProvider, err := s.providers.Get(hint.InstanceProvider)
		if err != nil {
			return nil, err
		}
		hint := hint
		hintCS := strategy.Hint
		hintCS.Protocol = hint.Protocol
		hintCS.ChildProvider = strategy.ChildProviderRule{Kind: strategy.ChildProviderMatchAll, Provider: hint.ChildProvider}

		tasks = append(tasks, func() crawlTask {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.CrawlTimeout)
			defer cancel()
			start := time.Now()
			result, err := s.breakerFor(hintProvider.Ref()).Execute(func() (any, error) {
				return hintProvider.TakeAHint(callCtx, hint)
			})
			telemetry.RecordProviderCall(hintProvider.Ref(), "take_a_hint", time.Since(start), err, errors.Is(callCtx.Err(), context.DeadlineExceeded))
			if err != nil {
				return crawlTask{cs: hintCS, err: err}
			}
			nts, _ := result.([]graph.NodeTransport)
			return crawlTask{cs: hintCS, transports: nts}
		})
	}

	return tasks, nil
}

func (s *Session) createNode(cs strategy.CrawlStrategy, nt graph.NodeTransport) (string, *graph.Node) {
	if s.cfg.Obfuscate {
		nt = s.obfuscator.NodeTransport(nt)
	}

	childProviderRef, err := cs.ResolveChildProvider(nt.ProtocolMux, nt.Address)
	if err != nil {
		logging.Warn().Err(err).Str("strategy", cs.Name).Msg("could not resolve child provider")
	}

	containerized := false
	if p, err := s.providers.Get(childProviderRef); err == nil {
		containerized = p.IsContainerPlatform()
	}

	fromHint := containsString(cs.Providers, strategy.ProviderRefHint)

	node := graph.NewNode(cs.Name, cs.Protocol, nt.ProtocolMux, childProviderRef, nt.Address)
	node.Containerized = containerized
	node.FromHint = fromHint
	if fromHint && nt.DebugIdentifier != "" {
		node.SetServiceName(nt.DebugIdentifier)
	}

	if nt.Address == "" || nt.Address == "null" {
		node.Errors[graph.ErrorNullAddress] = true
	}
	if nt.NumConnections != nil && *nt.NumConnections == 0 {
		node.Warnings[graph.WarningDefunct] = true
	}

	ref := graph.ChildRefKey(cs.Protocol.Ref, nt.ProtocolMux, nt.DebugIdentifier)
	return ref, node
}

func copyCachedChildren(cached map[string]*graph.Node) map[string]*graph.Node {
	out := make(map[string]*graph.Node, len(cached))
	for ref, n := range cached {
		out[ref] = n.CopyForCache()
	}
	return out
}
