// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

// Package strategy is the Crawl Strategy Registry. A CrawlStrategy
// names the providers used to crawl a class of node, how to pick the
// provider for a newly discovered child, and how to filter or rewrite
// a just-resolved service name before the rest of the engine sees it.
package strategy

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/tomtom215/meshspider/internal/graph"
)

// ChildProviderKind selects how ResolveChildProvider maps a discovered
// child's protocol mux / address to the provider that should crawl it.
type ChildProviderKind string

const (
	ChildProviderMatchAll     ChildProviderKind = "matchAll"
	ChildProviderMatchAddress ChildProviderKind = "matchAddress"
	ChildProviderMatchPort    ChildProviderKind = "matchPort"
)

// Built-in provider refs carried regardless of what a provider plugin
// registers, used to recognize the seed and hint strategies.
const (
	ProviderRefSeed = "seed"
	ProviderRefHint = "hnt"
)

// ChildProviderRule describes how to resolve the provider for a child
// node discovered under a crawl strategy.
type ChildProviderRule struct {
	Kind    ChildProviderKind
	// Provider is used by ChildProviderMatchAll.
	Provider string
	// Matches maps a regexp (ChildProviderMatchAddress) or a port number
	// as a string (ChildProviderMatchPort) to a provider ref.
	Matches map[string]string
	// Default is used by ChildProviderMatchAddress/ChildProviderMatchPort
	// when nothing in Matches applies.
	Default string
}

// ServiceNameFilter restricts which service names a strategy crawls.
// Not and Only are mutually meaningful: if Only is non-empty, anything
// not in it is filtered out; if Not is non-empty, anything in it is
// filtered out. An empty filter crawls everything.
type ServiceNameFilter struct {
	Not  []string
	Only []string
}

// CrawlStrategy is the immutable, named bundle of rules applied while
// crawling a node: which providers are eligible, how children's
// providers are resolved, and how a resolved service name is filtered
// or rewritten before continuing the crawl.
type CrawlStrategy struct {
	Description         string
	Name                string
	Protocol            graph.Protocol
	Providers           []string
	ProviderArgs        map[string]any
	ChildProvider       ChildProviderRule
	ServiceNameFilter   ServiceNameFilter
	ServiceNameRewrites map[string]string
}

// ErrUnsupportedChildProviderKind is returned by ResolveChildProvider
// when a strategy document names a Kind this build doesn't recognize.
type ErrUnsupportedChildProviderKind struct {
	Strategy string
	Kind     ChildProviderKind
}

func (e *ErrUnsupportedChildProviderKind) Error() string {
	return fmt.Sprintf("strategy %q: child provider kind %q not supported", e.Strategy, e.Kind)
}

// FilterServiceName reports whether serviceName should be excluded
// from crawling under this strategy.
func (cs CrawlStrategy) FilterServiceName(serviceName string) bool {
	if len(cs.ServiceNameFilter.Not) == 0 && len(cs.ServiceNameFilter.Only) == 0 {
		return false
	}
	for _, not := range cs.ServiceNameFilter.Not {
		if serviceName == not {
			return true
		}
	}
	if len(cs.ServiceNameFilter.Only) > 0 {
		for _, only := range cs.ServiceNameFilter.Only {
			if serviceName == only {
				return false
			}
		}
		return true
	}
	return false
}

// ResolveChildProvider determines the provider ref that should crawl a
// child discovered under this strategy, given its protocol mux and
// address.
func (cs CrawlStrategy) ResolveChildProvider(protocolMux, address string) (string, error) {
	switch cs.ChildProvider.Kind {
	case ChildProviderMatchAll:
		return cs.ChildProvider.Provider, nil

	case ChildProviderMatchAddress:
		for match, provider := range cs.ChildProvider.Matches {
			re, err := regexp.Compile(match)
			if err != nil {
				continue
			}
			if re.MatchString(address) {
				return provider, nil
			}
		}
		return cs.ChildProvider.Default, nil

	case ChildProviderMatchPort:
		if provider, ok := cs.ChildProvider.Matches[protocolMux]; ok {
			if _, err := strconv.Atoi(protocolMux); err == nil {
				return provider, nil
			}
		}
		return cs.ChildProvider.Default, nil

	default:
		return "", &ErrUnsupportedChildProviderKind{Strategy: cs.Name, Kind: cs.ChildProvider.Kind}
	}
}

// RewriteServiceName applies a matching rewrite template to
// serviceName, interpolating fields from node. A rewrite is keyed by a
// substring match against serviceName. Rewrites are held in a map, so
// when several keys match, which one applies is not defined. Returns
// serviceName unchanged if nothing matches.
func (cs CrawlStrategy) RewriteServiceName(serviceName string, node *graph.Node) string {
	for match, rewrite := range cs.ServiceNameRewrites {
		if serviceName == "" || !strings.Contains(serviceName, match) {
			continue
		}
		tmpl, err := template.New("rewrite").Parse(rewrite)
		if err != nil {
			return serviceName
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, nodeTemplateFields(node)); err != nil {
			return serviceName
		}
		return buf.String()
	}
	return serviceName
}

func nodeTemplateFields(node *graph.Node) map[string]any {
	return map[string]any{
		"Address":          node.Address,
		"ProtocolMux":      node.ProtocolMux,
		"Provider":         node.Provider,
		"ServiceName":      node.ServiceNameOrEmpty(),
		"CrawlStrategyRef": node.CrawlStrategyRef,
	}
}

// Seed and Hint are the two built-in strategies every crawl carries
// regardless of what a strategy document declares: the seed strategy
// crawls the user-supplied starting addresses, the hint strategy
// resolves a pre-declared Hint edge into a concrete instance.
var (
	Seed = CrawlStrategy{
		Description:   "crawls the user-supplied seed addresses",
		Name:          "Seed",
		Protocol:      graph.ProtocolSeed,
		Providers:     []string{ProviderRefSeed},
		ChildProvider: ChildProviderRule{Kind: ChildProviderMatchAll, Provider: "ssh"},
	}

	Hint = CrawlStrategy{
		Description: "resolves a pre-declared hint edge to a concrete instance",
		Name:        "Hint",
		Protocol:    graph.ProtocolHint,
		Providers:   []string{ProviderRefHint},
	}
)
