// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package graph

import "strings"

// NodeTransport is the wire shape a provider hands back to the engine
// for each downstream peer it discovers (or for a hint it resolved).
// It forms the binding contract between providers and the crawl
// engine: providers never construct a Node directly.
type NodeTransport struct {
	ProtocolMux     string
	Address         string
	DebugIdentifier string
	// NumConnections is nil when the provider didn't report a count.
	// An explicit 0 marks the edge DEFUNCT; nil does not.
	NumConnections *int
	Metadata       map[string]string
}

// Error and warning tags recorded on a Node. See spec §7.
const (
	ErrorTimeout          = "TIMEOUT"
	ErrorNullAddress      = "NULL_ADDRESS"
	ErrorNameLookupFailed = "NAME_LOOKUP_FAILED"
	WarningCycle          = "CYCLE"
	WarningDefunct        = "DEFUNCT"
)

// Node is a discovered service instance. It starts out identity-only
// (crawl strategy, protocol, provider, address) and is filled in by the
// traversal engine as name lookup and downstream expansion complete.
//
// Children is nil until the node has been crawled, and an initialized
// (possibly empty) map once it has — callers must preserve that
// distinction rather than treating both as "no children".
type Node struct {
	// CrawlStrategyRef names the strategy.CrawlStrategy that produced
	// this node, by its Name. Stored by reference rather than by value
	// so Node can be serialized without duplicating strategy/protocol
	// ownership graphs; resolved back to the object at render time.
	CrawlStrategyRef string   `json:"crawl_strategy"`
	Protocol         Protocol `json:"protocol"`
	ProtocolMux      string   `json:"protocol_mux"`
	Provider         string   `json:"provider"`
	Address          string   `json:"address"`

	// ServiceName is nil until name lookup resolves it (or fails).
	ServiceName *string `json:"service_name"`

	Containerized bool `json:"containerized"`
	FromHint      bool `json:"from_hint"`

	// Children is nil (not yet crawled), or a map (crawled, possibly
	// empty) of child_ref -> *Node.
	Children map[string]*Node `json:"children"`

	Warnings map[string]bool `json:"warnings"`
	Errors   map[string]bool `json:"errors"`
	Metadata map[string]any  `json:"metadata"`
}

// NewNode constructs a Node with initialized warning/error sets.
func NewNode(crawlStrategyRef string, protocol Protocol, protocolMux, provider, address string) *Node {
	return &Node{
		CrawlStrategyRef: crawlStrategyRef,
		Protocol:         protocol,
		ProtocolMux:      protocolMux,
		Provider:         provider,
		Address:          address,
		Warnings:         map[string]bool{},
		Errors:           map[string]bool{},
	}
}

// SetServiceName assigns the resolved service name.
func (n *Node) SetServiceName(name string) {
	n.ServiceName = &name
}

// ServiceNameOrEmpty returns the resolved name, or "" if unresolved.
func (n *Node) ServiceNameOrEmpty() string {
	if n.ServiceName == nil {
		return ""
	}
	return *n.ServiceName
}

// IsDatabase reports whether this node represents a database edge,
// either because its protocol is flagged as one or because its mux is
// a well-known database port.
func (n *Node) IsDatabase() bool {
	return n.Protocol.IsDatabase || IsDatabaseMux(n.ProtocolMux)
}

// NameLookupComplete reports whether name resolution has finished,
// successfully or not.
func (n *Node) NameLookupComplete() bool {
	return n.ServiceName != nil || len(n.Errors) > 0
}

// Policy supplies the configuration a Node needs to evaluate its own
// lifecycle predicates, without Node depending on the config package
// directly (avoiding an import cycle between graph and config/crawl).
type Policy interface {
	ProviderDisabled(ref string) bool
	SkipServiceName(name string) bool
	SkipProtocolMux(mux string) bool
	SkipNonblockingGrandchildren() bool
	MaxDepth() int
}

// IsExcluded reports whether this node should be dropped from the
// rendered graph entirely, as though it was never found.
func (n *Node) IsExcluded(depth int, policy Policy) bool {
	if policy.ProviderDisabled(n.Provider) {
		return true
	}
	isGrandchild := depth > 1
	if policy.SkipNonblockingGrandchildren() && !n.Protocol.Blocking && isGrandchild {
		return true
	}
	return false
}

// IsCrawlable reports whether the engine should attempt to expand this
// node's downstream dependencies.
func (n *Node) IsCrawlable(depth int, policy Policy) bool {
	if len(n.Warnings) > 0 || len(n.Errors) > 0 {
		return false
	}
	if policy.SkipProtocolMux(n.ProtocolMux) {
		return false
	}
	if n.ServiceName != nil && policy.SkipServiceName(*n.ServiceName) {
		return false
	}
	isChildOrGrandchild := depth > 0
	if policy.SkipNonblockingGrandchildren() && !n.Protocol.Blocking && isChildOrGrandchild {
		return false
	}
	return true
}

// CrawlComplete reports whether this node has reached a terminal state
// for the given depth: excluded-by-predicate, max depth reached, or
// its children have actually been populated.
func (n *Node) CrawlComplete(depth int, policy Policy) bool {
	if !n.IsCrawlable(depth, policy) {
		return true
	}
	if !n.NameLookupComplete() {
		return false
	}
	if depth == policy.MaxDepth() {
		return true
	}
	return n.Children != nil
}

// ChildRefKey computes the deterministic map key for a child discovered
// under one parent: join('_', [protocol_ref, protocol_mux,
// debug_identifier]), skipping absent parts.
func ChildRefKey(protocolRef, protocolMux, debugIdentifier string) string {
	parts := make([]string, 0, 3)
	if protocolRef != "" {
		parts = append(parts, protocolRef)
	}
	if protocolMux != "" {
		parts = append(parts, protocolMux)
	}
	if debugIdentifier != "" {
		parts = append(parts, debugIdentifier)
	}
	return strings.Join(parts, "_")
}

// CopyForCache returns a defensive copy of n suitable for stashing in
// the child cache or for returning from a cache hit: the same identity
// and scalar fields, but fresh Warnings/Errors maps and Children reset
// to an empty (not nil) map, since the transitive subtree is rebuilt by
// the engine's own recursive call rather than copied.
func (n *Node) CopyForCache() *Node {
	cp := *n
	cp.Children = map[string]*Node{}
	cp.Warnings = copySet(n.Warnings)
	cp.Errors = copySet(n.Errors)
	return &cp
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
