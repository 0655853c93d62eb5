// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

// Package provider defines the narrow capability interface the
// traversal engine consumes to talk to concrete infrastructures (SSH,
// Kubernetes, cloud control planes, ...). Concrete implementations are
// out of scope for this module — only the contract and its registry
// live here.
package provider

import (
	"context"
	"errors"

	"github.com/tomtom215/meshspider/internal/graph"
)

// ErrTimeout is returned by Provider methods that time out internally;
// the engine also enforces its own per-call deadline via context, but a
// provider may detect and signal a timeout itself (e.g. a library that
// surfaces its own timeout error type).
var ErrTimeout = errors.New("provider: timed out")

// Connection is an opaque handle a provider may open in OpenConnection
// and expects back in LookupName/CrawlDownstream. The engine never
// inspects it.
type Connection any

// Provider is the capability contract the engine consumes. Every
// method except Ref has a safe default (see BaseProvider) so a concrete
// provider can implement only the subset of capabilities it supports.
type Provider interface {
	// Ref returns the unique reference this provider is registered
	// under, e.g. "ssh", "k8s".
	Ref() string

	// IsContainerPlatform reports whether this provider fronts a
	// container orchestrator (affects rendering only).
	IsContainerPlatform() bool

	// OpenConnection optionally opens a connection for later reuse by
	// LookupName/CrawlDownstream. Returning (nil, nil) is valid and
	// means "no connection needed."
	OpenConnection(ctx context.Context, address string) (Connection, error)

	// LookupName resolves address to a service name. A nil, nil
	// return means the name could not be resolved.
	LookupName(ctx context.Context, address string, conn Connection) (*string, error)

	// TakeAHint resolves a Hint to a concrete downstream instance.
	// Conventionally returns exactly one NodeTransport.
	TakeAHint(ctx context.Context, hint graph.Hint) ([]graph.NodeTransport, error)

	// CrawlDownstream enumerates downstream peers for address using
	// the given strategy-supplied arguments.
	CrawlDownstream(ctx context.Context, address string, conn Connection, args map[string]any) ([]graph.NodeTransport, error)
}

// BaseProvider implements every Provider method except Ref as its
// documented no-op default. Embed it in a concrete provider (which then
// only has to add Ref) to implement only the capabilities that provider
// actually has, a-la-carte.
type BaseProvider struct{}

func (BaseProvider) IsContainerPlatform() bool { return false }

func (BaseProvider) OpenConnection(ctx context.Context, address string) (Connection, error) {
	return nil, nil
}

func (BaseProvider) LookupName(ctx context.Context, address string, conn Connection) (*string, error) {
	return nil, nil
}

func (BaseProvider) TakeAHint(ctx context.Context, hint graph.Hint) ([]graph.NodeTransport, error) {
	return nil, nil
}

func (BaseProvider) CrawlDownstream(ctx context.Context, address string, conn Connection, args map[string]any) ([]graph.NodeTransport, error) {
	return nil, nil
}
