// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
)

// ErrNotRegistered is returned by Registry.Get when no provider is
// registered under the requested ref. Per the Design Notes, a provider
// lookup failure anywhere in the crawl is fatal to the whole run — the
// caller is expected to treat this error that way, not retry or skip.
type ErrNotRegistered struct {
	Ref string
}

func (e *ErrNotRegistered) Error() string {
	return fmt.Sprintf("provider: %q is not registered", e.Ref)
}

// ErrClobber is returned by Registry.Register when ref is already
// registered, guarding against one plugin silently shadowing another.
type ErrClobber struct {
	Ref string
}

func (e *ErrClobber) Error() string {
	return fmt.Sprintf("provider: %q is already registered", e.Ref)
}

// Registry is a table of registered providers, looked up by ref; each
// NewRegistry call returns an independent table, and the CLI builds one
// per run. Providers are expected to be internally re-entrant:
// the engine calls them concurrently across an entire crawl layer.
type Registry struct {
	byRef map[string]Provider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byRef: map[string]Provider{}}
}

// Register adds p under its own Ref(). Returns ErrClobber if that ref
// is already registered.
func (r *Registry) Register(p Provider) error {
	ref := p.Ref()
	if _, exists := r.byRef[ref]; exists {
		return &ErrClobber{Ref: ref}
	}
	r.byRef[ref] = p
	return nil
}

// Get returns the provider registered under ref, or ErrNotRegistered.
func (r *Registry) Get(ref string) (Provider, error) {
	p, ok := r.byRef[ref]
	if !ok {
		return nil, &ErrNotRegistered{Ref: ref}
	}
	return p, nil
}

// Refs returns every registered provider ref, in no particular order.
func (r *Registry) Refs() []string {
	refs := make([]string, 0, len(r.byRef))
	for ref := range r.byRef {
		refs = append(refs, ref)
	}
	return refs
}
