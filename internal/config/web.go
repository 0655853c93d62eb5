// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

// Package config is the Protocol & Hint Registry. It loads the web
// document — the single declarative file naming every protocol in use,
// the service names and protocol muxes to skip outright, and any
// pre-declared hint edges — and serves lookups against it for the rest
// of the crawl.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/meshspider/internal/graph"
)

// WebDocumentError wraps a failure to load or validate the web
// document. Any such failure is fatal to the run: there is no
// reasonable partial-registry fallback.
type WebDocumentError struct {
	Path string
	Err  error
}

func (e *WebDocumentError) Error() string {
	return fmt.Sprintf("config: web document %q: %v", e.Path, e.Err)
}

func (e *WebDocumentError) Unwrap() error { return e.Err }

// Web is the loaded, immutable view of the web document: every
// declared protocol, the skip lists, and the hint edges keyed by the
// upstream service name that emits them.
type Web struct {
	protocols         map[string]graph.Protocol
	skipServiceNames  []string
	skipProtocolMuxes []string
	hints             map[string][]graph.Hint
}

// LoadWeb reads and validates the web document at path.
func LoadWeb(path string) (*Web, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, &WebDocumentError{Path: path, Err: err}
	}

	w := &Web{
		protocols: map[string]graph.Protocol{
			graph.ProtocolRefSeed: graph.ProtocolSeed,
			graph.ProtocolRefHint: graph.ProtocolHint,
		},
		hints: map[string][]graph.Hint{},
	}

	if err := w.parseProtocols(k); err != nil {
		return nil, &WebDocumentError{Path: path, Err: err}
	}
	w.parseSkips(k)
	if err := w.parseHints(k); err != nil {
		return nil, &WebDocumentError{Path: path, Err: err}
	}

	if len(w.protocols) <= 2 {
		return nil, &WebDocumentError{Path: path, Err: fmt.Errorf("no protocols defined; define at least one before crawling")}
	}

	return w, nil
}

func (w *Web) parseProtocols(k *koanf.Koanf) error {
	raw := k.Get("protocols")
	attrsByRef, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	for ref, v := range attrsByRef {
		attrs, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("protocol %q: malformed attributes", ref)
		}
		p := graph.Protocol{Ref: ref}
		if name, ok := attrs["name"].(string); ok {
			p.Name = name
		}
		if blocking, ok := attrs["blocking"].(bool); ok {
			p.Blocking = blocking
		}
		if isDB, ok := attrs["is_database"].(bool); ok {
			p.IsDatabase = isDB
		}
		w.protocols[ref] = p
	}
	return nil
}

func (w *Web) parseSkips(k *koanf.Koanf) {
	w.skipServiceNames = k.Strings("skips.service_names")
	w.skipProtocolMuxes = k.Strings("skips.protocol_muxes")
}

func (w *Web) parseHints(k *koanf.Koanf) error {
	raw := k.Get("hints")
	byServiceName, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	for serviceName, v := range byServiceName {
		entries, ok := v.([]any)
		if !ok {
			return fmt.Errorf("hints for %q: expected a list", serviceName)
		}
		for _, e := range entries {
			attrs, ok := e.(map[string]any)
			if !ok {
				return fmt.Errorf("hints for %q: malformed entry", serviceName)
			}
			protocolRef, _ := attrs["protocol"].(string)
			protocol, ok := w.protocols[protocolRef]
			if !ok {
				return fmt.Errorf("hints for %q: unknown protocol %q", serviceName, protocolRef)
			}
			h := graph.Hint{Protocol: protocol}
			h.ServiceName, _ = attrs["service_name"].(string)
			h.ProtocolMux, _ = attrs["protocol_mux"].(string)
			h.ChildProvider, _ = attrs["provider"].(string)
			h.InstanceProvider, _ = attrs["instance_provider"].(string)
			w.hints[serviceName] = append(w.hints[serviceName], h)
		}
	}
	return nil
}

// Protocol looks up a declared protocol by ref.
func (w *Web) Protocol(ref string) (graph.Protocol, bool) {
	p, ok := w.protocols[ref]
	return p, ok
}

// Hints returns the hint edges declared for serviceName, or nil.
func (w *Web) Hints(serviceName string) []graph.Hint {
	return w.hints[serviceName]
}

// SkipServiceName reports whether serviceName contains any configured
// skip substring.
func (w *Web) SkipServiceName(serviceName string) bool {
	for _, match := range w.skipServiceNames {
		if strings.Contains(serviceName, match) {
			return true
		}
	}
	return false
}

// SkipProtocolMux reports whether protocolMux contains any configured
// skip substring.
func (w *Web) SkipProtocolMux(protocolMux string) bool {
	for _, match := range w.skipProtocolMuxes {
		if strings.Contains(protocolMux, match) {
			return true
		}
	}
	return false
}
