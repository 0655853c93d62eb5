// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/meshspider/internal/graph"
)

// ProtocolLookup resolves a protocol ref to its declared Protocol, as
// provided by the Protocol & Hint Registry. It's an interface here
// purely to avoid a dependency from strategy on config.
type ProtocolLookup interface {
	Protocol(ref string) (graph.Protocol, bool)
}

// DocumentError wraps a failure to load or parse a strategy document.
type DocumentError struct {
	Path string
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("strategy: document %q: %v", e.Path, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// Registry holds every loaded CrawlStrategy, keyed by name, plus the
// two built-ins every crawl carries.
type Registry struct {
	byName map[string]CrawlStrategy
}

// NewRegistry returns a Registry pre-populated with the built-in Seed
// and Hint strategies.
func NewRegistry() *Registry {
	r := &Registry{byName: map[string]CrawlStrategy{
		Seed.Name: Seed,
		Hint.Name: Hint,
	}}
	return r
}

// Get looks up a strategy by name.
func (r *Registry) Get(name string) (CrawlStrategy, bool) {
	cs, ok := r.byName[name]
	return cs, ok
}

// All returns every registered strategy.
func (r *Registry) All() []CrawlStrategy {
	out := make([]CrawlStrategy, 0, len(r.byName))
	for _, cs := range r.byName {
		out = append(out, cs)
	}
	return out
}

// LoadDir loads every *.yaml strategy document in dir into r, resolving
// each document's protocol ref through protocols.
func (r *Registry) LoadDir(dir string, protocols ProtocolLookup) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &DocumentError{Path: dir, Err: err}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := r.loadFile(path, protocols); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) loadFile(path string, protocols ProtocolLookup) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return &DocumentError{Path: path, Err: err}
	}

	if k.String("type") != "CrawlStrategy" {
		return nil
	}

	protocolRef := k.String("protocol")
	protocol, ok := protocols.Protocol(protocolRef)
	if !ok {
		return &DocumentError{Path: path, Err: fmt.Errorf("unknown protocol ref %q", protocolRef)}
	}

	name := k.String("name")
	if name == "" {
		return &DocumentError{Path: path, Err: fmt.Errorf("missing required field \"name\"")}
	}

	cs := CrawlStrategy{
		Description:       k.String("description"),
		Name:              name,
		Protocol:          protocol,
		Providers:         k.Strings("providers"),
		ProviderArgs:      toAnyMap(k.Get("providerArgs")),
		ServiceNameFilter: parseServiceNameFilter(k.Get("serviceNameFilter")),
	}

	childProvider, err := parseChildProvider(k.Get("childProvider"), name)
	if err != nil {
		return &DocumentError{Path: path, Err: err}
	}
	cs.ChildProvider = childProvider
	cs.ServiceNameRewrites = toStringMap(k.Get("serviceNameRewrites"))

	if _, exists := r.byName[cs.Name]; exists {
		return &DocumentError{Path: path, Err: fmt.Errorf("strategy %q already registered", cs.Name)}
	}
	r.byName[cs.Name] = cs
	return nil
}

func parseChildProvider(raw any, strategyName string) (ChildProviderRule, error) {
	attrs, ok := raw.(map[string]any)
	if !ok {
		return ChildProviderRule{}, fmt.Errorf("strategy %q: missing childProvider", strategyName)
	}

	kind, _ := attrs["type"].(string)
	rule := ChildProviderRule{Kind: ChildProviderKind(kind)}
	rule.Provider, _ = attrs["provider"].(string)
	rule.Default, _ = attrs["default"].(string)
	rule.Matches = toStringMap(attrs["matches"])

	switch rule.Kind {
	case ChildProviderMatchAll, ChildProviderMatchAddress, ChildProviderMatchPort:
		return rule, nil
	default:
		return ChildProviderRule{}, &ErrUnsupportedChildProviderKind{Strategy: strategyName, Kind: rule.Kind}
	}
}

func parseServiceNameFilter(raw any) ServiceNameFilter {
	attrs, ok := raw.(map[string]any)
	if !ok {
		return ServiceNameFilter{}
	}
	return ServiceNameFilter{
		Not:  toStringSlice(attrs["not"]),
		Only: toStringSlice(attrs["only"]),
	}
}

func toStringSlice(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toStringMap(raw any) map[string]string {
	attrs, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = fmt.Sprintf("%d", val)
		}
	}
	return out
}

func toAnyMap(raw any) map[string]any {
	attrs, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return attrs
}
