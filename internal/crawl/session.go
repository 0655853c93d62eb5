// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

// Package crawl is the Traversal Engine: it recursively walks outward
// from a set of seed addresses, asking a Provider to resolve a name
// and enumerate downstream peers at every node, until depth or
// completion conditions stop it. Two caches — by address for names,
// by service name for children — make repeated instances of the same
// service in the topology cheap to revisit.
package crawl

import (
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/meshspider/internal/config"
	"github.com/tomtom215/meshspider/internal/graph"
	"github.com/tomtom215/meshspider/internal/obfuscate"
	"github.com/tomtom215/meshspider/internal/provider"
	"github.com/tomtom215/meshspider/internal/strategy"
	"github.com/tomtom215/meshspider/internal/telemetry"
)

// circuitBreakerStateValue mirrors gobreaker's own State ordering
// (StateClosed=0, StateHalfOpen=1, StateOpen=2) into the exported gauge.
func circuitBreakerStateValue(state gobreaker.State) int {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// DefaultCrawlTimeout bounds any single provider call. The original
// crawler used a flat 30 second budget per call regardless of stage;
// we keep that default.
const DefaultCrawlTimeout = 30 * time.Second

// Config is the set of run-wide options that shape traversal, all
// supplied by CLI flags or their defaults.
type Config struct {
	MaxDepth                     int
	SkipProtocols                []string
	SkipProtocolMuxes            []string
	SkipNonblockingGrandchildren bool
	DisableProviders             []string
	Obfuscate                    bool
	CrawlTimeout                 time.Duration
}

// DefaultConfig returns a Config with the crawler's conventional
// defaults: unlimited practical depth bound at 3 hops, nothing skipped
// or disabled.
func DefaultConfig() Config {
	return Config{
		MaxDepth:     3,
		CrawlTimeout: DefaultCrawlTimeout,
	}
}

// Seed names a starting point for a crawl: a provider ref and the
// address that provider should open a connection to.
type Seed struct {
	Provider string
	Address  string
}

// Session owns every piece of run-scoped state a crawl needs: its
// configuration, the Protocol & Hint Registry, the Crawl Strategy
// Registry, the provider table, and the two caches that make repeat
// visits to the same service or address cheap. A Session is built
// fresh per crawl — its caches are not meant to outlive one run.
type Session struct {
	cfg        Config
	web        *config.Web
	strategies *strategy.Registry
	providers  *provider.Registry
	obfuscator *obfuscate.Obfuscator
	breakers   map[string]*gobreaker.CircuitBreaker[any]
	nameCache  map[string]*string
	childCache map[string]map[string]*graph.Node
}

// NewSession wires up a Session ready to run one crawl.
func NewSession(cfg Config, web *config.Web, strategies *strategy.Registry, providers *provider.Registry) *Session {
	if cfg.CrawlTimeout <= 0 {
		cfg.CrawlTimeout = DefaultCrawlTimeout
	}
	s := &Session{
		cfg:        cfg,
		web:        web,
		strategies: strategies,
		providers:  providers,
		breakers:   map[string]*gobreaker.CircuitBreaker[any]{},
		nameCache:  map[string]*string{},
		childCache: map[string]map[string]*graph.Node{},
	}
	if cfg.Obfuscate {
		s.obfuscator = obfuscate.New()
	}
	return s
}

// SeedTree builds the initial crawl frontier from a set of seeds, one
// node per seed under the built-in Seed crawl strategy.
func (s *Session) SeedTree(seeds []Seed) map[string]*graph.Node {
	tree := make(map[string]*graph.Node, len(seeds))
	for i, seed := range seeds {
		node := graph.NewNode(strategy.Seed.Name, strategy.Seed.Protocol, "", seed.Provider, seed.Address)
		tree[seedRef(i)] = node
	}
	return tree
}

func (s *Session) breakerFor(providerRef string) *gobreaker.CircuitBreaker[any] {
	if cb, ok := s.breakers[providerRef]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        providerRef,
		MaxRequests: 1,
		Timeout:     s.cfg.CrawlTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			telemetry.SetCircuitBreakerState(name, circuitBreakerStateValue(to))
		},
	})
	s.breakers[providerRef] = cb
	return cb
}

// Policy implementation, consumed by graph.Node's lifecycle predicates.

func (s *Session) ProviderDisabled(ref string) bool           { return containsString(s.cfg.DisableProviders, ref) }
func (s *Session) SkipServiceName(name string) bool           { return s.web.SkipServiceName(name) }
func (s *Session) SkipProtocolMux(mux string) bool {
	if s.web.SkipProtocolMux(mux) {
		return true
	}
	for _, skip := range s.cfg.SkipProtocolMuxes {
		if strings.Contains(mux, skip) {
			return true
		}
	}
	return false
}
func (s *Session) SkipNonblockingGrandchildren() bool         { return s.cfg.SkipNonblockingGrandchildren }
func (s *Session) MaxDepth() int                              { return s.cfg.MaxDepth }

var _ graph.Policy = (*Session)(nil)

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func seedRef(i int) string {
	return fmt.Sprintf("seed-%d", i)
}
