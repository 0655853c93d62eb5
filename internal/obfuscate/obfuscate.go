// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

// Package obfuscate lets a rendered graph be shared outside its own
// organization without leaking real service names or protocol muxes.
// Obfuscation is stable within a process: the same input always maps
// to the same output, so a graph obfuscated across repeated renders
// still reads as one consistent topology.
package obfuscate

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"

	petname "github.com/dustinkirkland/golang-petname"

	"github.com/tomtom215/meshspider/internal/graph"
)

// Obfuscator holds the stable name/mux mappings discovered so far.
// The crawl engine keeps one Obfuscator per crawl Session, not per
// process, since the mappings have no reason to persist across
// independent CLI invocations.
type Obfuscator struct {
	mu            sync.Mutex
	serviceNames  map[string]string
	protocolMuxes map[string]string
}

// New returns an empty Obfuscator.
func New() *Obfuscator {
	return &Obfuscator{
		serviceNames:  map[string]string{},
		protocolMuxes: map[string]string{},
	}
}

// ServiceName returns a stable, randomly generated stand-in for
// serviceName.
func (o *Obfuscator) ServiceName(serviceName string) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if obfuscated, ok := o.serviceNames[serviceName]; ok {
		return obfuscated
	}
	obfuscated := petname.Generate(2, "-")
	o.serviceNames[serviceName] = obfuscated
	return obfuscated
}

// NodeTransport returns a copy of nt with its protocol mux obfuscated.
func (o *Obfuscator) NodeTransport(nt graph.NodeTransport) graph.NodeTransport {
	nt.ProtocolMux = o.protocolMux(nt.ProtocolMux)
	return nt
}

func (o *Obfuscator) protocolMux(protocolMux string) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if obfuscated, ok := o.protocolMuxes[protocolMux]; ok {
		return obfuscated
	}

	var obfuscated string
	if _, err := strconv.Atoi(protocolMux); err == nil {
		obfuscated = strconv.Itoa(randomPort())
	} else {
		obfuscated = fmt.Sprintf("%s#%s", petname.Generate(1, ""), petname.Generate(1, ""))
	}
	o.protocolMuxes[protocolMux] = obfuscated
	return obfuscated
}

func randomPort() int {
	return 1024 + rand.IntN(64512)
}
