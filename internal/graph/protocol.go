// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

// Package graph holds the node/edge data model shared by every other
// meshspider package: Protocol and Hint (loaded by internal/config),
// NodeTransport (the provider-to-engine wire shape), and Node (the
// mutable discovered-service entity the traversal engine builds up).
package graph

// Protocol identifies a family of edges in the discovered graph (TCP,
// an NSQ topic:channel, a database wire protocol, ...). Protocols are
// loaded once from configuration and are immutable afterward.
type Protocol struct {
	Ref        string `json:"ref"`
	Name       string `json:"name"`
	Blocking   bool   `json:"blocking"`
	IsDatabase bool   `json:"is_database,omitempty"`
}

// Built-in protocol refs. SEED roots the crawl at an operator-supplied
// address; HINT marks edges injected by the hint registry rather than
// discovered by a provider.
const (
	ProtocolRefSeed = "SEED"
	ProtocolRefHint = "HNT"
)

// ProtocolSeed and ProtocolHint are always registered, in addition to
// whatever the operator defines in the web document.
var (
	ProtocolSeed = Protocol{Ref: ProtocolRefSeed, Name: "Seed", Blocking: true}
	ProtocolHint = Protocol{Ref: ProtocolRefHint, Name: "Hint", Blocking: true}
)

// databaseMuxes are well-known ports treated as databases even when the
// protocol itself isn't flagged IsDatabase.
var databaseMuxes = map[string]bool{
	"3306":  true, // MySQL
	"9160":  true, // Cassandra (Thrift)
	"5432":  true, // PostgreSQL
	"6379":  true, // Redis
	"11211": true, // Memcached
}

// IsDatabaseMux reports whether mux is one of the well-known database
// ports, independent of the protocol's own IsDatabase flag.
func IsDatabaseMux(mux string) bool {
	return databaseMuxes[mux]
}
