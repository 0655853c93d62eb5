// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package graph

// Hint is an operator-declared directed edge: "when crawling the
// upstream service this hint is registered under, additionally treat
// ServiceName as a downstream at ProtocolMux, resolved via
// InstanceProvider." Hints fill in edges a provider cannot discover on
// its own (a managed dependency with no agent to query, for example).
//
// The upstream service name itself is not a field of Hint — it is the
// key the hint registry is looked up by (internal/config.Web.Hints).
type Hint struct {
	ServiceName      string
	Protocol         Protocol
	ProtocolMux      string
	ChildProvider    string
	InstanceProvider string
}
