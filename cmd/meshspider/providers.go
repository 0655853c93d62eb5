// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/tomtom215/meshspider/internal/provider"
)

// registerProviders is the CLI's single extension point for wiring
// concrete backends (SSH, Kubernetes, a cloud control plane, ...) into
// a crawl. This binary ships none: providers are infrastructure-
// specific and live outside this module. A deployment that needs to
// actually crawl something imports its provider packages here (or
// forks this file) and registers each with reg.Register.
//
// A seed or strategy naming a provider ref that was never registered
// fails fast with provider.ErrNotRegistered rather than crawling
// silently with gaps.
func registerProviders(reg *provider.Registry) error {
	return nil
}
