// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

// Package snapshot dumps and loads a crawled tree as JSON, bundling the
// run's shape-affecting arguments alongside the tree so a later render
// of a saved file honors the same max depth and grandchild-skipping
// behavior the crawl itself used.
package snapshot

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/tomtom215/meshspider/internal/graph"
)

// Args is the subset of crawl.Config that changes how a tree renders,
// carried in the snapshot so Load can reproduce it without re-running
// the crawl.
type Args struct {
	MaxDepth                     int  `json:"max_depth"`
	SkipNonblockingGrandchildren bool `json:"skip_nonblocking_grandchildren"`
}

// Document is the on-disk/stdout shape of a snapshot.
type Document struct {
	Args Args                    `json:"args"`
	Tree map[string]*graph.Node `json:"tree"`
}

// Dump writes tree and args as JSON to path.
func Dump(path string, tree map[string]*graph.Node, args Args) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: creating %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(Document{Args: args, Tree: tree}); err != nil {
		return fmt.Errorf("snapshot: encoding %s: %w", path, err)
	}
	return nil
}

// Dumps renders tree and args as a JSON string, for printing to stdout.
func Dumps(tree map[string]*graph.Node, args Args) (string, error) {
	b, err := json.Marshal(Document{Args: args, Tree: tree})
	if err != nil {
		return "", fmt.Errorf("snapshot: encoding: %w", err)
	}
	return string(b), nil
}

// Load reads a previously dumped snapshot from path.
func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("snapshot: decoding %s: %w", path, err)
	}
	return &doc, nil
}
