// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/meshspider/internal/crawl"
	"github.com/tomtom215/meshspider/internal/graph"
	"github.com/tomtom215/meshspider/internal/render/ascii"
	"github.com/tomtom215/meshspider/internal/render/snapshot"
)

var flagJSONFile string

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the results of a previous crawl without crawling again",
	RunE:  runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&flagJSONFile, "json-file", "f", "", "Load and render a json serialization of a tree, instead of "+lastRunFile)
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	path := flagJSONFile
	if path == "" {
		path = lastRunFile
	}

	doc, err := snapshot.Load(path)
	if err != nil {
		return fmt.Errorf("loading snapshot %q: %w", path, err)
	}

	cfg := crawl.Config{
		MaxDepth:                     doc.Args.MaxDepth,
		SkipNonblockingGrandchildren: doc.Args.SkipNonblockingGrandchildren,
	}

	ascii.Render(os.Stderr, doc.Tree, ascii.Options{
		HideDefunct: flagHideDefunct,
		Verbose:     flagRenderASCIIVerbose,
		MaxDepth:    cfg.MaxDepth,
	})

	return renderOutputs(doc.Tree, cfg)
}

// renderOutputs writes tree to every format named by --output, honoring
// -o ascii for a second, non-stderr ascii render and -o json to print
// the tree as a standalone JSON document. Called after both "spider"
// (which renders once to stderr as it finishes, unless --quiet) and
// "render".
func renderOutputs(tree map[string]*graph.Node, cfg crawl.Config) error {
	for _, output := range flagOutput {
		switch output {
		case "ascii":
			ascii.Render(os.Stdout, tree, ascii.Options{
				HideDefunct: flagHideDefunct,
				Verbose:     flagRenderASCIIVerbose,
				MaxDepth:    cfg.MaxDepth,
			})
		case "json":
			s, err := snapshot.Dumps(tree, snapshot.Args{
				MaxDepth:                     cfg.MaxDepth,
				SkipNonblockingGrandchildren: cfg.SkipNonblockingGrandchildren,
			})
			if err != nil {
				return fmt.Errorf("rendering json output: %w", err)
			}
			fmt.Fprintln(os.Stdout, s)
		default:
			return fmt.Errorf("unknown output format %q: want ascii or json", output)
		}
	}
	return nil
}
