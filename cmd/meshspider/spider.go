// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/meshspider/internal/config"
	"github.com/tomtom215/meshspider/internal/crawl"
	"github.com/tomtom215/meshspider/internal/graph"
	"github.com/tomtom215/meshspider/internal/provider"
	"github.com/tomtom215/meshspider/internal/render/ascii"
	"github.com/tomtom215/meshspider/internal/render/snapshot"
	"github.com/tomtom215/meshspider/internal/strategy"
)

var (
	flagSeeds                        []string
	flagConfigDir                    string
	flagTimeout                      time.Duration
	flagMaxDepth                     int
	flagDisableProviders             []string
	flagSkipProtocols                []string
	flagSkipProtocolMuxes            []string
	flagSkipNonblockingGrandchildren bool
	flagObfuscate                    bool
	flagQuiet                        bool
)

var spiderCmd = &cobra.Command{
	Use:   "spider",
	Short: "Crawl a network of services, given one or more seeds",
	RunE:  runSpider,
}

func init() {
	spiderCmd.Flags().StringSliceVarP(&flagSeeds, "seeds", "s", nil, `Seed host(s) to begin crawling, e.g. "ssh:10.0.0.42" (required)`)
	spiderCmd.Flags().StringVarP(&flagConfigDir, "config-dir", "c", configDirDefault, "Directory holding web.yaml and crawl strategy documents")
	spiderCmd.Flags().DurationVarP(&flagTimeout, "timeout", "t", crawl.DefaultCrawlTimeout, "Per-provider-call timeout")
	spiderCmd.Flags().IntVarP(&flagMaxDepth, "max-depth", "d", 3, "Max tree depth to crawl")
	spiderCmd.Flags().StringSliceVarP(&flagDisableProviders, "disable-providers", "X", nil, "Do not crawl with these providers")
	spiderCmd.Flags().StringSliceVarP(&flagSkipProtocols, "skip-protocols", "P", nil, "Protocols to skip entirely")
	spiderCmd.Flags().StringSliceVarP(&flagSkipProtocolMuxes, "skip-protocol-muxes", "M", nil, "Skip crawling children on these protocol muxes")
	spiderCmd.Flags().BoolVarP(&flagSkipNonblockingGrandchildren, "skip-nonblocking-grandchildren", "G", false, "Skip nonblocking children unless they're direct children of a seed")
	spiderCmd.Flags().BoolVarP(&flagObfuscate, "obfuscate", "x", false, "Obfuscate service names and protocol muxes in the rendered output")
	spiderCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress the ascii rendering to stderr after the crawl")
	_ = spiderCmd.MarkFlagRequired("seeds")

	rootCmd.AddCommand(spiderCmd)
}

func runSpider(cmd *cobra.Command, args []string) error {
	webPath := filepath.Join(flagConfigDir, "web.yaml")
	web, err := config.LoadWeb(webPath)
	if err != nil {
		return err
	}

	strategies := strategy.NewRegistry()
	if err := strategies.LoadDir(flagConfigDir, web); err != nil {
		return err
	}

	providers := provider.NewRegistry()
	if err := registerProviders(providers); err != nil {
		return err
	}

	seeds, err := parseSeeds(flagSeeds, providers)
	if err != nil {
		return err
	}

	cfg := crawl.Config{
		MaxDepth:                     flagMaxDepth,
		SkipProtocols:                flagSkipProtocols,
		SkipProtocolMuxes:            flagSkipProtocolMuxes,
		SkipNonblockingGrandchildren: flagSkipNonblockingGrandchildren,
		DisableProviders:             flagDisableProviders,
		Obfuscate:                    flagObfuscate,
		CrawlTimeout:                 flagTimeout,
	}
	session := crawl.NewSession(cfg, web, strategies, providers)
	tree := session.SeedTree(seeds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := session.Run(ctx, tree); err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	if err := writeLastRun(tree, cfg); err != nil {
		return err
	}

	if !flagQuiet {
		ascii.Render(os.Stderr, tree, ascii.Options{
			HideDefunct: flagHideDefunct,
			Verbose:     flagRenderASCIIVerbose,
			MaxDepth:    flagMaxDepth,
		})
	}

	return renderOutputs(tree, cfg)
}

func parseSeeds(raw []string, providers *provider.Registry) ([]crawl.Seed, error) {
	seeds := make([]crawl.Seed, 0, len(raw))
	for _, s := range raw {
		providerRef, address, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf(`seed %q must be in "provider:address" form`, s)
		}
		if _, err := providers.Get(providerRef); err != nil {
			return nil, err
		}
		seeds = append(seeds, crawl.Seed{Provider: providerRef, Address: address})
	}
	return seeds, nil
}

func writeLastRun(tree map[string]*graph.Node, cfg crawl.Config) error {
	if err := os.MkdirAll(outputsDirDefault, 0o755); err != nil {
		return fmt.Errorf("creating outputs directory: %w", err)
	}
	return snapshot.Dump(lastRunFile, tree, snapshot.Args{
		MaxDepth:                     cfg.MaxDepth,
		SkipNonblockingGrandchildren: cfg.SkipNonblockingGrandchildren,
	})
}
