// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/tomtom215/meshspider/internal/logging"
)

const (
	configDirDefault  = "meshspider.d"
	outputsDirDefault = "outputs"
	lastRunFile       = "outputs/.lastrun.json"
)

var (
	flagHideDefunct        bool
	flagOutput             []string
	flagRenderASCIIVerbose bool
	flagDebug              bool
)

var rootCmd = &cobra.Command{
	Use:   "meshspider",
	Short: "Crawl a distributed service mesh and map its runtime topology",
	Long: `meshspider discovers the runtime topology of a distributed service mesh:
give it one or more seed addresses and it recursively asks each
registered provider for downstream peers, producing a directed,
protocol-annotated graph of what's actually talking to what.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "info"
		if flagDebug {
			level = "debug"
		}
		logging.Init(logging.Config{Level: level, Format: "console"})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagHideDefunct, "hide-defunct", "D", false, "Hide defunct (unused) connections")
	rootCmd.PersistentFlags().StringArrayVarP(&flagOutput, "output", "o", nil, "Output format(s): ascii, json")
	rootCmd.PersistentFlags().BoolVar(&flagRenderASCIIVerbose, "render-ascii-verbose", false, "Verbose mode for the ascii renderer")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Log debug output to stderr")
}

// Execute runs the meshspider CLI.
func Execute() error {
	return rootCmd.Execute()
}
