// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tomtom215/meshspider/internal/graph"
)

// ErrMissingMuxColumn is returned by ParseCrawlStrategyResponse when the
// response has data rows but no "mux" column — every NodeTransport
// needs a protocol mux, so this is a fatal shape error rather than a
// row that's silently skipped.
type ErrMissingMuxColumn struct {
	Command string
}

func (e *ErrMissingMuxColumn) Error() string {
	return fmt.Sprintf("provider: response to command %q has no mux column", e.Command)
}

// ParseCrawlStrategyResponse parses the conventional textual response
// shape many shell/SSH-style providers use: a header line of
// whitespace-separated column names, followed by zero or more data
// lines of whitespace-separated values in the same order. Recognized
// columns are mux, address, id, conns, and metadata (itself a
// comma-separated list of k=v pairs). command is used only in the
// error message; address is not used.
func ParseCrawlStrategyResponse(response, address, command string) ([]graph.NodeTransport, error) {
	lines := splitNonEmptyLines(response)
	if len(lines) < 2 {
		return nil, nil
	}

	columns := strings.Fields(lines[0])
	muxIndex := indexOf(columns, "mux")
	if muxIndex < 0 {
		return nil, &ErrMissingMuxColumn{Command: command}
	}
	addressIndex := indexOf(columns, "address")
	idIndex := indexOf(columns, "id")
	connsIndex := indexOf(columns, "conns")
	metadataIndex := indexOf(columns, "metadata")

	transports := make([]graph.NodeTransport, 0, len(lines)-1)
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		nt := graph.NodeTransport{ProtocolMux: valueAt(fields, muxIndex)}
		if addressIndex >= 0 {
			nt.Address = valueAt(fields, addressIndex)
		}
		if idIndex >= 0 {
			nt.DebugIdentifier = valueAt(fields, idIndex)
		}
		if connsIndex >= 0 {
			if n, err := strconv.Atoi(valueAt(fields, connsIndex)); err == nil {
				nt.NumConnections = &n
			}
		}
		if metadataIndex >= 0 {
			nt.Metadata = parseMetadata(valueAt(fields, metadataIndex))
		}
		transports = append(transports, nt)
	}

	return transports, nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

func valueAt(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

func parseMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
