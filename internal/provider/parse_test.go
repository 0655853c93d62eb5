// meshspider - Distributed service mesh topology crawler
// SPDX-License-Identifier: Apache-2.0

package provider

import "testing"

func TestParseCrawlStrategyResponseNoDataLines(t *testing.T) {
	nts, err := ParseCrawlStrategyResponse("mux address\n", "1.2.3.4", "some-command")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nts) != 0 {
		t.Errorf("expected no transports, got %v", nts)
	}
}

func TestParseCrawlStrategyResponseNoMux(t *testing.T) {
	_, err := ParseCrawlStrategyResponse("address id\n1.2.3.4 foo\n", "1.2.3.4", "some-command")
	if err == nil {
		t.Fatal("expected ErrMissingMuxColumn")
	}
	if _, ok := err.(*ErrMissingMuxColumn); !ok {
		t.Errorf("expected *ErrMissingMuxColumn, got %T", err)
	}
}

func TestParseCrawlStrategyResponseMuxOnly(t *testing.T) {
	nts, err := ParseCrawlStrategyResponse("mux\n80\n443\n", "1.2.3.4", "some-command")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nts) != 2 {
		t.Fatalf("expected 2 transports, got %d", len(nts))
	}
	if nts[0].ProtocolMux != "80" || nts[1].ProtocolMux != "443" {
		t.Errorf("unexpected muxes: %+v", nts)
	}
	if nts[0].Address != "" || nts[0].DebugIdentifier != "" || nts[0].NumConnections != nil || nts[0].Metadata != nil {
		t.Errorf("expected only mux populated, got %+v", nts[0])
	}
}

func TestParseCrawlStrategyResponseAllFields(t *testing.T) {
	response := "mux address id conns metadata\n" +
		"3306 10.0.0.5 db-primary 42 region=us-east,az=1a\n"

	nts, err := ParseCrawlStrategyResponse(response, "1.2.3.4", "some-command")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nts) != 1 {
		t.Fatalf("expected 1 transport, got %d", len(nts))
	}

	nt := nts[0]
	if nt.ProtocolMux != "3306" {
		t.Errorf("ProtocolMux = %q, want 3306", nt.ProtocolMux)
	}
	if nt.Address != "10.0.0.5" {
		t.Errorf("Address = %q, want 10.0.0.5", nt.Address)
	}
	if nt.DebugIdentifier != "db-primary" {
		t.Errorf("DebugIdentifier = %q, want db-primary", nt.DebugIdentifier)
	}
	if nt.NumConnections == nil || *nt.NumConnections != 42 {
		t.Errorf("NumConnections = %v, want 42", nt.NumConnections)
	}
	if nt.Metadata["region"] != "us-east" || nt.Metadata["az"] != "1a" {
		t.Errorf("Metadata = %v, want region=us-east,az=1a", nt.Metadata)
	}
}

func TestParseCrawlStrategyResponseEmpty(t *testing.T) {
	nts, err := ParseCrawlStrategyResponse("", "1.2.3.4", "some-command")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nts != nil {
		t.Errorf("expected nil transports for empty response, got %v", nts)
	}
}
