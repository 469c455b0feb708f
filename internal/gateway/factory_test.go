package gateway

import (
	"strings"
	"testing"
)

func TestBuildDryRunUsesPaper(t *testing.T) {
	v := Build(Config{DryRun: true, InitialBalance: 500, Testnet: true})
	if v.Paper == nil || v.Live == nil {
		t.Fatalf("venue = %+v, want paper backed by a live market source", v)
	}
	if v.Gateway() != v.Paper {
		t.Fatal("dry run must trade on the paper venue")
	}
	if !strings.HasPrefix(v.Name, "paper(") || !strings.Contains(v.Name, "testnet") {
		t.Fatalf("name = %s", v.Name)
	}
	if !v.Healthy() {
		t.Fatal("paper venue should report healthy")
	}
	if v.Prices() != v.Paper.Prices() {
		t.Fatal("dry run must expose the paper price cache")
	}
}

func TestBuildLive(t *testing.T) {
	v := Build(Config{APIKey: "k", APISecret: "s"})
	if v.Paper != nil {
		t.Fatal("live venue built a paper gateway")
	}
	if v.Gateway() != v.Live {
		t.Fatal("live venue must trade on Binance")
	}
	if v.Healthy() {
		t.Fatal("live venue healthy before its user stream started")
	}
}
