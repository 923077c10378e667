package graph

import (
	"strings"
	"testing"
)

func TestMint(t *testing.T) {
	m := NewMinterWithSession("http://example.com/lkgb/logs", "s1")

	got := []string{m.Mint("User"), m.Mint("User"), m.Mint("Address"), m.Mint("")}
	want := []string{
		"http://example.com/lkgb/logs/run/s1/user-1",
		"http://example.com/lkgb/logs/run/s1/user-2",
		"http://example.com/lkgb/logs/run/s1/address-1",
		"http://example.com/lkgb/logs/run/s1/node-1",
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Mint() #%d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMintSanitizesClassHint(t *testing.T) {
	m := NewMinterWithSession("urn:x#", "s")
	if got := m.Mint("Network Address/v4"); got != "urn:x#run/s/network_addressv4-1" {
		t.Fatalf("Mint() = %q", got)
	}
}

func TestMintersDoNotShareState(t *testing.T) {
	a := NewMinter("http://example.com/")
	b := NewMinter("http://example.com/")

	if a.Base() == b.Base() {
		t.Fatalf("two sessions share base %q", a.Base())
	}
	ua, ub := a.Mint("Event"), b.Mint("Event")
	if !strings.HasSuffix(ua, "/event-1") || !strings.HasSuffix(ub, "/event-1") {
		t.Fatalf("counters leaked between minters: %q %q", ua, ub)
	}
	if ua == ub {
		t.Fatalf("minted URIs collide across sessions: %q", ua)
	}
}
