package enrich

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"203.0.113.7", "203.0.113.7", false},
		{"2001:db8::1", "2001:db8::1", false},
		{"::ffff:203.0.113.7", "203.0.113.7", false},
		{"fe80::1%eth0", "fe80::1", false},
		{"203.0.113", "", true},
		{"alice", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			addr, err := ParseAddress(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Fatalf("expected ErrInvalidAddress, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress() error = %v", err)
			}
			if addr.String() != tt.want {
				t.Fatalf("ParseAddress() = %s, want %s", addr, tt.want)
			}
		})
	}
}

func TestCache(t *testing.T) {
	calls := 0
	fail := true
	lookup := LookupFunc(func(ctx context.Context, addr netip.Addr) (Record, error) {
		calls++
		if fail {
			return Record{}, ErrLookupUnavailable
		}
		return Record{City: "Oldenburg"}, nil
	})

	c := NewCache(lookup)
	addr := netip.MustParseAddr("203.0.113.7")

	if _, err := c.Lookup(context.Background(), addr); !errors.Is(err, ErrLookupUnavailable) {
		t.Fatalf("expected ErrLookupUnavailable, got %v", err)
	}
	if c.Cached(addr) {
		t.Fatal("failed lookup must not be cached")
	}

	fail = false
	for range 3 {
		rec, err := c.Lookup(context.Background(), addr)
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if rec.City != "Oldenburg" {
			t.Fatalf("Lookup() = %+v", rec)
		}
	}
	if calls != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls)
	}
	if hits, misses := c.Stats(); hits != 2 || misses != 2 {
		t.Fatalf("Stats() = %d hits, %d misses", hits, misses)
	}
}

func TestCacheWithoutLookup(t *testing.T) {
	c := NewCache(nil)
	if _, err := c.Lookup(context.Background(), netip.MustParseAddr("192.0.2.1")); !errors.Is(err, ErrLookupUnavailable) {
		t.Fatalf("expected ErrLookupUnavailable, got %v", err)
	}
}

func TestRecordEmpty(t *testing.T) {
	if !(Record{}).Empty() {
		t.Fatal("zero record should be empty")
	}
	if (Record{ASN: "AS1"}).Empty() {
		t.Fatal("record with ASN should not be empty")
	}
}
