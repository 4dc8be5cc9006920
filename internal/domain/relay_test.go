package domain

import (
	"reflect"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestParseRelayList(t *testing.T) {
	record := &nostr.Event{
		Kind: KindRelayList,
		Tags: nostr.Tags{
			{"r", "wss://both.example.com"},
			{"r", "wss://read.example.com", "read"},
			{"r", "wss://write.example.com", "write"},
			{"r", "https://not-a-relay.example.com"},
			{"r", "garbage"},
			{"r"},
			{"p", "wss://ignored.example.com"},
			{"r", "wss://read.example.com", "write"}, // duplicate merges markers
		},
	}

	got := ParseRelayList(record)
	want := []RelayListEntry{
		{URL: "wss://both.example.com", Read: true, Write: true},
		{URL: "wss://read.example.com", Read: true, Write: true},
		{URL: "wss://write.example.com", Read: false, Write: true},
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseRelayList() = %+v, want %+v", got, want)
	}

	if urls := RelayURLs(got); len(urls) != 3 || urls[2] != "wss://write.example.com" {
		t.Errorf("RelayURLs() = %v, want all 3 relays including the write-only one", urls)
	}
}

func TestNormalizeRelayURL(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want string
	}{
		{"wss://relay.example.com", true, "wss://relay.example.com"},
		{"  ws://localhost:7777  ", true, "ws://localhost:7777"},
		{"https://relay.example.com", false, ""},
		{"relay.example.com", false, ""},
		{"wss://", false, ""},
	}

	for _, tt := range tests {
		got, ok := NormalizeRelayURL(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("NormalizeRelayURL(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeRelayURLsDedup(t *testing.T) {
	got := NormalizeRelayURLs([]string{"wss://a.example.com", "bad", "wss://a.example.com", "wss://b.example.com"})
	want := []string{"wss://a.example.com", "wss://b.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeRelayURLs() = %v, want %v", got, want)
	}
}
