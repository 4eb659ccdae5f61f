package nostrevent

import (
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func sampleNostrEvent() *nostr.Event {
	return &nostr.Event{
		ID:        strings.Repeat("ab", 32),
		PubKey:    strings.Repeat("cd", 32),
		CreatedAt: 1700000000,
		Kind:      1,
		Tags:      nostr.Tags{{"r", "wss://relay.example.com"}},
		Content:   "hello",
		Sig:       strings.Repeat("ef", 64),
	}
}

func TestFromNostrToNostrRoundTrip(t *testing.T) {
	in := sampleNostrEvent()
	ev, err := FromNostr(in)
	if err != nil {
		t.Fatalf("FromNostr: %v", err)
	}
	out := ev.ToNostr()
	if out.ID != in.ID || out.PubKey != in.PubKey || out.Sig != in.Sig {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
	if out.Content != in.Content || out.Kind != in.Kind {
		t.Fatalf("round trip content/kind mismatch")
	}
	if len(out.Tags) != 1 || out.Tags[0][1] != "wss://relay.example.com" {
		t.Fatalf("tags mismatch: %+v", out.Tags)
	}
}

func TestFromNostrRejectsNullByteInContent(t *testing.T) {
	in := sampleNostrEvent()
	in.Content = "bad\x00content"
	if _, err := FromNostr(in); err == nil {
		t.Fatal("expected error for null byte in content")
	}
}

func TestRelayURLsFromEventTagScan(t *testing.T) {
	ev := &Event{Tags: [][]string{{"r", "wss://a.example"}, {"p", "deadbeef"}}}
	got := RelayURLsFromEvent(ev)
	if len(got) != 1 || got[0] != "wss://a.example" {
		t.Fatalf("got %+v", got)
	}
}

func TestRelayURLsFromEventKind2Content(t *testing.T) {
	ev := &Event{Kind: 2, Content: "wss://recommend.example"}
	got := RelayURLsFromEvent(ev)
	if len(got) != 1 || got[0] != "wss://recommend.example" {
		t.Fatalf("got %+v", got)
	}
}

func TestRelayURLsFromEventKind3ContactList(t *testing.T) {
	ev := &Event{Kind: 3, Content: `{"wss://a.example":{"read":true},"wss://b.example":{}}`}
	got := RelayURLsFromEvent(ev)
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
}
