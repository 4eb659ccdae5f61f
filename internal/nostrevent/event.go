// Package nostrevent implements the Event, Metadata, and junction row
// models of spec.md §3.2-§3.5, layered on top of github.com/nbd-wtf/go-nostr
// for wire-level event handling.
package nostrevent

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/bigbrotr/bigbrotr/internal/canonjson"
)

// ErrNullByte is returned when content or a tag value contains a NUL byte.
var ErrNullByte = errors.New("nostrevent: null byte in content or tag value")

// Event is the storable representation of a Nostr event (spec.md §3.2).
// It is always reconstructible from its stored fields: ToNostr/FromNostr
// round-trip losslessly.
type Event struct {
	ID        [32]byte
	PubKey    [32]byte
	CreatedAt int64
	Kind      int
	Tags      [][]string
	Content   string
	Sig       [64]byte
}

// FromNostr converts a wire-level *nostr.Event into the storable Event,
// validating the null-byte invariant.
func FromNostr(e *nostr.Event) (*Event, error) {
	if strings.IndexByte(e.Content, 0) >= 0 {
		return nil, ErrNullByte
	}

	tags := make([][]string, 0, len(e.Tags))
	for _, t := range e.Tags {
		for _, v := range t {
			if strings.IndexByte(v, 0) >= 0 {
				return nil, ErrNullByte
			}
		}
		tags = append(tags, []string(t))
	}

	id, err := decode32(e.ID)
	if err != nil {
		return nil, fmt.Errorf("nostrevent: id: %w", err)
	}
	pk, err := decode32(e.PubKey)
	if err != nil {
		return nil, fmt.Errorf("nostrevent: pubkey: %w", err)
	}
	sig, err := decode64(e.Sig)
	if err != nil {
		return nil, fmt.Errorf("nostrevent: sig: %w", err)
	}

	return &Event{
		ID:        id,
		PubKey:    pk,
		CreatedAt: int64(e.CreatedAt),
		Kind:      e.Kind,
		Tags:      tags,
		Content:   e.Content,
		Sig:       sig,
	}, nil
}

// ToNostr reconstructs a wire-level *nostr.Event from the stored fields.
func (ev *Event) ToNostr() *nostr.Event {
	tags := make(nostr.Tags, 0, len(ev.Tags))
	for _, t := range ev.Tags {
		tags = append(tags, nostr.Tag(t))
	}
	return &nostr.Event{
		ID:        hex.EncodeToString(ev.ID[:]),
		PubKey:    hex.EncodeToString(ev.PubKey[:]),
		CreatedAt: nostr.Timestamp(ev.CreatedAt),
		Kind:      ev.Kind,
		Tags:      tags,
		Content:   ev.Content,
		Sig:       hex.EncodeToString(ev.Sig[:]),
	}
}

// IDHex returns the event id as a lowercase hex string.
func (ev *Event) IDHex() string { return hex.EncodeToString(ev.ID[:]) }

// PubKeyHex returns the author public key as a lowercase hex string.
func (ev *Event) PubKeyHex() string { return hex.EncodeToString(ev.PubKey[:]) }

// TagsJSON renders Tags as the ordered-array-of-arrays JSON shape stored
// in the tags JSONB column.
func (ev *Event) TagsJSON() (string, error) {
	anyTags := make([]any, len(ev.Tags))
	for i, t := range ev.Tags {
		row := make([]any, len(t))
		for j, v := range t {
			row[j] = v
		}
		anyTags[i] = row
	}
	return canonjson.Marshal(anyTags)
}

func decode32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func decode64(s string) ([64]byte, error) {
	var out [64]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 64 {
		return out, fmt.Errorf("expected 64 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// RelayURLsFromEvent extracts candidate relay URLs embedded in an event,
// per spec.md §4.5.1: any "r" tag, or the content field for kind 2
// (deprecated recommend-relay) and kind 3 (NIP-02 contact list, whose
// content is a JSON object keyed by relay URL).
func RelayURLsFromEvent(ev *Event) []string {
	var urls []string
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == "r" {
			urls = append(urls, t[1])
		}
	}
	switch ev.Kind {
	case 2:
		if ev.Content != "" {
			urls = append(urls, ev.Content)
		}
	case 3:
		urls = append(urls, contactListRelayKeys(ev.Content)...)
	}
	return urls
}
