package nostrevent

import (
	"encoding/hex"

	"github.com/bigbrotr/bigbrotr/internal/canonjson"
)

// MetadataType enumerates the content-addressed metadata kinds of
// spec.md §3.4.
type MetadataType string

const (
	NIP11Info MetadataType = "nip11_info"
	NIP66RTT  MetadataType = "nip66_rtt"
	NIP66SSL  MetadataType = "nip66_ssl"
	NIP66Geo  MetadataType = "nip66_geo"
	NIP66Net  MetadataType = "nip66_net"
	NIP66DNS  MetadataType = "nip66_dns"
	NIP66HTTP MetadataType = "nip66_http"
)

// Metadata is a content-addressed value: its identity is the SHA-256 of
// its canonical JSON rendering (spec.md §3.4).
type Metadata struct {
	Hash  [32]byte
	Type  MetadataType
	Value map[string]any
}

// NewMetadata canonicalizes value and computes its content hash.
func NewMetadata(t MetadataType, value map[string]any) (*Metadata, error) {
	hash, _, err := canonjson.Hash(value)
	if err != nil {
		return nil, err
	}
	return &Metadata{Hash: hash, Type: t, Value: value}, nil
}

// HashHex returns the metadata hash as a lowercase hex string.
func (m *Metadata) HashHex() string { return hex.EncodeToString(m.Hash[:]) }

// CanonicalJSON renders the metadata value using the canonical JSON rules.
func (m *Metadata) CanonicalJSON() (string, error) {
	return canonjson.Marshal(m.Value)
}

// EventRelay is the (event, relay, seen_at) junction row of spec.md §3.3.
type EventRelay struct {
	EventID  [32]byte
	RelayURL string
	SeenAt   int64
}

// RelayMetadata is the (relay, metadata, generated_at) junction row of
// spec.md §3.5 — a time-series of observations.
type RelayMetadata struct {
	RelayURL    string
	MetadataHash [32]byte
	MetadataType MetadataType
	GeneratedAt  int64
}
