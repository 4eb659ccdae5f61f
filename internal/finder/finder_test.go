package finder

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"
)

func TestExtractCandidateURLsFromRTag(t *testing.T) {
	batch := []storedEvent{
		{kind: 1, tags: [][]string{{"r", "wss://relay.example.com"}, {"p", "abc"}}},
	}
	urls := extractCandidateURLs(batch)
	if len(urls) != 1 || urls[0] != "wss://relay.example.com" {
		t.Fatalf("urls = %v, want [wss://relay.example.com]", urls)
	}
}

func TestExtractCandidateURLsFromKind2Content(t *testing.T) {
	batch := []storedEvent{
		{kind: 2, content: "wss://legacy.example.com"},
	}
	urls := extractCandidateURLs(batch)
	if len(urls) != 1 || urls[0] != "wss://legacy.example.com" {
		t.Fatalf("urls = %v, want [wss://legacy.example.com]", urls)
	}
}

func TestExtractCandidateURLsFromKind3ContactList(t *testing.T) {
	content, err := json.Marshal(map[string]any{
		"wss://a.example.com": map[string]string{"write": "true"},
		"wss://b.example.com": map[string]string{"read": "true"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	batch := []storedEvent{{kind: 3, content: string(content)}}
	urls := extractCandidateURLs(batch)
	if len(urls) != 2 {
		t.Fatalf("urls = %v, want 2 entries", urls)
	}
}

func TestExtractCandidateURLsIgnoresOtherKinds(t *testing.T) {
	batch := []storedEvent{{kind: 1, content: "wss://should-be-ignored.example.com"}}
	urls := extractCandidateURLs(batch)
	if len(urls) != 0 {
		t.Fatalf("urls = %v, want none (kind 1 content is not a relay source)", urls)
	}
}

func TestDecodeTagsJSONValid(t *testing.T) {
	tags := decodeTagsJSON(`[["r","wss://relay.example.com"],["p","abc"]]`)
	if len(tags) != 2 {
		t.Fatalf("tags = %v, want 2", tags)
	}
}

func TestDecodeTagsJSONMalformedReturnsNil(t *testing.T) {
	tags := decodeTagsJSON(`not json`)
	if tags != nil {
		t.Fatalf("tags = %v, want nil for malformed input", tags)
	}
}

func TestDecodeTagsJSONEmptyReturnsNil(t *testing.T) {
	if tags := decodeTagsJSON(""); tags != nil {
		t.Fatalf("tags = %v, want nil for empty input", tags)
	}
}

func TestContactListRelayKeysExtractsAllKeys(t *testing.T) {
	content := `{"wss://a.example.com":{},"wss://b.example.com":{}}`
	keys := contactListRelayKeys(content)
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want 2", keys)
	}
}

func TestContactListRelayKeysMalformedReturnsNil(t *testing.T) {
	if keys := contactListRelayKeys("not json"); keys != nil {
		t.Fatalf("keys = %v, want nil", keys)
	}
}

func TestExtractURLsFromJSONArrayPath(t *testing.T) {
	body := []byte(`{"relays":["wss://a.example.com","wss://b.example.com"]}`)
	urls := extractURLsFromJSON(body, "relays")
	if len(urls) != 2 {
		t.Fatalf("urls = %v, want 2", urls)
	}
}

func TestExtractURLsFromJSONSingleValuePath(t *testing.T) {
	body := []byte(`{"relay":"wss://a.example.com"}`)
	urls := extractURLsFromJSON(body, "relay")
	if len(urls) != 1 || urls[0] != "wss://a.example.com" {
		t.Fatalf("urls = %v, want single-element slice", urls)
	}
}

func TestExtractURLsFromJSONMissingPathReturnsNil(t *testing.T) {
	body := []byte(`{"other":"value"}`)
	if urls := extractURLsFromJSON(body, "relays"); urls != nil {
		t.Fatalf("urls = %v, want nil for missing path", urls)
	}
}

func TestGjsonArrayFilterSkipsNonStrings(t *testing.T) {
	// sanity check that our type-filter logic matches gjson's reported type
	r := gjson.Parse(`[1,"wss://a.example.com",true]`)
	var strs []string
	for _, v := range r.Array() {
		if v.Type == gjson.String {
			strs = append(strs, v.String())
		}
	}
	if len(strs) != 1 || strs[0] != "wss://a.example.com" {
		t.Fatalf("strs = %v, want one string element", strs)
	}
}

func TestConfigSetDefaults(t *testing.T) {
	c := Config{}
	c.setDefaults()
	if c.MaxParallelEvents != 10 {
		t.Fatalf("MaxParallelEvents = %d, want 10", c.MaxParallelEvents)
	}
	if c.EventBatchSize != 1000 {
		t.Fatalf("EventBatchSize = %d, want 1000", c.EventBatchSize)
	}
}

func TestConfigSetDefaultsPreservesExplicitValues(t *testing.T) {
	c := Config{MaxParallelEvents: 5, EventBatchSize: 50}
	c.setDefaults()
	if c.MaxParallelEvents != 5 || c.EventBatchSize != 50 {
		t.Fatalf("setDefaults overrode explicit values: %+v", c)
	}
}
