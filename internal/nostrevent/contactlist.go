package nostrevent

import "encoding/json"

// contactListRelayKeys extracts the relay URL keys of a NIP-02 kind-3
// contact list's content field: {"wss://relay": {"read": true, ...}, ...}.
// Malformed content yields no URLs rather than an error — relay discovery
// treats this as a best-effort extraction.
func contactListRelayKeys(content string) []string {
	if content == "" {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return nil
	}
	urls := make([]string, 0, len(m))
	for k := range m {
		urls = append(urls, k)
	}
	return urls
}
