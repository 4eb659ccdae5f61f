// Package nip11 fetches a relay's NIP-11 relay information document over
// plain HTTP(S), one of the seven probes in Monitor's checks pipeline
// (spec.md §4.7.1).
package nip11

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"github.com/bigbrotr/bigbrotr/internal/httpclient"
)

const acceptHeader = "application/nostr+json"

// Info is the relay information document (NIP-11), kept as a generic map
// since the document's fields are relay-defined and the metadata layer
// stores it content-addressed rather than field-by-field.
type Info map[string]any

// Result is one NIP-11 probe outcome (spec.md §4.7.1's "Metadata + Logs"
// pair).
type Result struct {
	Info    Info
	Success bool
	Reason  string
}

// Fetch performs the NIP-11 GET against httpURL (the relay's
// http(s)://-scheme equivalent, derived by the caller from the relay's
// ws(s):// URL), enforcing the Content-Type match and size cap
// (spec.md §4.7.1 table row).
func Fetch(ctx context.Context, client *httpclient.Client, httpURL string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		return Result{Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Accept", acceptHeader)

	resp, trace, err := client.Do(ctx, req)
	_ = trace
	if err != nil {
		return Result{Reason: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return Result{Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	ct := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != acceptHeader {
		resp.Body.Close()
		return Result{Reason: fmt.Sprintf("unexpected content-type %q", ct)}
	}

	body, err := client.ReadBounded(resp)
	if err != nil {
		return Result{Reason: err.Error()}
	}

	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return Result{Reason: fmt.Sprintf("decode body: %v", err)}
	}
	return Result{Info: info, Success: true}
}
