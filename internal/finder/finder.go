// Package finder implements the Finder service (spec.md §4.5): discovers
// new relay URLs from events already stored in the database (§4.5.1) and
// from configured external APIs (§4.5.2).
//
// Grounded on the teacher's internal/nostr/discovery.go fetch→parse→store
// loop (used here for the external-API path) and internal/sync/cursors.go
// CursorManager (used here for the per-relay (seen_at, event_id) cursor).
package finder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bigbrotr/bigbrotr/internal/dbfacade"
	"github.com/bigbrotr/bigbrotr/internal/httpclient"
	"github.com/bigbrotr/bigbrotr/internal/relay"
	"github.com/bigbrotr/bigbrotr/internal/statestore"
)

// Config parameterizes one Finder cycle (spec.md §4.5, finder section of
// the config tree).
type Config struct {
	MaxParallelEvents int
	EventBatchSize    int
}

func (c *Config) setDefaults() {
	if c.MaxParallelEvents <= 0 {
		c.MaxParallelEvents = 10
	}
	if c.EventBatchSize <= 0 {
		c.EventBatchSize = 1000
	}
}

// storedEvent is the minimal shape Finder's DB scan needs from each row.
type storedEvent struct {
	seenAt  int64
	eventID string
	kind    int
	content string
	tags    [][]string
}

// Finder discovers relay URLs from the database and external APIs.
type Finder struct {
	facade *dbfacade.Facade
	store  *statestore.Store
	logger *slog.Logger
	cfg    Config
}

// New constructs a Finder.
func New(facade *dbfacade.Facade, logger *slog.Logger, cfg Config) *Finder {
	cfg.setDefaults()
	return &Finder{
		facade: facade,
		store:  statestore.New(facade, "finder"),
		logger: logger,
		cfg:    cfg,
	}
}

// Result summarizes one Run.
type Result struct {
	RelaysScanned    int
	CandidatesFound  int
	APISourcesPolled int
}

// Run executes one Finder cycle: the database event scan (§4.5.1) runs
// with bounded per-relay concurrency, then the external-API sources
// (§4.5.2) are polled sequentially, rate-limited per source.
func (f *Finder) Run(ctx context.Context, client *httpclient.Client, apiSources []APISource) (Result, error) {
	var result Result

	if err := f.cleanupOrphanCursors(ctx); err != nil {
		return result, fmt.Errorf("finder: cleanup orphan cursors: %w", err)
	}

	relayURLs, err := f.listRelayURLs(ctx)
	if err != nil {
		return result, fmt.Errorf("finder: list relays: %w", err)
	}
	result.RelaysScanned = len(relayURLs)

	cursors, err := f.prefetchCursors(ctx, relayURLs)
	if err != nil {
		return result, fmt.Errorf("finder: prefetch cursors: %w", err)
	}

	var found int64
	var mu sync.Mutex
	sem := make(chan struct{}, f.cfg.MaxParallelEvents)
	var wg sync.WaitGroup

	for _, relayURL := range relayURLs {
		relayURL := relayURL
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			n, err := f.scanRelay(ctx, relayURL, cursors[relayURL])
			mu.Lock()
			found += n
			mu.Unlock()
			if err != nil && ctx.Err() == nil {
				f.logger.Error("relay_scan_failed", "relay", relayURL, "error", err)
			}
		}()
	}
	wg.Wait()
	result.CandidatesFound = int(found)

	if client != nil {
		polled := f.runAPISources(ctx, client, apiSources)
		result.APISourcesPolled = polled
	}
	return result, nil
}

// cleanupOrphanCursors deletes any finder cursor whose relay is no
// longer in the relay table (spec.md §4.5.1: "At cycle start, delete any
// cursor whose state_key is no longer in the relay table").
func (f *Finder) cleanupOrphanCursors(ctx context.Context) error {
	_, err := f.facade.Execute(ctx,
		`DELETE FROM service_state WHERE service_name = 'finder' AND state_type = 'cursor'
		 AND state_key NOT IN (SELECT url FROM relay)`)
	return err
}

func (f *Finder) listRelayURLs(ctx context.Context) ([]string, error) {
	rows, err := f.facade.Fetch(ctx, `SELECT url FROM relay`)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			if s, ok := row[0].(string); ok {
				urls = append(urls, s)
			}
		}
	}
	return urls, nil
}

// prefetchCursors fetches every finder cursor before the scan starts.
// Each relay's cursor is read with its own GetFinderCursor call, so this
// issues one query per relay, not a single query for all cursors.
func (f *Finder) prefetchCursors(ctx context.Context, relayURLs []string) (map[string]statestore.FinderCursorState, error) {
	cursors := make(map[string]statestore.FinderCursorState, len(relayURLs))
	for _, url := range relayURLs {
		c, ok, err := f.store.GetFinderCursor(ctx, url)
		if err != nil {
			return nil, err
		}
		if ok {
			cursors[url] = c
		}
	}
	return cursors, nil
}

// scanRelay pages through stored events for one relay, extracting and
// upserting discovered relay candidates (spec.md §4.5.1 inner loop).
// Returns the number of candidates discovered.
func (f *Finder) scanRelay(ctx context.Context, relayURL string, cursor statestore.FinderCursorState) (int64, error) {
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		batch, err := f.fetchEventBatch(ctx, relayURL, cursor)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		candidates := extractCandidateURLs(batch)
		n, err := f.upsertCandidatesAndAdvanceCursor(ctx, relayURL, candidates, batch[len(batch)-1])
		total += n
		if err != nil {
			return total, err
		}
		cursor = statestore.FinderCursorState{SeenAt: batch[len(batch)-1].seenAt, EventID: batch[len(batch)-1].eventID}

		if len(batch) < f.cfg.EventBatchSize {
			return total, nil // partial batch: stop the relay's inner loop (spec.md §4.5.1)
		}
	}
}

// fetchEventBatch pulls up to EventBatchSize events newer than cursor
// using the composite predicate decided in DESIGN.md's Open Question 1.
func (f *Finder) fetchEventBatch(ctx context.Context, relayURL string, cursor statestore.FinderCursorState) ([]storedEvent, error) {
	rows, err := f.facade.Fetch(ctx, `
		SELECT e.seen_at, encode(ev.id, 'hex'), ev.kind, ev.content, ev.tags
		FROM event_relay e
		JOIN event ev ON ev.id = e.event_id
		WHERE e.relay_url = $1
		  AND (e.seen_at > $2 OR (e.seen_at = $2 AND encode(ev.id, 'hex') > $3))
		ORDER BY e.seen_at ASC, encode(ev.id, 'hex') ASC
		LIMIT $4`,
		relayURL, cursor.SeenAt, cursor.EventID, f.cfg.EventBatchSize)
	if err != nil {
		return nil, err
	}

	out := make([]storedEvent, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		seenAt, _ := row[0].(int64)
		idHex, _ := row[1].(string)
		kind, _ := row[2].(int64)
		content, _ := row[3].(string)
		tagsJSON, _ := row[4].(string)
		out = append(out, storedEvent{
			seenAt:  seenAt,
			eventID: idHex,
			kind:    int(kind),
			content: content,
			tags:    decodeTagsJSON(tagsJSON),
		})
	}
	return out, nil
}

// decodeTagsJSON parses a JSONB array-of-arrays tags column; malformed
// input yields no tags rather than an error, since a single bad row must
// not abort the whole batch.
func decodeTagsJSON(raw string) [][]string {
	if raw == "" {
		return nil
	}
	var tags [][]string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

// extractCandidateURLs extracts relay URL candidates from a batch of
// stored events per spec.md §4.5.1: any "r" tag, plus content for kind 2
// (deprecated recommend-relay) and kind 3 (NIP-02 contact list).
func extractCandidateURLs(batch []storedEvent) []string {
	var urls []string
	for _, ev := range batch {
		for _, t := range ev.tags {
			if len(t) >= 2 && t[0] == "r" {
				urls = append(urls, t[1])
			}
		}
		switch ev.kind {
		case 2:
			if ev.content != "" {
				urls = append(urls, ev.content)
			}
		case 3:
			urls = append(urls, contactListRelayKeys(ev.content)...)
		}
	}
	return urls
}

// contactListRelayKeys extracts the top-level keys of a NIP-02 contact
// list's content object, each of which is a relay URL.
func contactListRelayKeys(content string) []string {
	if content == "" {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// upsertCandidatesAndAdvanceCursor normalizes and stages every candidate
// URL, then advances the relay's cursor (spec.md §4.5.1: "upsert
// discovered candidates, advance cursor"). Candidate upserts are
// individually atomic stored-procedure calls and idempotent by URL;
// re-processing the same batch after a crash between steps is therefore
// harmless, so no enclosing database transaction is needed here.
func (f *Finder) upsertCandidatesAndAdvanceCursor(ctx context.Context, discoveredBy string, urls []string, last storedEvent) (int64, error) {
	now := time.Now().Unix()
	var stored int64
	for _, raw := range urls {
		n, err := relay.Parse(raw)
		if err != nil {
			continue
		}
		existing, ok, err := f.store.GetCandidate(ctx, n.URL)
		if err != nil {
			return stored, fmt.Errorf("finder: get candidate %s: %w", n.URL, err)
		}
		failed := 0
		insertedAt := now
		if ok {
			failed = existing.FailedAttempts
			insertedAt = existing.InsertedAt
		}
		if err := f.store.UpsertCandidate(ctx, n.URL, statestore.CandidateState{
			FailedAttempts: failed,
			Network:        string(n.Network),
			InsertedAt:     insertedAt,
		}); err != nil {
			return stored, fmt.Errorf("finder: upsert candidate %s: %w", n.URL, err)
		}
		stored++
	}
	if err := f.store.UpsertFinderCursor(ctx, discoveredBy, statestore.FinderCursorState{
		SeenAt:  last.seenAt,
		EventID: last.eventID,
	}); err != nil {
		return stored, fmt.Errorf("finder: advance cursor %s: %w", discoveredBy, err)
	}
	return stored, nil
}

// APISource configures one external discovery API (spec.md §4.5.2). Path
// holds a gjson path expression, substituting for JMESPath per DESIGN.md's
// Open Question 4.
type APISource struct {
	URL                  string
	Path                 string
	Timeout              time.Duration
	ConnectTimeout       time.Duration
	VerifySSL            bool
	MaxResponseSize      int64
	DelayBetweenRequests time.Duration
}

// runAPISources sequentially polls each configured source, rate-limited
// by DelayBetweenRequests, sharing one HTTP client (spec.md §4.5.2).
// Returns the number of sources successfully polled.
func (f *Finder) runAPISources(ctx context.Context, client *httpclient.Client, sources []APISource) int {
	polled := 0
	for _, src := range sources {
		select {
		case <-ctx.Done():
			return polled
		default:
		}
		if err := f.fetchAPISource(ctx, client, src); err != nil {
			f.logger.Error("api_source_failed", "url", src.URL, "error", err)
		} else {
			polled++
		}
		if src.DelayBetweenRequests > 0 {
			select {
			case <-ctx.Done():
				return polled
			case <-time.After(src.DelayBetweenRequests):
			}
		}
	}
	return polled
}

// fetchAPISource fetches one external discovery source, extracts relay
// URLs from the configured gjson path, and stages each as a candidate.
func (f *Finder) fetchAPISource(ctx context.Context, client *httpclient.Client, src APISource) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fmt.Errorf("finder: build request for %s: %w", src.URL, err)
	}

	resp, _, err := client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("finder: fetch %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("finder: fetch %s: status %d", src.URL, resp.StatusCode)
	}

	body, err := client.ReadBounded(resp)
	if err != nil {
		return fmt.Errorf("finder: read body from %s: %w", src.URL, err)
	}

	urls := extractURLsFromJSON(body, src.Path)
	now := time.Now().Unix()
	for _, raw := range urls {
		n, err := relay.Parse(raw)
		if err != nil {
			continue
		}
		existing, ok, err := f.store.GetCandidate(ctx, n.URL)
		if err != nil {
			return fmt.Errorf("finder: get candidate %s: %w", n.URL, err)
		}
		failed := 0
		insertedAt := now
		if ok {
			failed = existing.FailedAttempts
			insertedAt = existing.InsertedAt
		}
		if err := f.store.UpsertCandidate(ctx, n.URL, statestore.CandidateState{
			FailedAttempts: failed,
			Network:        string(n.Network),
			InsertedAt:     insertedAt,
		}); err != nil {
			return fmt.Errorf("finder: upsert candidate %s: %w", n.URL, err)
		}
	}
	return nil
}

// extractURLsFromJSON evaluates a gjson path against raw JSON and
// collects every string result (the path may resolve to an array of
// strings or a single string).
func extractURLsFromJSON(body []byte, path string) []string {
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return nil
	}
	if result.IsArray() {
		urls := make([]string, 0, len(result.Array()))
		for _, v := range result.Array() {
			if v.Type == gjson.String {
				urls = append(urls, v.String())
			}
		}
		return urls
	}
	if result.Type != gjson.String {
		return nil
	}
	return []string{result.String()}
}
