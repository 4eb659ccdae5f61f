// Package synchronizer implements the Synchronizer service (spec.md
// §4.8): pulls events from every known relay on an incremental
// per-relay cursor, using structured concurrency and a buffered cursor
// flusher.
//
// Grounded on the teacher's internal/sync/engine.go for the general
// concurrency shape (WaitGroup-scoped per-relay tasks, context
// cancellation, channel-fed background flusher) generalized from its
// owner-centric social-graph sync to BigBrotr's per-relay cursor scan.
package synchronizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/bigbrotr/bigbrotr/internal/dbfacade"
	"github.com/bigbrotr/bigbrotr/internal/nostrevent"
	"github.com/bigbrotr/bigbrotr/internal/relay"
	"github.com/bigbrotr/bigbrotr/internal/statestore"
	"github.com/bigbrotr/bigbrotr/internal/transport"
)

// Filter narrows which events a relay task requests (spec.md §4.8 step
// 5c's "optional kinds/ids/authors/tags filters").
type Filter struct {
	Kinds   []int
	IDs     []string
	Authors []string
	Tags    map[string][]string
}

// RelayTimeouts bounds one per-relay task by network (spec.md §4.8 step
// 5, defaults "1800s clearnet / 3600s overlays").
type RelayTimeouts struct {
	Clearnet time.Duration
	Tor      time.Duration
	I2P      time.Duration
	Loki     time.Duration
}

// ForNetwork returns the configured timeout for net, defaulting to the
// clearnet timeout if unset.
func (t RelayTimeouts) ForNetwork(n relay.Network) time.Duration {
	switch n {
	case relay.Tor:
		if t.Tor > 0 {
			return t.Tor
		}
	case relay.I2P:
		if t.I2P > 0 {
			return t.I2P
		}
	case relay.Loki:
		if t.Loki > 0 {
			return t.Loki
		}
	}
	if t.Clearnet > 0 {
		return t.Clearnet
	}
	return 1800 * time.Second
}

// NetworkPolicy bounds per-network concurrency (spec.md §4.8 step 4).
type NetworkPolicy struct {
	Enabled bool
	MaxTask int
}

// Config parameterizes one Synchronizer cycle.
type Config struct {
	Networks            map[relay.Network]NetworkPolicy
	RelayOverrides      []string
	DefaultStart        int64
	LookbackSeconds     int64
	PaginationLimit     int
	PaginationMax       int
	Timeouts            RelayTimeouts
	CursorFlushInterval int
	Filter              Filter
}

func (c *Config) setDefaults() {
	if c.LookbackSeconds <= 0 {
		c.LookbackSeconds = 86400
	}
	if c.PaginationLimit <= 0 {
		c.PaginationLimit = 500
	}
	if c.PaginationMax <= 0 {
		c.PaginationMax = 5000
	}
	if c.PaginationLimit > c.PaginationMax {
		c.PaginationLimit = c.PaginationMax
	}
	if c.CursorFlushInterval <= 0 {
		c.CursorFlushInterval = 50
	}
}

// Synchronizer pulls events from every known relay incrementally.
type Synchronizer struct {
	facade    *dbfacade.Facade
	store     *statestore.Store
	logger    *slog.Logger
	transport transport.RelayTransport
	cfg       Config
}

// New constructs a Synchronizer.
func New(facade *dbfacade.Facade, tr transport.RelayTransport, logger *slog.Logger, cfg Config) *Synchronizer {
	cfg.setDefaults()
	return &Synchronizer{
		facade:    facade,
		store:     statestore.New(facade, "synchronizer"),
		logger:    logger,
		transport: tr,
		cfg:       cfg,
	}
}

// Counters tallies one cycle's outcome (spec.md §4.8 step 7), protected
// by a mutex shared across every relay task.
type Counters struct {
	mu            sync.Mutex
	SyncedEvents  int64
	InvalidEvents int64
	SkippedEvents int64
	FailedRelays  int64
}

func (c *Counters) addSynced(n int64) {
	c.mu.Lock()
	c.SyncedEvents += n
	c.mu.Unlock()
}
func (c *Counters) addInvalid(n int64) {
	c.mu.Lock()
	c.InvalidEvents += n
	c.mu.Unlock()
}
func (c *Counters) addSkipped(n int64) {
	c.mu.Lock()
	c.SkippedEvents += n
	c.mu.Unlock()
}
func (c *Counters) incFailedRelay() {
	c.mu.Lock()
	c.FailedRelays++
	c.mu.Unlock()
}

// Snapshot is the final, lock-free tally returned from Run.
type Snapshot struct {
	SyncedEvents  int64
	InvalidEvents int64
	SkippedEvents int64
	FailedRelays  int64
}

func (c *Counters) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SyncedEvents:  c.SyncedEvents,
		InvalidEvents: c.InvalidEvents,
		SkippedEvents: c.SkippedEvents,
		FailedRelays:  c.FailedRelays,
	}
}

// cursorBuffer accumulates per-relay cursor updates and flushes them in
// batches, replacing a shared-mutex-buffer with a channel-fed background
// goroutine (spec.md §9 redesign note).
type cursorBuffer struct {
	store         *statestore.Store
	flushInterval int
	updates       chan cursorUpdate
	done          chan struct{}
	logger        *slog.Logger
}

type cursorUpdate struct {
	relayURL     string
	lastSyncedAt int64
}

func newCursorBuffer(store *statestore.Store, flushInterval int, logger *slog.Logger) *cursorBuffer {
	b := &cursorBuffer{
		store:         store,
		flushInterval: flushInterval,
		updates:       make(chan cursorUpdate, flushInterval*2),
		done:          make(chan struct{}),
		logger:        logger,
	}
	go b.run()
	return b
}

func (b *cursorBuffer) run() {
	defer close(b.done)
	pending := make(map[string]int64, b.flushInterval)
	ctx := context.Background()
	flush := func() {
		for url, lastSynced := range pending {
			if err := b.store.UpsertSynchronizerCursor(ctx, url, statestore.SynchronizerCursorState{LastSyncedAt: lastSynced}); err != nil {
				b.logger.Error("cursor_flush_failed", "relay", url, "error", err)
			}
		}
		pending = make(map[string]int64, b.flushInterval)
	}
	for u := range b.updates {
		pending[u.relayURL] = u.lastSyncedAt
		if len(pending) >= b.flushInterval {
			flush()
		}
	}
	flush()
}

func (b *cursorBuffer) enqueue(u cursorUpdate) {
	b.updates <- u
}

func (b *cursorBuffer) closeAndWait() {
	close(b.updates)
	<-b.done
}

// Run executes one Synchronizer cycle (spec.md §4.8 algorithm).
func (s *Synchronizer) Run(ctx context.Context) (Snapshot, error) {
	var counters Counters

	relays, err := s.loadRelaysWithOverrides(ctx)
	if err != nil {
		return counters.snapshot(), fmt.Errorf("synchronizer: load relays: %w", err)
	}
	rand.Shuffle(len(relays), func(i, j int) { relays[i], relays[j] = relays[j], relays[i] })

	cursors, err := s.prefetchCursors(ctx, relays)
	if err != nil {
		return counters.snapshot(), fmt.Errorf("synchronizer: prefetch cursors: %w", err)
	}

	sems := make(map[relay.Network]chan struct{}, len(s.cfg.Networks))
	for netw, pol := range s.cfg.Networks {
		if pol.Enabled && pol.MaxTask > 0 {
			sems[netw] = make(chan struct{}, pol.MaxTask)
		}
	}

	buffer := newCursorBuffer(s.store, s.cfg.CursorFlushInterval, s.logger)

	scopeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, r := range relays {
		pol, ok := s.cfg.Networks[r.network]
		if !ok || !pol.Enabled {
			continue
		}
		sem := sems[r.network]
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-scopeCtx.Done():
				continue
			}
		}
		wg.Add(1)
		go func(r relayEntry) {
			defer wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			if err := s.syncRelay(scopeCtx, r, cursors[r.url], &counters, buffer); err != nil {
				if scopeCtx.Err() != nil {
					// Cycle shut down (or a fatal error elsewhere cancelled
					// siblings); this isn't this relay's own failure.
					return
				}
				counters.incFailedRelay()
				var fatalErr *fatalError
				if errors.As(err, &fatalErr) {
					s.logger.Error("relay_sync_fatal", "relay", r.url, "error", err)
					cancel()
					return
				}
				s.logger.Error("relay_sync_failed", "relay", r.url, "error", err)
			}
		}(r)
	}
	wg.Wait()
	buffer.closeAndWait()

	return counters.snapshot(), nil
}

type relayEntry struct {
	url     string
	network relay.Network
}

// fatalError marks a relay-task failure that should cancel every sibling
// task in the cycle (spec.md §4.8 step 4: "one task per relay... a
// fatal error cancels the remaining sibling tasks"). A persistence
// failure is fatal: if the database has gone away, every other relay
// task will fail the same way, so there is no point letting them run
// out their timeouts individually.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// loadRelaysWithOverrides implements spec.md §4.8 step 1: "Load all
// relays; merge in any URL from the per-relay override list not already
// present."
func (s *Synchronizer) loadRelaysWithOverrides(ctx context.Context) ([]relayEntry, error) {
	rows, err := s.facade.Fetch(ctx, `SELECT url, network FROM relay`)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rows))
	out := make([]relayEntry, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		url, _ := row[0].(string)
		network, _ := row[1].(string)
		out = append(out, relayEntry{url: url, network: relay.Network(network)})
		seen[url] = true
	}
	for _, url := range s.cfg.RelayOverrides {
		if seen[url] {
			continue
		}
		n, err := relay.Parse(url)
		if err != nil {
			continue
		}
		out = append(out, relayEntry{url: n.URL, network: n.Network})
		seen[url] = true
	}
	return out, nil
}

// prefetchCursors fetches every synchronizer cursor in one pass (spec.md
// §4.8 step 3).
func (s *Synchronizer) prefetchCursors(ctx context.Context, relays []relayEntry) (map[string]int64, error) {
	cursors := make(map[string]int64, len(relays))
	for _, r := range relays {
		c, ok, err := s.store.GetSynchronizerCursor(ctx, r.url)
		if err != nil {
			return nil, err
		}
		if ok {
			cursors[r.url] = c.LastSyncedAt
		}
	}
	return cursors, nil
}

// syncRelay runs the per-relay loop of spec.md §4.8 step 5, bounded by
// the network's relay timeout.
func (s *Synchronizer) syncRelay(ctx context.Context, r relayEntry, cursor int64, counters *Counters, buffer *cursorBuffer) error {
	timeout := s.cfg.Timeouts.ForNetwork(r.network)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := time.Now().Unix()
	start := s.cfg.DefaultStart
	if cursor > 0 {
		start = cursor + 1
	}
	end := now - s.cfg.LookbackSeconds
	if start >= end {
		return nil
	}

	conn, _, err := s.transport.Connect(ctx, r.url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	lastSeen := start - 1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		events, err := s.fetchPage(ctx, conn, start, end)
		if err != nil {
			return fmt.Errorf("fetch page: %w", err)
		}
		if len(events) == 0 {
			break
		}

		synced, invalid, skipped, maxCreatedAt, err := s.processBatch(ctx, r.url, events, start, end)
		counters.addSynced(synced)
		counters.addInvalid(invalid)
		counters.addSkipped(skipped)
		if err != nil {
			return &fatalError{err: fmt.Errorf("persist batch: %w", err)}
		}
		if maxCreatedAt > lastSeen {
			lastSeen = maxCreatedAt
		}
		start = lastSeen + 1

		if len(events) < s.cfg.PaginationLimit {
			break
		}
		if start >= end {
			break
		}
	}

	buffer.enqueue(cursorUpdate{relayURL: r.url, lastSyncedAt: end})
	return nil
}

// fetchPage sends one paginated REQ and collects EVENT frames until EOSE
// (spec.md §4.8 step 5c).
func (s *Synchronizer) fetchPage(ctx context.Context, conn transport.Conn, start, end int64) ([]*nostr.Event, error) {
	since := nostr.Timestamp(start)
	until := nostr.Timestamp(end)
	filter := nostr.Filter{
		Since: &since,
		Until: &until,
		Limit: s.cfg.PaginationLimit,
	}
	if len(s.cfg.Filter.Kinds) > 0 {
		filter.Kinds = s.cfg.Filter.Kinds
	}
	if len(s.cfg.Filter.IDs) > 0 {
		filter.IDs = s.cfg.Filter.IDs
	}
	if len(s.cfg.Filter.Authors) > 0 {
		filter.Authors = s.cfg.Filter.Authors
	}
	if len(s.cfg.Filter.Tags) > 0 {
		tagMap := make(nostr.TagMap, len(s.cfg.Filter.Tags))
		for k, v := range s.cfg.Filter.Tags {
			tagMap[k] = v
		}
		filter.Tags = tagMap
	}

	subID := "bigbrotr-sync"
	if err := conn.SendJSON(ctx, []any{"REQ", subID, filter}); err != nil {
		return nil, fmt.Errorf("send REQ: %w", err)
	}

	var events []*nostr.Event
	for {
		raw, err := conn.ReadMessage(ctx)
		if err != nil {
			return events, fmt.Errorf("read: %w", err)
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
			continue
		}
		var kind string
		if err := json.Unmarshal(frame[0], &kind); err != nil {
			continue
		}
		switch kind {
		case "EVENT":
			if len(frame) < 3 {
				continue
			}
			var ev nostr.Event
			if err := json.Unmarshal(frame[2], &ev); err != nil {
				continue
			}
			events = append(events, &ev)
		case "EOSE":
			return events, nil
		case "NOTICE", "AUTH":
			continue
		}
	}
}

// processBatch validates and inserts one page of events (spec.md §4.8
// step 5c: "validate signatures, reject events older than start or newer
// than end, insert via InsertEventRelay(cascade=true)"). Returns
// (synced, invalid, skipped, maxCreatedAt, err); err is non-nil only for
// a persistence failure, which the caller treats as fatal to the cycle.
func (s *Synchronizer) processBatch(ctx context.Context, relayURL string, events []*nostr.Event, start, end int64) (int64, int64, int64, int64, error) {
	var invalid, skipped, maxCreatedAt int64
	var rows []dbfacade.EventRelayRow
	now := time.Now().Unix()

	for _, wireEv := range events {
		ts := int64(wireEv.CreatedAt)
		if ts > maxCreatedAt {
			maxCreatedAt = ts
		}
		if ts < start || ts > end {
			skipped++
			continue
		}
		ok, err := wireEv.CheckSignature()
		if err != nil || !ok {
			invalid++
			continue
		}
		ev, err := nostrevent.FromNostr(wireEv)
		if err != nil {
			invalid++
			continue
		}
		rows = append(rows, dbfacade.EventRelayRow{
			Event:    ev,
			EventID:  ev.ID,
			RelayURL: relayURL,
			SeenAt:   now,
		})
	}

	if len(rows) == 0 {
		return 0, invalid, skipped, maxCreatedAt, nil
	}
	n, err := s.facade.InsertEventRelay(ctx, rows, true)
	if err != nil {
		return 0, invalid, skipped, maxCreatedAt, err
	}
	return n, invalid, skipped, maxCreatedAt, nil
}
