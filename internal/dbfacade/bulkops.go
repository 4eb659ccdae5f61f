package dbfacade

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/bigbrotr/bigbrotr/internal/canonjson"
	"github.com/bigbrotr/bigbrotr/internal/nostrevent"
)

// RelayRow is one row for InsertRelay.
type RelayRow struct {
	URL           string
	Network       string
	DiscoveredAt  int64
}

// InsertRelay transposes rows into parallel column arrays and dispatches
// the relay_insert stored procedure in a single round trip. Duplicates
// (on URL) are silently skipped server-side.
func (f *Facade) InsertRelay(ctx context.Context, rows []RelayRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := f.ValidateBatchSize(len(rows)); err != nil {
		return 0, err
	}
	urls := make([]string, len(rows))
	networks := make([]string, len(rows))
	discovered := make([]int64, len(rows))
	for i, r := range rows {
		urls[i] = r.URL
		networks[i] = r.Network
		discovered[i] = r.DiscoveredAt
	}
	requireEqualLength(len(urls), len(networks), len(discovered))

	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Batch)
	defer cancel()
	v, err := f.CallProc(ctx, "relay_insert", pq.Array(urls), pq.Array(networks), pq.Array(discovered))
	if err != nil {
		return 0, fmt.Errorf("dbfacade: InsertRelay: %w", err)
	}
	return toInt64(v), nil
}

// EventRow is one row for InsertEvent.
type EventRow struct {
	Event *nostrevent.Event
}

// InsertEvent bulk-inserts events. Duplicates on id are silently ignored.
func (f *Facade) InsertEvent(ctx context.Context, rows []EventRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := f.ValidateBatchSize(len(rows)); err != nil {
		return 0, err
	}

	ids := make([][]byte, len(rows))
	pubkeys := make([][]byte, len(rows))
	createdAts := make([]int64, len(rows))
	kinds := make([]int64, len(rows))
	tagsJSON := make([]string, len(rows))
	contents := make([]string, len(rows))
	sigs := make([][]byte, len(rows))

	for i, r := range rows {
		e := r.Event
		ids[i] = append([]byte(nil), e.ID[:]...)
		pubkeys[i] = append([]byte(nil), e.PubKey[:]...)
		createdAts[i] = e.CreatedAt
		kinds[i] = int64(e.Kind)
		tj, err := e.TagsJSON()
		if err != nil {
			return 0, fmt.Errorf("dbfacade: InsertEvent: tags: %w", err)
		}
		tagsJSON[i] = tj
		contents[i] = e.Content
		sigs[i] = append([]byte(nil), e.Sig[:]...)
	}
	requireEqualLength(len(ids), len(pubkeys), len(createdAts), len(kinds), len(tagsJSON), len(contents), len(sigs))

	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Batch)
	defer cancel()
	v, err := f.CallProc(ctx, "event_insert",
		pq.Array(ids), pq.Array(pubkeys), pq.Array(createdAts), pq.Array(kinds),
		pq.Array(tagsJSON), pq.Array(contents), pq.Array(sigs))
	if err != nil {
		return 0, fmt.Errorf("dbfacade: InsertEvent: %w", err)
	}
	return toInt64(v), nil
}

// EventRelayRow is one row for InsertEventRelay.
type EventRelayRow struct {
	Event    *nostrevent.Event // required only when cascade=true
	EventID  [32]byte
	RelayURL string
	SeenAt   int64
}

// InsertEventRelay bulk-inserts (event_id, relay_url, seen_at) junction
// rows. When cascade is true, the missing event and/or relay row is
// created atomically server-side (event_relay_insert_cascade); this
// requires Event to be populated on every row.
func (f *Facade) InsertEventRelay(ctx context.Context, rows []EventRelayRow, cascade bool) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := f.ValidateBatchSize(len(rows)); err != nil {
		return 0, err
	}

	eventIDs := make([][]byte, len(rows))
	relayURLs := make([]string, len(rows))
	seenAts := make([]int64, len(rows))
	for i, r := range rows {
		eventIDs[i] = append([]byte(nil), r.EventID[:]...)
		relayURLs[i] = r.RelayURL
		seenAts[i] = r.SeenAt
	}
	requireEqualLength(len(eventIDs), len(relayURLs), len(seenAts))

	proc := "event_relay_insert"
	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Batch)
	defer cancel()

	if !cascade {
		v, err := f.CallProc(ctx, proc, pq.Array(eventIDs), pq.Array(relayURLs), pq.Array(seenAts))
		if err != nil {
			return 0, fmt.Errorf("dbfacade: InsertEventRelay: %w", err)
		}
		return toInt64(v), nil
	}

	proc = "event_relay_insert_cascade"
	pubkeys := make([][]byte, len(rows))
	createdAts := make([]int64, len(rows))
	kinds := make([]int64, len(rows))
	tagsJSON := make([]string, len(rows))
	contents := make([]string, len(rows))
	sigs := make([][]byte, len(rows))
	for i, r := range rows {
		if r.Event == nil {
			return 0, fmt.Errorf("dbfacade: InsertEventRelay: cascade=true requires Event on row %d", i)
		}
		pubkeys[i] = append([]byte(nil), r.Event.PubKey[:]...)
		createdAts[i] = r.Event.CreatedAt
		kinds[i] = int64(r.Event.Kind)
		tj, err := r.Event.TagsJSON()
		if err != nil {
			return 0, fmt.Errorf("dbfacade: InsertEventRelay: tags: %w", err)
		}
		tagsJSON[i] = tj
		contents[i] = r.Event.Content
		sigs[i] = append([]byte(nil), r.Event.Sig[:]...)
	}
	v, err := f.CallProc(ctx, proc,
		pq.Array(eventIDs), pq.Array(pubkeys), pq.Array(createdAts), pq.Array(kinds),
		pq.Array(tagsJSON), pq.Array(contents), pq.Array(sigs),
		pq.Array(relayURLs), pq.Array(seenAts))
	if err != nil {
		return 0, fmt.Errorf("dbfacade: InsertEventRelay (cascade): %w", err)
	}
	return toInt64(v), nil
}

// MetadataRow is one row for InsertMetadata.
type MetadataRow struct {
	Metadata *nostrevent.Metadata
}

// InsertMetadata bulk-inserts content-addressed metadata rows. Identical
// (hash, type) pairs deduplicate server-side.
func (f *Facade) InsertMetadata(ctx context.Context, rows []MetadataRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := f.ValidateBatchSize(len(rows)); err != nil {
		return 0, err
	}

	ids := make([][]byte, len(rows))
	types := make([]string, len(rows))
	values := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = append([]byte(nil), r.Metadata.Hash[:]...)
		types[i] = string(r.Metadata.Type)
		v, err := canonjson.Marshal(r.Metadata.Value)
		if err != nil {
			return 0, fmt.Errorf("dbfacade: InsertMetadata: %w", err)
		}
		values[i] = v
	}
	requireEqualLength(len(ids), len(types), len(values))

	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Batch)
	defer cancel()
	v, err := f.CallProc(ctx, "metadata_insert", pq.Array(ids), pq.Array(types), pq.Array(values))
	if err != nil {
		return 0, fmt.Errorf("dbfacade: InsertMetadata: %w", err)
	}
	return toInt64(v), nil
}

// RelayMetadataRow is one row for InsertRelayMetadata.
type RelayMetadataRow struct {
	Metadata    *nostrevent.Metadata // required only when cascade=true
	RelayURL    string
	MetadataHash [32]byte
	MetadataType nostrevent.MetadataType
	GeneratedAt  int64
}

// InsertRelayMetadata bulk-inserts (relay_url, metadata_hash,
// metadata_type, generated_at) observation rows. When cascade is true,
// the metadata row is created atomically if absent.
func (f *Facade) InsertRelayMetadata(ctx context.Context, rows []RelayMetadataRow, cascade bool) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := f.ValidateBatchSize(len(rows)); err != nil {
		return 0, err
	}

	relayURLs := make([]string, len(rows))
	hashes := make([][]byte, len(rows))
	types := make([]string, len(rows))
	generatedAts := make([]int64, len(rows))
	for i, r := range rows {
		relayURLs[i] = r.RelayURL
		hashes[i] = append([]byte(nil), r.MetadataHash[:]...)
		types[i] = string(r.MetadataType)
		generatedAts[i] = r.GeneratedAt
	}
	requireEqualLength(len(relayURLs), len(hashes), len(types), len(generatedAts))

	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Batch)
	defer cancel()

	if !cascade {
		v, err := f.CallProc(ctx, "relay_metadata_insert",
			pq.Array(relayURLs), pq.Array(hashes), pq.Array(types), pq.Array(generatedAts))
		if err != nil {
			return 0, fmt.Errorf("dbfacade: InsertRelayMetadata: %w", err)
		}
		return toInt64(v), nil
	}

	values := make([]string, len(rows))
	for i, r := range rows {
		if r.Metadata == nil {
			return 0, fmt.Errorf("dbfacade: InsertRelayMetadata: cascade=true requires Metadata on row %d", i)
		}
		v, err := canonjson.Marshal(r.Metadata.Value)
		if err != nil {
			return 0, fmt.Errorf("dbfacade: InsertRelayMetadata: %w", err)
		}
		values[i] = v
	}
	v, err := f.CallProc(ctx, "relay_metadata_insert_cascade",
		pq.Array(relayURLs), pq.Array(hashes), pq.Array(types), pq.Array(values), pq.Array(generatedAts))
	if err != nil {
		return 0, fmt.Errorf("dbfacade: InsertRelayMetadata (cascade): %w", err)
	}
	return toInt64(v), nil
}

// UpsertServiceState replaces the full JSON value for one (service,
// type, key) row atomically.
func (f *Facade) UpsertServiceState(ctx context.Context, service, stateType, key string, value map[string]any) error {
	v, err := canonjson.Marshal(value)
	if err != nil {
		return fmt.Errorf("dbfacade: UpsertServiceState: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Query)
	defer cancel()
	_, err = f.CallProc(ctx, "service_state_upsert", service, stateType, key, v, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("dbfacade: UpsertServiceState: %w", err)
	}
	return nil
}

// GetServiceState fetches a single state value, returning (nil, false,
// nil) when absent.
func (f *Facade) GetServiceState(ctx context.Context, service, stateType, key string) (map[string]any, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Query)
	defer cancel()
	v, err := f.CallProc(ctx, "service_state_get", service, stateType, key)
	if err != nil {
		return nil, false, fmt.Errorf("dbfacade: GetServiceState: %w", err)
	}
	if v == nil {
		return nil, false, nil
	}
	m, err := decodeJSONValue(v)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// DeleteServiceState removes a single (service, type, key) row.
func (f *Facade) DeleteServiceState(ctx context.Context, service, stateType, key string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Cleanup)
	defer cancel()
	_, err := f.CallProc(ctx, "service_state_delete", service, stateType, key)
	if err != nil {
		return fmt.Errorf("dbfacade: DeleteServiceState: %w", err)
	}
	return nil
}

// DeleteOrphanEvent deletes events with no referencing event_relay rows.
func (f *Facade) DeleteOrphanEvent(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Cleanup)
	defer cancel()
	v, err := f.CallProc(ctx, "orphan_event_delete")
	if err != nil {
		return 0, fmt.Errorf("dbfacade: DeleteOrphanEvent: %w", err)
	}
	return toInt64(v), nil
}

// DeleteOrphanMetadata deletes metadata with no referencing
// relay_metadata rows.
func (f *Facade) DeleteOrphanMetadata(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Cleanup)
	defer cancel()
	v, err := f.CallProc(ctx, "orphan_metadata_delete")
	if err != nil {
		return 0, fmt.Errorf("dbfacade: DeleteOrphanMetadata: %w", err)
	}
	return toInt64(v), nil
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	default:
		return 0
	}
}

func decodeJSONValue(v any) (map[string]any, error) {
	switch t := v.(type) {
	case []byte:
		return canonjson.Decode(t)
	case string:
		return canonjson.Decode([]byte(t))
	default:
		return nil, fmt.Errorf("dbfacade: unexpected state value type %T", v)
	}
}

// EventIDHex is a small convenience used by callers building
// EventRelayRow from hex event ids (e.g. parsed from query results).
func EventIDHex(id [32]byte) string { return hex.EncodeToString(id[:]) }
