// Package statestore provides typed access to the service_state table
// (spec.md §3.6): five fixed state types, each with service-defined keys,
// replaced atomically on every upsert.
package statestore

import (
	"context"
	"fmt"

	"github.com/bigbrotr/bigbrotr/internal/dbfacade"
)

// StateType is one of the five fixed state_type values (spec.md §3.6).
type StateType string

const (
	Candidate   StateType = "candidate"
	Cursor      StateType = "cursor"
	Checkpoint  StateType = "checkpoint"
	Publication StateType = "publication"
	Monitoring  StateType = "monitoring"
)

// Store is a thin typed wrapper over the dbfacade service_state
// operations, grounded on the teacher's CursorManager (internal/sync
// /cursors.go): a narrow get/update surface per logical state family.
type Store struct {
	facade  *dbfacade.Facade
	service string
}

// New returns a Store scoped to one service name — each service owns its
// own slice of the state-store namespace.
func New(facade *dbfacade.Facade, service string) *Store {
	return &Store{facade: facade, service: service}
}

// Get fetches one state value. ok is false when no row exists.
func (s *Store) Get(ctx context.Context, stateType StateType, key string) (map[string]any, bool, error) {
	return s.facade.GetServiceState(ctx, s.service, string(stateType), key)
}

// Upsert atomically replaces the value at (service, stateType, key).
func (s *Store) Upsert(ctx context.Context, stateType StateType, key string, value map[string]any) error {
	return s.facade.UpsertServiceState(ctx, s.service, string(stateType), key, value)
}

// Delete removes one state row.
func (s *Store) Delete(ctx context.Context, stateType StateType, key string) error {
	return s.facade.DeleteServiceState(ctx, s.service, string(stateType), key)
}

// CandidateState is the value shape stored under StateType Candidate
// (owned by Validator).
type CandidateState struct {
	FailedAttempts int    `json:"failed_attempts"`
	Network        string `json:"network"`
	InsertedAt     int64  `json:"inserted_at"`
}

func (c CandidateState) toMap() map[string]any {
	return map[string]any{
		"failed_attempts": float64(c.FailedAttempts),
		"network":         c.Network,
		"inserted_at":     float64(c.InsertedAt),
	}
}

func candidateFromMap(m map[string]any) CandidateState {
	return CandidateState{
		FailedAttempts: int(asFloat(m["failed_attempts"])),
		Network:        asString(m["network"]),
		InsertedAt:     int64(asFloat(m["inserted_at"])),
	}
}

// GetCandidate fetches the Candidate state for key (a relay URL).
func (s *Store) GetCandidate(ctx context.Context, key string) (CandidateState, bool, error) {
	m, ok, err := s.Get(ctx, Candidate, key)
	if err != nil || !ok {
		return CandidateState{}, ok, err
	}
	return candidateFromMap(m), true, nil
}

// UpsertCandidate stores Candidate state for key.
func (s *Store) UpsertCandidate(ctx context.Context, key string, c CandidateState) error {
	return s.Upsert(ctx, Candidate, key, c.toMap())
}

// FinderCursorState is Finder's Cursor value shape.
type FinderCursorState struct {
	SeenAt  int64  `json:"seen_at"`
	EventID string `json:"event_id"`
}

func (c FinderCursorState) toMap() map[string]any {
	return map[string]any{"seen_at": float64(c.SeenAt), "event_id": c.EventID}
}

func finderCursorFromMap(m map[string]any) FinderCursorState {
	return FinderCursorState{SeenAt: int64(asFloat(m["seen_at"])), EventID: asString(m["event_id"])}
}

// GetFinderCursor fetches Finder's per-relay (seen_at, event_id) cursor.
func (s *Store) GetFinderCursor(ctx context.Context, relayURL string) (FinderCursorState, bool, error) {
	m, ok, err := s.Get(ctx, Cursor, relayURL)
	if err != nil || !ok {
		return FinderCursorState{}, ok, err
	}
	return finderCursorFromMap(m), true, nil
}

// UpsertFinderCursor stores Finder's cursor for relayURL.
func (s *Store) UpsertFinderCursor(ctx context.Context, relayURL string, c FinderCursorState) error {
	return s.Upsert(ctx, Cursor, relayURL, c.toMap())
}

// SynchronizerCursorState is Synchronizer's Cursor value shape.
type SynchronizerCursorState struct {
	LastSyncedAt int64 `json:"last_synced_at"`
}

func (c SynchronizerCursorState) toMap() map[string]any {
	return map[string]any{"last_synced_at": float64(c.LastSyncedAt)}
}

func syncCursorFromMap(m map[string]any) SynchronizerCursorState {
	return SynchronizerCursorState{LastSyncedAt: int64(asFloat(m["last_synced_at"]))}
}

// GetSynchronizerCursor fetches Synchronizer's per-relay cursor.
func (s *Store) GetSynchronizerCursor(ctx context.Context, relayURL string) (SynchronizerCursorState, bool, error) {
	m, ok, err := s.Get(ctx, Cursor, relayURL)
	if err != nil || !ok {
		return SynchronizerCursorState{}, ok, err
	}
	return syncCursorFromMap(m), true, nil
}

// UpsertSynchronizerCursor stores Synchronizer's cursor for relayURL.
func (s *Store) UpsertSynchronizerCursor(ctx context.Context, relayURL string, c SynchronizerCursorState) error {
	return s.Upsert(ctx, Cursor, relayURL, c.toMap())
}

// CheckpointState is Monitor's Checkpoint value shape.
type CheckpointState struct {
	LastCheckAt int64 `json:"last_check_at"`
}

// GetCheckpoint fetches Monitor's per-relay checkpoint.
func (s *Store) GetCheckpoint(ctx context.Context, relayURL string) (CheckpointState, bool, error) {
	m, ok, err := s.Get(ctx, Checkpoint, relayURL)
	if err != nil || !ok {
		return CheckpointState{}, ok, err
	}
	return CheckpointState{LastCheckAt: int64(asFloat(m["last_check_at"]))}, true, nil
}

// UpsertCheckpoint stores Monitor's checkpoint for relayURL.
func (s *Store) UpsertCheckpoint(ctx context.Context, relayURL string, c CheckpointState) error {
	return s.Upsert(ctx, Checkpoint, relayURL, map[string]any{"last_check_at": float64(c.LastCheckAt)})
}

// MonitoringState is Monitor's Monitoring value shape, one marker per
// checked relay per cycle to prevent re-checking within the interval.
type MonitoringState struct {
	MonitoredAt int64 `json:"monitored_at"`
}

// UpsertMonitoring stores Monitor's monitoring marker for relayURL.
func (s *Store) UpsertMonitoring(ctx context.Context, relayURL string, m MonitoringState) error {
	return s.Upsert(ctx, Monitoring, relayURL, map[string]any{"monitored_at": float64(m.MonitoredAt)})
}

// PublicationState is Monitor's Publication value shape, keyed by
// "last_announcement" or "last_profile".
type PublicationState struct {
	PublishedAt int64 `json:"published_at"`
}

// GetPublication fetches Monitor's publication marker for key.
func (s *Store) GetPublication(ctx context.Context, key string) (PublicationState, bool, error) {
	m, ok, err := s.Get(ctx, Publication, key)
	if err != nil || !ok {
		return PublicationState{}, ok, err
	}
	return PublicationState{PublishedAt: int64(asFloat(m["published_at"]))}, true, nil
}

// UpsertPublication stores Monitor's publication marker for key.
func (s *Store) UpsertPublication(ctx context.Context, key string, p PublicationState) error {
	return s.Upsert(ctx, Publication, key, map[string]any{"published_at": float64(p.PublishedAt)})
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// ErrMissing is returned by callers that require a state row to already
// exist (none of the Get* helpers above return it directly — they use
// the ok bool instead — but callers composing multiple lookups may want
// a sentinel to wrap).
var ErrMissing = fmt.Errorf("statestore: state not found")
