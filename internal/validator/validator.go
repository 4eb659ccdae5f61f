// Package validator implements the Validator service (spec.md §4.6):
// promotes staged candidates to relays by opening a WebSocket and probing
// for Nostr-protocol behavior.
//
// Grounded on the teacher's internal/ops/retention.go cleanup-before-work
// pattern and internal/nostr/client.go connect/probe idiom, generalized
// behind the internal/transport.RelayTransport capability.
package validator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/nbd-wtf/go-nostr"

	"github.com/bigbrotr/bigbrotr/internal/dbfacade"
	"github.com/bigbrotr/bigbrotr/internal/relay"
	"github.com/bigbrotr/bigbrotr/internal/statestore"
	"github.com/bigbrotr/bigbrotr/internal/transport"
)

// NetworkPolicy bounds concurrency and timeout for one network (spec.md
// §4.6 step 1: "Initialize per-network semaphores from networks config").
type NetworkPolicy struct {
	Enabled bool
	MaxTask int
	Timeout time.Duration
}

// CleanupConfig controls the failed-candidate purge (spec.md §4.6 step 2).
type CleanupConfig struct {
	Enabled     bool
	MaxFailures int
}

func (c *CleanupConfig) setDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 100
	}
}

// Config parameterizes one Validator cycle.
type Config struct {
	Networks      map[relay.Network]NetworkPolicy
	Cleanup       CleanupConfig
	MaxCandidates int
	ChunkSize     int
}

func (c *Config) setDefaults() {
	c.Cleanup.setDefaults()
	if c.ChunkSize <= 0 {
		c.ChunkSize = 100
	}
}

// Validator promotes candidates to relays.
type Validator struct {
	facade    *dbfacade.Facade
	store     *statestore.Store
	logger    *slog.Logger
	transport transport.RelayTransport
	cfg       Config
}

// New constructs a Validator.
func New(facade *dbfacade.Facade, transport transport.RelayTransport, logger *slog.Logger, cfg Config) *Validator {
	cfg.setDefaults()
	return &Validator{
		facade:    facade,
		store:     statestore.New(facade, "validator"),
		logger:    logger,
		transport: transport,
		cfg:       cfg,
	}
}

// Result summarizes one Run.
type Result struct {
	Promoted int
	Rejected int
	Skipped  int
}

// Run executes one Validator cycle (spec.md §4.6 algorithm).
func (v *Validator) Run(ctx context.Context) (Result, error) {
	var result Result
	cycleStart := time.Now().Unix()

	if err := v.cleanupAlreadyPromoted(ctx); err != nil {
		return result, fmt.Errorf("validator: cleanup already-promoted candidates: %w", err)
	}
	if v.cfg.Cleanup.Enabled {
		if err := v.cleanupExhausted(ctx); err != nil {
			return result, fmt.Errorf("validator: cleanup exhausted candidates: %w", err)
		}
	}

	sems := make(map[relay.Network]chan struct{}, len(v.cfg.Networks))
	for net, pol := range v.cfg.Networks {
		if pol.Enabled && pol.MaxTask > 0 {
			sems[net] = make(chan struct{}, pol.MaxTask)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		chunk, err := v.fetchChunk(ctx, cycleStart, v.cfg.ChunkSize)
		if err != nil {
			return result, fmt.Errorf("validator: fetch chunk: %w", err)
		}
		if len(chunk) == 0 {
			return result, nil
		}

		for _, c := range chunk {
			pol, ok := v.cfg.Networks[relay.Network(c.network)]
			if !ok || !pol.Enabled {
				result.Skipped++
				continue
			}
			sem := sems[relay.Network(c.network)]
			if sem != nil {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return result, ctx.Err()
				}
			}
			outcome, probeErr := v.probe(ctx, c.url, pol.Timeout)
			if sem != nil {
				<-sem
			}

			if probeErr != nil || !outcome {
				if err := v.recordFailure(ctx, c); err != nil {
					return result, fmt.Errorf("validator: record failure %s: %w", c.url, err)
				}
				result.Rejected++
				continue
			}
			if err := v.promote(ctx, c); err != nil {
				return result, fmt.Errorf("validator: promote %s: %w", c.url, err)
			}
			result.Promoted++
		}

		if v.cfg.MaxCandidates > 0 && result.Promoted+result.Rejected+result.Skipped >= v.cfg.MaxCandidates {
			return result, nil
		}
	}
}

// cleanupAlreadyPromoted deletes candidates whose URL is already present
// in the relay table (spec.md §4.6 step 2a).
func (v *Validator) cleanupAlreadyPromoted(ctx context.Context) error {
	_, err := v.facade.Execute(ctx, `
		DELETE FROM service_state
		WHERE service_name = 'validator' AND state_type = 'candidate'
		  AND state_key IN (SELECT url FROM relay)`)
	return err
}

// cleanupExhausted deletes candidates that have failed at least
// cleanup.max_failures times (spec.md §4.6 step 2b).
func (v *Validator) cleanupExhausted(ctx context.Context) error {
	_, err := v.facade.Execute(ctx, `
		DELETE FROM service_state
		WHERE service_name = 'validator' AND state_type = 'candidate'
		  AND (state_value->>'failed_attempts')::int >= $1`, v.cfg.Cleanup.MaxFailures)
	return err
}

type candidateRow struct {
	url     string
	network string
}

// fetchChunk pulls the next chunk of untried candidates, ordered
// fewest-failures-first / oldest-first (spec.md §4.6 step 4), guarded by
// updated_at < cycle_start so each candidate is tried at most once per
// cycle (step 6).
func (v *Validator) fetchChunk(ctx context.Context, cycleStart int64, size int) ([]candidateRow, error) {
	rows, err := v.facade.Fetch(ctx, `
		SELECT state_key, state_value->>'network'
		FROM service_state
		WHERE service_name = 'validator' AND state_type = 'candidate'
		  AND updated_at < $1
		ORDER BY (state_value->>'failed_attempts')::int ASC, updated_at ASC
		LIMIT $2`, cycleStart, size)
	if err != nil {
		return nil, err
	}
	out := make([]candidateRow, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		url, _ := r[0].(string)
		network, _ := r[1].(string)
		out = append(out, candidateRow{url: url, network: network})
	}
	return out, nil
}

// probe implements the validity test of spec.md §4.6: connect, send a
// REQ, and wait for EOSE/EVENT/NOTICE/AUTH before close, within timeout.
func (v *Validator) probe(ctx context.Context, relayURL string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := v.transport.Connect(ctx, relayURL)
	if err != nil {
		return false, nil // connect failure is an invalid result, not a hard error
	}
	defer conn.Close()

	subID := "validator"
	if err := conn.SendJSON(ctx, []any{"REQ", subID, nostr.Filter{Limit: 1}}); err != nil {
		return false, nil
	}

	for {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			return false, nil
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(msg, &frame); err != nil || len(frame) == 0 {
			continue
		}
		var kind string
		if err := json.Unmarshal(frame[0], &kind); err != nil {
			continue
		}
		switch kind {
		case "EOSE", "EVENT", "NOTICE", "AUTH":
			return true, nil
		}
	}
}

// promote atomically inserts the candidate as a relay and deletes its
// candidate row (spec.md §4.6 step 5: "single transaction in
// PromoteCandidates").
func (v *Validator) promote(ctx context.Context, c candidateRow) error {
	now := time.Now().Unix()
	return v.facade.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := v.facade.CallProcTx(ctx, tx, "relay_insert",
			pq.Array([]string{c.url}), pq.Array([]string{c.network}), pq.Array([]int64{now})); err != nil {
			return fmt.Errorf("validator: insert relay %s: %w", c.url, err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM service_state
			WHERE service_name = 'validator' AND state_type = 'candidate' AND state_key = $1`,
			c.url); err != nil {
			return fmt.Errorf("validator: delete candidate %s: %w", c.url, err)
		}
		return nil
	})
}

// recordFailure upserts the candidate with failed_attempts incremented
// and updated_at refreshed (spec.md §4.6 step 5 invalid branch).
func (v *Validator) recordFailure(ctx context.Context, c candidateRow) error {
	existing, ok, err := v.store.GetCandidate(ctx, c.url)
	if err != nil {
		return err
	}
	failed := 0
	insertedAt := time.Now().Unix()
	if ok {
		failed = existing.FailedAttempts
		insertedAt = existing.InsertedAt
	}
	return v.store.UpsertCandidate(ctx, c.url, statestore.CandidateState{
		FailedAttempts: failed + 1,
		Network:        c.network,
		InsertedAt:     insertedAt,
	})
}
