// Package seeder implements the one-shot Seeder (spec.md §4.4): parse a
// seed file of candidate relay URLs and either stage them as candidates
// (default) or bulk-insert them directly as relays (bypass path).
//
// Grounded on the teacher's cmd/nophr/main.go subcommand pattern (a
// single bounded Run, no cycle loop) and internal/ops/retention.go's
// batch-and-flush idiom for the bypass path's chunked InsertRelay calls.
package seeder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bigbrotr/bigbrotr/internal/dbfacade"
	"github.com/bigbrotr/bigbrotr/internal/relay"
	"github.com/bigbrotr/bigbrotr/internal/statestore"
)

// Seeder runs the one-shot seed-file ingestion.
type Seeder struct {
	facade *dbfacade.Facade
	store  *statestore.Store
	logger *slog.Logger

	batchSize int
}

// New constructs a Seeder. batchSize bounds the bypass-path InsertRelay
// chunk size (spec.md §4.4 step 3).
func New(facade *dbfacade.Facade, logger *slog.Logger, batchSize int) *Seeder {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Seeder{
		facade:    facade,
		store:     statestore.New(facade, "validator"),
		logger:    logger,
		batchSize: batchSize,
	}
}

// Result summarizes one Run.
type Result struct {
	Parsed  int
	Valid   int
	Invalid int
	Stored  int
}

// Run parses r line by line and stores every valid candidate, following
// the two paths of spec.md §4.4.
func (s *Seeder) Run(ctx context.Context, r io.Reader, toValidate bool) (Result, error) {
	var result Result
	var valid []*relay.Normalized

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		result.Parsed++

		n, err := relay.Parse(line)
		if err != nil {
			result.Invalid++
			s.logger.Debug("seed_line_rejected", "line", line, "error", err)
			continue
		}
		result.Valid++
		valid = append(valid, n)
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("seeder: read seed file: %w", err)
	}

	if toValidate {
		stored, err := s.upsertCandidates(ctx, valid)
		result.Stored = stored
		return result, err
	}

	stored, err := s.bulkInsertRelays(ctx, valid)
	result.Stored = stored
	return result, err
}

// upsertCandidates stages every parsed URL as a candidate in the state
// store (spec.md §4.4 step 2: "idempotent: existing candidates get
// refreshed inserted_at").
func (s *Seeder) upsertCandidates(ctx context.Context, relays []*relay.Normalized) (int, error) {
	now := time.Now().Unix()
	count := 0
	for _, n := range relays {
		err := s.store.UpsertCandidate(ctx, n.URL, statestore.CandidateState{
			FailedAttempts: 0,
			Network:        string(n.Network),
			InsertedAt:     now,
		})
		if err != nil {
			return count, fmt.Errorf("seeder: upsert candidate %s: %w", n.URL, err)
		}
		count++
	}
	return count, nil
}

// bulkInsertRelays inserts parsed URLs directly as relays in
// batch-sized chunks (spec.md §4.4 step 3: "duplicates silently
// skipped").
func (s *Seeder) bulkInsertRelays(ctx context.Context, relays []*relay.Normalized) (int, error) {
	now := time.Now().Unix()
	total := 0
	for start := 0; start < len(relays); start += s.batchSize {
		end := start + s.batchSize
		if end > len(relays) {
			end = len(relays)
		}
		rows := make([]dbfacade.RelayRow, 0, end-start)
		for _, n := range relays[start:end] {
			rows = append(rows, dbfacade.RelayRow{
				URL:          n.URL,
				Network:      string(n.Network),
				DiscoveredAt: now,
			})
		}
		n, err := s.facade.InsertRelay(ctx, rows)
		if err != nil {
			return total, fmt.Errorf("seeder: bulk insert relays: %w", err)
		}
		total += int(n)
	}
	return total, nil
}
