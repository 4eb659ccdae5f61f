// Package dbfacade is the sole chokepoint between services and the
// relational store (spec.md §4.2): generic query helpers, scoped
// transactions, typed bulk upserts dispatched through stored procedures,
// and the JSON/JSONB pass-through codec.
package dbfacade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/bigbrotr/bigbrotr/internal/dbpool"
)

// Timeouts bounds each category of operation the facade performs.
type Timeouts struct {
	Query   time.Duration
	Batch   time.Duration
	Cleanup time.Duration
	Refresh time.Duration
}

func (t *Timeouts) setDefaults() {
	if t.Query == 0 {
		t.Query = 10 * time.Second
	}
	if t.Batch == 0 {
		t.Batch = 60 * time.Second
	}
	if t.Cleanup == 0 {
		t.Cleanup = 30 * time.Second
	}
	if t.Refresh == 0 {
		t.Refresh = 5 * time.Minute
	}
}

// BatchLimits bounds bulk-insert sizes (spec.md §4.2).
type BatchLimits struct {
	MaxSize int
}

func (b *BatchLimits) setDefaults() {
	if b.MaxSize == 0 {
		b.MaxSize = 1000
	}
}

const hardMaxBatchSize = 100_000

// identifierRe is the strict identifier pattern a stored-procedure or
// view name must match before the facade will interpolate it into SQL.
var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ErrInvalidIdentifier signals an attempted SQL-identifier injection or
// typo — a configuration/programming error, never recoverable at runtime.
var ErrInvalidIdentifier = errors.New("dbfacade: invalid stored procedure or view identifier")

// ErrBatchTooLarge signals a caller handed the facade more rows than
// config.batch.max_size (or the hard cap) allows.
var ErrBatchTooLarge = errors.New("dbfacade: batch exceeds configured maximum size")

// ErrRaggedColumns is a contract-violation panic condition: transpose
// received parallel arrays of unequal length.
var ErrRaggedColumns = errors.New("dbfacade: parallel column arrays have unequal length")

// Facade is the sole contact point between services and PostgreSQL.
type Facade struct {
	pool     *dbpool.Pool
	timeouts Timeouts
	batch    BatchLimits
}

// New wraps pool with the given timeout/batch configuration, filling in
// defaults for zero values.
func New(pool *dbpool.Pool, timeouts Timeouts, batch BatchLimits) *Facade {
	timeouts.setDefaults()
	batch.setDefaults()
	return &Facade{pool: pool, timeouts: timeouts, batch: batch}
}

func (f *Facade) db() *sql.DB { return f.pool.DB() }

// Fetch runs a parameterized query and returns all rows as a slice of
// column-value slices. Every query goes through here or one of its
// siblings — no caller builds SQL by string interpolation of arguments.
func (f *Facade) Fetch(ctx context.Context, query string, args ...any) ([][]any, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Query)
	defer cancel()

	var rows *sql.Rows
	err := f.pool.WithRetry(ctx, 3, func(ctx context.Context) error {
		var err error
		rows, err = f.db().QueryContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("dbfacade: fetch: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// FetchRow returns the first row only, or sql.ErrNoRows if empty.
func (f *Facade) FetchRow(ctx context.Context, query string, args ...any) ([]any, error) {
	rows, err := f.Fetch(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}
	return rows[0], nil
}

// FetchVal returns the first column of the first row.
func (f *Facade) FetchVal(ctx context.Context, query string, args ...any) (any, error) {
	row, err := f.FetchRow(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, fmt.Errorf("dbfacade: row has no columns")
	}
	return row[0], nil
}

// Execute runs a parameterized statement and returns rows affected.
func (f *Facade) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Query)
	defer cancel()

	var result sql.Result
	err := f.pool.WithRetry(ctx, 3, func(ctx context.Context) error {
		var err error
		result, err = f.db().ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("dbfacade: execute: %w", err)
	}
	return result.RowsAffected()
}

// Transaction runs fn inside a transaction scope, committing on success
// and rolling back on error or panic.
func (f *Facade) Transaction(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := f.db().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbfacade: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(ctx, tx)
	return err
}

// CallProc validates name against the strict identifier pattern and
// dispatches SELECT name($1, $2, ...). This is the only code path that
// interpolates a caller-supplied string into SQL, and it is deliberately
// narrow (spec.md §9 "dynamic stored-procedure dispatch").
func (f *Facade) CallProc(ctx context.Context, name string, args ...any) (any, error) {
	if !identifierRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	placeholders := make([]byte, 0, len(args)*3)
	for i := range args {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, []byte(fmt.Sprintf("$%d", i+1))...)
	}
	query := fmt.Sprintf("SELECT %s(%s)", name, string(placeholders))
	return f.FetchVal(ctx, query, args...)
}

// CallProcTx is CallProc scoped to an existing transaction, for use
// inside Transaction callbacks that must dispatch a procedure as part of
// an atomic batch.
func (f *Facade) CallProcTx(ctx context.Context, tx *sql.Tx, name string, args ...any) (any, error) {
	if !identifierRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	placeholders := make([]byte, 0, len(args)*3)
	for i := range args {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, []byte(fmt.Sprintf("$%d", i+1))...)
	}
	query := fmt.Sprintf("SELECT %s(%s)", name, string(placeholders))
	row := tx.QueryRowContext(ctx, query, args...)
	var v any
	if err := row.Scan(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// RefreshMaterializedView dispatches "{view}_refresh" under the same
// identifier rule as CallProc.
func (f *Facade) RefreshMaterializedView(ctx context.Context, view string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Refresh)
	defer cancel()
	_, err := f.CallProc(ctx, view+"_refresh")
	return err
}

// ValidateBatchSize enforces config.batch.max_size and the hard cap of
// 100_000, per spec.md §4.2. A caller exceeding this is a programming
// bug (spec.md §7 category 7), not a recoverable condition — surfaced as
// an error so upstream services can still log and count the cycle
// failure rather than crash the whole process.
func (f *Facade) ValidateBatchSize(n int) error {
	if n > hardMaxBatchSize {
		return fmt.Errorf("%w: %d exceeds hard cap %d", ErrBatchTooLarge, n, hardMaxBatchSize)
	}
	if n > f.batch.MaxSize {
		return fmt.Errorf("%w: %d exceeds configured max %d", ErrBatchTooLarge, n, f.batch.MaxSize)
	}
	return nil
}

// BatchTimeout returns the configured batch-operation timeout.
func (f *Facade) BatchTimeout() time.Duration { return f.timeouts.Batch }

// CleanupTimeout returns the configured cleanup-operation timeout.
func (f *Facade) CleanupTimeout() time.Duration { return f.timeouts.Cleanup }
