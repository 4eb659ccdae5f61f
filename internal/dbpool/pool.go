// Package dbpool wraps a PostgreSQL *sql.DB with the retry/backoff,
// sizing, and session-init responsibilities of spec.md §4.3.
package dbpool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
)

// Config configures pool sizing, establishment retry, and per-connection
// session settings. Zero values are replaced by the documented defaults
// in Validate.
type Config struct {
	DSN string

	MinSize                 int
	MaxSize                 int
	MaxQueriesBeforeRecycle int64
	IdleLifetime            time.Duration

	ConnectMaxAttempts   int
	ConnectInitialDelay  time.Duration
	ConnectMaxDelay      time.Duration

	ApplicationName    string
	StatementTimeoutMs int
}

// Validate applies defaults and checks invariants (max >= min).
func (c *Config) Validate() error {
	if c.MinSize == 0 {
		c.MinSize = 2
	}
	if c.MaxSize == 0 {
		c.MaxSize = 20
	}
	if c.MaxQueriesBeforeRecycle == 0 {
		c.MaxQueriesBeforeRecycle = 50_000
	}
	if c.IdleLifetime == 0 {
		c.IdleLifetime = 300 * time.Second
	}
	if c.ConnectMaxAttempts == 0 {
		c.ConnectMaxAttempts = 3
	}
	if c.ConnectInitialDelay == 0 {
		c.ConnectInitialDelay = 200 * time.Millisecond
	}
	if c.ConnectMaxDelay == 0 {
		c.ConnectMaxDelay = 5 * time.Second
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "bigbrotr"
	}
	if c.StatementTimeoutMs == 0 {
		c.StatementTimeoutMs = 30_000
	}
	if c.MaxSize < c.MinSize {
		return fmt.Errorf("dbpool: max_size (%d) must be >= min_size (%d)", c.MaxSize, c.MinSize)
	}
	return nil
}

// Pool is a thread-safe, retrying handle over a PostgreSQL connection
// pool. Establishment is idempotent: concurrent calls to connect collapse
// to a single dial.
type Pool struct {
	cfg Config

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// New validates cfg and establishes the pool, retrying per
// cfg.ConnectMaxAttempts with exponential backoff capped at
// cfg.ConnectMaxDelay.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{cfg: cfg}
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return nil
	}

	dsn := p.cfg.DSN
	if !strings.Contains(dsn, "application_name") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn = fmt.Sprintf("%s%sapplication_name=%s", dsn, sep, p.cfg.ApplicationName)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.ConnectInitialDelay
	bo.MaxInterval = p.cfg.ConnectMaxDelay
	retrier := backoff.WithMaxRetries(bo, uint64(p.cfg.ConnectMaxAttempts-1))

	var db *sql.DB
	err := backoff.Retry(func() error {
		d, err := sql.Open("postgres", dsn)
		if err != nil {
			return backoff.Permanent(err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.PingContext(pingCtx); err != nil {
			_ = d.Close()
			return err
		}
		db = d
		return nil
	}, backoff.WithContext(retrier, ctx))
	if err != nil {
		return fmt.Errorf("dbpool: establishing connection: %w", err)
	}

	db.SetMaxOpenConns(p.cfg.MaxSize)
	db.SetMaxIdleConns(p.cfg.MinSize)
	db.SetConnMaxIdleTime(p.cfg.IdleLifetime)

	if err := initSession(ctx, db, p.cfg); err != nil {
		_ = db.Close()
		return err
	}

	p.db = db
	return nil
}

func initSession(ctx context.Context, db *sql.DB, cfg Config) error {
	stmts := []string{
		"SET timezone = 'UTC'",
		fmt.Sprintf("SET statement_timeout = %d", cfg.StatementTimeoutMs),
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("dbpool: session init %q: %w", s, err)
		}
	}
	return nil
}

// DB returns the underlying *sql.DB for use by the facade.
func (p *Pool) DB() *sql.DB {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db
}

// Close closes the pool. Safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.db == nil {
		p.closed = true
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// HealthCheck pings the pool with the given context.
func (p *Pool) HealthCheck(ctx context.Context) error {
	db := p.DB()
	if db == nil {
		return errors.New("dbpool: not connected")
	}
	return db.PingContext(ctx)
}

// WithRetry executes op, retrying only on transient connection errors
// (socket reset, connection refused/gone). Syntax errors, constraint
// violations, and other server-reported errors propagate immediately.
// Each retry re-acquires a connection from the pool rather than reusing
// a possibly-broken one, since database/sql's pool already discards bad
// connections on error.
func (p *Pool) WithRetry(ctx context.Context, maxAttempts int, op func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// isTransient reports whether err looks like a transient connection
// failure (as opposed to a syntax error or constraint violation, which
// must propagate immediately per spec.md §4.3/§7).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection reset",
		"broken pipe",
		"connection refused",
		"bad connection",
		"EOF",
		"i/o timeout",
		"connection timed out",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
