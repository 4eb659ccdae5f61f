package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// PoolClient is a set of high-level Nostr operations — subscribe-until-
// EOSE, publish, fetch one event by id — on top of nostr.SimplePool;
// Monitor uses it to publish its events. Generalized from the
// teacher's internal/nostr.Client (FetchEvents/FetchEvent/PublishEvent)
// into an interface so callers don't depend on go-nostr directly.
type PoolClient interface {
	// FetchEvents subscribes on relayURL with filter and collects every
	// event delivered before EOSE.
	FetchEvents(ctx context.Context, relayURL string, filter nostr.Filter) ([]*nostr.Event, error)
	// Publish broadcasts event to relayURL and waits for relay ack.
	Publish(ctx context.Context, relayURL string, event nostr.Event) error
	// FetchByID fetches exactly one event by id.
	FetchByID(ctx context.Context, relayURL, eventID string) (*nostr.Event, error)
	Close()
}

// SimplePoolClient implements PoolClient with nostr.SimplePool, mirroring
// the teacher's Client but scoped to single-relay calls (Validator/
// Synchronizer/Monitor always address one relay at a time; spec.md never
// asks for cross-relay fan-out reads on this path — that belongs to
// Finder's own event-scan loop, which reads from the local database, not
// from relays).
type SimplePoolClient struct {
	pool *nostr.SimplePool
}

// NewSimplePoolClient constructs a pool bound to ctx's lifetime.
func NewSimplePoolClient(ctx context.Context) *SimplePoolClient {
	return &SimplePoolClient{pool: nostr.NewSimplePool(ctx)}
}

func (c *SimplePoolClient) FetchEvents(ctx context.Context, relayURL string, filter nostr.Filter) ([]*nostr.Event, error) {
	events := make([]*nostr.Event, 0)
	for relayEvent := range c.pool.SubManyEose(ctx, []string{relayURL}, nostr.Filters{filter}) {
		if relayEvent.Event != nil {
			events = append(events, relayEvent.Event)
		}
	}
	return events, nil
}

func (c *SimplePoolClient) Publish(ctx context.Context, relayURL string, event nostr.Event) error {
	var lastErr error
	for result := range c.pool.PublishMany(ctx, []string{relayURL}, event) {
		if result.Error != nil {
			lastErr = result.Error
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("transport: publish to %s: %w", relayURL, lastErr)
	}
	return fmt.Errorf("transport: publish to %s: no acknowledgement", relayURL)
}

func (c *SimplePoolClient) FetchByID(ctx context.Context, relayURL, eventID string) (*nostr.Event, error) {
	result := c.pool.QuerySingle(ctx, []string{relayURL}, nostr.Filter{IDs: []string{eventID}})
	if result == nil || result.Event == nil {
		return nil, fmt.Errorf("transport: event %s not found on %s", eventID, relayURL)
	}
	return result.Event, nil
}

func (c *SimplePoolClient) Close() {
	c.pool.Close("shutting down")
}

// WithTimeout is a small helper every probe/service uses to bound a
// single relay round trip, grounded on the teacher's
// GetDefaultTimeout-then-context.WithTimeout idiom in cmd/nophr call
// sites.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
