package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RedeliveryTracker counts how many times a message has been re-queued.
type RedeliveryTracker interface {
	Increment(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

// RedeliveryPolicy caps the number of times a failing message is re-queued.
// With maxRedeliveries <= 0 every Nack(requeue) passes through untouched.
type RedeliveryPolicy struct {
	maxRedeliveries int
	tracker         RedeliveryTracker
	log             *zap.Logger
}

// NewRedeliveryPolicy creates a policy. tracker may be nil when maxRedeliveries <= 0.
func NewRedeliveryPolicy(maxRedeliveries int, tracker RedeliveryTracker, log *zap.Logger) *RedeliveryPolicy {
	return &RedeliveryPolicy{maxRedeliveries: maxRedeliveries, tracker: tracker, log: log}
}

// Enabled reports whether the policy can change a handling result.
func (p *RedeliveryPolicy) Enabled() bool {
	return p != nil && p.maxRedeliveries > 0 && p.tracker != nil
}

// Apply returns the final decision for a delivery identified by key. Once a key has
// been re-queued more than maxRedeliveries times the result becomes Nack(requeue=false),
// which dead-letters the message when the queue has a dead-letter exchange.
func (p *RedeliveryPolicy) Apply(ctx context.Context, key string, res HandlingResult) HandlingResult {
	if !p.Enabled() {
		return res
	}

	if res.Ack || !res.Requeue {
		if err := p.tracker.Reset(ctx, key); err != nil {
			p.log.Warn("Failed to reset redelivery counter", zap.String("message_key", key), zap.Error(err))
		}
		return res
	}

	count, err := p.tracker.Increment(ctx, key)
	if err != nil {
		// without a counter the message keeps the default requeue behavior
		p.log.Warn("Failed to increment redelivery counter", zap.String("message_key", key), zap.Error(err))
		return res
	}
	if count <= p.maxRedeliveries {
		return res
	}

	p.log.Error("Message exceeded max redeliveries; dropping",
		zap.String("message_key", key),
		zap.Int("attempts", count),
		zap.Int("max_redeliveries", p.maxRedeliveries),
	)
	if err := p.tracker.Reset(ctx, key); err != nil {
		p.log.Warn("Failed to reset redelivery counter", zap.String("message_key", key), zap.Error(err))
	}
	return Nack(false)
}

// MessageKey identifies a delivery across redeliveries: the AMQP message id when
// the producer set one, then the correlation id, otherwise a digest of the body.
// Deliveries with identical bodies and no ids share one counter.
func MessageKey(d amqp.Delivery) string {
	if d.MessageId != "" {
		return "id:" + d.MessageId
	}
	if d.CorrelationId != "" {
		return "correlation:" + d.CorrelationId
	}
	sum := sha256.Sum256(d.Body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

type redeliveryEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryRedeliveryTracker keeps counters in process memory. Counters expire after ttl.
type MemoryRedeliveryTracker struct {
	mu      sync.Mutex
	entries map[string]redeliveryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryRedeliveryTracker creates an in-memory tracker.
func NewMemoryRedeliveryTracker(ttl time.Duration) *MemoryRedeliveryTracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryRedeliveryTracker{
		entries: make(map[string]redeliveryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (t *MemoryRedeliveryTracker) Increment(_ context.Context, key string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = redeliveryEntry{}
	}
	entry.count++
	entry.expiresAt = now.Add(t.ttl)
	t.entries[key] = entry
	return entry.count, nil
}

func (t *MemoryRedeliveryTracker) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
	return nil
}

// Prune drops expired counters and returns how many were removed.
func (t *MemoryRedeliveryTracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, entry := range t.entries {
		if now.After(entry.expiresAt) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (t *MemoryRedeliveryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
