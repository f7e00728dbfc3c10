// Package presence tracks which users currently have a live, addressable
// connection. It is the only component allowed to answer "is this user
// reachable right now".
package presence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lexmatch-backend/internal/storage"
)

const (
	keyPrefix = "presence:"

	// DefaultTTL bounds how long a mapping survives without activity.
	DefaultTTL = time.Hour

	// DefaultProbeTimeout bounds the liveness challenge round-trip.
	DefaultProbeTimeout = 2 * time.Second
)

// Prober issues a liveness challenge over a live connection and reports
// whether an acknowledgment came back in time. Implemented by the
// transport layer; everything else in the tracker is a plain store call.
type Prober interface {
	Ping(ctx context.Context, connID string, timeout time.Duration) bool
}

type Tracker struct {
	kv     storage.KV
	prober Prober
	ttl    time.Duration
	logger *zap.Logger
}

func NewTracker(kv storage.KV, prober Prober, ttl time.Duration, logger *zap.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		kv:     kv,
		prober: prober,
		ttl:    ttl,
		logger: logger,
	}
}

func presenceKey(userID string) string {
	return keyPrefix + userID
}

// Set upserts the userID → connection mapping with a refreshed expiry.
func (t *Tracker) Set(ctx context.Context, userID, connID string) error {
	if err := t.kv.SetEx(ctx, presenceKey(userID), connID, t.ttl); err != nil {
		return fmt.Errorf("set presence for %q: %w", userID, err)
	}
	t.logger.Debug("presence set", zap.String("user_id", userID), zap.String("conn_id", connID))
	return nil
}

// Get returns the live connection ID for a user. Absence is a normal
// outcome meaning "unreachable", not an error.
func (t *Tracker) Get(ctx context.Context, userID string) (string, bool, error) {
	connID, ok, err := t.kv.Get(ctx, presenceKey(userID))
	if err != nil {
		return "", false, fmt.Errorf("get presence for %q: %w", userID, err)
	}
	return connID, ok, nil
}

// Remove deletes the mapping. Idempotent.
func (t *Tracker) Remove(ctx context.Context, userID string) error {
	if err := t.kv.Del(ctx, presenceKey(userID)); err != nil {
		return fmt.Errorf("remove presence for %q: %w", userID, err)
	}
	return nil
}

// Refresh bumps the expiry on activity without rewriting the mapping.
func (t *Tracker) Refresh(ctx context.Context, userID string) error {
	if err := t.kv.Expire(ctx, presenceKey(userID), t.ttl); err != nil {
		return fmt.Errorf("refresh presence for %q: %w", userID, err)
	}
	return nil
}

// ProbeLiveness challenges the connection and waits up to timeout for an
// acknowledgment. False on timeout, send failure, or a connection ID
// that no longer resolves. This is the only tracker operation doing
// network I/O beyond the store.
func (t *Tracker) ProbeLiveness(ctx context.Context, connID string, timeout time.Duration) bool {
	if t.prober == nil {
		return true
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	alive := t.prober.Ping(ctx, connID, timeout)
	if !alive {
		t.logger.Debug("liveness probe failed", zap.String("conn_id", connID))
	}
	return alive
}
