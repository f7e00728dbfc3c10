// Package match implements the pairing algorithm: pull a candidate from
// the opposite bucket, validate reachability, commit short-lived match
// records for both sides, and expose the compensating rollback.
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lexmatch-backend/internal/model"
	"lexmatch-backend/internal/storage"
)

const (
	keyPrefix = "match:"

	// DefaultTTL is how long a committed match record lives in the store.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxAttempts bounds how many stale candidates one join
	// request will churn through before giving up.
	DefaultMaxAttempts = 5
)

// QueueStore is the slice of the queue API the coordinator needs.
type QueueStore interface {
	Next(ctx context.Context, role model.Role, language string) (*model.User, error)
	Join(ctx context.Context, user model.User) error
}

// PresenceTracker answers reachability questions about a candidate.
type PresenceTracker interface {
	Get(ctx context.Context, userID string) (string, bool, error)
	ProbeLiveness(ctx context.Context, connID string, timeout time.Duration) bool
}

// Result is a committed pairing as seen by the joining side: the partner
// descriptor plus the connection the partner can be reached on.
type Result struct {
	MatchID string
	Partner model.User
	ConnID  string
}

type Coordinator struct {
	queues       QueueStore
	presence     PresenceTracker
	kv           storage.KV
	ttl          time.Duration
	maxAttempts  int
	probeTimeout time.Duration
	logger       *zap.Logger
}

func NewCoordinator(queues QueueStore, presence PresenceTracker, kv storage.KV, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		queues:       queues,
		presence:     presence,
		kv:           kv,
		ttl:          DefaultTTL,
		maxAttempts:  DefaultMaxAttempts,
		probeTimeout: 2 * time.Second,
		logger:       logger,
	}
}

// SetTTL overrides the match record lifetime.
func (c *Coordinator) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		c.ttl = ttl
	}
}

// SetMaxAttempts overrides the candidate retry bound.
func (c *Coordinator) SetMaxAttempts(n int) {
	if n > 0 {
		c.maxAttempts = n
	}
}

// SetProbeTimeout overrides the liveness probe deadline.
func (c *Coordinator) SetProbeTimeout(d time.Duration) {
	if d > 0 {
		c.probeTimeout = d
	}
}

func matchKey(userID string) string {
	return keyPrefix + userID
}

// FindMatch pops candidates from the opposite (role, language) bucket
// until one with a live connection turns up, then commits match records
// for both sides. A nil result with nil error means nobody suitable is
// waiting and the caller should enqueue the user. Store failures
// propagate as errors; they are never folded into "no match".
//
// A popped candidate without presence is dropped, never re-enqueued: an
// entry with no live connection can never be validly matched, so
// discarding it is cleanup, not loss.
func (c *Coordinator) FindMatch(ctx context.Context, user model.User) (*Result, error) {
	oppositeRole := user.Role.Opposite()

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		candidate, err := c.queues.Next(ctx, oppositeRole, user.Language)
		if err != nil {
			return nil, fmt.Errorf("pop candidate: %w", err)
		}
		if candidate == nil {
			return nil, nil
		}
		if candidate.ID == user.ID {
			// A leftover entry from the joiner's own earlier attempt.
			continue
		}

		connID, ok, err := c.presence.Get(ctx, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("check candidate presence: %w", err)
		}
		if !ok {
			c.logger.Info("discarding candidate without presence",
				zap.String("candidate_id", candidate.ID),
				zap.Int("attempt", attempt+1))
			continue
		}

		if !c.presence.ProbeLiveness(ctx, connID, c.probeTimeout) {
			c.logger.Info("discarding candidate after failed liveness probe",
				zap.String("candidate_id", candidate.ID),
				zap.Int("attempt", attempt+1))
			continue
		}

		matchID, err := c.commit(ctx, user, *candidate)
		if err != nil {
			return nil, err
		}

		c.logger.Info("match committed",
			zap.String("match_id", matchID),
			zap.String("user_id", user.ID),
			zap.String("partner_id", candidate.ID),
			zap.String("language", user.Language))

		return &Result{MatchID: matchID, Partner: *candidate, ConnID: connID}, nil
	}

	c.logger.Info("match attempts exhausted",
		zap.String("user_id", user.ID),
		zap.Int("max_attempts", c.maxAttempts))
	return nil, nil
}

// commit writes one match record per side. If the second write fails the
// first is deleted before the error propagates, so no record ever exists
// for only one party beyond this immediate window.
func (c *Coordinator) commit(ctx context.Context, user, candidate model.User) (string, error) {
	matchID := uuid.New().String()
	now := time.Now().UTC()

	if err := c.writeRecord(ctx, user.ID, model.Match{
		MatchID:   matchID,
		Partner:   model.PartnerOf(candidate),
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("write match record for %q: %w", user.ID, err)
	}

	if err := c.writeRecord(ctx, candidate.ID, model.Match{
		MatchID:   matchID,
		Partner:   model.PartnerOf(user),
		CreatedAt: now,
	}); err != nil {
		if delErr := c.kv.Del(ctx, matchKey(user.ID)); delErr != nil {
			c.logger.Error("failed to undo half-written match record",
				zap.String("user_id", user.ID),
				zap.Error(delErr))
		}
		return "", fmt.Errorf("write match record for %q: %w", candidate.ID, err)
	}

	return matchID, nil
}

func (c *Coordinator) writeRecord(ctx context.Context, userID string, record model.Match) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.kv.SetEx(ctx, matchKey(userID), string(data), c.ttl)
}

// Rollback is the compensating transaction for a committed match whose
// delivery failed: both records are deleted and both users return to
// their queues. The abandoned match is not retried.
func (c *Coordinator) Rollback(ctx context.Context, userA, userB model.User) error {
	if err := c.kv.Del(ctx, matchKey(userA.ID), matchKey(userB.ID)); err != nil {
		return fmt.Errorf("delete match records: %w", err)
	}

	if err := c.queues.Join(ctx, userA); err != nil {
		return fmt.Errorf("requeue %q after rollback: %w", userA.ID, err)
	}
	if err := c.queues.Join(ctx, userB); err != nil {
		return fmt.Errorf("requeue %q after rollback: %w", userB.ID, err)
	}

	c.logger.Info("match rolled back",
		zap.String("user_a", userA.ID),
		zap.String("user_b", userB.ID))
	return nil
}

// HasActive reports whether a match record currently exists for the user.
func (c *Coordinator) HasActive(ctx context.Context, userID string) (bool, error) {
	ok, err := c.kv.Exists(ctx, matchKey(userID))
	if err != nil {
		return false, fmt.Errorf("check match record for %q: %w", userID, err)
	}
	return ok, nil
}

// Get returns the match record for a user, if any.
func (c *Coordinator) Get(ctx context.Context, userID string) (*model.Match, error) {
	data, ok, err := c.kv.Get(ctx, matchKey(userID))
	if err != nil {
		return nil, fmt.Errorf("read match record for %q: %w", userID, err)
	}
	if !ok {
		return nil, nil
	}
	var record model.Match
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("decode match record for %q: %w", userID, err)
	}
	return &record, nil
}

// Remove deletes the match record for one side. Idempotent.
func (c *Coordinator) Remove(ctx context.Context, userID string) error {
	if err := c.kv.Del(ctx, matchKey(userID)); err != nil {
		return fmt.Errorf("remove match record for %q: %w", userID, err)
	}
	return nil
}
