// Package queue maintains the FIFO waiting pools, one bucket per
// (role, language), plus a reverse index from user ID to bucket for O(1)
// membership lookup. The index is the single source of truth for the
// "at most one bucket per user" invariant.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexmatch-backend/internal/model"
	"lexmatch-backend/internal/storage"
)

const (
	bucketPrefix = "queue:"
	indexKey     = "queue:index"
	membersKey   = "queue:members"
)

// BucketKey names the waiting pool for a (role, language) pair.
func BucketKey(role model.Role, language string) string {
	return bucketPrefix + string(role) + ":" + language
}

func parseBucketKey(key string) (model.Role, string, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "queue" {
		return "", "", false
	}
	role := model.Role(parts[1])
	if !role.Valid() || parts[2] == "" {
		return "", "", false
	}
	return role, parts[2], true
}

type Store struct {
	kv     storage.KV
	logger *zap.Logger
}

func NewStore(kv storage.KV, logger *zap.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// Join adds the user to the tail of its (role, language) bucket. Any
// prior membership is removed first, so a user switching target language
// mid-session can never occupy two buckets. Store ops run in a fixed
// order (list push, then index, then marker) so a crash between steps
// leaves a state RemoveFromAny can still resolve.
func (s *Store) Join(ctx context.Context, user model.User) error {
	if err := s.RemoveFromAny(ctx, user.ID); err != nil {
		return fmt.Errorf("clear prior queue membership for %q: %w", user.ID, err)
	}

	entry, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal queue entry for %q: %w", user.ID, err)
	}

	bucket := BucketKey(user.Role, user.Language)
	if err := s.kv.RPush(ctx, bucket, string(entry)); err != nil {
		return fmt.Errorf("push to bucket %q: %w", bucket, err)
	}
	if err := s.kv.HSet(ctx, indexKey, user.ID, bucket); err != nil {
		return fmt.Errorf("write queue index for %q: %w", user.ID, err)
	}
	if err := s.kv.SAdd(ctx, membersKey, user.ID); err != nil {
		return fmt.Errorf("mark queue membership for %q: %w", user.ID, err)
	}

	s.logger.Info("user joined queue",
		zap.String("user_id", user.ID),
		zap.String("bucket", bucket))
	return nil
}

// Leave removes the first entry for userID from the named bucket and
// clears the reverse index. The linear scan is deliberate: buckets are
// small per-language pools.
func (s *Store) Leave(ctx context.Context, userID string, role model.Role, language string) error {
	bucket := BucketKey(role, language)
	items, err := s.kv.LRange(ctx, bucket, 0, -1)
	if err != nil {
		return fmt.Errorf("scan bucket %q: %w", bucket, err)
	}

	for _, item := range items {
		var entry model.User
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		if entry.ID != userID {
			continue
		}
		if _, err := s.kv.LRem(ctx, bucket, 1, item); err != nil {
			return fmt.Errorf("remove %q from bucket %q: %w", userID, bucket, err)
		}
		break
	}

	// Index cleared only after the list removal has succeeded.
	if err := s.kv.HDel(ctx, indexKey, userID); err != nil {
		return fmt.Errorf("clear queue index for %q: %w", userID, err)
	}
	if err := s.kv.SRem(ctx, membersKey, userID); err != nil {
		return fmt.Errorf("clear queue marker for %q: %w", userID, err)
	}

	s.logger.Info("user left queue",
		zap.String("user_id", userID),
		zap.String("bucket", bucket))
	return nil
}

// RemoveFromAny drops the user from whichever bucket the index names.
// When the index entry is missing but the membership marker survives
// (a crash between sequenced store ops), the marker is cleared directly.
func (s *Store) RemoveFromAny(ctx context.Context, userID string) error {
	bucket, ok, err := s.kv.HGet(ctx, indexKey, userID)
	if err != nil {
		return fmt.Errorf("read queue index for %q: %w", userID, err)
	}
	if !ok {
		marked, err := s.kv.SIsMember(ctx, membersKey, userID)
		if err != nil {
			return fmt.Errorf("check queue marker for %q: %w", userID, err)
		}
		if marked {
			if err := s.kv.SRem(ctx, membersKey, userID); err != nil {
				return fmt.Errorf("clear stale queue marker for %q: %w", userID, err)
			}
			s.logger.Warn("cleared stale queue marker without index entry",
				zap.String("user_id", userID))
		}
		return nil
	}

	role, language, valid := parseBucketKey(bucket)
	if !valid {
		// Unparseable index entry: drop it rather than leave the user stuck.
		if err := s.kv.HDel(ctx, indexKey, userID); err != nil {
			return fmt.Errorf("drop corrupt queue index for %q: %w", userID, err)
		}
		return s.kv.SRem(ctx, membersKey, userID)
	}
	return s.Leave(ctx, userID, role, language)
}

// Next pops the head of the bucket (earliest joiner) and clears that
// user's index entry. This is the sole "removed because matched" path,
// distinct from Leave.
func (s *Store) Next(ctx context.Context, role model.Role, language string) (*model.User, error) {
	bucket := BucketKey(role, language)
	item, ok, err := s.kv.LPop(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("pop bucket %q: %w", bucket, err)
	}
	if !ok {
		return nil, nil
	}

	var user model.User
	if err := json.Unmarshal([]byte(item), &user); err != nil {
		return nil, fmt.Errorf("decode queue entry from bucket %q: %w", bucket, err)
	}

	if err := s.kv.HDel(ctx, indexKey, user.ID); err != nil {
		return nil, fmt.Errorf("clear queue index for popped %q: %w", user.ID, err)
	}
	if err := s.kv.SRem(ctx, membersKey, user.ID); err != nil {
		return nil, fmt.Errorf("clear queue marker for popped %q: %w", user.ID, err)
	}

	return &user, nil
}

// Size reports how many users wait in the bucket.
func (s *Store) Size(ctx context.Context, role model.Role, language string) (int64, error) {
	n, err := s.kv.LLen(ctx, BucketKey(role, language))
	if err != nil {
		return 0, fmt.Errorf("size of bucket %q: %w", BucketKey(role, language), err)
	}
	return n, nil
}

// IsQueued reports membership via the reverse index.
func (s *Store) IsQueued(ctx context.Context, userID string) (bool, error) {
	_, ok, err := s.kv.HGet(ctx, indexKey, userID)
	if err != nil {
		return false, fmt.Errorf("read queue index for %q: %w", userID, err)
	}
	return ok, nil
}

// RemoveExpired sweeps every bucket and drops entries older than maxAge,
// clearing their index and marker entries. Returns how many were removed.
func (s *Store) RemoveExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	keys, err := s.kv.Keys(ctx, bucketPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("list queue buckets: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, bucket := range keys {
		if _, _, ok := parseBucketKey(bucket); !ok {
			continue // index hash and marker set share the prefix
		}
		items, err := s.kv.LRange(ctx, bucket, 0, -1)
		if err != nil {
			return removed, fmt.Errorf("scan bucket %q: %w", bucket, err)
		}
		for _, item := range items {
			var entry model.User
			if err := json.Unmarshal([]byte(item), &entry); err != nil {
				continue
			}
			if !entry.JoinedAt.Before(cutoff) {
				continue
			}
			n, err := s.kv.LRem(ctx, bucket, 1, item)
			if err != nil {
				return removed, fmt.Errorf("remove expired entry from %q: %w", bucket, err)
			}
			if n == 0 {
				continue
			}
			if err := s.kv.HDel(ctx, indexKey, entry.ID); err != nil {
				return removed, fmt.Errorf("clear queue index for expired %q: %w", entry.ID, err)
			}
			if err := s.kv.SRem(ctx, membersKey, entry.ID); err != nil {
				return removed, fmt.Errorf("clear queue marker for expired %q: %w", entry.ID, err)
			}
			removed++
			s.logger.Info("expired queue entry removed",
				zap.String("user_id", entry.ID),
				zap.String("bucket", bucket),
				zap.Time("joined_at", entry.JoinedAt))
		}
	}
	return removed, nil
}
