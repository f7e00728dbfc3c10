package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lexmatch-backend/internal/model"
	"lexmatch-backend/internal/presence"
	"lexmatch-backend/internal/queue"
	"lexmatch-backend/internal/storage/storagetest"
)

type stubProber struct {
	alive bool
}

func (s *stubProber) Ping(context.Context, string, time.Duration) bool {
	return s.alive
}

type fixture struct {
	kv          *storagetest.KV
	queues      *queue.Store
	tracker     *presence.Tracker
	prober      *stubProber
	coordinator *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	kv := storagetest.New()
	queues := queue.NewStore(kv, logger)
	prober := &stubProber{alive: true}
	tracker := presence.NewTracker(kv, prober, 0, logger)
	return &fixture{
		kv:          kv,
		queues:      queues,
		tracker:     tracker,
		prober:      prober,
		coordinator: NewCoordinator(queues, tracker, kv, logger),
	}
}

func waiting(id string, role model.Role, language string) model.User {
	return model.User{
		ID:       id,
		Username: "user-" + id,
		Role:     role,
		Language: language,
		JoinedAt: time.Now().UTC(),
	}
}

func TestFindMatchPairsOppositeRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	learner := waiting("l1", model.RoleLearner, "es")
	require.NoError(t, f.queues.Join(ctx, learner))
	require.NoError(t, f.tracker.Set(ctx, "l1", "conn-l1"))

	fluent := waiting("f1", model.RoleFluent, "es")
	result, err := f.coordinator.FindMatch(ctx, fluent)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, "l1", result.Partner.ID)
	require.Equal(t, "conn-l1", result.ConnID)
	require.NotEmpty(t, result.MatchID)

	// Both sides hold a record and neither is queued.
	for _, id := range []string{"l1", "f1"} {
		active, err := f.coordinator.HasActive(ctx, id)
		require.NoError(t, err)
		require.True(t, active, "expected active match for %s", id)

		queued, err := f.queues.IsQueued(ctx, id)
		require.NoError(t, err)
		require.False(t, queued)
	}

	// Records point at each other.
	record, err := f.coordinator.Get(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "f1", record.Partner.ID)
	require.Equal(t, result.MatchID, record.MatchID)

	size, err := f.queues.Size(ctx, model.RoleLearner, "es")
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestFindMatchEmptyBucketReturnsNone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.coordinator.FindMatch(ctx, waiting("l1", model.RoleLearner, "es"))
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestFindMatchSkipsCandidateWithoutPresence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// f2 is queued but its connection died without cleanup.
	require.NoError(t, f.queues.Join(ctx, waiting("f2", model.RoleFluent, "es")))

	result, err := f.coordinator.FindMatch(ctx, waiting("l2", model.RoleLearner, "es"))
	require.NoError(t, err)
	require.Nil(t, result)

	// The stale entry was dropped, not re-enqueued.
	size, err := f.queues.Size(ctx, model.RoleFluent, "es")
	require.NoError(t, err)
	require.Zero(t, size)

	queued, err := f.queues.IsQueued(ctx, "f2")
	require.NoError(t, err)
	require.False(t, queued)
}

func TestFindMatchSkipsCandidateFailingProbe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.prober.alive = false

	require.NoError(t, f.queues.Join(ctx, waiting("f1", model.RoleFluent, "es")))
	require.NoError(t, f.tracker.Set(ctx, "f1", "conn-f1"))

	result, err := f.coordinator.FindMatch(ctx, waiting("l1", model.RoleLearner, "es"))
	require.NoError(t, err)
	require.Nil(t, result)

	active, err := f.coordinator.HasActive(ctx, "f1")
	require.NoError(t, err)
	require.False(t, active)
}

func TestFindMatchRetryBound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.coordinator.SetMaxAttempts(5)

	// Six stale candidates; none has presence.
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
		require.NoError(t, f.queues.Join(ctx, waiting(id, model.RoleFluent, "es")))
	}
	popsBefore := f.kv.CallCount("LPop")

	result, err := f.coordinator.FindMatch(ctx, waiting("l1", model.RoleLearner, "es"))
	require.NoError(t, err)
	require.Nil(t, result)

	require.Equal(t, 5, f.kv.CallCount("LPop")-popsBefore)

	// The sixth candidate survived the bounded search.
	size, err := f.queues.Size(ctx, model.RoleFluent, "es")
	require.NoError(t, err)
	require.EqualValues(t, 1, size)
}

func TestFindMatchPropagatesStoreErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	storeErr := errors.New("i/o timeout")
	f.kv.FailWith("LPop", storeErr)

	_, err := f.coordinator.FindMatch(ctx, waiting("l1", model.RoleLearner, "es"))
	require.ErrorIs(t, err, storeErr)
}

func TestCommitUndoesPartialWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.queues.Join(ctx, waiting("f1", model.RoleFluent, "es")))
	require.NoError(t, f.tracker.Set(ctx, "f1", "conn-f1")) // one SetEx

	// First record write succeeds, second fails.
	storeErr := errors.New("i/o timeout")
	f.kv.FailAfter("SetEx", 1, storeErr)

	_, err := f.coordinator.FindMatch(ctx, waiting("l1", model.RoleLearner, "es"))
	require.ErrorIs(t, err, storeErr)

	// No record may exist for only one party.
	for _, id := range []string{"l1", "f1"} {
		active, err := f.coordinator.HasActive(ctx, id)
		require.NoError(t, err)
		require.False(t, active, "dangling match record for %s", id)
	}
}

func TestRollbackRestoresBothQueues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	learner := waiting("l1", model.RoleLearner, "es")
	fluent := waiting("f1", model.RoleFluent, "es")
	require.NoError(t, f.queues.Join(ctx, learner))
	require.NoError(t, f.tracker.Set(ctx, "l1", "conn-l1"))

	result, err := f.coordinator.FindMatch(ctx, fluent)
	require.NoError(t, err)
	require.NotNil(t, result)

	require.NoError(t, f.coordinator.Rollback(ctx, fluent, result.Partner))

	for _, id := range []string{"l1", "f1"} {
		active, err := f.coordinator.HasActive(ctx, id)
		require.NoError(t, err)
		require.False(t, active)

		queued, err := f.queues.IsQueued(ctx, id)
		require.NoError(t, err)
		require.True(t, queued, "expected %s back in queue after rollback", id)
	}

	// Each lands back in its original (role, language) bucket.
	learnerSize, err := f.queues.Size(ctx, model.RoleLearner, "es")
	require.NoError(t, err)
	require.EqualValues(t, 1, learnerSize)
	fluentSize, err := f.queues.Size(ctx, model.RoleFluent, "es")
	require.NoError(t, err)
	require.EqualValues(t, 1, fluentSize)
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.coordinator.Remove(ctx, "nobody"))

	record, err := f.coordinator.Get(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestMatchRecordExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.coordinator.SetTTL(10 * time.Millisecond)

	require.NoError(t, f.queues.Join(ctx, waiting("f1", model.RoleFluent, "es")))
	require.NoError(t, f.tracker.Set(ctx, "f1", "conn-f1"))

	result, err := f.coordinator.FindMatch(ctx, waiting("l1", model.RoleLearner, "es"))
	require.NoError(t, err)
	require.NotNil(t, result)

	time.Sleep(20 * time.Millisecond)

	active, err := f.coordinator.HasActive(ctx, "l1")
	require.NoError(t, err)
	require.False(t, active)
}
