package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lexmatch-backend/internal/storage/storagetest"
)

type fakeProber struct {
	alive  bool
	called int
	connID string
}

func (f *fakeProber) Ping(_ context.Context, connID string, _ time.Duration) bool {
	f.called++
	f.connID = connID
	return f.alive
}

func TestSetGetRemove(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(storagetest.New(), nil, 0, zaptest.NewLogger(t))

	_, ok, err := tr.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tr.Set(ctx, "u1", "conn-1"))

	connID, ok, err := tr.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "conn-1", connID)

	// Upsert replaces the handle.
	require.NoError(t, tr.Set(ctx, "u1", "conn-2"))
	connID, ok, err = tr.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "conn-2", connID)

	require.NoError(t, tr.Remove(ctx, "u1"))
	_, ok, err = tr.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)

	// Removing again is fine.
	require.NoError(t, tr.Remove(ctx, "u1"))
}

func TestMappingExpires(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(storagetest.New(), nil, 10*time.Millisecond, zaptest.NewLogger(t))

	require.NoError(t, tr.Set(ctx, "u1", "conn-1"))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := tr.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProbeLiveness(t *testing.T) {
	ctx := context.Background()

	prober := &fakeProber{alive: true}
	tr := NewTracker(storagetest.New(), prober, 0, zaptest.NewLogger(t))
	require.True(t, tr.ProbeLiveness(ctx, "conn-1", time.Second))
	require.Equal(t, 1, prober.called)
	require.Equal(t, "conn-1", prober.connID)

	prober.alive = false
	require.False(t, tr.ProbeLiveness(ctx, "conn-1", time.Second))
}

func TestProbeWithoutProberPasses(t *testing.T) {
	tr := NewTracker(storagetest.New(), nil, 0, zaptest.NewLogger(t))
	require.True(t, tr.ProbeLiveness(context.Background(), "conn-1", time.Second))
}
