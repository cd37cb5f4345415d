package trimmer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/emitpy/broadcaster/pkg/store"
)

type fakePauser struct {
	requests int32
}

func (f *fakePauser) RequestPause(ctx context.Context) (func(), error) {
	atomic.AddInt32(&f.requests, 1)
	return func() {}, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStoreFromClient(client)
}

func TestSweepRemovesOnlyStaleEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.ZAddReplace(ctx, "q", nil, map[string]float64{
		"old":   1.0,
		"fresh": 1e12,
	}))

	tr := New(s, "q", func() time.Time { return time.Unix(100, 0) }, &fakePauser{})
	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	members, err := s.ZRangeByScore(ctx, "q", 0, 1e13)
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, members)
}

func TestSweepNoOpWhenNothingStale(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.ZAddReplace(ctx, "q", nil, map[string]float64{"fresh": 1e12}))

	tr := New(s, "q", func() time.Time { return time.Unix(0, 0) }, &fakePauser{})
	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestRunSweepsOnZAddNotification(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)

	pauser := &fakePauser{}
	tr := New(s, "q", func() time.Time { return time.Unix(100, 0) }, pauser)

	go tr.Run(ctx)
	time.Sleep(50 * time.Millisecond) // let Run subscribe

	require.NoError(t, s.ZAddReplace(ctx, "q", nil, map[string]float64{"old": 1.0}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&pauser.requests) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		members, err := s.ZRangeByScore(ctx, "q", 0, 1e13)
		return err == nil && len(members) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
