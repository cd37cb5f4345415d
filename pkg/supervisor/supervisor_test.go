package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/emitpy/broadcaster/pkg/clock"
	"github.com/emitpy/broadcaster/pkg/health"
	"github.com/emitpy/broadcaster/pkg/metrics"
	"github.com/emitpy/broadcaster/pkg/store"
	"github.com/emitpy/broadcaster/pkg/types"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStoreFromClient(client)
}

func runSupervisor(t *testing.T, s store.Store, cfg Config) (stop func()) {
	t.Helper()
	sup := New(s, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("supervisor did not shut down in time")
		}
	}
}

// TestStartQueueSpawnsBroadcasterOnDescriptorWrite exercises the §4.6 admin
// task reacting to an unknown queue name appearing.
func TestStartQueueSpawnsBroadcasterOnDescriptorWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stop := runSupervisor(t, s, Config{})
	defer stop()

	now := time.Now()
	require.NoError(t, s.UpsertDescriptor(ctx, &types.Descriptor{
		Name: "live", Status: types.StatusRun, Speed: 1, StartTime: now,
	}))
	require.NoError(t, s.ZAddReplace(ctx, "live", nil, map[string]float64{
		"hello": clock.TimeToScore(now.Add(20 * time.Millisecond)),
	}))

	require.Eventually(t, func() bool {
		card, err := s.ZCard(ctx, "live")
		return err == nil && card == 0
	}, 3*time.Second, 20*time.Millisecond, "entry should have been popped and published by a spawned broadcaster")
}

// TestDeleteDescriptorCascadesTerminatesBroadcaster is scenario S6: deleting
// a running queue's descriptor must terminate its Broadcaster, after which
// further enqueues accumulate without being published.
func TestDeleteDescriptorCascadesTerminatesBroadcaster(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpsertDescriptor(ctx, &types.Descriptor{
		Name: "cascade", Status: types.StatusRun, Speed: 1, StartTime: now,
	}))

	stop := runSupervisor(t, s, Config{})
	defer stop()

	require.Eventually(t, func() bool {
		_, err := s.GetDescriptor(ctx, "cascade")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.DeleteDescriptor(ctx, "cascade"))
	require.NoError(t, s.DeleteKey(ctx, "queues:data:cascade"))

	require.Eventually(t, func() bool {
		_, err := s.GetDescriptor(ctx, "cascade")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)

	// Future entries accumulate but nothing is running to pop them.
	require.NoError(t, s.ZAddReplace(ctx, "cascade", nil, map[string]float64{
		"orphan": clock.TimeToScore(now),
	}))
	time.Sleep(200 * time.Millisecond)
	card, err := s.ZCard(ctx, "cascade")
	require.NoError(t, err)
	require.Equal(t, int64(1), card, "entry must accumulate, no broadcaster is running to pop it")
}

// TestResetPreservesQueueContentsAcrossSpeedChange is scenario S5 observed
// through the admin task rather than calling Broadcaster.Reset directly.
func TestResetPreservesQueueContentsAcrossSpeedChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpsertDescriptor(ctx, &types.Descriptor{
		Name: "resettable", Status: types.StatusRun, Speed: 1, StartTime: now,
	}))
	require.NoError(t, s.ZAddReplace(ctx, "resettable", nil, map[string]float64{
		"far": clock.TimeToScore(now.Add(time.Hour)),
	}))

	stop := runSupervisor(t, s, Config{})
	defer stop()

	// The running Broadcaster pops "far" and holds it while it waits.
	require.Eventually(t, func() bool {
		card, err := s.ZCard(ctx, "resettable")
		return err == nil && card == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.UpsertDescriptor(ctx, &types.Descriptor{
		Name: "resettable", Status: types.StatusRun, Speed: 50, StartTime: now,
	}))

	// After the reset the entry is popped again and held; shutting down
	// pushes it back, so the sorted set shows whether it survived.
	time.Sleep(200 * time.Millisecond)
	stop()
	card, err := s.ZCard(ctx, "resettable")
	require.NoError(t, err)
	require.Equal(t, int64(1), card, "reset must not lose queue contents")
}

// TestQuitSentinelShutsDownSupervisor exercises an external RequestShutdown
// call via the reserved "quit" descriptor.
func TestQuitSentinelShutsDownSupervisor(t *testing.T) {
	s := newTestStore(t)
	sup := New(s, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Run(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, sup.RequestShutdown(ctx))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not react to quit sentinel")
	}
}

type fakeChecker struct{ healthy bool }

func (f fakeChecker) Check(ctx context.Context) health.Result {
	return health.Result{Healthy: f.healthy, Message: "fake", CheckedAt: time.Now()}
}
func (f fakeChecker) Type() health.CheckType { return health.CheckTypeTCP }

// TestStoreCheckerBacksReadyComponent verifies a configured StoreChecker
// feeds the "store" health component the /ready endpoint relies on.
func TestStoreCheckerBacksReadyComponent(t *testing.T) {
	s := newTestStore(t)
	stop := runSupervisor(t, s, Config{StoreChecker: fakeChecker{healthy: true}})
	defer stop()

	require.Eventually(t, func() bool {
		return metrics.GetReadiness().Components["store"] == "ready"
	}, time.Second, 10*time.Millisecond)
}

// TestSpecialFeedQueueNotStartedWhenDisabled documents that the reserved
// feed queue's Broadcaster is only spawned if the feed is enabled in
// configuration, even when its descriptor says "run".
func TestSpecialFeedQueueNotStartedWhenDisabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpsertDescriptor(ctx, &types.Descriptor{
		Name: "livetraffic", Status: types.StatusRun, Speed: 1, StartTime: now,
	}))
	require.NoError(t, s.ZAddReplace(ctx, "livetraffic", nil, map[string]float64{
		"pkt": clock.TimeToScore(now),
	}))

	stop := runSupervisor(t, s, Config{SpecialFeedEnabled: false})
	defer stop()

	time.Sleep(200 * time.Millisecond)
	card, err := s.ZCard(ctx, "livetraffic")
	require.NoError(t, err)
	require.Equal(t, int64(1), card, "feed disabled: entry must not be popped")
}
