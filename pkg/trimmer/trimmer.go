package trimmer

import (
	"context"
	"errors"
	"time"

	"github.com/emitpy/broadcaster/pkg/clock"
	"github.com/emitpy/broadcaster/pkg/log"
	"github.com/emitpy/broadcaster/pkg/metrics"
	"github.com/emitpy/broadcaster/pkg/store"
)

// ListenTimeout bounds how long Run blocks waiting for the next keyspace
// notification before looping to re-check for shutdown.
const ListenTimeout = 5 * time.Second

// Pauser is the rendezvous primitive a Broadcaster exposes: RequestPause
// blocks the Broadcaster's dispatch loop and returns a resume function the
// caller must invoke once it is done with exclusive access to the queue.
type Pauser interface {
	RequestPause(ctx context.Context) (resume func(), err error)
}

// Trimmer sweeps one queue's sorted set clean of entries whose score is no
// longer in the future relative to the queue's own clock.
type Trimmer struct {
	store    store.Store
	queue    string
	queueNow func() time.Time
	pauser   Pauser
}

// New builds a Trimmer for queue, using queueNow to read the current
// queue-time (so it tracks the owning Broadcaster's clock across resets).
func New(s store.Store, queue string, queueNow func() time.Time, pauser Pauser) *Trimmer {
	return &Trimmer{store: s, queue: queue, queueNow: queueNow, pauser: pauser}
}

// Sweep removes every entry whose score is at or before the current
// queue-time. It does not take the rendezvous itself — callers that need
// exclusive access (Run) take it before calling Sweep; the Broadcaster's
// own late-entry path calls Sweep directly since it is already the one
// paused.
func (t *Trimmer) Sweep(ctx context.Context) (int, error) {
	timer := metrics.NewTimer()
	now := clock.TimeToScore(t.queueNow())

	stale, err := t.store.ZRangeByScore(ctx, t.queue, 0, now)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := t.store.ZRem(ctx, t.queue, stale...); err != nil {
		return 0, err
	}

	metrics.EntriesTrimmedTotal.WithLabelValues(t.queue).Add(float64(len(stale)))
	timer.ObserveDurationVec(metrics.TrimSweepDuration, t.queue)
	log.WithQueue(t.queue).Debug().Int("removed", len(stale)).Msg("trim sweep")
	return len(stale), nil
}

// Run subscribes to insert notifications on the queue's data key and
// sweeps on every zadd, pausing the Broadcaster for the duration of the
// sweep. It returns when ctx is canceled.
func (t *Trimmer) Run(ctx context.Context) {
	pattern := "queues:data:" + t.queue
	sub, err := t.store.SubscribeKeyspace(ctx, pattern)
	if err != nil {
		log.WithQueue(t.queue).Error().Err(err).Msg("trimmer: subscribe failed, trimming disabled")
		return
	}
	defer sub.Close()

	logger := log.WithQueue(t.queue)
	logger.Info().Msg("trimmer starting")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("trimmer stopped")
			return
		default:
		}

		evt, err := sub.GetMessage(ctx, ListenTimeout)
		if err != nil {
			if errors.Is(err, store.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("trimmer: notification read failed")
			continue
		}
		if evt.Action != store.ActionZAdd {
			continue
		}

		resume, err := t.pauser.RequestPause(ctx)
		if err != nil {
			return
		}
		if _, err := t.Sweep(ctx); err != nil {
			logger.Warn().Err(err).Msg("trim sweep failed")
		}
		resume()
	}
}
