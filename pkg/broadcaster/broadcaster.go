package broadcaster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emitpy/broadcaster/pkg/clock"
	"github.com/emitpy/broadcaster/pkg/log"
	"github.com/emitpy/broadcaster/pkg/metrics"
	"github.com/emitpy/broadcaster/pkg/store"
	"github.com/emitpy/broadcaster/pkg/trimmer"
	"github.com/emitpy/broadcaster/pkg/types"
)

// Tunables too delicate to expose as configuration (§9 "delicate
// parameters, too dangerous to externalize").
const (
	// ZPopMinTimeout bounds each blocking pop, so the dispatch loop can
	// periodically re-check for shutdown and pending pause requests.
	ZPopMinTimeout = 5 * time.Second
	// MaxBacklog is the most a due entry is allowed to be late before it
	// is discarded outright instead of published.
	MaxBacklog = -20 * time.Second
	// popRetryBackoff is how long to wait before retrying a failed pop.
	popRetryBackoff = time.Second
)

type pauseRequest struct {
	paused chan struct{}
	resume chan struct{}
}

// Broadcaster dispatches one queue: pop earliest-due entry, wait until its
// deadline in queue-time, publish. It owns a Trimmer goroutine that keeps
// the sorted set free of entries that have already fallen behind the
// queue's clock.
type Broadcaster struct {
	store     store.Store
	publisher Publisher
	trimmer   *trimmer.Trimmer
	heartbeat bool

	pauseRequests chan pauseRequest

	mu            sync.RWMutex
	descriptor    *types.Descriptor
	clock         clock.Clock
	totalSent     uint64
	lastPublished time.Time
}

// New builds a Broadcaster for descriptor d. The Trimmer is constructed
// here too, since it needs a Pauser (the Broadcaster itself) to request
// exclusive access during a sweep.
func New(s store.Store, d *types.Descriptor, publisher Publisher, heartbeat bool) *Broadcaster {
	b := &Broadcaster{
		store:         s,
		publisher:     publisher,
		heartbeat:     heartbeat,
		pauseRequests: make(chan pauseRequest),
		descriptor:    d,
		clock:         clock.New(d.StartTime, d.Speed),
	}
	b.trimmer = trimmer.New(s, d.Name, b.QueueNow, b)
	return b
}

// Name returns the queue this Broadcaster dispatches.
func (b *Broadcaster) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.descriptor.Name
}

// QueueNow returns the current instant in the queue's own clock.
func (b *Broadcaster) QueueNow() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clock.QueueNow()
}

func (b *Broadcaster) speed() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clock.Speed()
}

// TotalSent returns the number of entries published so far.
func (b *Broadcaster) TotalSent() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalSent
}

// LastPublishedAt returns the time of the most recent successful publish, or
// the zero time if this Broadcaster has never published.
func (b *Broadcaster) LastPublishedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPublished
}

// RequestPause implements trimmer.Pauser: it blocks the dispatch loop at
// its next safe point and returns a resume function the caller must call
// to let it continue. Safe to call concurrently; each call gets its own
// single-shot pair of channels.
func (b *Broadcaster) RequestPause(ctx context.Context) (resume func(), err error) {
	req := pauseRequest{paused: make(chan struct{}), resume: make(chan struct{})}

	select {
	case b.pauseRequests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-req.paused:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() { once.Do(func() { close(req.resume) }) }, nil
}

// Reset restarts the Broadcaster's clock in place, using the rendezvous to
// safely swap the descriptor and clock out from under the dispatch loop.
// Queue contents are preserved; only speed and start_time change.
func (b *Broadcaster) Reset(ctx context.Context, d *types.Descriptor) error {
	resume, err := b.RequestPause(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.descriptor = d
	b.clock = clock.New(d.StartTime, d.Speed)
	b.mu.Unlock()
	resume()

	metrics.QueueResetTotal.WithLabelValues(d.Name).Inc()
	log.WithQueue(d.Name).Info().Float64("speed", d.Speed).Msg("broadcaster reset")
	return nil
}

// Run executes the dispatch loop until ctx is canceled. It performs a
// pre-start trim, starts the Trimmer goroutine, and returns once both have
// shut down cleanly, pushing back any popped-but-unpublished entry first.
func (b *Broadcaster) Run(ctx context.Context) error {
	name := b.Name()
	logger := log.WithQueue(name)

	logger.Debug().Msg("pre-start trim")
	if _, err := b.trimmer.Sweep(ctx); err != nil {
		logger.Warn().Err(err).Msg("pre-start trim failed")
	}

	trimCtx, cancelTrim := context.WithCancel(ctx)
	defer cancelTrim()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.trimmer.Run(trimCtx)
	}()
	defer wg.Wait()

	metrics.BroadcastersRunning.Inc()
	defer metrics.BroadcastersRunning.Dec()

	logger.Info().Msg("broadcaster starting")
	var popped *types.Entry

	for {
		select {
		case <-ctx.Done():
			b.pushBackIfPopped(context.Background(), name, &popped)
			logger.Info().Uint64("sent", b.TotalSent()).Msg("broadcaster stopped")
			return nil
		case req := <-b.pauseRequests:
			close(req.paused)
			<-req.resume
			continue
		default:
		}

		if popped == nil {
			entry, err := b.store.BPopMin(ctx, name, ZPopMinTimeout)
			if err != nil {
				if errors.Is(err, store.ErrTimeout) {
					if b.heartbeat {
						logger.Debug().Str("queue_time", b.QueueNow().Format(time.RFC3339)).Msg("heartbeat: nothing to send")
					}
					continue
				}
				metrics.StorePopErrorsTotal.WithLabelValues(name).Inc()
				logger.Error().Err(err).Msg("pop failed, backing off and retrying")
				select {
				case <-time.After(popRetryBackoff):
				case <-ctx.Done():
				}
				continue
			}
			popped = entry
		}

		now := b.QueueNow()
		waitQueue := clock.ScoreToTime(popped.Score).Sub(now)
		waitReal := time.Duration(float64(waitQueue) / b.speed())

		if waitQueue < MaxBacklog {
			logger.Debug().Float64("score", popped.Score).Dur("late_by", -waitQueue).
				Msg("popped event hopelessly late, discarding and sweeping")
			metrics.EntriesDroppedTotal.WithLabelValues(name, "backlog").Inc()
			popped = nil
			if _, err := b.trimmer.Sweep(ctx); err != nil {
				logger.Warn().Err(err).Msg("late-entry sweep failed")
			}
			continue
		}

		timer := time.NewTimer(maxDuration(waitReal, 0))
		popTimer := metrics.NewTimer()

		select {
		case <-timer.C:
			if err := b.publisher.Publish(ctx, popped.Payload); err != nil {
				metrics.PublishErrorsTotal.WithLabelValues(name).Inc()
				logger.Warn().Err(err).Msg("publish failed, dropping entry")
				metrics.EntriesDroppedTotal.WithLabelValues(name, "publish_error").Inc()
			} else {
				b.mu.Lock()
				b.totalSent++
				b.lastPublished = time.Now()
				b.mu.Unlock()
				metrics.EntriesPublishedTotal.WithLabelValues(name).Inc()
				popTimer.ObserveDurationVec(metrics.PopToPublishLatency, name)
			}
			popped = nil

		case req := <-b.pauseRequests:
			timer.Stop()
			b.pushBackIfPopped(ctx, name, &popped)
			close(req.paused)
			<-req.resume

		case <-ctx.Done():
			timer.Stop()
			b.pushBackIfPopped(context.Background(), name, &popped)
		}
	}
}

func (b *Broadcaster) pushBackIfPopped(ctx context.Context, name string, popped **types.Entry) {
	if *popped == nil {
		return
	}
	if err := b.store.PushBack(ctx, name, (*popped).Payload, (*popped).Score); err != nil {
		log.WithQueue(name).Error().Err(err).Msg("push-back failed, entry may be lost")
	}
	*popped = nil
}

func maxDuration(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}
