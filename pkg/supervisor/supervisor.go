package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/emitpy/broadcaster/pkg/broadcaster"
	"github.com/emitpy/broadcaster/pkg/events"
	"github.com/emitpy/broadcaster/pkg/health"
	"github.com/emitpy/broadcaster/pkg/log"
	"github.com/emitpy/broadcaster/pkg/metrics"
	"github.com/emitpy/broadcaster/pkg/store"
	"github.com/emitpy/broadcaster/pkg/types"
)

// Tunables too delicate to expose as configuration, mirroring the
// Broadcaster's own (§9).
const (
	// AdminListenTimeout bounds each read of the descriptor keyspace
	// subscription, so the admin task periodically rechecks its shutdown flag.
	AdminListenTimeout = 5 * time.Second
	// HealthMonitorInterval is how often the queue health monitor walks the
	// live Broadcaster handles.
	HealthMonitorInterval = 15 * time.Second

	descriptorKeyPrefix = "queues:"
	dataKeyInfix        = "data:"
)

// Config holds the runtime options a Supervisor is constructed with (§6.4).
type Config struct {
	HeartbeatEnabled   bool
	SpecialFeedEnabled bool
	SpecialFeedHost    string
	SpecialFeedPort    int
	// SpecialFeedName is the reserved queue name the UDP-forwarder variant
	// attaches to. Defaults to "livetraffic" if empty.
	SpecialFeedName string
	// StoreChecker, if set, is polled by the health monitor to back the
	// "store" health component exposed on /ready. Typically a
	// health.TCPChecker pointed at the store's address.
	StoreChecker health.Checker
}

func (c Config) feedName() string {
	if c.SpecialFeedName == "" {
		return "livetraffic"
	}
	return c.SpecialFeedName
}

type broadcasterHandle struct {
	b      *broadcaster.Broadcaster
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor is the Hypercaster: it owns one Broadcaster per running queue
// and reacts to descriptor changes by starting, resetting or stopping them.
// There must be exactly one Supervisor per store connection; it is always
// explicitly constructed and owned by main, never a package-level global.
type Supervisor struct {
	store  store.Store
	cfg    Config
	events *events.Broker

	storeHealth *health.Status

	mu      sync.Mutex
	handles map[string]*broadcasterHandle
	seen    map[string]struct{}
}

// New builds a Supervisor. It does not start anything; call Run for that.
func New(s store.Store, cfg Config) *Supervisor {
	return &Supervisor{
		store:       s,
		cfg:         cfg,
		events:      events.NewBroker(),
		storeHealth: health.NewStatus(),
		handles:     make(map[string]*broadcasterHandle),
		seen:        make(map[string]struct{}),
	}
}

// Events returns the in-process lifecycle event broker, so an operator
// surface (CLI, log tailer) can subscribe to queue/broadcaster transitions
// without polling the store.
func (s *Supervisor) Events() *events.Broker {
	return s.events
}

// Run loads all existing queue descriptors, spawns a Broadcaster for each
// with status "run", and blocks running the admin task and health monitor
// until ctx is canceled (or the reserved "quit" sentinel descriptor is
// written, which has the same effect). On return every Broadcaster has been
// told to stop and has exited.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := log.WithComponent("supervisor")

	s.events.Start()
	defer s.events.Stop()

	if s.cfg.StoreChecker != nil {
		result := s.cfg.StoreChecker.Check(ctx)
		s.storeHealth.Update(result, health.DefaultConfig())
		metrics.RegisterComponent("store", s.storeHealth.Healthy, result.Message)
	}

	if err := s.loadExisting(ctx); err != nil {
		return err
	}
	metrics.RegisterComponent("supervisor", true, "running")

	rootCtx, rootCancel := context.WithCancel(ctx)
	defer rootCancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.runAdmin(rootCtx, rootCancel)
	}()
	go func() {
		defer wg.Done()
		s.runHealthMonitor(rootCtx)
	}()

	logger.Info().Int("queues", len(s.snapshotHandles())).Msg("supervisor started")

	<-rootCtx.Done()
	logger.Info().Msg("supervisor shutting down")
	s.terminateAll()
	wg.Wait()

	metrics.RegisterComponent("supervisor", false, "stopped")
	logger.Info().Msg("supervisor stopped")
	return nil
}

// RequestShutdown writes the reserved "quit" sentinel descriptor, which a
// running Supervisor's admin task treats as an instruction to shut down.
// This is how a separate operator process (e.g. a CLI invocation) asks a
// long-running supervisor process to exit.
func (s *Supervisor) RequestShutdown(ctx context.Context) error {
	return s.store.UpsertDescriptor(ctx, &types.Descriptor{
		Name:   types.ReservedQueueName,
		Status: types.StatusStop,
		Speed:  1,
	})
}

func (s *Supervisor) loadExisting(ctx context.Context) error {
	names, err := s.store.ListDescriptorNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == types.ReservedQueueName {
			continue
		}
		d, err := s.store.GetDescriptor(ctx, name)
		if err != nil {
			log.WithQueue(name).Warn().Err(err).Msg("failed to load descriptor at startup, skipping")
			continue
		}
		s.mu.Lock()
		s.seen[name] = struct{}{}
		s.mu.Unlock()
		if d.Status == types.StatusRun {
			s.spawnQueue(d)
		}
	}
	return nil
}

// spawnQueue starts a Broadcaster for descriptor d. It is a no-op (beyond a
// log line) if d names the special UDP-forwarder feed but that feed is
// disabled in configuration.
func (s *Supervisor) spawnQueue(d *types.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handles[d.Name]; exists {
		return
	}

	var publisher broadcaster.Publisher
	if d.Name == s.cfg.feedName() {
		if !s.cfg.SpecialFeedEnabled {
			log.WithQueue(d.Name).Debug().Msg("special feed queue not started, feed disabled")
			return
		}
		udp, err := broadcaster.NewUDPPublisher(s.cfg.SpecialFeedHost, s.cfg.SpecialFeedPort)
		if err != nil {
			log.WithQueue(d.Name).Error().Err(err).Msg("failed to start special feed publisher")
			return
		}
		publisher = udp
	} else {
		publisher = broadcaster.NewPubSubPublisher(s.store, d.Name)
	}

	b := broadcaster.New(s.store, d, publisher, s.cfg.HeartbeatEnabled)
	bctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.Run(bctx); err != nil {
			log.WithQueue(d.Name).Error().Err(err).Msg("broadcaster exited with error")
		}
	}()

	s.handles[d.Name] = &broadcasterHandle{b: b, cancel: cancel, done: done}
	log.WithQueue(d.Name).Info().Msg("queue started")
	s.events.Publish(&events.Event{Type: events.EventBroadcasterStarted, Message: d.Name})
}

func (s *Supervisor) terminateQueue(name string) {
	s.mu.Lock()
	h, ok := s.handles[name]
	if ok {
		delete(s.handles, name)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	h.cancel()
	<-h.done
	metrics.QueueBacklogSize.DeleteLabelValues(name)
	metrics.QueueLastPublishAgeSeconds.DeleteLabelValues(name)
	log.WithQueue(name).Info().Msg("queue terminated")
	s.events.Publish(&events.Event{Type: events.EventBroadcasterStopped, Message: name})
}

func (s *Supervisor) terminateAll() {
	for _, name := range s.handleNames() {
		s.terminateQueue(name)
	}
}

func (s *Supervisor) handleNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.handles))
	for name := range s.handles {
		names = append(names, name)
	}
	return names
}

func (s *Supervisor) snapshotHandles() map[string]*broadcasterHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*broadcasterHandle, len(s.handles))
	for k, v := range s.handles {
		out[k] = v
	}
	return out
}

// runAdmin subscribes to descriptor-key keyspace notifications and reacts to
// queue creation, reconfiguration, start/stop and deletion, per §4.6. It
// calls shutdown (canceling the root context) when it observes the reserved
// quit sentinel.
func (s *Supervisor) runAdmin(ctx context.Context, shutdown context.CancelFunc) {
	logger := log.WithComponent("supervisor-admin")

	sub, err := s.store.SubscribeKeyspace(ctx, descriptorKeyPrefix+"*")
	if err != nil {
		logger.Error().Err(err).Msg("admin task: subscribe failed, queue lifecycle changes will not be observed")
		return
	}
	defer sub.Close()

	// Clear any stale sentinel left over from a previous run.
	_ = s.store.DeleteDescriptor(ctx, types.ReservedQueueName)

	logger.Info().Msg("admin task starting")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("admin task stopped")
			return
		default:
		}

		evt, err := sub.GetMessage(ctx, AdminListenTimeout)
		metrics.AdminLoopCyclesTotal.Inc()
		if err != nil {
			if errors.Is(err, store.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("admin task: notification read failed")
			continue
		}

		name, isData := extractQueueName(evt.Key)
		if isData {
			continue
		}

		switch evt.Action {
		case store.ActionSet:
			s.handleDescriptorSet(ctx, name, shutdown)
		case store.ActionDel:
			s.handleDescriptorDelete(name)
		default:
			// zadd/zrem/sadd on a descriptor-shaped key never happens; ignore.
		}
	}
}

func (s *Supervisor) handleDescriptorSet(ctx context.Context, name string, shutdown context.CancelFunc) {
	logger := log.WithQueue(name)

	if name == types.ReservedQueueName {
		logger.Warn().Msg("quit sentinel observed, shutting down")
		shutdown()
		return
	}

	d, err := s.store.GetDescriptor(ctx, name)
	if err != nil {
		logger.Warn().Err(err).Msg("descriptor set notification but descriptor unreadable, ignoring")
		return
	}

	s.mu.Lock()
	h, running := s.handles[name]
	_, everSeen := s.seen[name]
	s.seen[name] = struct{}{}
	s.mu.Unlock()

	switch {
	case !running && d.Status == types.StatusRun:
		s.spawnQueue(d)
		if !everSeen {
			s.events.Publish(&events.Event{Type: events.EventQueueCreated, Message: name})
		}
	case running && d.Status == types.StatusStop:
		s.terminateQueue(name)
	case running && d.Status == types.StatusRun:
		if err := h.b.Reset(ctx, d); err != nil {
			logger.Warn().Err(err).Msg("reset failed")
			return
		}
		s.events.Publish(&events.Event{Type: events.EventQueueReset, Message: name})
	default:
		// not running, still stopped: nothing to do.
	}
}

func (s *Supervisor) handleDescriptorDelete(name string) {
	if name == types.ReservedQueueName {
		return
	}
	s.mu.Lock()
	_, running := s.handles[name]
	s.mu.Unlock()
	if !running {
		log.WithQueue(name).Debug().Msg("descriptor deleted, queue already stopped")
		s.events.Publish(&events.Event{Type: events.EventQueueDeleted, Message: name})
		return
	}
	s.terminateQueue(name)
	s.events.Publish(&events.Event{Type: events.EventQueueDeleted, Message: name})
}

// extractQueueName splits a store key of the form "queues:<name>" or
// "queues:data:<name>" into the queue name and whether it addressed the
// data (sorted-set) side rather than the descriptor itself.
func extractQueueName(key string) (name string, isData bool) {
	rest := strings.TrimPrefix(key, descriptorKeyPrefix)
	if strings.HasPrefix(rest, dataKeyInfix) {
		return strings.TrimPrefix(rest, dataKeyInfix), true
	}
	return rest, false
}

// runHealthMonitor periodically records per-queue gauges (§4.6.1): backlog
// size and time since last publish, and registers each running queue as its
// own health sub-component. That sub-component is reported unhealthy only
// when the queue's backlog cannot be read; a queue that has stopped
// publishing shows up in the last-publish-age gauge, not in its health
// status.
func (s *Supervisor) runHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(HealthMonitorInterval)
	defer ticker.Stop()

	s.collectQueueHealth(ctx)
	for {
		select {
		case <-ticker.C:
			s.collectQueueHealth(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) collectQueueHealth(ctx context.Context) {
	if s.cfg.StoreChecker != nil {
		result := s.cfg.StoreChecker.Check(ctx)
		s.storeHealth.Update(result, health.DefaultConfig())
		metrics.UpdateComponent("store", s.storeHealth.Healthy, result.Message)
	}

	names, err := s.store.ListDescriptorNames(ctx)
	if err != nil {
		log.WithComponent("supervisor-health").Warn().Err(err).Msg("failed to list queues for health sweep")
		return
	}

	runCount, stopCount := 0, 0
	for _, name := range names {
		if name == types.ReservedQueueName {
			continue
		}
		d, err := s.store.GetDescriptor(ctx, name)
		if err != nil {
			continue
		}
		if d.Status == types.StatusRun {
			runCount++
		} else {
			stopCount++
		}
	}
	metrics.QueuesTotal.WithLabelValues(string(types.StatusRun)).Set(float64(runCount))
	metrics.QueuesTotal.WithLabelValues(string(types.StatusStop)).Set(float64(stopCount))

	for name, h := range s.snapshotHandles() {
		backlog, err := s.store.ZCard(ctx, name)
		if err != nil {
			metrics.UpdateComponent("queue:"+name, false, "backlog check failed: "+err.Error())
			continue
		}
		metrics.QueueBacklogSize.WithLabelValues(name).Set(float64(backlog))

		last := h.b.LastPublishedAt()
		if !last.IsZero() {
			metrics.QueueLastPublishAgeSeconds.WithLabelValues(name).Set(time.Since(last).Seconds())
		}
		metrics.RegisterComponent("queue:"+name, true, "running")
	}
}
