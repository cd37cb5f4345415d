package queue

import (
	"context"
	"fmt"

	"github.com/emitpy/broadcaster/pkg/log"
	"github.com/emitpy/broadcaster/pkg/metrics"
	"github.com/emitpy/broadcaster/pkg/store"
	"github.com/emitpy/broadcaster/pkg/types"
)

// EnqueueSetKey returns the store key an enqueue set is tracked under for
// one movement: "<movementType>:<movementID>:Q" (§6.1).
func EnqueueSetKey(movementType, movementID string) string {
	return movementType + ":" + movementID + ":Q"
}

// Manager wraps a store.Store with the descriptor CRUD and Enqueue API
// semantics of §3/§4.3, independent of any running Broadcaster.
type Manager struct {
	store store.Store
}

// New builds a Manager over the given store.
func New(s store.Store) *Manager {
	return &Manager{store: s}
}

// Create persists a new queue descriptor. It fails if the name is reserved
// or the descriptor is otherwise invalid; it does not check for an existing
// descriptor under the same name (overwriting is how reconfiguration works,
// per §6.3).
func (m *Manager) Create(ctx context.Context, d *types.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := m.store.UpsertDescriptor(ctx, d); err != nil {
		return err
	}
	log.WithQueue(d.Name).Info().Str("formatter", d.FormatterID).Float64("speed", d.Speed).Msg("descriptor upserted")
	return nil
}

// Get loads a queue's descriptor.
func (m *Manager) Get(ctx context.Context, name string) (*types.Descriptor, error) {
	return m.store.GetDescriptor(ctx, name)
}

// List returns all known queue names, excluding the reserved quit sentinel.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	names, err := m.store.ListDescriptorNames(ctx)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if n != types.ReservedQueueName {
			out = append(out, n)
		}
	}
	return out, nil
}

// Delete removes a queue's descriptor and its sorted set. Deleting an
// already-deleted queue is a no-op (Testable Property 8).
func (m *Manager) Delete(ctx context.Context, name string) error {
	if name == types.ReservedQueueName {
		return types.ErrReservedName
	}
	if _, err := m.store.GetDescriptor(ctx, name); err != nil {
		log.WithQueue(name).Debug().Msg("delete of already-deleted queue, no-op")
		return nil
	}
	if err := m.store.DeleteDescriptor(ctx, name); err != nil {
		return err
	}
	if err := m.store.DeleteKey(ctx, "queues:data:"+name); err != nil {
		return err
	}
	log.WithQueue(name).Info().Msg("queue deleted")
	return nil
}

// Enqueue performs the replace-and-insert of §4.3: it removes any entries
// the same movement previously contributed, then adds the new batch,
// tracking the new member set under the movement's enqueue-set key so a
// later call (or Replay) can find them again. The sorted-set removal and
// insertion run as one transaction; the enqueue-set update is made by
// separate calls before it, so the enqueue set and the sorted set are not
// updated atomically together.
func (m *Manager) Enqueue(ctx context.Context, queueName, movementType, movementID string, entries map[string]float64) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.EnqueueDuration)

	setKey := EnqueueSetKey(movementType, movementID)

	oldMembers, err := m.store.SetMembers(ctx, setKey)
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", movementID, err)
	}
	if len(oldMembers) > 0 {
		if err := m.store.DeleteKey(ctx, setKey); err != nil {
			return fmt.Errorf("queue: enqueue %s: clear old enqueue set: %w", movementID, err)
		}
	}

	newMembers := make([]string, 0, len(entries))
	for payload := range entries {
		newMembers = append(newMembers, payload)
	}
	if err := m.store.SetAdd(ctx, setKey, newMembers...); err != nil {
		return fmt.Errorf("queue: enqueue %s: track new members: %w", movementID, err)
	}
	if err := m.store.ZAddReplace(ctx, queueName, oldMembers, entries); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", movementID, err)
	}

	metrics.EnqueueBatchesTotal.WithLabelValues(queueName).Inc()
	log.WithQueue(queueName).Debug().
		Str("movement_id", movementID).
		Int("removed", len(oldMembers)).
		Int("added", len(entries)).
		Msg("enqueue batch applied")
	return nil
}

// DeleteMovement removes everything a movement previously enqueued, without
// scheduling a replacement batch.
func (m *Manager) DeleteMovement(ctx context.Context, queueName, movementType, movementID string) error {
	setKey := EnqueueSetKey(movementType, movementID)
	oldMembers, err := m.store.SetMembers(ctx, setKey)
	if err != nil {
		return fmt.Errorf("queue: delete movement %s: %w", movementID, err)
	}
	if len(oldMembers) > 0 {
		if err := m.store.ZRem(ctx, queueName, oldMembers...); err != nil {
			return fmt.Errorf("queue: delete movement %s: %w", movementID, err)
		}
	}
	if err := m.store.DeleteKey(ctx, setKey); err != nil {
		return fmt.Errorf("queue: delete movement %s: %w", movementID, err)
	}
	return nil
}

// Replay re-enqueues a movement's existing members unchanged, recovering
// each member's original score via extract rather than recomputing it
// ("play it again Sam" — restart an already-scheduled stream as-is).
func (m *Manager) Replay(ctx context.Context, queueName, movementType, movementID string, extract ScoreExtractor) error {
	setKey := EnqueueSetKey(movementType, movementID)
	members, err := m.store.SetMembers(ctx, setKey)
	if err != nil {
		return fmt.Errorf("queue: replay %s: %w", movementID, err)
	}
	if len(members) == 0 {
		return nil
	}

	entries := make(map[string]float64, len(members))
	for _, payload := range members {
		score, err := extract(payload)
		if err != nil {
			return fmt.Errorf("queue: replay %s: %w", movementID, err)
		}
		entries[payload] = score
	}

	if err := m.store.ZAddReplace(ctx, queueName, members, entries); err != nil {
		return fmt.Errorf("queue: replay %s: %w", movementID, err)
	}
	log.WithQueue(queueName).Info().Str("movement_id", movementID).Int("count", len(entries)).Msg("movement replayed")
	return nil
}
