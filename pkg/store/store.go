package store

import (
	"context"
	"errors"
	"time"

	"github.com/emitpy/broadcaster/pkg/types"
)

// ErrTimeout is returned by blocking operations (BPopMin, KeyspaceSubscription.GetMessage)
// when no result arrives within the requested timeout. It is not a failure:
// callers use it to distinguish "nothing happened" from a real error.
var ErrTimeout = errors.New("store: operation timed out")

// KeyspaceAction names the mutation a synthesized keyspace notification
// reports, mirroring the action strings real Redis keyspace notifications
// carry (e.g. "zadd", "set", "del", "sadd").
type KeyspaceAction string

const (
	ActionSet  KeyspaceAction = "set"
	ActionDel  KeyspaceAction = "del"
	ActionZAdd KeyspaceAction = "zadd"
	ActionZRem KeyspaceAction = "zrem"
	ActionSAdd KeyspaceAction = "sadd"
)

// KeyspaceEvent is one notification delivered by a KeyspaceSubscription.
type KeyspaceEvent struct {
	Key    string
	Action KeyspaceAction
}

// KeyspaceSubscription is a live subscription to keyspace events on keys
// matching the pattern it was created with.
type KeyspaceSubscription interface {
	// GetMessage blocks until an event arrives or timeout elapses, returning
	// ErrTimeout in the latter case.
	GetMessage(ctx context.Context, timeout time.Duration) (*KeyspaceEvent, error)
	Close() error
}

// Store is the set of Redis primitives the broadcaster's domain packages
// depend on. pkg/queue, pkg/trimmer, pkg/broadcaster and pkg/supervisor
// are written against this interface, never against *redis.Client directly,
// so tests can run the same code against miniredis.
type Store interface {
	// Descriptor CRUD (§6.1 queues:<name>)
	UpsertDescriptor(ctx context.Context, d *types.Descriptor) error
	GetDescriptor(ctx context.Context, name string) (*types.Descriptor, error)
	DeleteDescriptor(ctx context.Context, name string) error
	ListDescriptorNames(ctx context.Context) ([]string, error)

	// Sorted set operations on a queue's data key (§6.1 queues:data:<name>)
	ZAddReplace(ctx context.Context, queue string, oldMembers []string, entries map[string]float64) error
	BPopMin(ctx context.Context, queue string, timeout time.Duration) (*types.Entry, error)
	ZRem(ctx context.Context, queue string, members ...string) error
	ZRangeByScore(ctx context.Context, queue string, min, max float64) ([]string, error)
	ZCard(ctx context.Context, queue string) (int64, error)
	// PushBack restores a popped entry using the scratch-key/zunionstore
	// three-step pipeline, so it never races a concurrent ZRem from a trim.
	PushBack(ctx context.Context, queue string, payload string, score float64) error

	// Enqueue sets (§6.1 <movement_type>:<movement_id>:Q)
	SetAdd(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	DeleteKey(ctx context.Context, key string) error

	// Pub/sub data plane (§6.1 emitpy:<name>)
	Publish(ctx context.Context, channel string, payload string) error

	// Keyspace-change feed, real or synthesized (§4.2, §4.4, §4.6)
	SubscribeKeyspace(ctx context.Context, pattern string) (KeyspaceSubscription, error)

	Close() error
}
