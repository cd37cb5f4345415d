package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emitpy/broadcaster/pkg/log"
	"github.com/emitpy/broadcaster/pkg/types"
)

const (
	queuesPrefix = "queues"
	dataPrefix   = "queues:data"
	keyspaceFmt  = "__keyspace@0__:%s"
)

func descriptorKey(name string) string { return queuesPrefix + ":" + name }
func dataKey(name string) string       { return dataPrefix + ":" + name }

// RedisStore implements Store against a real (or miniredis-emulated) Redis
// server via go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr (host:port) and returns a ready Store. It does
// not ping the server; callers should treat connection errors as they
// surface from the first real command, consistent with how the health
// checker independently probes reachability.
func NewRedisStore(addr, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client}
}

// NewRedisStoreFromClient wraps an already-constructed client, used by
// tests to point a RedisStore at a miniredis instance.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) notify(ctx context.Context, key string, action KeyspaceAction) {
	channel := fmt.Sprintf(keyspaceFmt, key)
	if err := s.client.Publish(ctx, channel, string(action)).Err(); err != nil {
		log.WithComponent("store").Debug().Err(err).Str("channel", channel).Msg("keyspace notify failed")
	}
}

func (s *RedisStore) UpsertDescriptor(ctx context.Context, d *types.Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("store: marshal descriptor %s: %w", d.Name, err)
	}
	key := descriptorKey(d.Name)
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("store: set descriptor %s: %w", d.Name, err)
	}
	s.notify(ctx, key, ActionSet)
	return nil
}

func (s *RedisStore) GetDescriptor(ctx context.Context, name string) (*types.Descriptor, error) {
	key := descriptorKey(name)
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, types.ErrQueueNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get descriptor %s: %w", name, err)
	}
	var d types.Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("store: unmarshal descriptor %s: %w", name, err)
	}
	return &d, nil
}

func (s *RedisStore) DeleteDescriptor(ctx context.Context, name string) error {
	key := descriptorKey(name)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("store: delete descriptor %s: %w", name, err)
	}
	s.notify(ctx, key, ActionDel)
	return nil
}

func (s *RedisStore) ListDescriptorNames(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, descriptorKey("*")).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list descriptors: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, dataPrefix+":") {
			continue
		}
		names = append(names, strings.TrimPrefix(k, queuesPrefix+":"))
	}
	return names, nil
}

func (s *RedisStore) ZAddReplace(ctx context.Context, queue string, oldMembers []string, entries map[string]float64) error {
	key := dataKey(queue)
	pipe := s.client.TxPipeline()
	if len(oldMembers) > 0 {
		pipe.ZRem(ctx, key, toAny(oldMembers)...)
	}
	if len(entries) > 0 {
		members := make([]redis.Z, 0, len(entries))
		for payload, score := range entries {
			members = append(members, redis.Z{Score: score, Member: payload})
		}
		pipe.ZAdd(ctx, key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: zadd-replace %s: %w", queue, err)
	}
	if len(oldMembers) > 0 {
		s.notify(ctx, key, ActionZRem)
	}
	if len(entries) > 0 {
		s.notify(ctx, key, ActionZAdd)
	}
	return nil
}

func (s *RedisStore) BPopMin(ctx context.Context, queue string, timeout time.Duration) (*types.Entry, error) {
	key := dataKey(queue)
	res, err := s.client.BZPopMin(ctx, timeout, key).Result()
	if err == redis.Nil {
		return nil, ErrTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("store: bpopmin %s: %w", queue, err)
	}
	payload, ok := res.Member.(string)
	if !ok {
		return nil, fmt.Errorf("store: bpopmin %s: unexpected member type", queue)
	}
	return &types.Entry{Score: res.Score, Payload: payload}, nil
}

func (s *RedisStore) ZRem(ctx context.Context, queue string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	key := dataKey(queue)
	if err := s.client.ZRem(ctx, key, toAny(members)...).Err(); err != nil {
		return fmt.Errorf("store: zrem %s: %w", queue, err)
	}
	s.notify(ctx, key, ActionZRem)
	return nil
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, queue string, min, max float64) ([]string, error) {
	key := dataKey(queue)
	res, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("store: zrangebyscore %s: %w", queue, err)
	}
	return res, nil
}

func (s *RedisStore) ZCard(ctx context.Context, queue string) (int64, error) {
	n, err := s.client.ZCard(ctx, dataKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: zcard %s: %w", queue, err)
	}
	return n, nil
}

// PushBack restores a popped (payload, score) pair without racing a
// concurrent trim's ZRem: it adds the pair to a scratch key, unions the
// scratch key into the main sorted set, then deletes the scratch key,
// rather than ZAdd-ing the main key directly.
func (s *RedisStore) PushBack(ctx context.Context, queue string, payload string, score float64) error {
	key := dataKey(queue)
	scratch := key + "-TMP"
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, scratch, redis.Z{Score: score, Member: payload})
	pipe.ZUnionStore(ctx, key, &redis.ZStore{Keys: []string{key, scratch}})
	pipe.Del(ctx, scratch)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: pushback %s: %w", queue, err)
	}
	s.notify(ctx, key, ActionZAdd)
	return nil
}

func (s *RedisStore) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := s.client.SAdd(ctx, key, toAny(members)...).Err(); err != nil {
		return fmt.Errorf("store: sadd %s: %w", key, err)
	}
	s.notify(ctx, key, ActionSAdd)
	return nil
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: smembers %s: %w", key, err)
	}
	return members, nil
}

func (s *RedisStore) DeleteKey(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("store: del %s: %w", key, err)
	}
	s.notify(ctx, key, ActionDel)
	return nil
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload string) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("store: publish %s: %w", channel, err)
	}
	return nil
}

func (s *RedisStore) SubscribeKeyspace(ctx context.Context, pattern string) (KeyspaceSubscription, error) {
	full := fmt.Sprintf(keyspaceFmt, pattern)
	pubsub := s.client.PSubscribe(ctx, full)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("store: subscribe %s: %w", pattern, err)
	}
	return &redisSubscription{pubsub: pubsub, prefix: fmt.Sprintf(keyspaceFmt, "")}, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	prefix string
}

func (r *redisSubscription) GetMessage(ctx context.Context, timeout time.Duration) (*KeyspaceEvent, error) {
	timed, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := r.pubsub.ReceiveMessage(timed)
	if err != nil {
		if timed.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("store: receive keyspace event: %w", err)
	}
	key := strings.TrimPrefix(msg.Channel, r.prefix)
	return &KeyspaceEvent{Key: key, Action: KeyspaceAction(msg.Payload)}, nil
}

func (r *redisSubscription) Close() error {
	return r.pubsub.Close()
}

func toAny(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
