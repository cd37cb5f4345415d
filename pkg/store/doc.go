// Package store is the only part of this module that talks to Redis. It
// wraps the handful of primitives the rest of the broadcaster needs —
// descriptor CRUD, a blocking-pop sorted set, enqueue sets, and a
// keyspace-change feed — behind the Store interface, and provides a
// concrete RedisStore built on github.com/redis/go-redis/v9.
//
// Real Redis keyspace notifications require server-side configuration
// (notify-keyspace-events) that miniredis never implements, so RedisStore
// does not rely on them: every mutating call except BPopMin also publishes a
// synthetic notification on a "__keyspace@0__:<key>" channel carrying the action
// name, exactly mirroring the shape real notifications would take. Callers
// subscribe with SubscribeKeyspace the same way against either backend.
package store
