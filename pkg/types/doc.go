// Package types defines the data structures shared between the store,
// queue, trimmer, broadcaster and supervisor packages: the queue Descriptor
// (the single source of truth the supervisor and broadcaster read) and the
// Entry a queue's sorted set holds.
package types
