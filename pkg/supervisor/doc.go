// Package supervisor is the Hypercaster: the process-wide owner of every
// queue's Broadcaster. It loads descriptors at startup, spawns a Broadcaster
// for each one with status "run", and runs an admin task that reacts to
// descriptor-key keyspace notifications to create, reconfigure, start, stop
// or tear down Broadcasters as descriptors change underneath it.
//
// The control plane is the store itself: writing or deleting a
// "queues:<name>" key is the only way to change a queue's runtime state.
// The admin task is simply the thing that notices.
//
// A second goroutine, the queue health monitor, walks the live Broadcaster
// handles on a ticker and reports per-queue backlog and last-publish-age
// gauges to pkg/metrics, plus one health component per running queue that
// turns unhealthy only when the queue's backlog cannot be read.
package supervisor
