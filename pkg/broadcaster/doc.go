// Package broadcaster implements the per-queue dispatcher: it pops the
// earliest-due entry from a queue's sorted set, sleeps until its deadline
// (scaled by the queue's clock), and publishes it. A Broadcaster owns one
// Trimmer goroutine and exposes RequestPause so the Trimmer and a
// supervisor-driven Reset can get exclusive access to the dispatch loop
// without an in-process lock on the sorted set itself — the store already
// linearizes that.
//
// Publisher abstracts where a popped payload goes: PubSubPublisher (the
// default) republishes it on the queue's pub/sub channel; UDPPublisher
// forwards it as a UDP datagram, for the reserved external-simulator feed
// queue.
package broadcaster
