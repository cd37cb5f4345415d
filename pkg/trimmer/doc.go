// Package trimmer implements the per-queue sweeper that discards sorted-set
// entries whose score has fallen behind the queue's own clock: back-dated
// replays and late-arriving data that would otherwise sit in the queue
// forever because nothing ever pops them in order.
//
// A Trimmer reacts to insert notifications on its queue's data key by
// asking the Broadcaster for exclusive access (via Pauser.RequestPause),
// sweeping, then letting the Broadcaster resume.
package trimmer
