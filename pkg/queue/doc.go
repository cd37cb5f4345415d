// Package queue implements queue descriptor CRUD and the Enqueue API: the
// replace-and-insert a producer uses to (re)publish a batch of
// timestamped payloads under one movement, plus the "pias" (play it again)
// replay that re-schedules an already-enqueued movement unchanged.
package queue
