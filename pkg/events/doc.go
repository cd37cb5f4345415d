// Package events is an in-process, best-effort pub/sub bus for supervisor
// lifecycle observability (queue created/reset/deleted, broadcaster
// started/stopped, entries published/dropped, trim sweeps). It is separate
// from the data-plane pub/sub channel the store publishes on: this bus never
// leaves the process, and a full subscriber buffer simply skips an event
// rather than blocking the publisher.
package events
