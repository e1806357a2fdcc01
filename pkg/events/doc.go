/*
Package events provides the in-memory broker that fans stored events out to
live subscribers.

Publishing is non-blocking: events flow through a buffered main channel into
per-subscriber buffered channels, and a subscriber whose buffer is full
silently misses the event. Insertion order is preserved per subscriber.
Laggards recover by re-reading the event store by id range; the broker is a
live tail, not the source of truth.
*/
package events
