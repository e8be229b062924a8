// Package kv implements the per-tenant database: an unbounded key-value map
// with independent per-key expiry tracking.
//
// The package focuses on:
//   - Opaque string values with unconditional Put and existing-key-only Update
//   - TTL as a separate absolute-timestamp map, managed via SetTTL/RemoveTTL
//   - A SweepExpired pass that purges due keys against an injected clock
//   - Export/Restore of plain-map snapshots for the persistence layer
//
// Expiry is deliberately lazy: a key past its expiry is visible until the next
// sweep. The store runs one sweep across all databases at a fixed interval and
// once after log replay.
package kv
