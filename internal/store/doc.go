// Package store provides SQLite-backed durable storage for the round
// journal.
//
// The journal is append-only:
//   - Rounds: one record per source processed in a pool round, with the
//     row status counts of that round
//   - Row changes: the primary key and status of every row the round
//     touched, in delta order
//
// # Ordering
//
// All ordering uses the pool epoch and the row position inside a delta,
// never timestamps. Queries order by epoch ASC, source COLLATE BINARY ASC,
// seq ASC so reads are identical across runs.
//
// # Idempotency
//
// UNIQUE(pool_id, epoch, source) makes rewriting a round a no-op, so a
// flush retried after a lock timeout cannot duplicate records.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Writes that still hit SQLITE_BUSY are retried with Fibonacci backoff.
package store
