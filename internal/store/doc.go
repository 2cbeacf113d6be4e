// Package store provides the embedded SQLite backend: a minimal session
// implementation for local and test use, plus the registry tables the blob
// store and sequence allocator write to.
//
// # Tables
//
//   - blob_registry: one row per uploaded blob (id, length)
//   - sequences: counters backing NextVals on engines without native sequences
//
// # Database Configuration
//
// Per-connection settings are passed in the DSN so every pooled connection
// gets them, not only the first:
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// # Transactions
//
// SQLite has a single isolation level. Read committed maps to a deferred
// BEGIN; repeatable read and serializable take the write lock up front with
// BEGIN IMMEDIATE. Read-only transactions set query_only for their duration.
//
// SQLITE_BUSY is reported as a serialization failure (40001) and
// SQLITE_LOCKED as a deadlock (40P01), so the engine's retry wrapper treats
// lock contention as transient.
package store
