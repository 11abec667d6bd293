// Package store provides SQLite-backed durable storage for attribution
// sources, reports and the rows rate limits are computed from.
//
// Tables:
//   - sources, source_destinations: registered sources and their sites
//   - reports: event-level, aggregatable and null aggregatable reports
//   - dedup_keys: per-source keys, kept after their reports are deleted
//   - rate_limits: source registrations and attributions, counted over windows
//   - aggregatable_debug_budgets: debug budget consumed per context site
//
// # Conventions
//
// Every read orders its results (source_id, report_id, report_time) so
// that repeated reads return identical slices. Times are stored as Unix
// microseconds; unsigned 64-bit values are bit-cast to INTEGER.
//
// Rows that fail to decode are returned as *CorruptionError values next
// to the decoded results instead of failing the whole read, so callers
// can delete them.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection: every transaction sees the same pragmas
package store
