// Package store provides SQLite-backed durable state for formsheet.
//
// Two tables:
//   - positions: the journal checkpoint, one opaque value per key
//   - merged_submissions: the dedup ledger, one row per submission id
//     already written into a sheet
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Ledger writes use ON CONFLICT DO NOTHING so recording the same submission
// twice is harmless. Submission ids come from internal/canon.
package store
