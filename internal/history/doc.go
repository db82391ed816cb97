// Package history keeps a SQLite ledger of debug runs.
//
// Each completed run, whatever its outcome, becomes one row keyed by its
// run id. Rows are append-only and ordered by an autoincrement seq, so
// listings are stable regardless of wall-clock skew.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads while a run is being recorded
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single connection: SQLite allows one writer at a time
package history
