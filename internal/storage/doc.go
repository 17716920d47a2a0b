// Package storage keeps the membership audit trail and provides the atomic
// whole-file write used by the JSON documents under the data directory.
//
// Audit drivers:
//   - "file": JSON Lines, append-only
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
package storage
