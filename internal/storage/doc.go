// Package storage persists the participant registry.
//
// The whole registry is written as one snapshot; there is no per-record
// write path. Drivers:
//   - "file": pretty-printed JSON object keyed by participant id (default)
//   - "sqlite": SQLite database file (build with -tags sqlite)
package storage
