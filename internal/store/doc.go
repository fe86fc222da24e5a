// Package store provides SQLite-backed storage for variant tables and run
// history.
//
// Tables are created from a column list and recorded in the vt_tables
// catalog. Repeated and record values (alternate_bases, call, annotation
// records) are stored as canonical JSON text, so queries reach into them
// with json_each and json_extract.
//
// Run history lives in vt_runs, one row per executed test case, read back
// in insertion order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: SQLite allows a single writer
package store
