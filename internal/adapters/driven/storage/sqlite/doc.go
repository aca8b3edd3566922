// Package sqlite provides a SQLite-backed implementation of the
// capture store interfaces using a single database file with embedded
// migrations.
package sqlite
