// Package store provides persistent storage for the gateway on top of database/sql.
//
// # Architecture
//
// The store package splits its surface into focused interfaces:
//
//   - ThreadStore: owner-scoped thread persistence plus housekeeping levers
//   - UsageStore: per-turn token usage and aggregate statistics
//   - TaskStore: personal tasks used by the personal assistant tools
//
// Store composes all three with Ping, Driver, and Close. SQLStore implements
// Store for every supported driver; MockStore implements it in memory.
//
// # Drivers
//
//   - sqlite: modernc.org/sqlite (pure Go, default)
//   - sqlite3: github.com/mattn/go-sqlite3 (cgo)
//   - postgres: github.com/lib/pq
//
// Queries are written with ? placeholders and rebound for PostgreSQL.
// SQLite databases run in WAL mode with a busy timeout on every connection.
//
// # Ownership
//
// Every thread read and write filters on (thread_id, user_id). A thread that
// is missing, soft deleted, or owned by someone else is reported as
// ErrNotFound. Only HardDeleteThread and PurgeDeleted operate by id alone.
//
// # Error Handling
//
//   - ErrNotFound: nothing matched the owner-scoped lookup or write
//   - ErrDuplicateThread: inserting an id that already exists
//   - ErrMissingOwner: owner-scoped call without a user id
//
// Any other error is an unexpected store failure and is wrapped with context.
//
// # Testing
//
// Use NewMockStore() for unit tests; set SaveErr to simulate write failures.
// Use NewSQLiteStore(filepath.Join(t.TempDir(), "test.db")) for integration tests.
package store
