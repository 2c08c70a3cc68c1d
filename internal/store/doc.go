// Package store provides persistent storage for parley using SQLite.
//
// # Architecture
//
// The store package splits persistence into three small interfaces:
//
//   - AppStore: the configured chat targets (Apps)
//   - LocalStore: conversations and messages for direct-model apps, whose
//     history lives only on this machine
//   - StateStore: selection state (active app, active conversation)
//
// SQLiteStore implements all of them in a single struct. Hosted conversation
// lists are never written here; they are always re-fetched from the server.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and foreign keys:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Two drivers are registered. "sqlite" (modernc.org/sqlite, pure Go) is the
// default; "sqlite3" (github.com/mattn/go-sqlite3) can be selected with
// NewSQLiteStoreWithDriver when cgo is available.
//
// # Message Ordering
//
// Messages carry a per-conversation sequence number assigned on first insert.
// SaveMessage is an upsert keyed by message ID: saving the final content of a
// streamed assistant message rewrites the existing row without moving it.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	s := store.NewMockStore()
//
// Use NewSQLiteStore(filepath.Join(t.TempDir(), "test.db")) for integration
// tests with real SQLite.
package store
