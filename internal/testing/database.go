// Package testing holds helpers shared by package tests.
package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/yoman/db"
)

// CreateTestDB creates an in-memory SQLite database with every migration
// applied. Cleanup is registered via t.Cleanup().
//
// The pool is pinned to one connection: each new connection to ":memory:"
// would otherwise open a separate, empty database.
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	conn.SetMaxOpenConns(1)

	if err := db.Migrate(conn, nil); err != nil {
		conn.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})
	return conn
}
