package schedule

import (
	"database/sql"
	"testing"

	yomantest "github.com/teranos/yoman/internal/testing"
)

// createTestDB creates an in-memory test database.
func createTestDB(t *testing.T) *sql.DB {
	return yomantest.CreateTestDB(t)
}
