package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
)

// SQLiteBusyTimeoutMS is how long a writer waits on a locked database.
const SQLiteBusyTimeoutMS = 5000

// dsn builds a go-sqlite3 DSN whose pragmas apply to every pooled
// connection, not only the first one.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d&_txlock=immediate",
		path, sep, SQLiteBusyTimeoutMS)
}

// Open opens a SQLite database at the specified path with WAL, foreign
// keys and a busy timeout. If log is nil it operates silently.
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	if log != nil {
		logger.AddDBSymbol(log).Debugw("Opening database", "path", path)
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errors.WithDetailf(errors.Wrap(err, "failed to open database"), "path: %s", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = errors.Wrapf(err, "failed to connect to database %s", path)
		err = errors.WithDetailf(err, "path: %s", path)
		return nil, errors.WithHint(err, "check that the directory exists and is writable")
	}

	if log != nil {
		logger.AddDBSymbol(log).Infow("Database opened",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}
	return db, nil
}

// OpenWithMigrations opens the database and brings its schema up to date.
func OpenWithMigrations(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, log)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := Migrate(db, log); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return db, nil
}
