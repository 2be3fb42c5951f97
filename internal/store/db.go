package store

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB wraps the hub's message database.
type DB struct {
	*sqlx.DB
	driver string
}

// Open connects to dsn with driver "sqlite3" (a file path) or "postgres".
// SQLite connections use WAL mode and the recommended pragmas.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, driver: driver}, nil
}

// Driver returns the database driver name.
func (db *DB) Driver() string {
	return db.driver
}
