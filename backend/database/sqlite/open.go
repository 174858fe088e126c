package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/PressureTank/credstore/backend/user"
)

// Open opens (or creates) the sqlite file at path and verifies it is reachable.
// The pool is limited to one connection, matching a single-connection client.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", user.ErrStoreUnavailable)
	}
	d, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, unavailable("open database", err)
	}
	d.SetMaxOpenConns(1)
	d.SetMaxIdleConns(1)

	if err := d.Ping(); err != nil {
		_ = d.Close()
		return nil, unavailable("ping database", err)
	}
	// journal_mode may not be supported in some contexts (e.g., in-memory). Ignore errors.
	_, _ = d.Exec(`PRAGMA journal_mode=WAL`)
	if _, err := d.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = d.Close()
		return nil, unavailable("set busy timeout", err)
	}
	return d, nil
}
