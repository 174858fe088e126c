package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/PressureTank/credstore/backend/user"
)

const (
	createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	password TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT ''
)`
	createUsersTableNoRole = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	password TEXT NOT NULL
)`
)

// Options selects the schema profile.
type Options struct {
	// Roles adds the role column and stores/returns role labels.
	Roles bool
}

// SQLiteDB is the credential store. It owns the connection it is given.
type SQLiteDB struct {
	db     *sql.DB
	logger *zap.Logger
	opts   Options

	// writeMu serializes inserts so uniqueness is never checked against a stale view.
	writeMu sync.Mutex
}

var _ user.Database = (*SQLiteDB)(nil)

func NewSQLiteDB(db *sql.DB, logger *zap.Logger, opts Options) *SQLiteDB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteDB{
		db:     db,
		logger: logger,
		opts:   opts,
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", user.ErrStoreUnavailable, op, err)
}

// InitSchema creates the users table if needed. With Roles enabled, a table
// created by the role-less profile gets the role column added.
func (s *SQLiteDB) InitSchema(ctx context.Context) error {
	ddl := createUsersTableNoRole
	if s.opts.Roles {
		ddl = createUsersTable
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		s.logger.Error("Error creating users table", zap.Error(err))
		return unavailable("create users table", err)
	}
	if !s.opts.Roles {
		return nil
	}

	has, err := s.hasColumn(ctx, "users", "role")
	if err != nil {
		s.logger.Error("Error inspecting users table", zap.Error(err))
		return unavailable("inspect users table", err)
	}
	if has {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `ALTER TABLE users ADD COLUMN role TEXT NOT NULL DEFAULT ''`); err != nil {
		s.logger.Error("Error adding role column", zap.Error(err))
		return unavailable("add role column", err)
	}
	s.logger.Info("Added role column to existing users table")
	return nil
}

func (s *SQLiteDB) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// GetUserByUsername returns nil, nil when no row matches exactly.
func (s *SQLiteDB) GetUserByUsername(ctx context.Context, username string) (*user.User, error) {
	var u user.User
	var err error
	if s.opts.Roles {
		err = s.db.QueryRowContext(ctx, "SELECT id, username, password, role FROM users WHERE username=?", username).
			Scan(&u.ID, &u.Username, &u.Password, &u.Role)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT id, username, password FROM users WHERE username=?", username).
			Scan(&u.ID, &u.Username, &u.Password)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		s.logger.Error("Error fetching user from database", zap.Error(err))
		return nil, unavailable("fetch user", err)
	}
	return &u, nil
}

// CreateUser inserts user and sets its ID. user.Password must already be hashed.
func (s *SQLiteDB) CreateUser(ctx context.Context, u *user.User) error {
	if u == nil || u.Username == "" || u.Password == "" {
		return fmt.Errorf("%w: username and password are required", user.ErrInvalidInput)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var (
		res sql.Result
		err error
	)
	if s.opts.Roles {
		res, err = s.db.ExecContext(ctx, "INSERT INTO users (username, password, role) VALUES (?, ?, ?)", u.Username, u.Password, u.Role)
	} else {
		u.Role = ""
		res, err = s.db.ExecContext(ctx, "INSERT INTO users (username, password) VALUES (?, ?)", u.Username, u.Password)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", user.ErrDuplicateUsername, u.Username)
		}
		s.logger.Error("Error inserting user into database", zap.Error(err))
		return unavailable("insert user", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		s.logger.Error("Error reading inserted user id", zap.Error(err))
		return unavailable("read user id", err)
	}
	u.ID = id
	return nil
}

// CountUsers returns how many rows carry username.
func (s *SQLiteDB) CountUsers(ctx context.Context, username string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username=?", username).Scan(&n); err != nil {
		s.logger.Error("Error counting users", zap.Error(err))
		return 0, unavailable("count users", err)
	}
	return n, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return true
	}
	return sqliteErr.Code == sqlite3.ErrConstraint && strings.Contains(sqliteErr.Error(), "UNIQUE")
}
