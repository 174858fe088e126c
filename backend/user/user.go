package user

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateUsername is returned when a create would violate username uniqueness.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrInvalidInput is returned when a required field is blank after sanitization.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned by Service.Lookup. Authenticate and CheckRole turn it
	// into a nil user or false rather than raising it.
	ErrNotFound = errors.New("user not found")
	// ErrStoreUnavailable wraps failures of the underlying storage engine.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// User represents a user in the system
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
	Role     string `json:"role,omitempty"`
}

// Database is the persistence contract the Service depends on.
// Password fields crossing this boundary are already hashed.
type Database interface {
	InitSchema(ctx context.Context) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	Close() error
}
