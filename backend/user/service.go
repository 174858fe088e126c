package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/PressureTank/credstore/backend/sanitize"
)

// maxPasswordLen is the longest input bcrypt hashes without truncation.
const maxPasswordLen = 72

// Auditor receives security events. Implementations must not block for long.
type Auditor interface {
	UserCreated(username string)
	LoginSucceeded(username string)
}

type nopAuditor struct{}

func (nopAuditor) UserCreated(string)    {}
func (nopAuditor) LoginSucceeded(string) {}

// Service sanitizes input, hashes secrets and delegates persistence to a Database.
type Service struct {
	db        Database
	sanitizer sanitize.Sanitizer
	hasher    *Hasher
	audit     Auditor
	logger    *zap.Logger

	// sanitizePasswords applies the sanitizer to passwords as well as usernames.
	sanitizePasswords bool
}

// Option customizes a Service.
type Option func(*Service)

// WithAuditor records creation and login events.
func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithPasswordSanitizing controls whether passwords go through the sanitizer.
func WithPasswordSanitizing(enabled bool) Option {
	return func(s *Service) {
		s.sanitizePasswords = enabled
	}
}

func NewService(db Database, sanitizer sanitize.Sanitizer, hasher *Hasher, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		db:                db,
		sanitizer:         sanitizer,
		hasher:            hasher,
		audit:             nopAuditor{},
		logger:            logger,
		sanitizePasswords: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitSchema is safe to call on every startup.
func (s *Service) InitSchema(ctx context.Context) error {
	if err := s.db.InitSchema(ctx); err != nil {
		s.logger.Error("Error initializing schema", zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) cleanPassword(password string) string {
	if s.sanitizePasswords {
		return s.sanitizer.Sanitize(password)
	}
	return password
}

// CreateUser stores a new user with a hashed password. The returned user
// carries the assigned ID and no password.
func (s *Service) CreateUser(ctx context.Context, username, password, role string) (*User, error) {
	username = s.sanitizer.Sanitize(username)
	password = s.cleanPassword(password)
	role = s.sanitizer.Sanitize(role)

	if username == "" {
		return nil, fmt.Errorf("%w: username is empty", ErrInvalidInput)
	}
	if blank(password) {
		return nil, fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	if len(password) > maxPasswordLen {
		return nil, fmt.Errorf("%w: password longer than %d bytes", ErrInvalidInput, maxPasswordLen)
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("Error hashing user password", zap.Error(err))
		return nil, err
	}

	u := &User{Username: username, Password: hashed, Role: role}
	if err := s.db.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			s.logger.Info("Rejected duplicate username", zap.String("username", username))
		}
		return nil, err
	}

	s.logger.Info("User created", zap.Int64("id", u.ID), zap.String("username", u.Username), zap.String("role", u.Role))
	s.audit.UserCreated(u.Username)
	u.Password = ""
	return u, nil
}

// Authenticate returns the user when the credentials match and nil otherwise.
// Unknown usernames and wrong passwords are indistinguishable to the caller.
// An error is returned only when the store itself fails.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	username = s.sanitizer.Sanitize(username)
	password = s.cleanPassword(password)
	if username == "" || blank(password) {
		s.hasher.Burn(password)
		return nil, nil
	}

	u, err := s.find(ctx, username)
	if errors.Is(err, ErrNotFound) {
		s.hasher.Burn(password)
		return nil, nil
	}
	if err != nil {
		s.logger.Error("Error fetching user for authentication", zap.Error(err))
		return nil, err
	}

	ok, err := s.hasher.Verify(u.Password, password)
	if err != nil {
		// a corrupt stored hash is reported as a plain failure to the caller
		s.logger.Error("Error verifying stored password hash", zap.Int64("id", u.ID), zap.Error(err))
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	s.audit.LoginSucceeded(u.Username)
	u.Password = ""
	return u, nil
}

// CheckRole reports whether username exists and has exactly requiredRole.
func (s *Service) CheckRole(ctx context.Context, username, requiredRole string) bool {
	username = s.sanitizer.Sanitize(username)
	if username == "" || requiredRole == "" {
		return false
	}
	u, err := s.find(ctx, username)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("Role check for unknown user", zap.String("username", username))
		return false
	}
	if err != nil {
		s.logger.Warn("Role check lookup failed", zap.String("username", username), zap.Error(err))
		return false
	}
	return u.Role == requiredRole
}

// Lookup returns the stored user without its password hash, or ErrNotFound.
func (s *Service) Lookup(ctx context.Context, username string) (*User, error) {
	username = s.sanitizer.Sanitize(username)
	if username == "" {
		return nil, ErrNotFound
	}
	u, err := s.find(ctx, username)
	if err != nil {
		return nil, err
	}
	u.Password = ""
	return u, nil
}

// find turns the store's nil, nil into ErrNotFound.
func (s *Service) find(ctx context.Context, username string) (*User, error) {
	u, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

// blank treats whitespace-only secrets as empty even when they skip the sanitizer.
func blank(password string) bool {
	return strings.TrimSpace(password) == ""
}

// EnsureAdmin creates an admin account unless the username is already taken.
// It is a no-op when username or password is empty.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := s.CreateUser(ctx, username, password, "admin")
	if errors.Is(err, ErrDuplicateUsername) {
		s.logger.Debug("Admin account already present", zap.String("username", username))
		return nil
	}
	return err
}
