// Package console implements the administrative prompt flow: log in as an
// admin, then create users until the operator exits.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/PressureTank/credstore/backend/user"
)

var (
	// ErrLoginFailed is returned when the credentials do not match.
	ErrLoginFailed = errors.New("login failed")
	// ErrNotAdmin is returned when an authenticated user lacks the admin role.
	ErrNotAdmin = errors.New("administrator role required")
)

const adminRole = "admin"

// Users is the subset of user.Service the session needs.
type Users interface {
	Authenticate(ctx context.Context, username, password string) (*user.User, error)
	CheckRole(ctx context.Context, username, requiredRole string) bool
	CreateUser(ctx context.Context, username, password, role string) (*user.User, error)
}

type Session struct {
	users  Users
	prompt Prompter
	out    io.Writer
	logger *zap.Logger
}

func NewSession(users Users, prompt Prompter, out io.Writer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{users: users, prompt: prompt, out: out, logger: logger}
}

// Run logs in and then serves the action menu until "exit" or end of input.
func (s *Session) Run(ctx context.Context) error {
	username, err := s.prompt.Prompt("Username: ")
	if err != nil {
		return err
	}
	password, err := s.prompt.PromptSecret("Password: ")
	if err != nil {
		return err
	}

	u, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		return err
	}
	if u == nil {
		fmt.Fprintln(s.out, "Invalid username or password.")
		return ErrLoginFailed
	}
	fmt.Fprintf(s.out, "Login successful. Welcome, %s.\n", u.Username)

	if !s.users.CheckRole(ctx, u.Username, adminRole) {
		fmt.Fprintln(s.out, "Administrator role required.")
		return ErrNotAdmin
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		action, err := s.prompt.Prompt("Action [create/exit]: ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.ToLower(strings.TrimSpace(action)) {
		case "create", "c":
			if err := s.create(ctx); err != nil {
				return err
			}
		case "exit", "quit", "q":
			fmt.Fprintln(s.out, "Bye.")
			return nil
		case "":
		default:
			fmt.Fprintf(s.out, "Unknown action %q.\n", action)
		}
	}
}

func (s *Session) create(ctx context.Context) error {
	username, err := s.prompt.Prompt("New username: ")
	if err != nil {
		return err
	}
	password, err := s.prompt.PromptSecret("New password: ")
	if err != nil {
		return err
	}
	role, err := s.prompt.Prompt("Role [user]: ")
	if err != nil {
		return err
	}
	if strings.TrimSpace(role) == "" {
		role = "user"
	}

	u, err := s.users.CreateUser(ctx, username, password, role)
	switch {
	case errors.Is(err, user.ErrDuplicateUsername):
		fmt.Fprintln(s.out, "Username already exists.")
		return nil
	case errors.Is(err, user.ErrInvalidInput):
		fmt.Fprintln(s.out, "Username and password are required.")
		return nil
	case err != nil:
		s.logger.Error("Error creating user from console", zap.Error(err))
		return err
	}
	fmt.Fprintf(s.out, "User %s created.\n", u.Username)
	return nil
}
