package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/PressureTank/credstore/backend/config"
	"github.com/PressureTank/credstore/backend/user"
)

// runDemo walks through the credential store against a throwaway in-memory
// database, so it never touches the configured file or audit log.
func runDemo(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) (err error) {
	demoCfg := *cfg
	demoCfg.Database.Path = "file:credstore-demo?mode=memory&cache=shared"
	demoCfg.Admin = config.AdminConfig{}
	off := false
	demoCfg.Audit.Enabled = &off

	a, err := newApp(ctx, &demoCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()

	fmt.Fprintf(out, "profile %s, sanitizer %s\n", a.profile.Name, a.profile.SanitizerMode)

	if _, err := a.users.CreateUser(ctx, "admin", "1234", "admin"); err != nil {
		return err
	}
	fmt.Fprintln(out, `create("admin", "1234", "admin"): ok`)

	attempts := []struct{ username, password string }{
		{"admin", "1234"},
		{"admin", "wrong"},
		// basic strips this to "admin" and logs in; rbac keeps "admin--"
		{"admin'; --", "1234"},
		{"admin' --", "x"},
		{"admin' OR '1'='1", "' OR '1'='1"},
	}
	for _, at := range attempts {
		u, err := a.users.Authenticate(ctx, at.username, at.password)
		if err != nil {
			return err
		}
		result := "invalid username or password"
		if u != nil {
			result = "login successful"
		}
		fmt.Fprintf(out, "authenticate(%q, %q): %s\n", at.username, at.password, result)
	}

	_, err = a.users.CreateUser(ctx, "admin", "5678", "user")
	switch {
	case errors.Is(err, user.ErrDuplicateUsername):
		fmt.Fprintln(out, `create("admin", "5678", "user"): rejected, username already exists`)
	case err != nil:
		return err
	default:
		return errors.New("duplicate username was accepted")
	}

	fmt.Fprintf(out, "checkRole(\"admin\", \"admin\"): %t\n", a.users.CheckRole(ctx, "admin", "admin"))
	fmt.Fprintf(out, "checkRole(\"ghost\", \"admin\"): %t\n", a.users.CheckRole(ctx, "ghost", "admin"))
	return nil
}
