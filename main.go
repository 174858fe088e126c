package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/PressureTank/credstore/backend/config"
	"github.com/PressureTank/credstore/backend/console"
	"github.com/PressureTank/credstore/backend/logging"
)

var errLoginFailed = errors.New("invalid username or password")

// sessionDrainTimeout bounds how long an interrupted session may finish its
// current store call before the store is closed.
const sessionDrainTimeout = 100 * time.Millisecond

const usage = `usage: credstore [-config file] <command> [flags]

commands:
  init         create the users table if it does not exist
  create       create a user (-username, -password, -role)
  login        verify credentials (-username, -password)
  check-role   report whether a user has a role (-username, -role)
  interactive  log in as an admin and create users from prompts
  demo         run the injection-resistance walkthrough
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	if err != nil {
		if !errors.Is(err, errLoginFailed) && !errors.Is(err, console.ErrLoginFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) (err error) {
	fs := flag.NewFlagSet("credstore", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() { fmt.Fprint(stdout, usage) }
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() // Flushes buffer, if any

	if cmd == "demo" {
		return runDemo(ctx, cfg, logger, stdout)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()

	switch cmd {
	case "init":
		fmt.Fprintf(stdout, "Schema ready in %s (profile %s).\n", cfg.Database.Path, a.profile.Name)
		return nil
	case "create":
		return a.runCreate(ctx, cmdArgs, stdin, stdout)
	case "login":
		return a.runLogin(ctx, cmdArgs, stdin, stdout)
	case "check-role":
		return a.runCheckRole(ctx, cmdArgs, stdout)
	case "interactive":
		return a.runInteractive(ctx, stdin, stdout)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newCommandFlags(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// secretOrPrompt returns value, or reads it without echo when empty.
func secretOrPrompt(value, label string, stdin io.Reader, stdout io.Writer) (string, error) {
	if value != "" {
		return value, nil
	}
	return console.NewTerminalPrompter(stdin, stdout).PromptSecret(label)
}

func (a *app) runCreate(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := newCommandFlags("create", stdout)
	username := fs.String("username", "", "username")
	password := fs.String("password", "", "password (prompted when omitted)")
	role := fs.String("role", "user", "role label")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw, err := secretOrPrompt(*password, "Password: ", stdin, stdout)
	if err != nil {
		return err
	}

	u, err := a.users.CreateUser(ctx, *username, pw, *role)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "User %s created (id %d).\n", u.Username, u.ID)
	return nil
}

func (a *app) runLogin(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := newCommandFlags("login", stdout)
	username := fs.String("username", "", "username")
	password := fs.String("password", "", "password (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw, err := secretOrPrompt(*password, "Password: ", stdin, stdout)
	if err != nil {
		return err
	}

	u, err := a.users.Authenticate(ctx, *username, pw)
	if err != nil {
		return err
	}
	if u == nil {
		fmt.Fprintln(stdout, "Invalid username or password.")
		return errLoginFailed
	}
	fmt.Fprintf(stdout, "Login successful! Welcome, %s.\n", u.Username)
	return nil
}

func (a *app) runCheckRole(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newCommandFlags("check-role", stdout)
	username := fs.String("username", "", "username")
	role := fs.String("role", "admin", "required role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintln(stdout, a.users.CheckRole(ctx, *username, *role))
	return nil
}

// runInteractive returns as soon as ctx is cancelled, even while a prompt is
// blocked on input, so the deferred close in run always executes.
func (a *app) runInteractive(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	session := console.NewSession(a.users, console.NewTerminalPrompter(stdin, stdout), stdout, a.logger.Named("console"))

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		a.logger.Info("Interrupted, closing store", zap.Error(ctx.Err()))
		// a session still mid-write after the grace period sees a closed store
		select {
		case <-done:
		case <-time.After(sessionDrainTimeout):
		}
		return ctx.Err()
	}
}
