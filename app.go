package main

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/PressureTank/credstore/backend/audit"
	"github.com/PressureTank/credstore/backend/config"
	"github.com/PressureTank/credstore/backend/database/sqlite"
	"github.com/PressureTank/credstore/backend/sanitize"
	"github.com/PressureTank/credstore/backend/user"
)

// app owns every resource opened for one invocation.
type app struct {
	cfg     *config.Config
	profile config.Profile
	logger  *zap.Logger
	store   *sqlite.SQLiteDB
	audit   audit.Recorder
	users   *user.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	profile, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("Error opening database", zap.String("path", cfg.Database.Path), zap.Error(err))
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		profile: profile,
		logger:  logger,
		store:   sqlite.NewSQLiteDB(db, logger.Named("store"), sqlite.Options{Roles: profile.Roles}),
		audit:   audit.Nop(),
	}

	if profile.Audit {
		rec, err := audit.NewFileRecorder(cfg.Audit.Path)
		if err != nil {
			logger.Error("Error opening audit log", zap.String("path", cfg.Audit.Path), zap.Error(err))
			return nil, multierr.Append(err, a.Close())
		}
		a.audit = rec
	}

	hasher, err := user.NewHasher(cfg.BcryptCost)
	if err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	a.users = user.NewService(a.store, sanitize.New(profile.SanitizerMode), hasher, logger.Named("users"),
		user.WithAuditor(a.audit),
		user.WithPasswordSanitizing(cfg.SanitizePasswords),
	)

	if err := a.users.InitSchema(ctx); err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	if err := a.users.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		logger.Error("Error creating bootstrap admin", zap.Error(err))
		return nil, multierr.Append(err, a.Close())
	}

	logger.Debug("Store ready",
		zap.String("path", cfg.Database.Path),
		zap.String("profile", profile.Name),
		zap.Stringer("sanitizer", profile.SanitizerMode),
		zap.Bool("audit", profile.Audit),
	)
	return a, nil
}

// Close releases the store and the audit log, reporting every failure.
func (a *app) Close() error {
	return multierr.Combine(a.audit.Close(), a.store.Close())
}
