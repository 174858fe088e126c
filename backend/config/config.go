package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/PressureTank/credstore/backend/sanitize"
)

const (
	ProfileBasic = "basic"
	ProfileRBAC  = "rbac"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	// Profile is "basic" or "rbac". See Resolve.
	Profile string `yaml:"profile"`
	// Sanitizer overrides the profile's sanitizer mode when set.
	Sanitizer         string      `yaml:"sanitizer,omitempty"`
	SanitizePasswords bool        `yaml:"sanitizePasswords"`
	BcryptCost        int         `yaml:"bcryptCost,omitempty"`
	Audit             AuditConfig `yaml:"audit"`
	Log               LogConfig   `yaml:"log"`
	Admin             AdminConfig `yaml:"admin"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite database file path
}

type AuditConfig struct {
	// Enabled overrides the profile default when non-nil.
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// AdminConfig bootstraps an admin account on startup when both fields are set.
type AdminConfig struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Profile is the resolved behavior for a configuration profile.
type Profile struct {
	Name          string
	SanitizerMode sanitize.Mode
	Roles         bool
	Audit         bool
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Database:          DatabaseConfig{Path: "users.db"},
		Profile:           ProfileRBAC,
		SanitizePasswords: true,
		BcryptCost:        bcrypt.DefaultCost,
		Audit:             AuditConfig{Path: "audit.log"},
		Log:               LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path,
// a .env file in the working directory, and CREDSTORE_* environment variables,
// in increasing order of precedence. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Database.Path = getEnv("CREDSTORE_DB_PATH", c.Database.Path)
	c.Profile = getEnv("CREDSTORE_PROFILE", c.Profile)
	c.Sanitizer = getEnv("CREDSTORE_SANITIZER", c.Sanitizer)
	c.Audit.Path = getEnv("CREDSTORE_AUDIT_PATH", c.Audit.Path)
	c.Log.Level = getEnv("CREDSTORE_LOG_LEVEL", c.Log.Level)
	c.Admin.Username = getEnv("CREDSTORE_ADMIN_USERNAME", c.Admin.Username)
	c.Admin.Password = getEnv("CREDSTORE_ADMIN_PASSWORD", c.Admin.Password)

	var err error
	if c.BcryptCost, err = getEnvInt("CREDSTORE_BCRYPT_COST", c.BcryptCost); err != nil {
		return err
	}
	if c.SanitizePasswords, err = getEnvBool("CREDSTORE_SANITIZE_PASSWORDS", c.SanitizePasswords); err != nil {
		return err
	}
	if c.Log.Development, err = getEnvBool("CREDSTORE_LOG_DEVELOPMENT", c.Log.Development); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("CREDSTORE_AUDIT_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean for CREDSTORE_AUDIT_ENABLED: %w", err)
		}
		c.Audit.Enabled = &b
	}
	return nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is empty")
	}
	p, err := c.Resolve()
	if err != nil {
		return err
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost %d out of range [%d, %d]", c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if p.Audit && strings.TrimSpace(c.Audit.Path) == "" {
		return errors.New("audit is enabled but audit path is empty")
	}
	return nil
}

// Resolve turns the profile name and overrides into concrete behavior.
//
//	basic: blacklist sanitizer, no role column, no audit log
//	rbac:  allowlist sanitizer, role column, audit log
func (c *Config) Resolve() (Profile, error) {
	var p Profile
	switch strings.ToLower(strings.TrimSpace(c.Profile)) {
	case ProfileBasic:
		p = Profile{Name: ProfileBasic, SanitizerMode: sanitize.ModeBlacklist}
	case ProfileRBAC:
		p = Profile{Name: ProfileRBAC, SanitizerMode: sanitize.ModeAllowlist, Roles: true, Audit: true}
	default:
		return Profile{}, fmt.Errorf("unknown profile %q", c.Profile)
	}
	if c.Sanitizer != "" {
		mode, err := sanitize.ParseMode(c.Sanitizer)
		if err != nil {
			return Profile{}, err
		}
		p.SanitizerMode = mode
	}
	if c.Audit.Enabled != nil {
		p.Audit = *c.Audit.Enabled
	}
	return p, nil
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	admin := "none"
	if c.Admin.Username != "" {
		admin = c.Admin.Username + "/***"
	}
	return fmt.Sprintf("Config{DB: %s, Profile: %s, Sanitizer: %s, Audit: %s, Admin: %s}",
		c.Database.Path, c.Profile, c.Sanitizer, c.Audit.Path, admin)
}

// getEnv retrieves an environment variable with a default fallback.
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

// getEnvInt retrieves an environment variable as an integer with a default fallback.
func getEnvInt(key string, defaultVal int) (int, error) {
	if value, exists := os.LookupEnv(key); exists {
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return intVal, nil
	}
	return defaultVal, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	if value, exists := os.LookupEnv(key); exists {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("invalid boolean for %s: %w", key, err)
		}
		return b, nil
	}
	return defaultVal, nil
}
