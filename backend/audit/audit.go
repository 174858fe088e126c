// Package audit writes an append-only, timestamp-prefixed log of security events.
package audit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Recorder receives user creation and successful login events.
type Recorder interface {
	UserCreated(username string)
	LoginSucceeded(username string)
	Close() error
}

type fileRecorder struct {
	file   *os.File
	logger *zap.Logger
}

// NewFileRecorder opens path for appending, creating it with 0600 if needed.
// Each line looks like:
//
//	2024-05-01T10:00:00.000Z	user created	{"event_id": "...", "username": "admin"}
func NewFileRecorder(path string) (Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), zap.InfoLevel)
	return &fileRecorder{file: f, logger: zap.New(core)}, nil
}

func (r *fileRecorder) record(event, username string) {
	r.logger.Info(event,
		zap.String("event_id", uuid.NewString()),
		zap.String("username", username),
	)
}

func (r *fileRecorder) UserCreated(username string) {
	r.record("user created", username)
}

func (r *fileRecorder) LoginSucceeded(username string) {
	r.record("login succeeded", username)
}

func (r *fileRecorder) Close() error {
	return multierr.Append(r.logger.Sync(), r.file.Close())
}

type nop struct{}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nop{} }

func (nop) UserCreated(string)    {}
func (nop) LoginSucceeded(string) {}
func (nop) Close() error          { return nil }
