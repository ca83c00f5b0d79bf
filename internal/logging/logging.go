// Package logging builds the process zap logger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, encoder style and an optional rotating file sink.
type Config struct {
	Level       string // debug, info, warn, error
	Development bool   // console encoder instead of JSON
	File        string // empty = stderr only
}

// Rotation limits for the file sink.
const (
	fileMaxSizeMB  = 50
	fileMaxBackups = 5
	fileMaxAgeDays = 28
)

// New returns a logger writing to stderr and, when cfg.File is set, to a
// rotating JSON file as well. Stdout is left to command output.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}
	atom := zap.NewAtomicLevelAt(level)

	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stderr), atom)}

	if cfg.File != "" {
		fileEnc := zap.NewProductionEncoderConfig()
		fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    fileMaxSizeMB,
			MaxBackups: fileMaxBackups,
			MaxAge:     fileMaxAgeDays,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), sink, atom))
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}
