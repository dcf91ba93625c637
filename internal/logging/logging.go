// Package logging builds the process logger.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing to stderr at level, encoded as "console" or
// "json". When file is set, entries are also appended to it. The returned
// func flushes the logger and closes the file; call it once before exit.
func New(level, format, file string) (*zap.Logger, func(), error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "ts"

	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("log format: unknown %q", format)
	}

	var f *os.File
	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl)}
	if file = strings.TrimSpace(file); file != "" {
		f, err = os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.Lock(f), lvl))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			// Sync on stderr fails on terminals and pipes; only the file matters.
			_ = log.Sync()
			if f != nil {
				_ = f.Close()
			}
		})
	}
	return log, closeFn, nil
}
