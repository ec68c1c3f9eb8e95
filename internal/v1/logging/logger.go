// Package logging wraps zap with the fields and rotation policy used
// across the balancer: a correlation id per connection/session and,
// outside development mode, file rotation via lumberjack.
package logging

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	MonolithIDKey    contextKey = "monolith_id"
	ClientIDKey      contextKey = "client_id"
	RoomIDKey        contextKey = "room_id"
)

// Options configures Initialize. Outside development mode, a non-empty
// LogFile adds a lumberjack-rotated file sink beside stdout; in
// development mode logs go to stdout only and LogFile is ignored.
type Options struct {
	Development bool
	LogFile     string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

// Initialize sets up the global logger. Safe to call once per process;
// subsequent calls are no-ops, matching zap's recommended global-logger
// pattern.
func Initialize(opts Options) error {
	var err error
	once.Do(func() {
		var config zap.Config
		var cores []zapcore.Core

		if opts.Development {
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			logger, err = config.Build(zap.AddCallerSkip(1))
			return
		}

		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		enc := zapcore.NewJSONEncoder(config.EncoderConfig)

		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(os.Stdout)), config.Level))
		if opts.LogFile != "" {
			rotator := &lumberjack.Logger{
				Filename:   opts.LogFile,
				MaxSize:    orDefault(opts.MaxSizeMB, 100),
				MaxBackups: orDefault(opts.MaxBackups, 5),
				MaxAge:     orDefault(opts.MaxAgeDays, 28),
				Compress:   true,
			}
			cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rotator), config.Level))
		}

		logger = zap.New(zapcore.NewTee(cores...), zap.AddCallerSkip(1))
	})
	return err
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// GetLogger returns the global logger, falling back to a development
// logger if Initialize has not run yet (tests).
func GetLogger() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if mid, ok := ctx.Value(MonolithIDKey).(string); ok {
		fields = append(fields, zap.String("monolith_id", mid))
	}
	if clid, ok := ctx.Value(ClientIDKey).(string); ok {
		fields = append(fields, zap.String("client_id", clid))
	}
	if rid, ok := ctx.Value(RoomIDKey).(string); ok {
		fields = append(fields, zap.String("room_id", rid))
	}
	fields = append(fields, zap.String("service", "balancer"))
	return fields
}
