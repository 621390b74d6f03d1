package zap

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
)

var (
	globalLogger *logger
	initOnce     sync.Once
	dynamicLevel zap.AtomicLevel
)

type logger struct {
	zapLogger *zap.Logger
}

func Init(levelStr string, asJSON bool) {
	initOnce.Do(func() {
		dynamicLevel = zap.NewAtomicLevelAt(parseLevel(levelStr))

		encoderCfg := zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}

		var encoder zapcore.Encoder
		if asJSON {
			encoder = zapcore.NewJSONEncoder(encoderCfg)
		} else {
			encoder = zapcore.NewConsoleEncoder(encoderCfg)
		}

		core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), dynamicLevel)
		globalLogger = &logger{zapLogger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))}
	})
}

func SetLevel(levelStr string) {
	if dynamicLevel == (zap.AtomicLevel{}) {
		return
	}
	dynamicLevel.SetLevel(parseLevel(levelStr))
}

func SetNopLogger() {
	globalLogger = &logger{zapLogger: zap.NewNop()}
}

func Sync() error {
	if globalLogger != nil {
		return globalLogger.zapLogger.Sync()
	}
	return nil
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func Debug(ctx context.Context, message string, fields ...zap.Field) {
	if globalLogger != nil {
		globalLogger.zapLogger.Debug(message, append(fieldsFromContext(ctx), fields...)...)
	}
}

func Info(ctx context.Context, message string, fields ...zap.Field) {
	if globalLogger != nil {
		globalLogger.zapLogger.Info(message, append(fieldsFromContext(ctx), fields...)...)
	}
}

func Warn(ctx context.Context, message string, fields ...zap.Field) {
	if globalLogger != nil {
		globalLogger.zapLogger.Warn(message, append(fieldsFromContext(ctx), fields...)...)
	}
}

func Error(ctx context.Context, message string, fields ...zap.Field) {
	if globalLogger != nil {
		globalLogger.zapLogger.Error(message, append(fieldsFromContext(ctx), fields...)...)
	}
}

func Fatal(ctx context.Context, message string, fields ...zap.Field) {
	if globalLogger != nil {
		globalLogger.zapLogger.Fatal(message, append(fieldsFromContext(ctx), fields...)...)
	}
}

func fieldsFromContext(ctx context.Context) []zap.Field {
	var fields []zap.Field

	if requestID, found := ctx.Value(RequestIDKey).(string); found && requestID != "" {
		fields = append(fields, zap.String(string(RequestIDKey), requestID))
	}

	if userID, found := ctx.Value(UserIDKey).(string); found && userID != "" {
		fields = append(fields, zap.String(string(UserIDKey), userID))
	}

	return fields
}

func parseLevel(levelString string) zapcore.Level {
	switch strings.ToLower(levelString) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
