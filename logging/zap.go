package logging

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap logger to the Logger interface. It is used when
// machine-readable JSON logs are wanted instead of the console format.
type ZapLogger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

// NewZapLogger builds a JSON zap logger writing to stderr at the given level
func NewZapLogger(level Level) (*ZapLogger, error) {
	atom := zap.NewAtomicLevelAt(toZapLevel(level))

	cfg := zap.NewProductionConfig()
	cfg.Level = atom
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &ZapLogger{logger: logger, level: atom}, nil
}

// NewZapLoggerFrom wraps an existing zap logger. SetLevel only affects loggers
// built by NewZapLogger; a wrapped logger keeps its own level.
func NewZapLoggerFrom(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func zapFields(fields []Fields) []zap.Field {
	n := 0
	for _, f := range fields {
		n += len(f)
	}
	if n == 0 {
		return nil
	}

	out := make([]zap.Field, 0, n)
	for _, f := range fields {
		keys := make([]string, 0, len(f))
		for k := range f {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, zap.Any(k, f[k]))
		}
	}
	return out
}

func (z *ZapLogger) Debug(msg string, fields ...Fields) {
	z.logger.Debug(msg, zapFields(fields)...)
}

func (z *ZapLogger) Info(msg string, fields ...Fields) {
	z.logger.Info(msg, zapFields(fields)...)
}

func (z *ZapLogger) Warn(msg string, fields ...Fields) {
	z.logger.Warn(msg, zapFields(fields)...)
}

func (z *ZapLogger) Error(err error, msg string, fields ...Fields) {
	z.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (z *ZapLogger) Fatal(err error, msg string, fields ...Fields) {
	z.logger.Fatal(msg, append(zapFields(fields), zap.Error(err))...)
}

func (z *ZapLogger) WithFields(fields Fields) Logger {
	return &ZapLogger{
		logger: z.logger.With(zapFields([]Fields{fields})...),
		level:  z.level,
	}
}

func (z *ZapLogger) WithContext(ctx context.Context) Logger {
	if fields, ok := fieldsFromContext(ctx); ok {
		return z.WithFields(fields)
	}
	return z
}

func (z *ZapLogger) SetLevel(level Level) {
	z.level.SetLevel(toZapLevel(level))
}

// Sync flushes buffered entries
func (z *ZapLogger) Sync() error {
	return z.logger.Sync()
}
