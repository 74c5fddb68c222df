package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/add-to-Cart/porma-marketplace/internal/platform/requestctx"
)

// NewLogger builds the JSON logger used by the service. Keys follow Cloud Logging's structured
// payload conventions; the level comes from LOG_LEVEL and defaults to info.
func NewLogger() (*zap.Logger, error) {
	return newLogger(os.Getenv("LOG_LEVEL"), []string{"stdout"})
}

func newLogger(level string, outputs []string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if level = strings.ToLower(strings.TrimSpace(level)); level != "" {
		_ = atomic.UnmarshalText([]byte(level))
	}

	cfg := zap.Config{
		Level:    atomic,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel:   zapcore.CapitalLevelEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
		},
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// ServiceLogger adapts base into the event logger accepted by services. The request logger on
// ctx wins over base so request ids and trace ids follow the event. Events whose name ends in
// "_failed" or carries an "error" field are logged at warn, "inconsistent" events at error.
func ServiceLogger(base *zap.Logger, component string) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		zfields := make([]zap.Field, 0, len(fields)+2)
		zfields = append(zfields, zap.String("component", component), zap.String("event", event))
		if actor := requestctx.Actor(ctx); actor != "" {
			zfields = append(zfields, zap.String("actor", actor))
		}
		_, hasErr := fields["error"]
		for key, value := range fields {
			if err, ok := value.(error); ok {
				zfields = append(zfields, zap.NamedError(key, err))
				continue
			}
			zfields = append(zfields, zap.Any(key, value))
		}
		switch {
		case strings.Contains(event, "inconsistent"):
			logger.Error(event, zfields...)
		case hasErr || strings.HasSuffix(event, "_failed") || strings.HasSuffix(event, "_dropped"):
			logger.Warn(event, zfields...)
		default:
			logger.Info(event, zfields...)
		}
	}
}

// PrintfAdapter adapts zap to Printf-style logger interfaces such as kafka-go's.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
	level  zapcore.Level
}

// NewLeveledPrintfAdapter logs at the given level.
func NewLeveledPrintfAdapter(logger *zap.Logger, level zapcore.Level) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar(), level: level}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Logf(a.level, format, args...)
}
