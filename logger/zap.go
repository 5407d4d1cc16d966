package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	z *zap.Logger
}

// New adapts z to Logger.
func New(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

// NewZapLogger writes JSON for env "production" or "prod" and colored console
// lines otherwise. Output goes to stderr, stdout belongs to the CLI.
func NewZapLogger(env string) (Logger, error) {
	z, err := buildConfig(env).Build()
	if err != nil {
		return nil, err
	}
	return New(z), nil
}

func buildConfig(env string) zap.Config {
	var cfg zap.Config
	switch env {
	case "production", "prod":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg
}

func NewNop() Logger {
	return New(zap.NewNop())
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	id, _ := ctx.Value(requestIDKey{}).(string)
	if id == "" {
		return l
	}
	return l.WithFields(String("request_id", id))
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}
