package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logger is handed to every component at construction.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// WithContext adds the request id carried by ctx, if any.
	WithContext(ctx context.Context) Logger
	WithFields(fields ...Field) Logger

	Sync() error
}

// Field is a zap field; the helpers below keep call sites free of the zap
// import.
type Field = zap.Field

func String(key, value string) Field             { return zap.String(key, value) }
func Int(key string, value int) Field            { return zap.Int(key, value) }
func Int64(key string, value int64) Field        { return zap.Int64(key, value) }
func Bool(key string, value bool) Field          { return zap.Bool(key, value) }
func Duration(key string, d time.Duration) Field { return zap.Duration(key, d) }
func Any(key string, value interface{}) Field    { return zap.Any(key, value) }

func Error(err error) Field { return zap.Error(err) }

type requestIDKey struct{}

// ContextWithRequestID tags ctx so WithContext adds a request_id field.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
