package ports

import "context"

// Logger is the logging boundary. The decision core logs through this
// interface only; main decides which backend (stdlib, zap) is wired in.
type Logger interface {
	// Debug logs a message at Debug level.
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs a message at Info level.
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs a message at Warn level.
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs an error with an accompanying message at Error level.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
