// Package logger provides structured logging functionality for the application.
//
// It uses the standard library log/slog package to implement structured JSON
// logging with configurable log levels, and carries request-scoped loggers
// through context.Context.
package logger
