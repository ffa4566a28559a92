// Package logging provides audit logging for firmware update operations.
// Every bus method call is recorded with its caller identity and outcome so
// field issues can be reconstructed from the journal.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog for structured audit logging.
type Logger struct {
	*slog.Logger
	sender string
}

// New creates an audit logger that writes JSON to stderr.
func New(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NewWithLogger wraps an existing slog logger, used when the daemon already
// configured a global handler.
func NewWithLogger(logger *slog.Logger) *Logger {
	return &Logger{Logger: logger}
}

// WithSender returns a Logger that stamps entries with the bus sender.
func (l *Logger) WithSender(sender string) *Logger {
	return &Logger{Logger: l.Logger, sender: sender}
}

// LogMethod logs a bus method call with its result.
func (l *Logger) LogMethod(ctx context.Context, method string, args map[string]any, result string, err error) {
	attrs := []slog.Attr{
		slog.String("sender", l.sender),
		slog.String("method", method),
		slog.String("result", result),
	}
	for k, v := range args {
		attrs = append(attrs, slog.Any(k, v))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	l.LogAttrs(ctx, slog.LevelInfo, "bus_call", attrs...)
}

// LogRegister logs a RegisterProcess call.
func (l *Logger) LogRegister(ctx context.Context, processName, caller string, handle uint64, result string, err error) {
	l.LogMethod(ctx, "RegisterProcess", map[string]any{
		"process_name": processName,
		"caller":       caller,
		"handle":       handle,
	}, result, err)
}

// LogUnregister logs an UnregisterProcess call.
func (l *Logger) LogUnregister(ctx context.Context, handle uint64, found bool) {
	l.LogMethod(ctx, "UnregisterProcess", map[string]any{
		"handle": handle,
		"found":  found,
	}, "ok", nil)
}

// LogCheckForUpdate logs a CheckForUpdate call and its immediate reply code.
func (l *Logger) LogCheckForUpdate(ctx context.Context, handle string, code int32, result string, err error) {
	l.LogMethod(ctx, "CheckForUpdate", map[string]any{
		"handle":      handle,
		"result_code": code,
	}, result, err)
}

// LogDownload logs a DownloadFirmware call and its acknowledgement.
func (l *Logger) LogDownload(ctx context.Context, handle, firmwareName, ack string, err error) {
	l.LogMethod(ctx, "DownloadFirmware", map[string]any{
		"handle":   handle,
		"firmware": firmwareName,
	}, ack, err)
}

// LogFlash logs an UpdateFirmware call and its acknowledgement.
func (l *Logger) LogFlash(ctx context.Context, handle, firmwareName string, rebootImmediate bool, ack string, err error) {
	l.LogMethod(ctx, "UpdateFirmware", map[string]any{
		"handle":           handle,
		"firmware":         firmwareName,
		"reboot_immediate": rebootImmediate,
	}, ack, err)
}
