package logger

import (
	"fmt"
	"log/slog"
	"os"
)

// Fatal logs at error level and exits. Only for unrecoverable startup
// failures before the service manager takes over.
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

func FatalWithLogger(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
