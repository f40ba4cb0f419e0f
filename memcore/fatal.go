package memcore

import (
	"fmt"
	"os"

	"golang.org/x/exp/slog"
)

// FatalError is the panic payload produced by Fatalf. Contract violations
// the allocator stack treats as impossible-if-correct (null dereference,
// narrowing overflow, registering a nil pool) are not recoverable errors;
// they terminate the operation sequence with this panic after logging a
// structured diagnostic.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return e.Message
}

var fatalLogger = slog.New(slog.NewTextHandler(os.Stderr))

// SetFatalLogger replaces the logger used for fatal diagnostics. A nil
// logger is ignored.
func SetFatalLogger(logger *slog.Logger) {
	if logger != nil {
		fatalLogger = logger
	}
}

// Fatalf logs a structured diagnostic and panics with a *FatalError.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fatalLogger.Error("fatal contract violation",
		slog.String("reason", msg),
	)
	panic(&FatalError{Message: msg})
}
