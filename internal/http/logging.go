package http

import (
	"context"
	"log/slog"

	"github.com/example/class-scheduler/internal/logging"
)

// handlerLogger scopes the request logger to one handler operation, tagging
// entries with handler=<handlerName>.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	return logging.Scoped(ctx, fallback, "handler", handlerName, operation, attrs...)
}
