package messaging

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// Middleware decorates an event handler.
type Middleware func(shared.EventHandler) shared.EventHandler

// Chain wraps handler so that middlewares[0] runs first.
func Chain(handler shared.EventHandler, middlewares ...Middleware) shared.EventHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// RecoveryMiddleware converts a panicking handler into an error so one bad
// subscriber cannot take the publisher down.
func RecoveryMiddleware(log *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				log.Error("event handler panicked",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"panic", r,
					"stack", string(debug.Stack()),
				)
				err = fmt.Errorf("%s handler panicked: %v", event.EventType(), r)
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware records each handler run at debug level.
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			log.Debug("event handled",
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"took", time.Since(start),
				"ok", err == nil,
			)
			return err
		}
	}
}
