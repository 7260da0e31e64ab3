package events

import (
	"context"
	"log/slog"
)

// SlogEmitter writes events as structured log records under the "audit"
// message, one record per event.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter builds an emitter over the given logger. A nil logger uses
// slog.Default.
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs the event at info level.
func (e *SlogEmitter) Emit(ctx context.Context, event Event) {
	args := make([]any, 0, 4+2*len(event.Fields))
	args = append(args, "event", event.Name)
	if event.CorrelationID != "" {
		args = append(args, "correlation_id", event.CorrelationID)
	}
	for k, v := range event.Fields {
		args = append(args, k, v)
	}
	e.logger.InfoContext(ctx, "audit", args...)
}
