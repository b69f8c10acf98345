package emit

import (
	"context"
	"log/slog"
)

// LogEmitter writes events to a structured logger.
//
// Output format follows the logger's handler: a text handler gives
// key=value lines for development, a JSON handler gives one object per event
// for log aggregation.
//
// Example:
//
//	emitter := emit.NewLogEmitter(logging.New(slog.LevelInfo))
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger uses slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event. Events carrying an "error" meta field are logged at
// error level.
func (l *LogEmitter) Emit(event Event) {
	attrs := []any{
		slog.String("thread_id", event.ThreadID),
		slog.Int("step", event.Step),
		slog.String("node_id", event.NodeID),
	}
	level := slog.LevelInfo
	for key, value := range event.Meta {
		if key == "error" {
			level = slog.LevelError
		}
		attrs = append(attrs, slog.Any(key, value))
	}
	l.logger.Log(context.Background(), level, event.Msg, attrs...)
}
