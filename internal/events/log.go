package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes every event to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, ev Event) error {
	fields := []zap.Field{zap.String("type", ev.Type)}
	if ev.Entry != nil {
		fields = append(fields,
			zap.Uint64("index", ev.Entry.Index),
			zap.String("action", ev.Entry.Action),
			zap.String("actor_id", ev.Entry.ActorID),
			zap.String("resource", ev.Entry.Resource),
			zap.String("hash", ev.Entry.Hash),
		)
	}
	for k, v := range ev.Payload {
		fields = append(fields, zap.String(k, v))
	}
	if ev.Type == TypeLedgerCompromised {
		s.logger.Error("audit event", fields...)
		return nil
	}
	s.logger.Info("audit event", fields...)
	return nil
}
