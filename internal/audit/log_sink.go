package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink пишет события в структурированный лог. Используется, когда Postgres не настроен.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) WriteBatch(_ context.Context, events []RelayEvent) error {
	for _, e := range events {
		s.logger.Info("audit",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("kind", string(e.Kind)),
			zap.String("origin", e.Origin),
			zap.String("method", e.Method),
			zap.String("target_host", e.TargetHost),
			zap.Int("http_status", e.HTTPStatus),
			zap.Strings("hosts", e.Hosts),
			zap.String("decision", e.Decision),
			zap.String("status", e.Status),
			zap.Int64("duration_ms", e.DurationMs),
			zap.String("error", e.Error),
			zap.Time("timestamp", e.Timestamp),
		)
	}
	return nil
}
