package transport

import (
	"context"

	"github.com/angelmondragon/backoffice-relay/pkg/logger"
)

// Log writes one audit line per event and always succeeds.
type Log struct {
	logg *logger.Logger
}

func NewLog(logg *logger.Logger) *Log {
	return &Log{logg: logg}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Deliver(ctx context.Context, event Event) Result {
	if l.logg != nil {
		ctx = l.logg.WithEvent(ctx, logger.EventFields{
			ID:        event.ID.String(),
			Type:      event.EventType,
			TenantID:  event.TenantID.String(),
			TraceID:   event.TraceID,
			Attempt:   event.Attempt,
			Transport: l.Name(),
		})
		l.logg.Info(ctx, "outbox event delivered")
	}
	return success(0)
}

func (l *Log) Close() error { return nil }
