package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

// LogSink writes one structured line per dispatched event.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log.Named("events")}
}

// Handle matches dispatch.Handler so the sink can be passed to SubscribeAll.
func (s *LogSink) Handle(_ context.Context, event domain.Event) error {
	meta := event.Meta()
	s.log.Debug("domain event",
		zap.String("event_kind", string(event.Kind())),
		zap.String("event_id", meta.EventID),
		zap.String("tenant_id", meta.TenantID),
		zap.String("aggregate_id", meta.AggregateID),
		zap.String("actor_id", meta.ActorID),
		zap.String("actor_type", string(meta.ActorType)),
		zap.Time("occurred_at", meta.OccurredAt),
	)
	return nil
}

// LogResetNotifier stands in for a mail sender. It records that a reset was
// requested and never writes the token.
type LogResetNotifier struct {
	log *zap.Logger
}

func NewLogResetNotifier(log *zap.Logger) *LogResetNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogResetNotifier{log: log.Named("reset")}
}

func (n *LogResetNotifier) NotifyPasswordReset(_ context.Context, user domain.UserState, _ string) error {
	n.log.Info("password reset requested",
		zap.String("tenant_id", user.TenantID),
		zap.String("user_id", user.ID),
	)
	return nil
}
