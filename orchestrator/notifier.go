package orchestrator

import (
	"context"
	"log/slog"

	"github.com/AliJawad91/falavox-server/telemetry"
)

// Notifier receives session lifecycle events after the state transition has
// committed. Implementations fan the event out to other channel participants
// (socket broadcast, webhook, ...). Calls happen outside the per-channel
// critical section and must not block for long.
type Notifier interface {
	SessionStarted(ctx context.Context, res StartResult)
	SessionEnded(ctx context.Context, channel, reason string)
}

// LogNotifier is the default Notifier; it only logs.
type LogNotifier struct{}

func (LogNotifier) SessionStarted(ctx context.Context, res StartResult) {
	telemetry.LoggerWithCorr(ctx).Info("translation session started",
		slog.String("channel", res.Channel),
		slog.String("session_id", res.SessionID),
		slog.String("task_id", res.TaskID),
		slog.String("source_language", res.SourceLanguage),
		slog.String("target_language", res.TargetLanguage))
}

func (LogNotifier) SessionEnded(ctx context.Context, channel, reason string) {
	telemetry.LoggerWithCorr(ctx).Info("translation session ended",
		slog.String("channel", channel),
		slog.String("reason", reason))
}
