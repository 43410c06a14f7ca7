// internal/notify/notify.go
// Package notify is the fire-and-forget notification channel towards the
// chat layer. The engine never waits on delivery.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers a message to a chat. Implementations must not block the
// caller on delivery and must tolerate failures silently.
type Notifier interface {
	Notify(ctx context.Context, chatID, text string)
}

// LogNotifier writes notifications to the log. It stands in for the real
// chat transport, which lives outside this module.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, chatID, text string) {
	n.logger.Info("Notification",
		zap.String("chat_id", chatID),
		zap.String("text", text))
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, chatID, text string)

func (f Func) Notify(ctx context.Context, chatID, text string) { f(ctx, chatID, text) }
