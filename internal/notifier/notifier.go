// Package notifier delivers alert text to people. The engine only needs
// Notify; how the message travels is the implementation's business.
package notifier

import (
	"context"

	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, recipient, text string) error
}

// LogNotifier writes notifications to the service log. It is used when no
// chat webhook is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, recipient, text string) error {
	n.logger.Info("notification", zap.String("recipient", recipient), zap.String("text", text))
	return nil
}
