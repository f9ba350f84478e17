package confirm

import (
	"context"

	"rental-service/internal/util"

	"go.uber.org/zap"
)

// Log is the confirmation channel used when no bot is configured. It only
// writes the summary to the log; operators resolve orders through the admin API.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a new logging confirmation channel
func NewLog() *Log {
	return &Log{logger: util.GetLogger()}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Notify(_ context.Context, orderID int64, summary string, actions []string) (string, error) {
	l.logger.Info("Order awaiting confirmation",
		zap.Int64("order_id", orderID),
		zap.Strings("actions", actions),
		zap.String("summary", summary))
	return "", nil
}

func (l *Log) UpdateNotification(_ context.Context, handle, text string, actions []string) error {
	l.logger.Info("Order confirmation updated", zap.String("handle", handle), zap.Strings("actions", actions))
	return nil
}
